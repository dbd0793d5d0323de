package bootstrap

import (
	"github.com/backkem/thread/pkg/dataset"
	"github.com/backkem/thread/pkg/link"
)

func (e *Engine) handleAnnounceBegin(in *iface, ev AnnounceBegin) {
	lc, ok := in.dataset.LinkConfiguration()
	if !ok {
		e.debugf(in, "announce begin without active dataset")
		return
	}
	e.startAnnounce(in, ev.ChannelMask, ev.Count, int(ev.PeriodSec), lc)
}

// startAnnounce replaces any running announcement. The first round goes out
// on the next tick.
func (e *Engine) startAnnounce(in *iface, mask uint32, count uint8, periodSec int, lc dataset.LinkConfiguration) {
	mask &= link.DefaultChannelMask
	if mask == 0 || count == 0 {
		e.debugf(in, "empty announcement ignored")
		return
	}
	in.announce = &announcement{
		msg: Announcement{
			Channel:         lc.Channel,
			Page:            lc.ChannelPage,
			PanID:           lc.PanID,
			ActiveTimestamp: lc.ActiveTimestamp.Uint64(),
		},
		mask:   mask,
		count:  count,
		period: max(periodSec, 1),
	}
	in.timers[TimerAnnounce] = 1
	e.debugf(in, "announcing channel %d on mask %08x, %d rounds", lc.Channel, mask, count)
}

func (e *Engine) onAnnounceTimer(in *iface) {
	a := in.announce
	if a == nil {
		return
	}
	for _, ch := range link.ChannelsInMask(a.mask) {
		msg := a.msg
		msg.OnChannel = ch
		e.send(in, Request{Kind: RequestAnnounce, Announcement: &msg})
	}
	a.count--
	if a.count == 0 {
		in.announce = nil
		e.debugf(in, "announcement finished")
		return
	}
	in.timers[TimerAnnounce] = a.period
}
