package bootstrap

import (
	"errors"
	"slices"

	"github.com/backkem/thread/pkg/dataset"
	"github.com/backkem/thread/pkg/discovery"
	"github.com/backkem/thread/pkg/link"
	"github.com/backkem/thread/pkg/netdata"
	"github.com/backkem/thread/pkg/partition"
	"github.com/backkem/thread/pkg/storage"
	"github.com/backkem/thread/pkg/tlv"
)

func (e *Engine) logf(in *iface, format string, args ...any) {
	if e.log != nil {
		e.log.Infof("%s "+format, append([]any{in.id}, args...)...)
	}
}

func (e *Engine) debugf(in *iface, format string, args ...any) {
	if e.log != nil {
		e.log.Debugf("%s "+format, append([]any{in.id}, args...)...)
	}
}

func (e *Engine) warnf(in *iface, format string, args ...any) {
	if e.log != nil {
		e.log.Warnf("%s "+format, append([]any{in.id}, args...)...)
	}
}

// primeLink pushes the active link configuration to the key manager and the
// network data synchronizer.
func (e *Engine) primeLink(in *iface, lc dataset.LinkConfiguration) {
	if in.keys != nil {
		in.keys.SetNetworkKey(lc.NetworkKey, lc.KeySequence)
	}
	in.netdata.SetNetworkName(lc.NetworkName)
}

func (e *Engine) handleInit(in *iface) {
	if in.state != StateDisabled {
		e.debugf(in, "already initialized")
		return
	}
	in.state = StateActiveScan
	in.attemptRole = in.mode

	lc, ok := in.dataset.LinkConfiguration()
	if !ok {
		e.logf(in, "no active dataset, scanning")
		e.enterScan(in, AttachNetworkDiscover)
		return
	}
	e.primeLink(in, lc)

	parent, ok := e.loadParent(in)
	if !ok || !e.acquireRadio(in) {
		e.enterScan(in, AttachNetworkDiscover)
		return
	}
	if err := e.config.Radio.Start(lc.Channel, lc.PanID, in.attemptRole); err != nil {
		e.warnf(in, "radio start: %v", err)
		e.releaseRadio(in)
		e.enterScan(in, AttachNetworkDiscover)
		return
	}
	if err := e.config.Radio.SetShortAddress(parent.ShortAddress); err != nil {
		e.warnf(in, "set short address: %v", err)
	}
	in.parent = parent
	in.short = parent.ShortAddress
	in.state = StateMleSync
	in.attach = AttachReattach
	in.reattachTries = 0
	e.logf(in, "reattaching to %s as %s", parent.ParentExtAddress, parent.ShortAddress)
	e.sendSync(in)
}

func (e *Engine) loadParent(in *iface) (storage.ParentRecord, bool) {
	if e.config.Storage == nil {
		return storage.ParentRecord{}, false
	}
	rec, err := e.config.Storage.LoadParent(in.id)
	switch {
	case err == nil:
		return rec, !rec.ParentExtAddress.IsZero()
	case errors.Is(err, storage.ErrNotFound):
	default:
		e.warnf(in, "load parent: %v", err)
	}
	return storage.ParentRecord{}, false
}

func (e *Engine) saveParent(in *iface) {
	if e.config.Storage == nil {
		return
	}
	if err := e.config.Storage.SaveParent(in.id, in.parent); err != nil {
		e.warnf(in, "save parent: %v", err)
	}
}

func (e *Engine) deleteParent(in *iface) {
	in.parent = storage.ParentRecord{}
	if e.config.Storage == nil {
		return
	}
	if err := e.config.Storage.DeleteParent(in.id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		e.warnf(in, "delete parent: %v", err)
	}
}

// send hands a request to the messenger. Announce and router release
// requests are fire and forget, every other kind becomes the single pending
// request.
func (e *Engine) send(in *iface, req Request) {
	req.Interface = in.id
	timeout, retry := retryFor(req.Kind)
	h, err := e.config.Messenger.Send(req, timeout, retry)
	switch req.Kind {
	case RequestAnnounce:
		if err != nil {
			e.debugf(in, "announce on channel %d: %v", req.Announcement.OnChannel, err)
		}
		return
	case RequestRouterRelease:
		if err != nil {
			e.debugf(in, "router release: %v", err)
		}
		return
	}
	e.clearPending(in)
	if err != nil {
		e.warnf(in, "send %s: %v", req.Kind, err)
		in.pending = &pendingRequest{kind: req.Kind}
		e.post(in.id, ConnectionError{})
		return
	}
	in.pending = &pendingRequest{handle: h, kind: req.Kind}
	e.hmu.Lock()
	e.handles[h] = in.id
	e.hmu.Unlock()
}

func (e *Engine) sendSync(in *iface) {
	e.send(in, Request{
		Kind:         RequestLinkSync,
		Peer:         in.parent.ParentExtAddress,
		ShortAddress: in.short,
		Mode:         in.attemptRole,
	})
}

func (e *Engine) clearPending(in *iface) {
	p := in.pending
	if p == nil {
		return
	}
	in.pending = nil
	if p.handle == 0 {
		return
	}
	e.hmu.Lock()
	delete(e.handles, p.handle)
	e.hmu.Unlock()
	_ = e.config.Messenger.Cancel(p.handle)
}

func (e *Engine) enterScan(in *iface, attach AttachState) {
	in.state = StateScan
	in.attach = attach
	in.scanning = false
	in.timers[TimerScanBackoff] = e.backoffSeconds(in.scanCount)
}

// backoffSeconds grows linearly with the failure count up to MaxScanBackoff,
// plus at least one second of jitter.
func (e *Engine) backoffSeconds(failures int) int {
	base := min(2*failures, MaxScanBackoff)
	jitter := 1
	if e.config.ScanJitter > 1 {
		jitter += e.rng.IntN(e.config.ScanJitter)
	}
	return base + jitter
}

func (e *Engine) onScanTimer(in *iface) {
	if (in.state != StateScan && in.state != StateScanFailed) || in.scanning {
		return
	}
	if !e.acquireRadio(in) {
		e.debugf(in, "radio busy, deferring scan")
		in.timers[TimerScanBackoff] = 1
		return
	}
	in.state = StateScan

	req := discovery.ScanRequest{Duration: e.config.ScanDuration}
	if lc, ok := in.dataset.LinkConfiguration(); ok {
		req.ExtendedPanID = lc.ExtendedPanID
		if in.attach != AttachAny {
			req.ChannelMask = lc.ChannelMask
		}
	}

	in.scanning = true
	id := in.id
	err := e.config.Scanner.Scan(e.ctx, req, func(networks []discovery.Network, err error) {
		e.post(id, ScanComplete{Networks: networks, Err: err})
	})
	if err != nil {
		in.scanning = false
		e.warnf(in, "scan: %v", err)
		e.attachFailed(in)
		return
	}
	e.debugf(in, "scanning mask=%08x attempt=%d", req.ChannelMask, in.scanCount+1)
}

func (e *Engine) handleScanComplete(in *iface, ev ScanComplete) {
	if in.state != StateScan || !in.scanning {
		e.debugf(in, "stale scan result")
		return
	}
	in.scanning = false
	if ev.Err != nil {
		e.debugf(in, "scan finished: %v", ev.Err)
	}

	networks := slices.Clone(ev.Networks)
	discovery.SortByPreference(networks)

	lc, hasLC := in.dataset.LinkConfiguration()
	in.pool.freeAll()
	for _, n := range networks {
		if hasLC && n.ExtendedPanID != lc.ExtendedPanID {
			continue
		}
		if e.config.Blacklist.Contains(n.ExtAddress) {
			e.debugf(in, "skipping blacklisted %s", n.ExtAddress)
			continue
		}
		if _, ok := in.pool.alloc(n); !ok {
			break
		}
	}

	if !e.selectCandidate(in) {
		e.logf(in, "no usable network found")
		e.attachFailed(in)
	}
}

// selectCandidate takes the best remaining pooled network and asks to join
// it. Candidates are freed as they are taken or rejected.
func (e *Engine) selectCandidate(in *iface) bool {
	lc, hasLC := in.dataset.LinkConfiguration()
	for _, h := range in.pool.handles() {
		n, _ := in.pool.get(h)
		cand := *n
		in.pool.free(h)

		if e.config.Blacklist.Contains(cand.ExtAddress) {
			continue
		}
		ch := cand.Channel
		if ch == 0 && hasLC {
			ch = lc.Channel
		}
		if err := e.config.Radio.Start(ch, cand.PanID, in.attemptRole); err != nil {
			e.warnf(in, "radio start on channel %d: %v", ch, err)
			continue
		}
		in.target = cand
		in.state = StateChildIdRequest
		e.logf(in, "requesting child id from %s on %s", cand.ExtAddress, cand)
		e.send(in, Request{
			Kind:    RequestChildID,
			Peer:    cand.ExtAddress,
			Mode:    in.attemptRole,
			Network: &in.target,
		})
		return true
	}
	return false
}

// attachFailed records a failed attempt, walks the fallback ladder and
// schedules the next scan.
func (e *Engine) attachFailed(in *iface) {
	e.clearPending(in)
	in.pool.freeAll()
	e.releaseRadio(in)
	in.scanCount++
	in.roleFailures++

	if in.roleFailures >= e.config.RoleRetryLimit {
		in.roleFailures = 0
		switch {
		case in.pendingRollback:
			in.pendingRollback = false
			if err := in.dataset.OldConfigActivate(); err != nil {
				e.warnf(in, "restore previous dataset: %v", err)
			} else if lc, ok := in.dataset.LinkConfiguration(); ok {
				e.logf(in, "restored previous dataset on channel %d", lc.Channel)
				e.primeLink(in, lc)
			}
		case in.attemptRole > RoleEndDevice:
			in.attemptRole = in.attemptRole.downgrade()
			e.logf(in, "attaching as %s", in.attemptRole)
		case in.attach != AttachAny:
			in.attach = AttachAny
			e.logf(in, "attaching to any partition")
		case in.mode.RouterEligible() && in.dataset.Provisioned():
			e.formPartition(in)
			return
		}
	}

	if in.attach == AttachReattach || in.attach == AttachReattachRetry {
		in.attach = AttachNetworkDiscover
	}
	in.state = StateScanFailed
	in.scanning = false
	in.timers[TimerScanBackoff] = e.backoffSeconds(in.scanCount)
}

func (e *Engine) formPartition(in *iface) {
	lc, ok := in.dataset.LinkConfiguration()
	if !ok || !e.acquireRadio(in) {
		in.state = StateScanFailed
		in.timers[TimerScanBackoff] = e.backoffSeconds(in.scanCount)
		return
	}
	in.state = StateNewPartitionFragment

	pid := e.rng.Uint32()
	for in.previous != nil && pid == in.previous.PartitionID {
		pid = e.rng.Uint32()
	}
	routerID := uint8(e.rng.IntN(netdata.InvalidRouterID))
	ld := netdata.LeaderData{
		PartitionID:       pid,
		Weighting:         in.weighting,
		DataVersion:       uint8(e.rng.UintN(256)),
		StableDataVersion: uint8(e.rng.UintN(256)),
		LeaderRouterID:    routerID,
	}

	if err := e.config.Radio.Start(lc.Channel, lc.PanID, RoleLeader); err != nil {
		e.warnf(in, "radio start as leader: %v", err)
		e.releaseRadio(in)
		in.state = StateScanFailed
		in.timers[TimerScanBackoff] = e.backoffSeconds(in.scanCount)
		return
	}
	short := link.RouterRLOC16(routerID)
	if err := e.config.Radio.SetShortAddress(short); err != nil {
		e.warnf(in, "set short address: %v", err)
	}

	in.netdata.SetLeader(ld)
	in.netdata.SetLocalRouterID(routerID)
	in.netdata.SetAttachReady(true)
	if err := in.netdata.Activate(); err != nil {
		e.warnf(in, "activate network data: %v", err)
	}

	in.leader = ld
	in.routerCount = 1
	in.routerID = routerID
	in.short = short
	in.childShort = link.ShortAddressInvalid
	in.role = RoleLeader
	in.attach = AttachConnectedRouter
	in.state = StateLeaderUp
	e.bootstrapComplete(in)
	e.logf(in, "formed partition %08x as leader, router id %d", pid, routerID)
}

func (e *Engine) bootstrapComplete(in *iface) {
	in.scanCount = 0
	in.roleFailures = 0
	in.reattachTries = 0
	in.pendingRollback = false
	in.timers[TimerScanBackoff] = 0
	in.dataset.DiscardOld()
	in.pool.freeAll()
	e.releaseRadio(in)
}

func (e *Engine) handleAttachReady(in *iface, ev AttachReady) {
	if in.state != StateChildIdRequest && in.state != StateMleSync {
		e.debugf(in, "attach ready ignored in %s", in.state)
		return
	}
	e.clearPending(in)
	in.state = StateMleAttachReady

	if len(ev.ActiveDataset) > 0 {
		if err := in.dataset.UpdateActive(ev.ActiveDataset); err != nil {
			e.warnf(in, "apply parent dataset: %v", err)
		} else if lc, ok := in.dataset.LinkConfiguration(); ok {
			e.primeLink(in, lc)
		}
	}
	if _, err := in.dataset.RegenerateMeshLocalIID(); err != nil {
		e.warnf(in, "regenerate mesh-local iid: %v", err)
	}

	in.short = ev.ShortAddress
	if err := e.config.Radio.SetShortAddress(ev.ShortAddress); err != nil {
		e.warnf(in, "set short address: %v", err)
	}
	in.leader = ev.LeaderData
	in.routerCount = ev.RouterCount

	in.netdata.SetAttachReady(true)
	if ev.NetworkData != nil {
		if _, err := in.netdata.Save(ev.LeaderData, ev.NetworkData); err != nil {
			e.warnf(in, "network data from parent: %v", err)
		}
	} else {
		in.netdata.SetLeader(ev.LeaderData)
	}
	if err := in.netdata.Activate(); err != nil {
		e.warnf(in, "activate network data: %v", err)
	}

	in.parent = storage.ParentRecord{
		ParentExtAddress: ev.Parent,
		ParentShort:      ev.ParentShort,
		ShortAddress:     ev.ShortAddress,
	}
	e.saveParent(in)
	e.finishAttach(in)
}

func (e *Engine) handleChildUpdate(in *iface) {
	if in.state != StateMleSync {
		e.debugf(in, "child update ignored in %s", in.state)
		return
	}
	e.clearPending(in)
	in.state = StateMleAttachReady
	in.netdata.SetAttachReady(true)
	e.finishAttach(in)
}

func (e *Engine) finishAttach(in *iface) {
	in.childShort = in.short
	if in.attemptRole >= RoleREED && in.mode.RouterEligible() {
		in.role = RoleREED
	} else {
		in.role = RoleEndDevice
	}
	in.attach = AttachConnected
	in.state = StateBootstrapDone
	if in.attemptRole >= RoleRouter {
		in.timers[TimerRouterUpgrade] = 1 + e.rng.IntN(e.config.RouterSelectionJitter)
	}
	e.bootstrapComplete(in)
	e.logf(in, "attached as %s %s, partition %08x", in.role, in.short, in.leader.PartitionID)
}

func (e *Engine) handleConnectionError(in *iface, ev ConnectionError) {
	p := in.pending
	if p == nil || p.handle != ev.Handle {
		e.debugf(in, "stale connection error")
		return
	}
	in.pending = nil
	if p.handle != 0 {
		e.hmu.Lock()
		delete(e.handles, p.handle)
		e.hmu.Unlock()
	}

	switch p.kind {
	case RequestLinkSync:
		if in.state != StateMleSync {
			return
		}
		in.reattachTries++
		if in.reattachTries <= e.config.ReattachRetryLimit {
			in.attach = AttachReattachRetry
			e.debugf(in, "sync retry %d", in.reattachTries)
			e.sendSync(in)
			return
		}
		e.logf(in, "parent %s unreachable", in.parent.ParentExtAddress)
		in.state = StateScanFailed
		e.attachFailed(in)
	case RequestChildID:
		if in.state != StateChildIdRequest {
			return
		}
		e.debugf(in, "no answer from %s", in.target.ExtAddress)
		if e.selectCandidate(in) {
			return
		}
		e.attachFailed(in)
	case RequestRouterID:
		e.handleRouterIDGetFailed(in)
	}
}

func (e *Engine) handleSecurityRejected(in *iface, ev SecurityRejected) {
	reason := ev.Reason
	if reason == "" {
		reason = "security check failed"
	}
	e.config.Blacklist.Add(ev.Peer, reason)
	e.warnf(in, "blacklisted %s: %s", ev.Peer, reason)

	p := in.pending
	if p == nil || p.handle != ev.Handle {
		return
	}
	e.clearPending(in)
	switch p.kind {
	case RequestChildID:
		if in.state != StateChildIdRequest {
			return
		}
		if e.selectCandidate(in) {
			return
		}
		e.attachFailed(in)
	case RequestLinkSync:
		if in.state != StateMleSync {
			return
		}
		in.state = StateScanFailed
		e.attachFailed(in)
	case RequestRouterID:
		e.handleRouterIDGetFailed(in)
	}
}

func (e *Engine) requestRouterID(in *iface) {
	if in.role != RoleREED || !in.state.Attached() || in.pending != nil {
		e.debugf(in, "router id request skipped: role=%s state=%s", in.role, in.state)
		return
	}
	e.logf(in, "requesting router id")
	e.send(in, Request{
		Kind:         RequestRouterID,
		Peer:         in.parent.ParentExtAddress,
		ShortAddress: in.short,
		Mode:         RoleRouter,
	})
}

func (e *Engine) handleUpgradeToRouter(in *iface) {
	if in.mode < RoleRouter {
		return
	}
	e.requestRouterID(in)
}

func (e *Engine) handleChildIDRequestReceived(in *iface, ev ChildIdRequestReceived) {
	if in.role != RoleREED {
		return
	}
	e.debugf(in, "child id request from %s", ev.Child)
	e.requestRouterID(in)
}

func (e *Engine) handleActiveRouterAttach(in *iface, ev ActiveRouterAttach) {
	if !in.state.Attached() {
		return
	}
	if ev.RouterID >= netdata.InvalidRouterID {
		e.warnf(in, "invalid router id %d", ev.RouterID)
		return
	}
	if p := in.pending; p != nil && p.kind == RequestRouterID {
		e.clearPending(in)
	}
	if in.role != RoleLeader {
		in.role = RoleRouter
	}
	in.attach = AttachConnectedRouter
	in.routerID = ev.RouterID
	in.short = link.RouterRLOC16(ev.RouterID)
	in.timers[TimerRouterUpgrade] = 0
	if err := e.config.Radio.SetShortAddress(in.short); err != nil {
		e.warnf(in, "set short address: %v", err)
	}
	in.netdata.SetLocalRouterID(ev.RouterID)
	if in.routerCount < netdata.InvalidRouterID {
		in.routerCount++
	}
	in.parent.ShortAddress = in.short
	e.saveParent(in)
	e.logf(in, "router id %d, now %s", ev.RouterID, in.short)
}

// handleRouterAdded and handleRouterRemoved keep the leader's router count
// in step with the ids it hands out.
func (e *Engine) handleRouterAdded(in *iface, ev RouterAdded) {
	if in.role != RoleLeader || !in.state.Attached() {
		return
	}
	if in.routerCount < netdata.InvalidRouterID {
		in.routerCount++
	}
	e.debugf(in, "router %s added, %d routers", ev.Router, in.routerCount)
}

func (e *Engine) handleRouterRemoved(in *iface, ev RouterRemoved) {
	if in.role != RoleLeader || !in.state.Attached() || in.routerCount <= 1 {
		return
	}
	in.routerCount--
	e.debugf(in, "router %s removed, %d routers", ev.Router, in.routerCount)
}

func (e *Engine) handleRouterIDGetFailed(in *iface) {
	if p := in.pending; p != nil && p.kind == RequestRouterID {
		e.clearPending(in)
	}
	if in.role == RoleREED {
		e.logf(in, "router id refused, staying %s", in.role)
	}
}

func (e *Engine) handleDowngradeToReed(in *iface) {
	if in.role != RoleRouter {
		return
	}
	e.send(in, Request{
		Kind:         RequestRouterRelease,
		Peer:         in.parent.ParentExtAddress,
		ShortAddress: in.short,
		Mode:         RoleREED,
	})
	e.dropToREED(in)
}

func (e *Engine) handleRouterIDReleased(in *iface) {
	if in.role != RoleRouter && in.role != RoleLeader {
		return
	}
	e.dropToREED(in)
}

func (e *Engine) dropToREED(in *iface) {
	in.role = RoleREED
	in.attach = AttachConnected
	in.routerID = netdata.InvalidRouterID
	in.netdata.SetLocalRouterID(netdata.InvalidRouterID)
	if in.childShort.IsValid() {
		in.short = in.childShort
		if err := e.config.Radio.SetShortAddress(in.short); err != nil {
			e.warnf(in, "set short address: %v", err)
		}
	}
	e.logf(in, "released router id")
}

func (e *Engine) handleLeaderDataHeard(in *iface, ev LeaderDataHeard) {
	if !in.state.Attached() || ev.LeaderData.PartitionID == in.leader.PartitionID {
		return
	}
	policy := in.policy
	policy.Previous = in.previous
	d, rule := policy.Explain(ev.LeaderData, ev.RouterCount, in.leader, in.routerCount)
	e.debugf(in, "heard partition %08x: %s (%s)", ev.LeaderData.PartitionID, d, rule)
	if d != partition.Accept {
		return
	}
	in.previous = &partition.Previous{
		PartitionID: in.leader.PartitionID,
		Sequence:    in.leader.DataVersion,
	}
	e.logf(in, "merging into partition %08x", ev.LeaderData.PartitionID)
	e.post(in.id, Reset{Reason: ResetPartitionMerge})
}

func (e *Engine) handleAnnounceActive(in *iface, ev AnnounceActive) {
	lc, ok := in.dataset.LinkConfiguration()
	if !ok {
		return
	}
	if dataset.TimestampFromUint64(ev.ActiveTimestamp).Compare(lc.ActiveTimestamp) <= 0 {
		e.debugf(in, "announce not newer than %s", lc.ActiveTimestamp)
		return
	}
	w := tlv.NewWriter(0)
	w.Put(dataset.TypeChannel, dataset.ChannelValue(ev.Page, ev.Channel))
	w.PutUint16(dataset.TypePanID, uint16(ev.PanID))
	w.Put(dataset.TypeActiveTimestamp, dataset.TimestampFromUint64(ev.ActiveTimestamp).Value())
	if err := in.dataset.UpdateActive(w.Bytes()); err != nil {
		e.warnf(in, "apply announce: %v", err)
		return
	}
	e.logf(in, "moving to channel %d pan %s", ev.Channel, ev.PanID)
	e.post(in.id, Reset{Reason: ResetAnnounce})
}

func (e *Engine) handleReset(in *iface, ev Reset) {
	if in.state == StateDisabled {
		return
	}
	e.logf(in, "reset: %s", ev.Reason)

	e.clearPending(in)
	in.scanning = false
	// The radio is shared; leave it alone while another interface holds it.
	if !e.radioOwned || e.radioOwner == in.id {
		if err := e.config.Radio.Stop(); err != nil {
			e.debugf(in, "radio stop: %v", err)
		}
		e.config.Radio.ResetNeighbors()
	}
	e.releaseRadio(in)
	in.pool.freeAll()
	in.timers[TimerScanBackoff] = 0
	in.timers[TimerRouterUpgrade] = 0
	in.netdata.SetAttachReady(false)
	in.netdata.Reset()

	if in.pendingRollback && ev.Reason != ResetDatasetChanged {
		in.pendingRollback = false
		if err := in.dataset.OldConfigActivate(); err != nil && !errors.Is(err, dataset.ErrNothingToRestore) {
			e.warnf(in, "restore previous dataset: %v", err)
		}
	}
	if lc, ok := in.dataset.LinkConfiguration(); ok {
		e.primeLink(in, lc)
	}
	if ev.Reason != ResetRequested {
		e.deleteParent(in)
	}

	in.role = RoleDetached
	in.attemptRole = in.mode
	in.short = link.ShortAddressInvalid
	in.childShort = link.ShortAddressInvalid
	in.routerID = netdata.InvalidRouterID
	in.leader = netdata.LeaderData{}
	in.routerCount = 0
	in.scanCount = 0
	in.roleFailures = 0
	in.reattachTries = 0
	e.enterScan(in, AttachNetworkDiscover)
}

func (e *Engine) handleTick(in *iface) {
	before, had := in.dataset.LinkConfiguration()
	activated, err := in.dataset.TickSeconds(1)
	if err != nil {
		e.warnf(in, "pending dataset: %v", err)
	}
	if activated {
		after, _ := in.dataset.LinkConfiguration()
		changed := !had || after.Channel != before.Channel || after.PanID != before.PanID
		e.post(in.id, DatasetChanged{ChannelChanged: changed, PreviousChannel: before.Channel})
	}

	e.config.Blacklist.Expire()

	for k := range in.timers {
		if in.timers[k] == 0 {
			continue
		}
		in.timers[k]--
		if in.timers[k] == 0 {
			e.post(in.id, Timer{Kind: TimerKind(k)})
		}
	}
}

func (e *Engine) handleTimer(in *iface, ev Timer) {
	switch ev.Kind {
	case TimerScanBackoff:
		e.onScanTimer(in)
	case TimerRouterUpgrade:
		e.handleUpgradeToRouter(in)
	case TimerAnnounce:
		e.onAnnounceTimer(in)
	default:
		e.warnf(in, "unknown timer %d", ev.Kind)
	}
}

func (e *Engine) handleDatasetChanged(in *iface, ev DatasetChanged) {
	lc, ok := in.dataset.LinkConfiguration()
	if !ok {
		return
	}
	e.primeLink(in, lc)
	if !ev.ChannelChanged {
		// Nothing to reattach for, so nothing to roll back to.
		in.dataset.DiscardOld()
		return
	}
	if in.state.Attached() && ev.PreviousChannel != 0 {
		e.startAnnounce(in, ev.PreviousChannel.MaskBit(), DefaultAnnounceCount, DefaultAnnouncePeriod, lc)
	}
	in.pendingRollback = in.dataset.HasOld()
	e.post(in.id, Reset{Reason: ResetDatasetChanged})
}
