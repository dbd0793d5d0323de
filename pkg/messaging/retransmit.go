package messaging

import (
	"net"
	"sync"
	"time"
)

// RetransmitEntry is a confirmable message awaiting acknowledgement.
type RetransmitEntry struct {
	Handle    Handle
	MessageID uint16

	// Message is the encoded datagram, resent verbatim.
	Message []byte
	Peer    net.Addr

	// SendCount starts at 1 for the initial transmission.
	SendCount        int
	MaxTransmissions int
	Params           TimeoutParams

	timer    *time.Timer
	callback func()
}

// Stop cancels the retransmission timer if running.
func (e *RetransmitEntry) Stop() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// RetransmitTable tracks confirmable messages until they are acknowledged
// or run out of transmissions. It is safe for concurrent use.
type RetransmitTable struct {
	entries  map[uint16]*RetransmitEntry
	byHandle map[Handle]*RetransmitEntry
	spacing  *Spacing

	mu sync.Mutex
}

// NewRetransmitTable returns an empty table. A nil spacing uses
// NewSpacing(nil).
func NewRetransmitTable(spacing *Spacing) *RetransmitTable {
	if spacing == nil {
		spacing = NewSpacing(nil)
	}
	return &RetransmitTable{
		entries:  make(map[uint16]*RetransmitEntry),
		byHandle: make(map[Handle]*RetransmitEntry),
		spacing:  spacing,
	}
}

// Add records a message sent once and arms its first retransmission timer.
// onTimeout runs on the timer goroutine each time the timer fires.
func (t *RetransmitTable) Add(entry *RetransmitEntry, onTimeout func(entry *RetransmitEntry)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[entry.MessageID]; exists {
		return ErrPending
	}

	entry.SendCount = 1
	entry.callback = func() {
		if onTimeout != nil {
			onTimeout(entry)
		}
	}
	entry.timer = time.AfterFunc(t.spacing.Next(entry.Params, 0), entry.callback)

	t.entries[entry.MessageID] = entry
	t.byHandle[entry.Handle] = entry
	return nil
}

// Ack removes the entry for messageID. It returns nil if there is none.
func (t *RetransmitTable) Ack(messageID uint16) *RetransmitEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[messageID]
	if !ok {
		return nil
	}
	t.removeLocked(entry)
	return entry
}

// ScheduleRetransmit counts one more transmission of entry and re-arms its
// timer. It reports exhausted, removing the entry, once MaxTransmissions is
// reached. Both results are false if entry was already acknowledged.
func (t *RetransmitTable) ScheduleRetransmit(entry *RetransmitEntry) (resend, exhausted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.entries[entry.MessageID]; !ok || cur != entry {
		return false, false
	}

	if entry.SendCount >= entry.MaxTransmissions {
		t.removeLocked(entry)
		return false, true
	}

	entry.SendCount++
	entry.Stop()
	entry.timer = time.AfterFunc(t.spacing.Next(entry.Params, entry.SendCount-1), entry.callback)
	return true, false
}

// Get returns the entry for messageID.
func (t *RetransmitTable) Get(messageID uint16) (*RetransmitEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[messageID]
	return entry, ok
}

// RemoveHandle drops the entry sent for h, if any.
func (t *RetransmitTable) RemoveHandle(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.byHandle[h]; ok {
		t.removeLocked(entry)
	}
}

func (t *RetransmitTable) removeLocked(entry *RetransmitEntry) {
	entry.Stop()
	delete(t.entries, entry.MessageID)
	delete(t.byHandle, entry.Handle)
}

// Count returns the number of pending entries.
func (t *RetransmitTable) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Clear removes all entries.
func (t *RetransmitTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, entry := range t.entries {
		entry.Stop()
	}
	t.entries = make(map[uint16]*RetransmitEntry)
	t.byHandle = make(map[Handle]*RetransmitEntry)
}
