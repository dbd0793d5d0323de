package messaging

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/backkem/thread/pkg/transport"
	"github.com/jellydator/ttlcache/v3"
	"github.com/pion/logging"
)

// Handle identifies an outstanding request.
type Handle uint32

// HandlerFunc answers an inbound request. The returned payload may be nil.
type HandlerFunc func(req *Message, peer net.Addr) (Code, []byte)

// Config configures a Service.
type Config struct {
	// Transport sends datagrams. Required.
	Transport transport.Sender

	// OnTimeout is called when a request fails. usedAllRetries is true when
	// a confirmable request went unacknowledged after its last transmission.
	OnTimeout func(h Handle, usedAllRetries bool)

	// OnResponse is called for each response matched to an outstanding request.
	OnResponse func(h Handle, resp *Message)

	// Random drives retransmission jitter. Nil uses DefaultRandomSource.
	Random RandomSource

	// ExchangeLifetime bounds duplicate detection and how long a request
	// that was acknowledged without a response waits for one.
	ExchangeLifetime time.Duration

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

type dedupKey struct {
	peer      string
	messageID uint16
}

type outstanding struct {
	handle Handle
	token  string
	peer   net.Addr
	timer  *time.Timer
	done   chan result
}

type result struct {
	resp           *Message
	usedAllRetries bool
}

// Service sends requests with retransmission and serves inbound requests.
// It implements transport.MessageHandler via HandleDatagram.
type Service struct {
	config  Config
	log     logging.LeveledLogger
	spacing *Spacing
	table   *RetransmitTable
	dedup   *ttlcache.Cache[dedupKey, []byte]

	mu         sync.Mutex
	handlers   map[string]HandlerFunc
	byToken    map[string]*outstanding
	byHandle   map[Handle]*outstanding
	nextMID    uint16
	nextHandle Handle
	closed     bool
}

// NewService creates a Service.
func NewService(config Config) (*Service, error) {
	if config.Transport == nil {
		return nil, ErrNoTransport
	}
	if config.ExchangeLifetime <= 0 {
		config.ExchangeLifetime = DefaultExchangeLifetime
	}

	s := &Service{
		config:   config,
		spacing:  NewSpacing(config.Random),
		handlers: make(map[string]HandlerFunc),
		byToken:  make(map[string]*outstanding),
		byHandle: make(map[Handle]*outstanding),
		dedup: ttlcache.New[dedupKey, []byte](
			ttlcache.WithTTL[dedupKey, []byte](config.ExchangeLifetime),
			ttlcache.WithDisableTouchOnHit[dedupKey, []byte](),
		),
	}
	s.table = NewRetransmitTable(s.spacing)

	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("messaging")
	}

	var buf [2]byte
	if _, err := rand.Read(buf[:]); err == nil {
		s.nextMID = binary.BigEndian.Uint16(buf[:])
	}
	return s, nil
}

// Handle registers a handler for a Uri-Path such as "c/ag".
func (s *Service) Handle(path string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[path] = h
}

// Send transmits a request to dest and returns its handle. Confirmable
// requests are retransmitted per timeout and retry; transport errors on any
// transmission count as a lost datagram.
func (s *Service) Send(msg *Message, dest net.Addr, timeout TimeoutParams, retry RetryPolicy) (Handle, error) {
	return s.send(msg, dest, timeout, retry, nil)
}

// Do sends a request and waits for its response.
func (s *Service) Do(ctx context.Context, msg *Message, dest net.Addr, timeout TimeoutParams, retry RetryPolicy) (*Message, error) {
	done := make(chan result, 1)
	h, err := s.send(msg, dest, timeout, retry, done)
	if err != nil {
		return nil, err
	}

	select {
	case r := <-done:
		if r.resp == nil {
			if r.usedAllRetries {
				return nil, fmt.Errorf("messaging: %s %s: no acknowledgement after %d transmissions",
					msg.Code, msg.Path, retry.transmissions())
			}
			return nil, fmt.Errorf("messaging: %s %s: timed out", msg.Code, msg.Path)
		}
		return r.resp, nil
	case <-ctx.Done():
		s.Cancel(h)
		return nil, ctx.Err()
	}
}

func (s *Service) send(msg *Message, dest net.Addr, timeout TimeoutParams, retry RetryPolicy, done chan result) (Handle, error) {
	if dest == nil {
		return 0, transport.ErrInvalidAddress
	}
	timeout = timeout.withDefaults()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	s.nextHandle++
	h := s.nextHandle
	s.nextMID++
	mid := s.nextMID
	s.mu.Unlock()

	out := *msg
	out.MessageID = mid
	out.Token = make([]byte, 4)
	binary.BigEndian.PutUint32(out.Token, uint32(h))
	if retry.Confirmable {
		out.Type = Confirmable
	} else {
		out.Type = NonConfirmable
	}

	data, err := out.Encode()
	if err != nil {
		return 0, err
	}

	o := &outstanding{handle: h, token: string(out.Token), peer: dest, done: done}
	s.mu.Lock()
	s.byToken[o.token] = o
	s.byHandle[h] = o
	s.mu.Unlock()

	if retry.Confirmable {
		entry := &RetransmitEntry{
			Handle:           h,
			MessageID:        mid,
			Message:          data,
			Peer:             dest,
			MaxTransmissions: retry.transmissions(),
			Params:           timeout,
		}
		if err := s.table.Add(entry, s.onRetransmit); err != nil {
			s.forget(h)
			return 0, err
		}
	} else {
		s.armResponseTimer(o, s.spacing.Next(timeout, 0))
	}

	if s.log != nil {
		s.log.Debugf("send %s %s %s mid=%d handle=%d to %v", out.Type, out.Code, out.Path, mid, h, dest)
	}
	if err := s.config.Transport.Send(data, dest); err != nil && s.log != nil {
		s.log.Warnf("send handle=%d: %v", h, err)
	}
	return h, nil
}

func (s *Service) onRetransmit(entry *RetransmitEntry) {
	resend, exhausted := s.table.ScheduleRetransmit(entry)
	if exhausted {
		if s.log != nil {
			s.log.Infof("handle=%d: no acknowledgement after %d transmissions", entry.Handle, entry.SendCount)
		}
		s.finish(entry.Handle, result{usedAllRetries: true})
		return
	}
	if !resend {
		return
	}
	if s.log != nil {
		s.log.Debugf("retransmit mid=%d attempt=%d", entry.MessageID, entry.SendCount)
	}
	if err := s.config.Transport.Send(entry.Message, entry.Peer); err != nil && s.log != nil {
		s.log.Warnf("retransmit mid=%d: %v", entry.MessageID, err)
	}
}

func (s *Service) armResponseTimer(o *outstanding, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.timer != nil {
		o.timer.Stop()
	}
	h := o.handle
	o.timer = time.AfterFunc(d, func() {
		s.finish(h, result{})
	})
}

// forget drops all state for h and returns the outstanding request, or nil
// if it already completed.
func (s *Service) forget(h Handle) *outstanding {
	s.table.RemoveHandle(h)

	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byHandle[h]
	if !ok {
		return nil
	}
	if o.timer != nil {
		o.timer.Stop()
	}
	delete(s.byHandle, h)
	delete(s.byToken, o.token)
	return o
}

func (s *Service) finish(h Handle, r result) {
	o := s.forget(h)
	if o == nil {
		return
	}
	if o.done != nil {
		o.done <- r
	}
	if r.resp != nil {
		if s.config.OnResponse != nil {
			s.config.OnResponse(h, r.resp)
		}
		return
	}
	if s.config.OnTimeout != nil {
		s.config.OnTimeout(h, r.usedAllRetries)
	}
}

// Cancel abandons an outstanding request without invoking any callback.
func (s *Service) Cancel(h Handle) error {
	if s.forget(h) == nil {
		return ErrUnknownHandle
	}
	return nil
}

// Outstanding returns the number of requests awaiting completion.
func (s *Service) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byHandle)
}

// HandleDatagram processes one received datagram.
func (s *Service) HandleDatagram(rm *transport.ReceivedMessage) {
	msg, err := DecodeMessage(rm.Data)
	if err != nil {
		if s.log != nil {
			s.log.Debugf("drop datagram from %v: %v", rm.Peer, err)
		}
		return
	}

	switch {
	case msg.Type == Reset:
		if e := s.table.Ack(msg.MessageID); e != nil {
			s.finish(e.Handle, result{})
		}
	case msg.Code == Empty && msg.Type == Acknowledgement:
		// Separate response follows; wait for it.
		if e := s.table.Ack(msg.MessageID); e != nil {
			s.mu.Lock()
			o := s.byHandle[e.Handle]
			s.mu.Unlock()
			if o != nil {
				s.armResponseTimer(o, s.config.ExchangeLifetime)
			}
		}
	case msg.Code.IsRequest():
		s.serve(msg, rm.Peer)
	default:
		s.onResponse(msg, rm.Peer)
	}
}

func (s *Service) onResponse(msg *Message, peer net.Addr) {
	if msg.Type == Acknowledgement {
		s.table.Ack(msg.MessageID)
	}
	if msg.Type == Confirmable {
		s.reply(&Message{Type: Acknowledgement, Code: Empty, MessageID: msg.MessageID}, peer)
	}

	s.mu.Lock()
	o := s.byToken[string(msg.Token)]
	s.mu.Unlock()
	if o == nil {
		if s.log != nil {
			s.log.Debugf("unmatched response mid=%d from %v", msg.MessageID, peer)
		}
		return
	}
	s.finish(o.handle, result{resp: msg})
}

func (s *Service) serve(req *Message, peer net.Addr) {
	key := dedupKey{peer: peer.String(), messageID: req.MessageID}
	if item := s.dedup.Get(key); item != nil {
		if s.log != nil {
			s.log.Debugf("duplicate mid=%d from %v", req.MessageID, peer)
		}
		if data := item.Value(); data != nil {
			s.config.Transport.Send(data, peer)
		}
		return
	}
	s.dedup.DeleteExpired()

	s.mu.Lock()
	h, ok := s.handlers[req.Path]
	s.mu.Unlock()

	code, payload := NotFound, []byte(nil)
	if ok {
		code, payload = h(req, peer)
	}
	if s.log != nil {
		s.log.Debugf("serve %s %s from %v: %s", req.Code, req.Path, peer, code)
	}

	resp := NewResponse(req, code, payload)
	if resp.Type == NonConfirmable {
		s.mu.Lock()
		s.nextMID++
		resp.MessageID = s.nextMID
		s.mu.Unlock()
	}
	data := s.reply(resp, peer)
	s.dedup.Set(key, data, ttlcache.DefaultTTL)
}

func (s *Service) reply(resp *Message, peer net.Addr) []byte {
	data, err := resp.Encode()
	if err != nil {
		if s.log != nil {
			s.log.Warnf("encode response: %v", err)
		}
		return nil
	}
	if err := s.config.Transport.Send(data, peer); err != nil && s.log != nil {
		s.log.Warnf("reply to %v: %v", peer, err)
	}
	return data
}

// Close cancels all outstanding requests. Callbacks are not invoked.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	for h, o := range s.byHandle {
		if o.timer != nil {
			o.timer.Stop()
		}
		delete(s.byHandle, h)
	}
	s.byToken = make(map[string]*outstanding)
	s.mu.Unlock()

	s.table.Clear()
	s.dedup.DeleteAll()
	return nil
}
