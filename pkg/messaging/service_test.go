package messaging

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/backkem/thread/pkg/transport"
)

// recordingSender captures datagrams without delivering them.
type recordingSender struct {
	mu   sync.Mutex
	sent [][]byte
}

func (r *recordingSender) Send(data []byte, addr net.Addr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, append([]byte(nil), data...))
	return nil
}

func (r *recordingSender) LocalAddr() net.Addr { return testPeer() }

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type timeoutEvent struct {
	h              Handle
	usedAllRetries bool
}

func TestServiceRetriesExhausted(t *testing.T) {
	sender := &recordingSender{}
	timeouts := make(chan timeoutEvent, 1)

	s, err := NewService(Config{
		Transport: sender,
		OnTimeout: func(h Handle, used bool) { timeouts <- timeoutEvent{h, used} },
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	defer s.Close()

	h, err := s.Send(&Message{Code: POST, Path: "a/sd"}, testPeer(), fastParams(),
		RetryPolicy{MaxTransmissions: 3, Confirmable: true})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case ev := <-timeouts:
		if ev.h != h || !ev.usedAllRetries {
			t.Errorf("OnTimeout(%d, %v), want (%d, true)", ev.h, ev.usedAllRetries, h)
		}
	case <-time.After(time.Second):
		t.Fatal("OnTimeout never called")
	}

	if got := sender.count(); got != 3 {
		t.Errorf("transmissions = %d, want 3", got)
	}
	if s.Outstanding() != 0 {
		t.Errorf("Outstanding() = %d, want 0", s.Outstanding())
	}
}

func TestServiceNonConfirmableTimeout(t *testing.T) {
	sender := &recordingSender{}
	timeouts := make(chan timeoutEvent, 1)

	s, _ := NewService(Config{
		Transport: sender,
		OnTimeout: func(h Handle, used bool) { timeouts <- timeoutEvent{h, used} },
	})
	defer s.Close()

	s.Send(&Message{Code: POST, Path: "c/pq"}, testPeer(), fastParams(), RetryPolicy{})

	select {
	case ev := <-timeouts:
		if ev.usedAllRetries {
			t.Error("OnTimeout usedAllRetries = true for a non-confirmable request")
		}
	case <-time.After(time.Second):
		t.Fatal("OnTimeout never called")
	}
	if got := sender.count(); got != 1 {
		t.Errorf("transmissions = %d, want 1", got)
	}
}

func newServicePair(t *testing.T) (*Service, *Service, net.Addr) {
	t.Helper()

	var s0, s1 *Service
	u0, u1, p, err := transport.NewUDPPair(
		func(m *transport.ReceivedMessage) { s0.HandleDatagram(m) },
		func(m *transport.ReceivedMessage) { s1.HandleDatagram(m) },
	)
	if err != nil {
		t.Fatalf("NewUDPPair() error = %v", err)
	}

	s0, _ = NewService(Config{Transport: u0})
	s1, _ = NewService(Config{Transport: u1})
	u0.Start()
	u1.Start()

	t.Cleanup(func() {
		s0.Close()
		s1.Close()
		u0.Stop()
		u1.Stop()
		p.Close()
	})
	return s0, s1, u1.LocalAddr()
}

func TestServiceRequestResponse(t *testing.T) {
	client, server, serverAddr := newServicePair(t)

	server.Handle("c/ag", func(req *Message, peer net.Addr) (Code, []byte) {
		if !bytes.Equal(req.Payload, []byte{0x0D, 0x01, 0x00}) {
			return BadRequest, nil
		}
		return Changed, []byte{0x00, 0x02, 0xAB, 0xCD}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Do(ctx, &Message{Code: POST, Path: "c/ag", Payload: []byte{0x0D, 0x01, 0x00}},
		serverAddr, TimeoutParams{BaseInterval: 200 * time.Millisecond}, DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.Code != Changed {
		t.Errorf("Code = %v, want %v", resp.Code, Changed)
	}
	if resp.Type != Acknowledgement {
		t.Errorf("Type = %v, want ACK", resp.Type)
	}
	if !bytes.Equal(resp.Payload, []byte{0x00, 0x02, 0xAB, 0xCD}) {
		t.Errorf("Payload = %x", resp.Payload)
	}
	if client.Outstanding() != 0 {
		t.Errorf("Outstanding() = %d, want 0", client.Outstanding())
	}
}

func TestServiceNotFound(t *testing.T) {
	client, _, serverAddr := newServicePair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Do(ctx, &Message{Code: GET, Path: "c/zz"}, serverAddr,
		TimeoutParams{BaseInterval: 200 * time.Millisecond}, DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.Code != NotFound {
		t.Errorf("Code = %v, want %v", resp.Code, NotFound)
	}
}

func TestServiceDuplicateSuppressed(t *testing.T) {
	sender := &recordingSender{}
	s, _ := NewService(Config{Transport: sender})
	defer s.Close()

	var calls int
	s.Handle("c/ps", func(*Message, net.Addr) (Code, []byte) {
		calls++
		return Changed, []byte{0x10, 0x01, 0x01}
	})

	req, _ := (&Message{Type: Confirmable, Code: POST, MessageID: 5, Token: []byte{1}, Path: "c/ps"}).Encode()
	s.HandleDatagram(&transport.ReceivedMessage{Data: req, Peer: testPeer()})
	s.HandleDatagram(&transport.ReceivedMessage{Data: req, Peer: testPeer()})

	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
	if got := sender.count(); got != 2 {
		t.Fatalf("replies = %d, want 2", got)
	}
	if !bytes.Equal(sender.sent[0], sender.sent[1]) {
		t.Error("duplicate reply differs from the original")
	}
}

func TestServiceSeparateResponse(t *testing.T) {
	sender := &recordingSender{}
	responses := make(chan *Message, 1)
	s, _ := NewService(Config{
		Transport:  sender,
		OnResponse: func(h Handle, m *Message) { responses <- m },
	})
	defer s.Close()

	s.Send(&Message{Code: GET, Path: "c/pg"}, testPeer(), DefaultTimeoutParams(), DefaultRetryPolicy())
	sent, _ := DecodeMessage(sender.sent[0])

	ack, _ := (&Message{Type: Acknowledgement, Code: Empty, MessageID: sent.MessageID}).Encode()
	s.HandleDatagram(&transport.ReceivedMessage{Data: ack, Peer: testPeer()})
	if s.table.Count() != 0 {
		t.Error("empty ACK did not stop retransmission")
	}

	resp, _ := (&Message{Type: Confirmable, Code: Content, MessageID: 900, Token: sent.Token, Payload: []byte{1}}).Encode()
	s.HandleDatagram(&transport.ReceivedMessage{Data: resp, Peer: testPeer()})

	select {
	case m := <-responses:
		if m.Code != Content {
			t.Errorf("Code = %v, want %v", m.Code, Content)
		}
	default:
		t.Fatal("separate response not delivered")
	}

	// The confirmable response is acknowledged.
	last, _ := DecodeMessage(sender.sent[len(sender.sent)-1])
	if last.Type != Acknowledgement || last.MessageID != 900 {
		t.Errorf("last sent = %v mid=%d, want ACK mid=900", last.Type, last.MessageID)
	}
}

func TestServiceCancelAndClose(t *testing.T) {
	sender := &recordingSender{}
	s, _ := NewService(Config{Transport: sender})

	h, _ := s.Send(&Message{Code: GET, Path: "c/ag"}, testPeer(), DefaultTimeoutParams(), DefaultRetryPolicy())
	if err := s.Cancel(h); err != nil {
		t.Errorf("Cancel() error = %v", err)
	}
	if err := s.Cancel(h); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("Cancel() twice error = %v, want %v", err, ErrUnknownHandle)
	}

	s.Close()
	if _, err := s.Send(&Message{Code: GET}, testPeer(), DefaultTimeoutParams(), DefaultRetryPolicy()); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after Close() error = %v, want %v", err, ErrClosed)
	}
}

func TestNewServiceRequiresTransport(t *testing.T) {
	if _, err := NewService(Config{}); !errors.Is(err, ErrNoTransport) {
		t.Errorf("NewService() error = %v, want %v", err, ErrNoTransport)
	}
}
