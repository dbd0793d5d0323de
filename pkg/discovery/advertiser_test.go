package discovery

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v4"
)

type mockMDNSServer struct {
	shutdownCalled bool
}

func (m *mockMDNSServer) Shutdown() {
	m.shutdownCalled = true
}

// mockMDNSServerFactory fails the first failures registrations.
type mockMDNSServerFactory struct {
	mu       sync.Mutex
	servers  []*mockMDNSServer
	attempts int
	failures int
	lastArgs struct {
		instance string
		service  string
		port     int
		txt      []string
	}
}

func (f *mockMDNSServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attempts++
	if f.attempts <= f.failures {
		return nil, errors.New("socket busy")
	}
	f.lastArgs.instance = instance
	f.lastArgs.service = service
	f.lastArgs.port = port
	f.lastArgs.txt = txt

	s := &mockMDNSServer{}
	f.servers = append(f.servers, s)
	return s, nil
}

func quickRetry(n uint64) func() backoff.BackOff {
	return func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, n)
	}
}

func TestNewAdvertiser_DefaultPort(t *testing.T) {
	for _, port := range []int{0, -1, 70000} {
		adv := NewAdvertiser(AdvertiserConfig{Port: port})
		if adv.config.Port != DefaultAgentPort {
			t.Errorf("Port(%d) = %d, want %d", port, adv.config.Port, DefaultAgentPort)
		}
	}
}

func TestAdvertiser_Start(t *testing.T) {
	factory := &mockMDNSServerFactory{}
	adv := NewAdvertiser(AdvertiserConfig{Port: 49191, ServerFactory: factory})

	txt := testTXT()
	if err := adv.Start(context.Background(), txt); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !adv.IsAdvertising() {
		t.Error("IsAdvertising() = false after Start")
	}
	if factory.lastArgs.service != ServiceMeshCoP {
		t.Errorf("service = %q, want %q", factory.lastArgs.service, ServiceMeshCoP)
	}
	if want := "OpenThread-ABCD"; factory.lastArgs.instance != want || adv.Instance() != want {
		t.Errorf("instance = %q, want %q", factory.lastArgs.instance, want)
	}
	if factory.lastArgs.port != 49191 {
		t.Errorf("port = %d, want 49191", factory.lastArgs.port)
	}

	if err := adv.Start(context.Background(), txt); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() = %v, want ErrAlreadyStarted", err)
	}
}

func TestAdvertiser_StartRetries(t *testing.T) {
	factory := &mockMDNSServerFactory{failures: 2}
	adv := NewAdvertiser(AdvertiserConfig{ServerFactory: factory, NewBackOff: quickRetry(5)})

	if err := adv.Start(context.Background(), testTXT()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if factory.attempts != 3 {
		t.Errorf("attempts = %d, want 3", factory.attempts)
	}
}

func TestAdvertiser_StartGivesUp(t *testing.T) {
	factory := &mockMDNSServerFactory{failures: 100}
	adv := NewAdvertiser(AdvertiserConfig{ServerFactory: factory, NewBackOff: quickRetry(2)})

	if err := adv.Start(context.Background(), testTXT()); err == nil {
		t.Fatal("Start() succeeded, want error")
	}
	if factory.attempts != 3 {
		t.Errorf("attempts = %d, want 3", factory.attempts)
	}
	if adv.IsAdvertising() {
		t.Error("IsAdvertising() = true after failed Start")
	}
}

func TestAdvertiser_StartInvalid(t *testing.T) {
	adv := NewAdvertiser(AdvertiserConfig{ServerFactory: &mockMDNSServerFactory{}})
	txt := testTXT()
	txt.NetworkName = ""
	if err := adv.Start(context.Background(), txt); !errors.Is(err, ErrInvalidNetworkName) {
		t.Errorf("Start() = %v, want ErrInvalidNetworkName", err)
	}
}

func TestAdvertiser_Update(t *testing.T) {
	factory := &mockMDNSServerFactory{}
	adv := NewAdvertiser(AdvertiserConfig{ServerFactory: factory})

	txt := testTXT()
	if err := adv.Update(context.Background(), txt); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Update() before Start = %v, want ErrNotStarted", err)
	}
	if err := adv.Start(context.Background(), txt); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	txt.SetRole(RoleChild)
	if err := adv.Update(context.Background(), txt); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if len(factory.servers) != 2 {
		t.Fatalf("servers = %d, want 2", len(factory.servers))
	}
	if !factory.servers[0].shutdownCalled {
		t.Error("old registration not shut down")
	}
	parsed, err := ParseMeshCoPTXT(factory.lastArgs.txt)
	if err != nil {
		t.Fatalf("ParseMeshCoPTXT() error = %v", err)
	}
	if parsed.Role() != RoleChild {
		t.Errorf("published role = %v, want child", parsed.Role())
	}
}

func TestAdvertiser_StopClose(t *testing.T) {
	factory := &mockMDNSServerFactory{}
	adv := NewAdvertiser(AdvertiserConfig{ServerFactory: factory})

	if err := adv.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Stop() before Start = %v, want ErrNotStarted", err)
	}
	if err := adv.Start(context.Background(), testTXT()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := adv.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !factory.servers[0].shutdownCalled || adv.IsAdvertising() || adv.Instance() != "" {
		t.Error("Stop() left the record published")
	}

	if err := adv.Start(context.Background(), testTXT()); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	if err := adv.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !factory.servers[1].shutdownCalled {
		t.Error("Close() did not shut down the record")
	}
	if err := adv.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close() = %v, want ErrClosed", err)
	}
	if err := adv.Start(context.Background(), testTXT()); !errors.Is(err, ErrClosed) {
		t.Errorf("Start() after Close = %v, want ErrClosed", err)
	}
}
