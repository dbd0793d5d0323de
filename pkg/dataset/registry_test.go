package dataset

import (
	"testing"

	"github.com/backkem/thread/pkg/link"
	"github.com/backkem/thread/pkg/storage"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry(RegistryConfig{MaxInterfaces: 2, Storage: storage.NewMemoryStorage()})

	in, err := r.Init(1, link.ExtAddress{1})
	if err != nil {
		t.Fatalf("Init(1) error = %v", err)
	}
	if in.Interface() != 1 {
		t.Errorf("Interface() = %s, want if1", in.Interface())
	}
	if _, err := r.Init(1, link.ExtAddress{1}); err != ErrInterfaceExists {
		t.Errorf("Init(1) again = %v, want ErrInterfaceExists", err)
	}
	if _, err := r.Init(0, link.ExtAddress{2}); err != nil {
		t.Fatalf("Init(0) error = %v", err)
	}
	if _, err := r.Init(2, link.ExtAddress{3}); err != ErrRegistryFull {
		t.Errorf("Init(2) = %v, want ErrRegistryFull", err)
	}

	if got := r.IDs(); len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Errorf("IDs() = %v, want [if0 if1]", got)
	}
	if got, ok := r.Get(1); !ok || got != in {
		t.Error("Get(1) did not return the initialized instance")
	}

	if err := r.Teardown(1); err != nil {
		t.Fatalf("Teardown(1) error = %v", err)
	}
	if _, ok := r.Get(1); ok {
		t.Error("Get(1) after Teardown found an instance")
	}
	if err := r.Teardown(1); err != ErrInterfaceNotFound {
		t.Errorf("Teardown(1) again = %v, want ErrInterfaceNotFound", err)
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
}
