package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backkem/thread/pkg/link"
)

func backends(t *testing.T) map[string]Storage {
	t.Helper()

	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "node.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Storage{
		"memory": NewMemoryStorage(),
		"sqlite": sqlite,
	}
}

func TestStorage_RoundTrip(t *testing.T) {
	const id = link.InterfaceID(1)

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.LoadDataset(id, DatasetActive)
			require.ErrorIs(t, err, ErrNotFound)

			ds := DatasetRecord{Timestamp: 1 << 16, TimeoutMS: 0, TLVs: []byte{0x01, 0x02, 0xfa, 0xce}}
			require.NoError(t, s.SaveDataset(id, DatasetActive, ds))

			got, err := s.LoadDataset(id, DatasetActive)
			require.NoError(t, err)
			if diff := cmp.Diff(ds, got); diff != "" {
				t.Errorf("LoadDataset() mismatch (-want +got):\n%s", diff)
			}

			_, err = s.LoadDataset(id, DatasetPending)
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.LoadDataset(id+1, DatasetActive)
			assert.ErrorIs(t, err, ErrNotFound, "records are per interface")

			ident := IdentityRecord{
				EUI64:       link.ExtAddress{0x18, 0xb4, 0x30, 0, 0, 0, 0, 1},
				ExtAddress:  link.ExtAddress{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0},
				Provisioned: true,
			}
			require.NoError(t, s.SaveIdentity(id, ident))
			gotIdent, err := s.LoadIdentity(id)
			require.NoError(t, err)
			assert.Equal(t, ident, gotIdent)

			parent := ParentRecord{ParentExtAddress: link.ExtAddress{1}, ParentShort: 0x0400, ShortAddress: 0x0401}
			require.NoError(t, s.SaveParent(id, parent))
			gotParent, err := s.LoadParent(id)
			require.NoError(t, err)
			assert.Equal(t, parent, gotParent)
			require.NoError(t, s.DeleteParent(id))
			_, err = s.LoadParent(id)
			assert.ErrorIs(t, err, ErrNotFound)

			fc := FrameCounterRecord{KeySequence: 2, MAC: 1000, MLE: 2000}
			require.NoError(t, s.SaveFrameCounters(id, fc))
			gotFC, err := s.LoadFrameCounters(id)
			require.NoError(t, err)
			assert.Equal(t, fc, gotFC)

			require.NoError(t, s.DeleteDataset(id, DatasetActive))
			_, err = s.LoadDataset(id, DatasetActive)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestMemoryStorage_CloneOnLoad(t *testing.T) {
	s := NewMemoryStorage()
	tlvs := []byte{0x01, 0x02, 0xfa, 0xce}
	require.NoError(t, s.SaveDataset(0, DatasetActive, DatasetRecord{TLVs: tlvs}))
	tlvs[2] = 0x00

	got, err := s.LoadDataset(0, DatasetActive)
	require.NoError(t, err)
	assert.Equal(t, byte(0xfa), got.TLVs[2])
}

func TestMemoryStorage_WriteError(t *testing.T) {
	s := NewMemoryStorage()
	boom := errors.New("flash worn out")
	s.SetWriteError(boom)
	assert.ErrorIs(t, s.SaveParent(0, ParentRecord{}), boom)

	s.SetWriteError(nil)
	assert.NoError(t, s.SaveParent(0, ParentRecord{}))
}

func TestSQLiteStorage_Corrupt(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "node.db"))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.db.Exec(`INSERT INTO records (iface, key, payload, updated_at) VALUES (0, ?, ?, '')`,
		keyIdentity, []byte{0xff, 0x00})
	require.NoError(t, err)

	_, err = s.LoadIdentity(0)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestSQLiteStorage_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveParent(3, ParentRecord{ShortAddress: 0x0c01}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.LoadParent(3)
	require.NoError(t, err)
	assert.Equal(t, link.ShortAddress(0x0c01), got.ShortAddress)
}
