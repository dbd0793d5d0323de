package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backkem/thread/pkg/link"
	"github.com/backkem/thread/pkg/storage"
)

var testKey = [16]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}

func TestKeyManager_StoreAhead(t *testing.T) {
	store := storage.NewMemoryStorage()
	km := NewKeyManager(KeyManagerConfig{Interface: 1, Storage: store})
	km.SetNetworkKey(testKey, 0)

	rec, err := store.LoadFrameCounters(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(StoreAhead), rec.MAC)

	for i := 0; i < 10; i++ {
		v, err := km.NextMACCounter()
		require.NoError(t, err)
		assert.Equal(t, uint32(i), v)
	}

	// A reboot resumes from the stored-ahead value, never reusing a counter.
	restored := NewKeyManager(KeyManagerConfig{Interface: 1, Storage: store})
	restored.SetNetworkKey(testKey, 0)
	v, err := restored.NextMACCounter()
	require.NoError(t, err)
	assert.Equal(t, uint32(StoreAhead), v)
	rec, _ = store.LoadFrameCounters(1)
	assert.Equal(t, uint32(2*StoreAhead), rec.MAC)
}

func TestKeyManager_Resume(t *testing.T) {
	store := storage.NewMemoryStorage()
	require.NoError(t, store.SaveFrameCounters(2, storage.FrameCounterRecord{KeySequence: 4, MAC: 5000, MLE: 7000}))

	km := NewKeyManager(KeyManagerConfig{Interface: 2, Storage: store})
	assert.Equal(t, uint32(4), km.KeySequence())

	v, err := km.NextMLECounter()
	require.NoError(t, err)
	assert.Equal(t, uint32(7000), v)

	rec, _ := store.LoadFrameCounters(2)
	assert.Equal(t, uint32(7001+StoreAhead), rec.MLE, "reaching the stored value writes ahead again")
}

func TestKeyManager_KeySequence(t *testing.T) {
	km := NewKeyManager(KeyManagerConfig{})
	_, err := km.Keys()
	assert.ErrorIs(t, err, ErrNoNetworkKey)
	assert.ErrorIs(t, km.SetKeySequence(3), ErrNoNetworkKey)

	km.SetNetworkKey(testKey, 0)
	k0, err := km.Keys()
	require.NoError(t, err)

	_, _ = km.NextMACCounter()
	require.NoError(t, km.SetKeySequence(1))
	k1, _ := km.Keys()
	assert.NotEqual(t, k0.MACKey, k1.MACKey)

	v, _ := km.NextMACCounter()
	assert.Equal(t, uint32(0), v, "new key sequence restarts counters")
}

func TestBlacklist(t *testing.T) {
	peer := link.ExtAddress{1, 2, 3, 4, 5, 6, 7, 8}
	b := NewBlacklist(50 * time.Millisecond)

	assert.False(t, b.Contains(peer))
	b.Add(peer, "bad mic")
	assert.True(t, b.Contains(peer))
	reason, ok := b.Reason(peer)
	assert.True(t, ok)
	assert.Equal(t, "bad mic", reason)

	require.Eventually(t, func() bool {
		b.Expire()
		return !b.Contains(peer) && b.Len() == 0
	}, time.Second, 10*time.Millisecond)

	b.Add(peer, "again")
	b.Remove(peer)
	assert.False(t, b.Contains(peer))
}
