package security

import (
	"time"

	"github.com/backkem/thread/pkg/link"
	"github.com/jellydator/ttlcache/v3"
)

// DefaultBlacklistTTL is how long a rejected peer stays blacklisted.
const DefaultBlacklistTTL = 5 * time.Minute

// Blacklist remembers peers that failed security validation so the attach
// logic skips them until the entry expires.
type Blacklist struct {
	entries *ttlcache.Cache[link.ExtAddress, string]
}

// NewBlacklist creates a Blacklist. A zero ttl selects DefaultBlacklistTTL.
func NewBlacklist(ttl time.Duration) *Blacklist {
	if ttl <= 0 {
		ttl = DefaultBlacklistTTL
	}
	return &Blacklist{
		entries: ttlcache.New[link.ExtAddress, string](
			ttlcache.WithTTL[link.ExtAddress, string](ttl),
			ttlcache.WithDisableTouchOnHit[link.ExtAddress, string](),
		),
	}
}

// Add blacklists a peer, restarting its expiry.
func (b *Blacklist) Add(peer link.ExtAddress, reason string) {
	b.entries.Set(peer, reason, ttlcache.DefaultTTL)
}

// Contains reports whether a peer is currently blacklisted.
func (b *Blacklist) Contains(peer link.ExtAddress) bool {
	return b.entries.Get(peer) != nil
}

// Reason returns why a peer was blacklisted.
func (b *Blacklist) Reason(peer link.ExtAddress) (string, bool) {
	item := b.entries.Get(peer)
	if item == nil {
		return "", false
	}
	return item.Value(), true
}

// Remove clears a peer.
func (b *Blacklist) Remove(peer link.ExtAddress) {
	b.entries.Delete(peer)
}

// Expire drops expired entries. The bootstrap engine calls it once per tick
// instead of running the cache's own cleanup goroutine.
func (b *Blacklist) Expire() {
	b.entries.DeleteExpired()
}

// Len returns the number of entries, including any not yet expired out.
func (b *Blacklist) Len() int {
	return b.entries.Len()
}
