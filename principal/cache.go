package principal

import (
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

func keyHash(s string) uint64 {
	return xxhash.Sum64String(strings.ToUpper(s))
}

// Cache is the process-wide principal store, sharded by xxhash64 of the
// upper-cased SID to avoid a global lock when evaluation fans out across
// objects.
type Cache struct {
	shards []cacheShard
	mask   uint64
}

type cacheShard struct {
	mu sync.RWMutex
	m  map[uint64]Principal
}

const defaultShards = 16

// NewCache creates a principal cache with numShards shards, rounded up to
// the next power of two.
func NewCache(numShards int) *Cache {
	if numShards <= 0 {
		numShards = defaultShards
	}
	n := 1
	for n < numShards {
		n <<= 1
	}
	c := &Cache{
		shards: make([]cacheShard, n),
		mask:   uint64(n - 1),
	}
	for i := range c.shards {
		c.shards[i].m = make(map[uint64]Principal)
	}
	return c
}

func (c *Cache) shardFor(h uint64) *cacheShard {
	return &c.shards[h&c.mask]
}

func (c *Cache) Set(sid string, p Principal) {
	h := keyHash(sid)
	s := c.shardFor(h)
	s.mu.Lock()
	s.m[h] = p
	s.mu.Unlock()
}

func (c *Cache) Get(sid string) (Principal, bool) {
	h := keyHash(sid)
	s := c.shardFor(h)
	s.mu.RLock()
	p, ok := s.m[h]
	s.mu.RUnlock()
	return p, ok
}

func (c *Cache) Size() int {
	total := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		total += len(s.m)
		s.mu.RUnlock()
	}
	return total
}

// MemberCache maps a group SID to its direct member SIDs. Empty member
// lists are cached too, so a group with no resolvable members still costs
// only one directory round trip.
type MemberCache struct {
	mu sync.RWMutex
	m  map[uint64][]string
}

func NewMemberCache() *MemberCache {
	return &MemberCache{m: make(map[uint64][]string)}
}

func (c *MemberCache) Set(groupSID string, members []string) {
	h := keyHash(groupSID)
	c.mu.Lock()
	stored := make([]string, len(members))
	copy(stored, members)
	c.m[h] = stored
	c.mu.Unlock()
}

func (c *MemberCache) Get(groupSID string) ([]string, bool) {
	h := keyHash(groupSID)
	c.mu.RLock()
	members, ok := c.m[h]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	out := make([]string, len(members))
	copy(out, members)
	return out, true
}

// sortedSet deduplicates and sorts a SID slice. Order carries no semantic
// meaning; sorting keeps output deterministic.
func sortedSet(sids []string) []string {
	seen := make(map[string]struct{}, len(sids))
	out := make([]string, 0, len(sids))
	for _, s := range sids {
		if s == "" {
			continue
		}
		key := strings.ToUpper(s)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
