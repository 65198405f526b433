package batch

import (
	"errors"
	"fmt"
	"hash"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/common"
)

// PoolConfig limits the crypto context pool.
type PoolConfig struct {
	MaxSize int           // contexts kept, 50 when zero
	MaxAge  time.Duration // since creation, 1h when zero
	MaxIdle time.Duration // since last release, 5m when zero
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxSize == 0 {
		c.MaxSize = 50
	}
	if c.MaxAge == 0 {
		c.MaxAge = time.Hour
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 5 * time.Minute
	}
	return c
}

// Context is reusable digest state for one hash and signature algorithm.
// It belongs to one operation between Acquire and Release.
type Context struct {
	ID        string
	Hash      common.HashAlgorithm
	Algorithm common.SignatureAlgorithm

	h       hash.Hash
	scratch []byte
	created time.Time
	used    time.Time
	uses    int
	inUse   bool
	pooled  bool
}

// Sum digests data with the context's hash. The result shares the
// context's scratch buffer and is zeroed by Release.
func (c *Context) Sum(data []byte) []byte {
	c.h.Reset()
	c.h.Write(data)
	return c.h.Sum(c.scratch[:0])
}

// Uses is how often the context was handed out.
func (c *Context) Uses() int {
	return c.uses
}

// Reset clears the digest state and zeroes the scratch buffer so nothing
// of the previous operation survives.
func (c *Context) Reset() {
	c.h.Reset()
	clear(c.scratch[:cap(c.scratch)])
}

type poolKey struct {
	hash common.HashAlgorithm
	alg  common.SignatureAlgorithm
}

// PoolStats are counters of a ContextPool.
type PoolStats struct {
	Created     uint64  `json:"created"`
	Reused      uint64  `json:"reused"`
	Expired     uint64  `json:"expired"`
	CurrentSize int     `json:"current_size"`
	PeakSize    int     `json:"peak_size"`
	HitRate     float64 `json:"hit_rate"`
}

// ContextPool hands out Contexts keyed by algorithm pair. It is safe for
// concurrent use.
type ContextPool struct {
	cfg PoolConfig
	now func() time.Time
	seq atomic.Uint64

	mu       sync.Mutex
	contexts map[poolKey][]*Context
	size     int
	stats    PoolStats
}

var ErrUnknownHash = errors.New("batch: unsupported hash algorithm")

func NewContextPool(cfg PoolConfig) *ContextPool {
	return &ContextPool{
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		contexts: make(map[poolKey][]*Context),
	}
}

// Acquire returns an idle, unexpired context for the pair after resetting
// it, or a new one. New contexts are kept while the pool has room; beyond
// that they are discarded on Release.
func (p *ContextPool) Acquire(h common.HashAlgorithm, alg common.SignatureAlgorithm) (*Context, error) {
	if h == common.HashDefault {
		h = common.SHA256
	}
	if !h.Hash().Available() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHash, h)
	}
	key := poolKey{h, alg}
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range p.contexts[key] {
		if c.inUse || now.Sub(c.created) > p.cfg.MaxAge {
			continue
		}
		c.Reset()
		c.inUse = true
		c.used = now
		c.uses++
		p.stats.Reused++
		p.updateHitRate()
		return c, nil
	}

	c := &Context{
		ID:        fmt.Sprintf("%s/%s#%d", h, alg, p.seq.Add(1)),
		Hash:      h,
		Algorithm: alg,
		h:         h.Hash().New(),
		created:   now,
		used:      now,
		uses:      1,
		inUse:     true,
	}
	c.scratch = make([]byte, 0, c.h.Size())
	p.stats.Created++
	p.updateHitRate()
	if p.size < p.cfg.MaxSize {
		c.pooled = true
		p.contexts[key] = append(p.contexts[key], c)
		p.size++
		p.stats.CurrentSize = p.size
		p.stats.PeakSize = max(p.stats.PeakSize, p.size)
	}
	return c, nil
}

func (p *ContextPool) updateHitRate() {
	total := p.stats.Created + p.stats.Reused
	if total > 0 {
		p.stats.HitRate = float64(p.stats.Reused) / float64(total)
	}
}

// Release returns c to the pool. Its state is cleared right away.
func (p *ContextPool) Release(c *Context) {
	if c == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	c.Reset()
	c.inUse = false
	c.used = p.now()
}

// Cleanup evicts idle contexts that expired or sat unused too long and
// returns how many were removed.
func (p *ContextPool) Cleanup() int {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for key, list := range p.contexts {
		kept := list[:0]
		for _, c := range list {
			expired := now.Sub(c.created) > p.cfg.MaxAge
			idle := now.Sub(c.used) > p.cfg.MaxIdle
			if !c.inUse && (expired || idle) {
				c.Reset()
				c.pooled = false
				removed++
				if expired {
					p.stats.Expired++
				}
				continue
			}
			kept = append(kept, c)
		}
		clear(list[len(kept):])
		if len(kept) == 0 {
			delete(p.contexts, key)
		} else {
			p.contexts[key] = kept
		}
	}
	p.size -= removed
	p.stats.CurrentSize = p.size
	return removed
}

// Stats returns a snapshot of the counters.
func (p *ContextPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
