package batch

import (
	"crypto/sha256"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/common"
)

func TestContextPoolReuse(t *testing.T) {
	p := NewContextPool(PoolConfig{})

	c1, err := p.Acquire(common.SHA256, common.ECDSAP256)
	require.NoError(t, err)
	sum := c1.Sum([]byte("hello"))
	want := sha256.Sum256([]byte("hello"))
	assert.Equal(t, want[:], sum)
	p.Release(c1)
	assert.Equal(t, make([]byte, len(sum)), sum, "release zeroes the digest")

	c2, err := p.Acquire(common.SHA256, common.ECDSAP256)
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Equal(t, 2, c2.Uses())

	// Different algorithm pair, different context.
	c3, err := p.Acquire(common.SHA256, common.RSAPKCS1v15)
	require.NoError(t, err)
	assert.NotSame(t, c2, c3)

	// In use contexts are not handed out twice.
	c4, err := p.Acquire(common.SHA256, common.ECDSAP256)
	require.NoError(t, err)
	assert.NotSame(t, c2, c4)

	stats := p.Stats()
	assert.Equal(t, uint64(3), stats.Created)
	assert.Equal(t, uint64(1), stats.Reused)
	assert.Equal(t, 3, stats.CurrentSize)
	assert.InDelta(t, 0.25, stats.HitRate, 1e-9)
}

func TestContextPoolDefaultHash(t *testing.T) {
	p := NewContextPool(PoolConfig{})
	c, err := p.Acquire(common.HashDefault, common.SignatureDefault)
	require.NoError(t, err)
	assert.Equal(t, common.SHA256, c.Hash)
}

func TestContextPoolMaxSize(t *testing.T) {
	p := NewContextPool(PoolConfig{MaxSize: 2})
	var held []*Context
	for range 4 {
		c, err := p.Acquire(common.SHA384, common.ECDSAP384)
		require.NoError(t, err)
		held = append(held, c)
	}
	assert.True(t, held[0].pooled)
	assert.True(t, held[1].pooled)
	assert.False(t, held[2].pooled)
	assert.False(t, held[3].pooled)

	stats := p.Stats()
	assert.Equal(t, 2, stats.CurrentSize)
	assert.Equal(t, 2, stats.PeakSize)
	assert.Equal(t, uint64(4), stats.Created)
}

func TestContextPoolCleanup(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	p := NewContextPool(PoolConfig{MaxAge: time.Hour, MaxIdle: 5 * time.Minute})
	p.now = func() time.Time { return now }

	idle, err := p.Acquire(common.SHA256, common.ECDSAP256)
	require.NoError(t, err)
	busy, err := p.Acquire(common.SHA512, common.RSAPSS)
	require.NoError(t, err)
	p.Release(idle)

	now = now.Add(10 * time.Minute)
	assert.Equal(t, 1, p.Cleanup(), "only the idle context is evicted")
	assert.Equal(t, 1, p.Stats().CurrentSize)
	assert.Equal(t, uint64(0), p.Stats().Expired)

	p.Release(busy)
	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, p.Cleanup())
	assert.Equal(t, uint64(1), p.Stats().Expired)
	assert.Equal(t, 0, p.Stats().CurrentSize)

	// Expired contexts are never handed out, even before Cleanup runs.
	fresh, err := p.Acquire(common.SHA256, common.ECDSAP256)
	require.NoError(t, err)
	p.Release(fresh)
	now = now.Add(2 * time.Hour)
	again, err := p.Acquire(common.SHA256, common.ECDSAP256)
	require.NoError(t, err)
	assert.NotSame(t, fresh, again)
}

func TestContextReset(t *testing.T) {
	p := NewContextPool(PoolConfig{})
	c, err := p.Acquire(common.SHA256, common.ECDSAP256)
	require.NoError(t, err)
	c.h.Write([]byte("partial"))
	c.Reset()
	want := sha256.Sum256(nil)
	assert.Equal(t, want[:], c.h.Sum(nil))
}
