package batch_test

import (
	"context"
	"crypto"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/batch"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/common"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/internal/testpki"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/sign"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/verify"
)

func newProcessor(t *testing.T, mutate func(*batch.Config), opts ...batch.Option) *batch.Processor {
	t.Helper()
	cfg := batch.DefaultConfig()
	cfg.MaxBatchWait = time.Hour
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := batch.New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, batch.DefaultConfig().Validate())

	for name, mutate := range map[string]func(*batch.Config){
		"parallel": func(c *batch.Config) { c.MaxParallel = 0 },
		"size":     func(c *batch.Config) { c.MaxBatchSize = 0 },
		"wait":     func(c *batch.Config) { c.MaxBatchWait = 0 },
		"pool":     func(c *batch.Config) { c.Pool.MaxSize = -1 },
	} {
		cfg := batch.DefaultConfig()
		mutate(&cfg)
		_, err := batch.New(cfg)
		assert.ErrorIs(t, err, batch.ErrInvalidConfig, name)
	}
}

func TestHashBatchesBySize(t *testing.T) {
	p := newProcessor(t, func(c *batch.Config) {
		c.MaxBatchSize = 10
		c.MaxParallel = 4
	})

	var chans []<-chan batch.Result
	var inputs [][]byte
	for i := range 25 {
		data := []byte(fmt.Sprintf("document %d", i))
		inputs = append(inputs, data)
		chans = append(chans, p.Submit(batch.HashOperation(data, common.SHA256)))
	}
	// Two full batches went out on their own; the rest waits for Flush.
	assert.Equal(t, 5, p.Pending())
	require.NoError(t, p.Flush(context.Background()))

	for i, ch := range chans {
		res := <-ch
		require.NoError(t, res.Err)
		want := sha256.Sum256(inputs[i])
		assert.Equal(t, want[:], res.Digest, "operation %d", i)
		assert.NotZero(t, res.Batch)
	}

	stats := p.Stats()
	assert.Equal(t, uint64(25), stats.Processed)
	assert.Equal(t, uint64(25), stats.Succeeded)
	assert.GreaterOrEqual(t, stats.Batches, uint64(3))
	assert.LessOrEqual(t, stats.AvgBatchSize, 10.0)
	assert.LessOrEqual(t, stats.PeakParallel, 4)
	assert.GreaterOrEqual(t, stats.PeakParallel, 1)
	require.NotNil(t, stats.Pool)
	assert.Equal(t, stats.Pool.Created+stats.Pool.Reused, uint64(25))
}

func TestDispatchAfterWait(t *testing.T) {
	p := newProcessor(t, func(c *batch.Config) {
		c.MaxBatchWait = 20 * time.Millisecond
	})

	ch := p.Submit(batch.HashOperation([]byte("late"), common.SHA512))
	select {
	case res := <-ch:
		require.NoError(t, res.Err)
		want := sha512.Sum512([]byte("late"))
		assert.Equal(t, want[:], res.Digest)
	case <-time.After(5 * time.Second):
		t.Fatal("queued operation was not dispatched after the wait time")
	}
}

func TestClearQueue(t *testing.T) {
	p := newProcessor(t, nil)

	var chans []<-chan batch.Result
	for range 3 {
		chans = append(chans, p.Submit(batch.HashOperation([]byte("x"), common.SHA256)))
	}
	assert.Equal(t, 3, p.ClearQueue())
	assert.Equal(t, 0, p.ClearQueue())
	for _, ch := range chans {
		assert.ErrorIs(t, (<-ch).Err, batch.ErrCleared)
	}
	assert.Equal(t, uint64(0), p.Stats().Processed)
}

func TestContinueOnError(t *testing.T) {
	ops := []batch.Operation{
		batch.HashOperation([]byte("a"), common.SHA256),
		batch.ValidateOperation([]byte("not a pdf")),
		batch.HashOperation([]byte("b"), common.SHA256),
		batch.HashOperation([]byte("c"), common.SHA256),
	}

	t.Run("continue", func(t *testing.T) {
		p := newProcessor(t, func(c *batch.Config) { c.MaxParallel = 1 })
		results, err := p.Run(context.Background(), ops)
		require.NoError(t, err)
		require.Len(t, results, 4)
		assert.NoError(t, results[0].Err)
		var parseErr *common.DocumentParseError
		assert.ErrorAs(t, results[1].Err, &parseErr)
		assert.NoError(t, results[2].Err)
		assert.NoError(t, results[3].Err)
		assert.Equal(t, uint64(1), p.Stats().Failed)
	})

	t.Run("stop", func(t *testing.T) {
		p := newProcessor(t, func(c *batch.Config) {
			c.MaxParallel = 1
			c.ContinueOnError = false
		})
		results, err := p.Run(context.Background(), ops)
		require.NoError(t, err)
		require.Len(t, results, 4)
		assert.NoError(t, results[0].Err)
		assert.Error(t, results[1].Err)
		assert.ErrorIs(t, results[2].Err, batch.ErrSkipped)
		assert.ErrorIs(t, results[3].Err, batch.ErrSkipped)
	})
}

func TestSignAndValidate(t *testing.T) {
	pki := testpki.New(t)
	p := newProcessor(t, func(c *batch.Config) { c.MaxParallel = 3 },
		batch.WithValidator(verify.New(verify.WithTrustAnchors(pki.RootCert))))

	var ops []batch.Operation
	for i := range 6 {
		key, leaf := pki.IssueLeaf(fmt.Sprintf("Signer %d", i))
		creds := &sign.Credentials{Certificate: leaf, Signer: key, Chain: pki.Chain(), Secret: []byte{1, 2, 3}}
		ops = append(ops, batch.SignOperation(testpki.GeneratePDF(testpki.PDFOptions{Pages: 1 + i%3}), creds, &sign.Options{Reason: "Batch"}))
	}
	results, err := p.Run(context.Background(), ops)
	require.NoError(t, err)

	var validations []batch.Operation
	for i, res := range results {
		require.NoError(t, res.Err, "operation %d", i)
		require.NotNil(t, res.Signed)
		assert.Equal(t, []byte{0, 0, 0}, ops[i].Credentials.Secret, "key material is zeroed")
		validations = append(validations, batch.ValidateOperation(res.Signed.Data))
	}

	checked, err := p.Run(context.Background(), validations)
	require.NoError(t, err)
	for i, res := range checked {
		require.NoError(t, res.Err)
		require.Len(t, res.Validation, 1)
		assert.True(t, res.Validation[0].OK(), "document %d: %v", i, res.Validation[0].ErrorStrings())
		assert.Equal(t, fmt.Sprintf("Signer %d", i), res.Validation[0].SignerName)
	}
	assert.LessOrEqual(t, p.Stats().PeakParallel, 3)
}

// slowSigner counts how many Sign calls run at the same time.
type slowSigner struct {
	crypto.Signer
	active, peak *atomic.Int32
}

func (s slowSigner) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		cur := s.peak.Load()
		if n <= cur || s.peak.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(50 * time.Millisecond)
	return s.Signer.Sign(rand, digest, opts)
}

func TestParallelismAcrossBatches(t *testing.T) {
	pki := testpki.New(t)
	p := newProcessor(t, func(c *batch.Config) {
		c.MaxParallel = 2
		c.MaxBatchSize = 1
	})

	var active, peak atomic.Int32
	var chans []<-chan batch.Result
	for i := range 6 {
		key, leaf := pki.IssueLeaf(fmt.Sprintf("Signer %d", i))
		creds := &sign.Credentials{
			Certificate: leaf,
			Signer:      slowSigner{Signer: key, active: &active, peak: &peak},
			Chain:       pki.Chain(),
		}
		// Every submit fills a batch of one and dispatches it.
		chans = append(chans, p.Submit(batch.SignOperation(testpki.GeneratePDF(testpki.PDFOptions{}), creds, nil)))
	}
	require.NoError(t, p.Flush(context.Background()))
	for _, ch := range chans {
		res := <-ch
		require.NoError(t, res.Err)
	}

	assert.LessOrEqual(t, int(peak.Load()), 2, "concurrent Sign calls")
	stats := p.Stats()
	assert.Equal(t, uint64(6), stats.Batches)
	assert.LessOrEqual(t, stats.PeakParallel, 2)
	assert.GreaterOrEqual(t, stats.PeakParallel, int(peak.Load()))
}

func TestConcurrentSubmit(t *testing.T) {
	p := newProcessor(t, func(c *batch.Config) {
		c.MaxBatchSize = 7
		c.MaxParallel = 2
	})

	const n = 50
	var wg sync.WaitGroup
	results := make(chan batch.Result, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- <-p.Submit(batch.HashOperation([]byte{byte(i)}, common.SHA256))
		}()
	}
	// Flush repeatedly until every submitter got its result.
	go func() {
		for {
			time.Sleep(5 * time.Millisecond)
			_ = p.Flush(context.Background())
			if p.Stats().Processed == n {
				return
			}
		}
	}()
	wg.Wait()
	close(results)

	count := 0
	for res := range results {
		assert.NoError(t, res.Err)
		count++
	}
	assert.Equal(t, n, count)
	stats := p.Stats()
	assert.Equal(t, uint64(n), stats.Processed, "every operation ran exactly once")
	assert.LessOrEqual(t, stats.PeakParallel, 2)
}

func TestSubmitAfterClose(t *testing.T) {
	p, err := batch.New(batch.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, p.Close())
	res := <-p.Submit(batch.HashOperation(nil, common.SHA256))
	assert.True(t, errors.Is(res.Err, batch.ErrClosed))
}
