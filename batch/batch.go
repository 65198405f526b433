// Package batch runs sign, validate and hash operations in batches over a
// bounded worker pool.
package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/common"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/internal/pdf"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/resource"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/sign"
	"github.com/CodeMinds-Digital/dso-signtusk-sub012/verify"
)

var (
	ErrCleared       = errors.New("batch: operation removed from queue")
	ErrSkipped       = errors.New("batch: skipped after an earlier failure in the batch")
	ErrClosed        = errors.New("batch: processor closed")
	ErrInvalidConfig = errors.New("batch: invalid configuration")
)

// Config controls dispatch and parallelism.
type Config struct {
	MaxParallel       int
	MaxBatchSize      int
	MaxBatchWait      time.Duration
	UseContextPooling bool
	Pool              PoolConfig
	ContinueOnError   bool
}

// DefaultConfig returns GOMAXPROCS workers, batches of 100 dispatched
// after at most 5s, pooling on and failures isolated per operation.
func DefaultConfig() Config {
	return Config{
		MaxParallel:       runtime.GOMAXPROCS(0),
		MaxBatchSize:      100,
		MaxBatchWait:      5 * time.Second,
		UseContextPooling: true,
		ContinueOnError:   true,
	}
}

func (c Config) Validate() error {
	switch {
	case c.MaxParallel < 1:
		return fmt.Errorf("%w: max parallel must be at least 1, got %d", ErrInvalidConfig, c.MaxParallel)
	case c.MaxBatchSize < 1:
		return fmt.Errorf("%w: max batch size must be at least 1, got %d", ErrInvalidConfig, c.MaxBatchSize)
	case c.MaxBatchWait <= 0:
		return fmt.Errorf("%w: max batch wait must be positive, got %s", ErrInvalidConfig, c.MaxBatchWait)
	case c.Pool.MaxSize < 0 || c.Pool.MaxAge < 0 || c.Pool.MaxIdle < 0:
		return fmt.Errorf("%w: pool limits must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Kind is the type of an Operation.
type Kind int

const (
	Sign Kind = iota + 1
	Validate
	Hash
)

func (k Kind) String() string {
	switch k {
	case Sign:
		return "sign"
	case Validate:
		return "validate"
	case Hash:
		return "hash"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Operation is one unit of work. Each operation owns its document and
// credentials.
type Operation struct {
	Kind        Kind
	Document    []byte
	Credentials *sign.Credentials
	Options     *sign.Options
	Hash        common.HashAlgorithm
	Algorithm   common.SignatureAlgorithm
}

func SignOperation(doc []byte, creds *sign.Credentials, opts *sign.Options) Operation {
	return Operation{Kind: Sign, Document: doc, Credentials: creds, Options: opts}
}

func ValidateOperation(doc []byte) Operation {
	return Operation{Kind: Validate, Document: doc}
}

func HashOperation(data []byte, h common.HashAlgorithm) Operation {
	return Operation{Kind: Hash, Document: data, Hash: h}
}

// Result is the outcome of one operation. Exactly one Result is delivered
// per submitted operation.
type Result struct {
	Kind  Kind
	Batch uint64 // 0 when the operation never ran

	Signed     *sign.Result
	Validation []verify.Result
	Digest     []byte

	// Warnings are problems that did not fail the operation, including
	// resource cleanup failures.
	Warnings []error
	Err      error
}

func (r Result) Success() bool {
	return r.Err == nil
}

// Stats aggregates completed batches.
type Stats struct {
	Processed     uint64        `json:"processed"`
	Succeeded     uint64        `json:"succeeded"`
	Failed        uint64        `json:"failed"`
	Batches       uint64        `json:"batches"`
	AvgBatchSize  float64       `json:"average_batch_size"`
	AvgBatchTime  time.Duration `json:"average_processing_time"`
	PeakParallel  int           `json:"peak_parallel"`
	Pool          *PoolStats    `json:"pool,omitempty"`
	totalDuration time.Duration
}

type pending struct {
	op     Operation
	ch     chan Result
	queued time.Time
}

// Processor queues operations and dispatches them in batches. It is safe
// for concurrent use.
type Processor struct {
	cfg       Config
	signer    *sign.Signer
	validator *verify.Validator
	pool      *ContextPool
	logger    *slog.Logger

	mu       sync.Mutex
	queue    []*pending
	timer    *time.Timer
	closed   bool
	inflight map[uint64]chan struct{}
	batchSeq uint64

	// slots bounds running operations across all batches.
	slots  chan struct{}
	active atomic.Int32
	peak   atomic.Int32

	statsMu sync.Mutex
	stats   Stats
}

// Option configures a Processor.
type Option func(*Processor)

// WithSigner sets the signer used by sign operations.
func WithSigner(s *sign.Signer) Option {
	return func(p *Processor) {
		p.signer = s
	}
}

// WithValidator sets the validator used by validate operations.
func WithValidator(v *verify.Validator) Option {
	return func(p *Processor) {
		p.validator = v
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

func New(cfg Config, opts ...Option) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Processor{
		cfg:      cfg,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		inflight: make(map[uint64]chan struct{}),
		slots:    make(chan struct{}, cfg.MaxParallel),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.signer == nil {
		p.signer = sign.New(sign.WithLogger(p.logger))
	}
	if p.validator == nil {
		p.validator = verify.New(verify.WithLogger(p.logger))
	}
	if cfg.UseContextPooling {
		p.pool = NewContextPool(cfg.Pool)
	}
	return p, nil
}

// Submit queues op. The returned channel receives its Result once.
func (p *Processor) Submit(op Operation) <-chan Result {
	ch := make(chan Result, 1)
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		ch <- Result{Kind: op.Kind, Err: ErrClosed}
		close(ch)
		return ch
	}
	p.queue = append(p.queue, &pending{op: op, ch: ch, queued: time.Now()})
	switch {
	case len(p.queue) >= p.cfg.MaxBatchSize:
		p.dispatchLocked()
	case len(p.queue) == 1:
		p.armLocked(p.cfg.MaxBatchWait)
	}
	return ch
}

func (p *Processor) armLocked(d time.Duration) {
	if p.timer == nil {
		p.timer = time.AfterFunc(d, p.onTimer)
		return
	}
	p.timer.Reset(d)
}

func (p *Processor) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
	}
}

// onTimer dispatches the queue once its oldest operation waited
// MaxBatchWait. A timer that fires late for a queue that was already
// dispatched rearms for the new oldest operation.
func (p *Processor) onTimer() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 || p.closed {
		return
	}
	if wait := p.cfg.MaxBatchWait - time.Since(p.queue[0].queued); wait > 0 {
		p.armLocked(wait)
		return
	}
	p.dispatchLocked()
}

// dispatchLocked hands the queue to a new batch.
func (p *Processor) dispatchLocked() {
	if len(p.queue) == 0 {
		return
	}
	batch := p.queue
	p.queue = nil
	p.stopTimerLocked()
	p.batchSeq++
	id := p.batchSeq
	done := make(chan struct{})
	p.inflight[id] = done
	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.inflight, id)
			p.mu.Unlock()
			close(done)
		}()
		p.run(id, batch)
	}()
}

// Flush dispatches what is queued and waits for every batch dispatched so
// far. Only the wait is cancelled by ctx; running batches complete.
func (p *Processor) Flush(ctx context.Context) error {
	p.mu.Lock()
	p.dispatchLocked()
	waits := make([]chan struct{}, 0, len(p.inflight))
	for _, done := range p.inflight {
		waits = append(waits, done)
	}
	p.mu.Unlock()

	for _, done := range waits {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// ClearQueue drops the operations that were not dispatched yet. Their
// channels receive ErrCleared. Running batches are not affected.
func (p *Processor) ClearQueue() int {
	p.mu.Lock()
	dropped := p.queue
	p.queue = nil
	p.stopTimerLocked()
	p.mu.Unlock()

	for _, item := range dropped {
		item.ch <- Result{Kind: item.op.Kind, Err: ErrCleared}
		close(item.ch)
	}
	if len(dropped) > 0 {
		p.logger.Info("queue cleared", "op", "clear_queue", "size", len(dropped))
	}
	return len(dropped)
}

// Pending is the number of queued, not yet dispatched operations.
func (p *Processor) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Close flushes the queue, waits for running batches and rejects further
// submissions.
func (p *Processor) Close() error {
	err := p.Flush(context.Background())
	p.mu.Lock()
	p.closed = true
	p.stopTimerLocked()
	p.mu.Unlock()
	if p.pool != nil {
		p.pool.Cleanup()
	}
	return err
}

// Run submits ops as one batch and waits for all results, in order.
func (p *Processor) Run(ctx context.Context, ops []Operation) ([]Result, error) {
	chans := make([]<-chan Result, len(ops))
	for i, op := range ops {
		chans[i] = p.Submit(op)
	}
	if err := p.Flush(ctx); err != nil {
		return nil, err
	}
	results := make([]Result, len(ops))
	for i, ch := range chans {
		results[i] = <-ch
	}
	return results, nil
}

// Stats returns a snapshot of the aggregated statistics.
func (p *Processor) Stats() Stats {
	p.statsMu.Lock()
	s := p.stats
	p.statsMu.Unlock()
	if p.pool != nil {
		ps := p.pool.Stats()
		s.Pool = &ps
	}
	return s
}

// acquire takes one of the MaxParallel slots shared by all batches.
func (p *Processor) acquire() {
	p.slots <- struct{}{}
	n := p.active.Add(1)
	for {
		cur := p.peak.Load()
		if n <= cur || p.peak.CompareAndSwap(cur, n) {
			return
		}
	}
}

func (p *Processor) release() {
	p.active.Add(-1)
	<-p.slots
}

// run executes one batch and publishes the statistics once at the end.
// Operations of concurrent batches share the same MaxParallel slots.
func (p *Processor) run(id uint64, batch []*pending) {
	start := time.Now()
	results := make([]Result, len(batch))

	var (
		stopped atomic.Bool
		jobs    = make(chan int)
		wg      sync.WaitGroup
	)
	workers := min(p.cfg.MaxParallel, len(batch))
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if stopped.Load() {
					results[i] = Result{Kind: batch[i].op.Kind, Batch: id, Err: ErrSkipped}
					continue
				}
				p.acquire()
				if stopped.Load() {
					p.release()
					results[i] = Result{Kind: batch[i].op.Kind, Batch: id, Err: ErrSkipped}
					continue
				}
				res := p.execute(batch[i].op)
				p.release()
				res.Batch = id
				results[i] = res
				if res.Err != nil && !p.cfg.ContinueOnError {
					stopped.Store(true)
				}
			}
		}()
	}
	for i := range batch {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	elapsed := time.Since(start)
	var ok, failed uint64
	for _, r := range results {
		if r.Err == nil {
			ok++
		} else {
			failed++
		}
	}

	p.statsMu.Lock()
	s := &p.stats
	s.Processed += uint64(len(batch))
	s.Succeeded += ok
	s.Failed += failed
	s.Batches++
	s.AvgBatchSize = float64(s.Processed) / float64(s.Batches)
	s.totalDuration += elapsed
	s.AvgBatchTime = s.totalDuration / time.Duration(s.Batches)
	s.PeakParallel = int(p.peak.Load())
	p.statsMu.Unlock()

	p.logger.Info("batch processed", "op", "batch", "batch", id, "size", len(batch),
		"failed", failed, "duration", elapsed)

	for i, item := range batch {
		item.ch <- results[i]
		close(item.ch)
	}
}

// execute runs one operation inside its own resource scope.
func (p *Processor) execute(op Operation) (res Result) {
	res.Kind = op.Kind
	scope := resource.NewScope(p.logger)
	defer func() {
		if err := scope.Close(); err != nil {
			res.Warnings = append(res.Warnings, err)
			p.logger.Warn("resource cleanup failed", "op", op.Kind.String(), "error", err)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("batch: %s operation panicked: %v", op.Kind, r)
		}
	}()

	switch op.Kind {
	case Sign:
		if op.Credentials != nil && len(op.Credentials.Secret) > 0 {
			scope.RegisterSecureMemory(op.Credentials.Secret)
		}
		doc, err := pdf.Parse(op.Document)
		if err != nil {
			res.Err = err
			return res
		}
		signed, err := p.signer.Sign(context.Background(), doc, op.Credentials, op.Options)
		if err != nil {
			res.Err = err
			return res
		}
		res.Signed = signed
		res.Warnings = append(res.Warnings, signed.Warnings...)
	case Validate:
		doc, err := pdf.Parse(op.Document)
		if err != nil {
			res.Err = err
			return res
		}
		res.Validation, res.Err = p.validator.Validate(context.Background(), doc)
	case Hash:
		res.Digest, res.Err = p.hash(scope, op)
	default:
		res.Err = fmt.Errorf("batch: unknown operation kind %d", int(op.Kind))
	}
	return res
}

func (p *Processor) hash(scope *resource.Scope, op Operation) ([]byte, error) {
	h := op.Hash
	if h == common.HashDefault {
		h = common.SHA256
	}
	if p.pool == nil {
		if !h.Hash().Available() {
			return nil, fmt.Errorf("%w: %s", ErrUnknownHash, h)
		}
		hh := h.Hash().New()
		hh.Write(op.Document)
		return hh.Sum(nil), nil
	}
	c, err := p.pool.Acquire(h, op.Algorithm)
	if err != nil {
		return nil, err
	}
	scope.RegisterCryptoContext(c.ID, func() error {
		p.pool.Release(c)
		return nil
	})
	return bytes.Clone(c.Sum(op.Document)), nil
}
