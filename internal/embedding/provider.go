package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMaxInputLength is the character budget per embedded text.
	DefaultMaxInputLength = 512

	// DefaultInitAttempts bounds model load attempts per load cycle.
	DefaultInitAttempts = 3

	// DefaultInitTimeout is the hard limit for a single load attempt.
	DefaultInitTimeout = 120 * time.Second

	// DefaultInitBackoff is the wait after the first failed attempt; it doubles afterwards.
	DefaultInitBackoff = 2 * time.Second

	// DefaultConcurrency bounds parallel requests in EmbedBatch.
	DefaultConcurrency = 4

	// DefaultBatchSize balances requests-per-minute vs tokens-per-minute rate limits
	// for models that accept several inputs per request.
	DefaultBatchSize = 100
)

// State is the lifecycle state of the underlying model.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config tunes a Provider. Zero values fall back to the defaults above.
type Config struct {
	MaxInputLength int
	InitAttempts   int
	InitTimeout    time.Duration
	InitBackoff    time.Duration
	Concurrency    int
	BatchSize      int
}

func (c *Config) applyDefaults() {
	if c.MaxInputLength <= 0 {
		c.MaxInputLength = DefaultMaxInputLength
	}
	if c.InitAttempts <= 0 {
		c.InitAttempts = DefaultInitAttempts
	}
	if c.InitTimeout <= 0 {
		c.InitTimeout = DefaultInitTimeout
	}
	if c.InitBackoff <= 0 {
		c.InitBackoff = DefaultInitBackoff
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
}

// Info describes the model behind a Provider.
type Info struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
}

// loadCycle is one run of the bounded retry loop. Waiters block on done.
type loadCycle struct {
	done chan struct{}
	err  error
}

// Provider owns the lifecycle of an embedding Model.
//
// The model is loaded on first use. Exactly one load cycle runs at a time and every
// concurrent caller waits for that cycle. A cycle makes up to InitAttempts attempts
// with doubling backoff, each bounded by InitTimeout. When a cycle fails the provider
// is StateFailed and the next call starts a new cycle.
type Provider struct {
	model  Model
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	dimension int
	lastErr   error
	cycle     *loadCycle
}

// NewProvider creates a Provider for model. A nil logger uses slog.Default().
func NewProvider(model Model, cfg Config, logger *slog.Logger) *Provider {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		model:  model,
		cfg:    cfg,
		logger: logger,
	}
}

// ModelName returns the name of the underlying model.
func (p *Provider) ModelName() string {
	return p.model.Name()
}

// Dimension returns the vector size, or 0 before the model is loaded.
func (p *Provider) Dimension() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dimension
}

// State returns the current lifecycle state.
func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Info returns a snapshot of the model status.
func (p *Provider) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()

	info := Info{
		Name:      p.model.Name(),
		Dimension: p.dimension,
		State:     p.state.String(),
	}
	if p.state == StateFailed && p.lastErr != nil {
		info.Error = p.lastErr.Error()
	}
	return info
}

// Warmup loads the model without embedding anything.
func (p *Provider) Warmup(ctx context.Context) error {
	return p.ensureLoaded(ctx)
}

// Embed returns the normalized vector for text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := p.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return p.embedOne(ctx, text)
}

// EmbedBatch embeds texts, in order.
//
// A text that fails to embed is replaced by a zero vector of the model dimension and
// the batch continues; callers treat zero vectors as unembedded. Only a model that
// cannot be loaded, or a cancelled ctx, fails the whole batch.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := p.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	if bm, ok := p.model.(BatchModel); ok {
		p.embedBatches(ctx, bm, texts, out)
	}

	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for i, text := range texts {
		if out[i] != nil {
			continue // Filled by a batch request
		}
		g.Go(func() error {
			vec, err := p.embedOne(gctx, text)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				p.logger.Warn("Embedding failed, using zero vector", "index", i, "error", err)
				failed.Add(1)
				vec = make([]float32, p.Dimension())
			}
			out[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}

	if n := failed.Load(); n > 0 {
		p.logger.Warn("Batch finished with unembedded items", "failed", n, "total", len(texts))
	}
	return out, nil
}

// embedBatches fills out using multi-input requests. Batches that fail are left nil
// so the caller retries their items one by one.
func (p *Provider) embedBatches(ctx context.Context, bm BatchModel, texts []string, out [][]float32) {
	dim := p.Dimension()

	for i := 0; i < len(texts); i += p.cfg.BatchSize {
		end := min(i+p.cfg.BatchSize, len(texts))

		batch := make([]string, end-i)
		for j := range batch {
			batch[j] = Preprocess(texts[i+j], p.cfg.MaxInputLength)
		}

		vecs, err := bm.EmbedMany(ctx, batch)
		if err == nil && len(vecs) != len(batch) {
			err = fmt.Errorf("model returned %d vectors for %d texts", len(vecs), len(batch))
		}
		if err != nil {
			p.logger.Warn("Batch embedding failed, falling back to single requests",
				"batch", fmt.Sprintf("%d-%d", i, end), "error", err)
			continue
		}

		for j, vec := range vecs {
			if len(vec) != dim {
				continue // Left nil, re-embedded singly
			}
			out[i+j] = Normalize(vec)
		}
	}
}

func (p *Provider) embedOne(ctx context.Context, text string) ([]float32, error) {
	vec, err := p.model.Embed(ctx, Preprocess(text, p.cfg.MaxInputLength))
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}

	if dim := p.Dimension(); len(vec) != dim {
		return nil, fmt.Errorf("%w: model returned %d dimensions, expected %d", ErrDimensionDrift, len(vec), dim)
	}
	return Normalize(vec), nil
}

// ensureLoaded returns once the model is ready, or with the error of the load cycle
// the caller waited on. The cycle runs detached from any single caller's ctx so a
// caller giving up does not fail the load for the others.
func (p *Provider) ensureLoaded(ctx context.Context) error {
	p.mu.Lock()
	if p.state == StateReady {
		p.mu.Unlock()
		return nil
	}

	cycle := p.cycle
	if p.state != StateLoading {
		cycle = &loadCycle{done: make(chan struct{})}
		p.cycle = cycle
		p.state = StateLoading
		go p.runCycle(context.WithoutCancel(ctx), cycle)
	}
	p.mu.Unlock()

	select {
	case <-cycle.done:
		return cycle.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Provider) runCycle(ctx context.Context, cycle *loadCycle) {
	dim, err := p.load(ctx)

	p.mu.Lock()
	if err != nil {
		p.state = StateFailed
		p.lastErr = err
	} else {
		p.state = StateReady
		p.dimension = dim
		p.lastErr = nil
	}
	cycle.err = err
	close(cycle.done)
	p.mu.Unlock()
}

// load runs the bounded retry loop.
func (p *Provider) load(ctx context.Context) (int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.InitBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = p.cfg.InitBackoff * 8
	b.MaxElapsedTime = 0 // Bounded by attempts, not time

	var (
		attempt int
		dim     int
	)
	operation := func() error {
		attempt++
		p.logger.Info("Loading embedding model",
			"model", p.model.Name(), "attempt", attempt, "max_attempts", p.cfg.InitAttempts)

		d, err := p.loadOnce(ctx)
		if err != nil {
			return err
		}
		dim = d
		return nil
	}
	notify := func(err error, wait time.Duration) {
		p.logger.Warn("Embedding model load failed, retrying",
			"model", p.model.Name(), "attempt", attempt, "wait", wait, "error", err)
	}

	policy := backoff.WithMaxRetries(b, uint64(p.cfg.InitAttempts-1))
	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		p.logger.Error("Embedding model unavailable", "model", p.model.Name(), "attempts", attempt, "error", err)
		return 0, fmt.Errorf("%w: %s after %d attempts: %v", ErrModelUnavailable, p.model.Name(), attempt, err)
	}

	p.logger.Info("Embedding model loaded", "model", p.model.Name(), "dimension", dim)
	return dim, nil
}

// loadOnce runs a single attempt under a hard timeout. A model that ignores ctx is
// abandoned when the timeout fires and its late result is discarded.
func (p *Provider) loadOnce(ctx context.Context) (int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.InitTimeout)
	defer cancel()

	type result struct {
		dim int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		d, err := p.model.Load(attemptCtx)
		ch <- result{dim: d, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return 0, r.err
		}
		if r.dim <= 0 {
			return 0, fmt.Errorf("model reported invalid dimension %d", r.dim)
		}
		return r.dim, nil
	case <-attemptCtx.Done():
		return 0, fmt.Errorf("load timed out after %s: %w", p.cfg.InitTimeout, attemptCtx.Err())
	}
}
