package inference

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrQueueFull is returned when the pool cannot accept more work
var ErrQueueFull = errors.New("inference queue full")

// ErrPoolClosed is returned for submissions after Shutdown
var ErrPoolClosed = errors.New("inference pool closed")

// Request is one queued generation call
type Request struct {
	ID       string
	Prompt   string
	Options  GenerateOptions
	Callback func(*Result) // Called when completed
	Context  context.Context
}

// Result holds the outcome of a queued request
type Result struct {
	Generation *Generation
	Latency    time.Duration
	Error      error
}

// Pool fans provider calls out over a fixed set of workers with a
// concurrency cap, so many containers can share one backend.
type Pool struct {
	provider  Provider
	workers   int
	queue     chan *Request
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	semaphore chan struct{} // Limits concurrent requests
	metrics   *PoolMetrics
	mu        sync.RWMutex // guards queue close
	closed    bool
}

// PoolMetrics tracks pool performance
type PoolMetrics struct {
	TotalRequests   int64
	CompletedOK     int64
	CompletedError  int64
	AverageLatency  time.Duration
	TotalLatency    time.Duration
	CurrentInflight int
	mu              sync.RWMutex
}

// PoolConfig holds pool configuration
type PoolConfig struct {
	Workers       int // Number of worker goroutines
	QueueSize     int // Size of request queue
	MaxConcurrent int // Maximum concurrent provider calls
}

// DefaultPoolConfig returns default pool configuration
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Workers:       runtime.NumCPU() * 2,
		QueueSize:     256,
		MaxConcurrent: 4,
	}
}

// NewPool creates a worker pool in front of provider
func NewPool(provider Provider, config *PoolConfig) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = config.Workers
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		provider:  provider,
		workers:   config.Workers,
		queue:     make(chan *Request, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		semaphore: make(chan struct{}, config.MaxConcurrent),
		metrics:   &PoolMetrics{},
	}

	for i := 0; i < pool.workers; i++ {
		pool.wg.Add(1)
		go pool.worker()
	}

	return pool
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case req, ok := <-p.queue:
			if !ok {
				return
			}
			p.processRequest(req)
		}
	}
}

func (p *Pool) processRequest(req *Request) {
	select {
	case p.semaphore <- struct{}{}:
		defer func() { <-p.semaphore }()
	case <-req.Context.Done():
		// Cancelled while waiting for a slot
		if req.Callback != nil {
			req.Callback(&Result{Error: req.Context.Err()})
		}
		return
	}

	p.metrics.mu.Lock()
	p.metrics.CurrentInflight++
	p.metrics.mu.Unlock()

	defer func() {
		p.metrics.mu.Lock()
		p.metrics.CurrentInflight--
		p.metrics.mu.Unlock()
	}()

	startTime := time.Now()
	gen, err := p.provider.Generate(req.Context, req.Prompt, req.Options)
	latency := time.Since(startTime)

	p.updateMetrics(latency, err == nil)

	if req.Callback != nil {
		req.Callback(&Result{Generation: gen, Latency: latency, Error: err})
	}
}

func (p *Pool) updateMetrics(latency time.Duration, success bool) {
	p.metrics.mu.Lock()
	defer p.metrics.mu.Unlock()

	p.metrics.TotalRequests++
	if success {
		p.metrics.CompletedOK++
	} else {
		p.metrics.CompletedError++
	}

	p.metrics.TotalLatency += latency
	p.metrics.AverageLatency = p.metrics.TotalLatency / time.Duration(p.metrics.TotalRequests)
}

// Submit enqueues a request without waiting for it
func (p *Pool) Submit(req *Request) error {
	if req.Context == nil {
		req.Context = p.ctx
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.queue <- req:
		return nil
	case <-req.Context.Done():
		return req.Context.Err()
	default:
		return providerError("submit", ErrQueueFull)
	}
}

// Generate submits a request and waits for the result, making the pool a Provider
func (p *Pool) Generate(ctx context.Context, prompt string, opts GenerateOptions) (*Generation, error) {
	resultChan := make(chan *Result, 1)

	req := &Request{
		Prompt:  prompt,
		Options: opts,
		Context: ctx,
		Callback: func(result *Result) {
			resultChan <- result
		},
	}

	if err := p.Submit(req); err != nil {
		return nil, err
	}

	select {
	case result := <-resultChan:
		return result.Generation, result.Error
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetMetrics returns current pool metrics
func (p *Pool) GetMetrics() PoolMetrics {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()

	return PoolMetrics{
		TotalRequests:   p.metrics.TotalRequests,
		CompletedOK:     p.metrics.CompletedOK,
		CompletedError:  p.metrics.CompletedError,
		AverageLatency:  p.metrics.AverageLatency,
		TotalLatency:    p.metrics.TotalLatency,
		CurrentInflight: p.metrics.CurrentInflight,
	}
}

// QueueLength returns the current queue length
func (p *Pool) QueueLength() int {
	return len(p.queue)
}

// Utilization is the fraction of concurrency slots in use, in [0,1]
func (p *Pool) Utilization() float64 {
	return float64(len(p.semaphore)) / float64(cap(p.semaphore))
}

// Shutdown stops accepting work and waits for queued requests to drain
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return fmt.Errorf("shutdown timeout exceeded")
	}
}
