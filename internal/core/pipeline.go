package core

// pipeline.go converts spreadsheet rows into Records with bounded latency.
//
// Small inputs are converted serially in chunks, yielding to the scheduler
// between chunks. Inputs at or above the parallel threshold are copied and
// handed to a worker pool; chunk results travel back over a channel and are
// reassembled by chunk index, so output order always equals input order.
//
// A run either completes with every record or fails with none.

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// DefaultChunkSize is the number of rows converted between progress reports.
const DefaultChunkSize = 100

// DefaultParallelThreshold is the row count at which conversion moves to
// the worker pool.
const DefaultParallelThreshold = 5000

// throughputWindow is the minimum wall time between throughput samples.
const throughputWindow = time.Second

// Pipeline runs import conversions. Only one run may be in flight per
// Pipeline; use one Pipeline per workspace.
type Pipeline struct {
	chunkSize int
	threshold int
	workers   int
	now       func() time.Time

	mu      sync.Mutex
	running bool
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithChunkSize sets the number of rows per chunk. Values <= 0 are ignored.
func WithChunkSize(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.chunkSize = n
		}
	}
}

// WithParallelThreshold sets the row count at which the parallel strategy
// is used. Values <= 0 are ignored.
func WithParallelThreshold(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.threshold = n
		}
	}
}

// WithWorkers sets the worker pool size of the parallel strategy.
// Values <= 0 are ignored.
func WithWorkers(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPipeline creates a Pipeline with the given options.
func NewPipeline(opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		chunkSize: DefaultChunkSize,
		threshold: DefaultParallelThreshold,
		workers:   runtime.GOMAXPROCS(0),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// StrategyFor returns the strategy a run over n rows would use.
func (p *Pipeline) StrategyFor(n int) Strategy {
	if n >= p.threshold {
		return StrategyParallel
	}
	return StrategySerial
}

// Running reports whether a run is in flight.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// ImportRun is a handle on an in-flight conversion.
type ImportRun struct {
	strategy Strategy
	total    int
	current  *atomic.Int64
	done     chan struct{}
	cancel   context.CancelFunc

	mu      sync.Mutex
	latest  ImportProgress
	records []Record
	err     error
}

// Strategy returns the strategy selected for this run.
func (r *ImportRun) Strategy() Strategy { return r.strategy }

// Total returns the number of input rows.
func (r *ImportRun) Total() int { return r.total }

// Current returns the number of rows converted so far.
func (r *ImportRun) Current() int { return int(r.current.Load()) }

// Progress returns the most recent progress report.
func (r *ImportRun) Progress() ImportProgress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest
}

// Done is closed when the run finishes, successfully or not.
func (r *ImportRun) Done() <-chan struct{} { return r.done }

// Cancel stops the run. Wait then returns an error wrapping ErrImportCancelled.
func (r *ImportRun) Cancel() { r.cancel() }

// Wait blocks until the run finishes and returns its records.
// On failure the record slice is nil.
func (r *ImportRun) Wait() ([]Record, error) {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records, r.err
}

// Start begins converting rows in the background and returns immediately.
// onProgress, if non-nil, is called from the run's goroutine at the start,
// after every chunk, and with Current == Total on completion.
//
// Returns ErrImportInFlight if this Pipeline already has a run in flight.
func (p *Pipeline) Start(ctx context.Context, rows [][]string, onProgress ProgressCallback) (*ImportRun, error) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil, ErrImportInFlight
	}
	p.running = true
	p.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	run := &ImportRun{
		strategy: p.StrategyFor(len(rows)),
		total:    len(rows),
		current:  atomic.NewInt64(0),
		done:     make(chan struct{}),
		cancel:   cancel,
	}

	go func() {
		records, err := p.execute(runCtx, run, rows, onProgress)
		if err != nil {
			records = nil
		}

		run.mu.Lock()
		run.records, run.err = records, err
		run.mu.Unlock()

		p.mu.Lock()
		p.running = false
		p.mu.Unlock()

		cancel()
		close(run.done)
	}()

	return run, nil
}

// Run converts rows and blocks until done. See Start.
func (p *Pipeline) Run(ctx context.Context, rows [][]string, onProgress ProgressCallback) ([]Record, error) {
	run, err := p.Start(ctx, rows, onProgress)
	if err != nil {
		return nil, err
	}
	return run.Wait()
}

// execute picks the strategy and wires progress reporting.
func (p *Pipeline) execute(ctx context.Context, run *ImportRun, rows [][]string, onProgress ProgressCallback) ([]Record, error) {
	// One date for the whole run, so a run crossing midnight stays consistent.
	now := p.now()
	meter := newThroughputMeter(p.now)

	report := func(current int) {
		run.current.Store(int64(current))
		prog := ImportProgress{Current: current, Total: run.total}
		prog.ThroughputPerSecond, prog.ETASeconds = meter.observe(current, run.total)

		run.mu.Lock()
		run.latest = prog
		run.mu.Unlock()

		if onProgress != nil {
			onProgress(prog)
		}
	}

	report(0)
	if len(rows) == 0 {
		return []Record{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImportCancelled, err)
	}

	if run.strategy == StrategyParallel {
		return p.runParallel(ctx, rows, now, report)
	}
	return p.runSerial(ctx, rows, now, report)
}

// runSerial converts chunk by chunk on the calling goroutine.
func (p *Pipeline) runSerial(ctx context.Context, rows [][]string, now time.Time, report func(int)) ([]Record, error) {
	out := make([]Record, 0, len(rows))

	for start := 0; start < len(rows); start += p.chunkSize {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrImportCancelled, err)
		}

		end := min(start+p.chunkSize, len(rows))
		chunk, err := decodeChunk(rows[start:end], start, now)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
		report(end)

		// Let other goroutines (progress streams, HTTP handlers) run.
		runtime.Gosched()
	}

	return out, nil
}

type chunkJob struct {
	index  int
	offset int
	rows   [][]string
}

type chunkResult struct {
	index   int
	records []Record
	err     error
}

// runParallel fans chunks out to a worker pool. Workers receive copies of
// their rows and return fresh records; only this goroutine touches the
// assembled output.
func (p *Pipeline) runParallel(ctx context.Context, rows [][]string, now time.Time, report func(int)) ([]Record, error) {
	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	numChunks := (len(rows) + p.chunkSize - 1) / p.chunkSize
	workers := min(p.workers, numChunks)

	jobs := make(chan chunkJob)
	results := make(chan chunkResult, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				recs, err := decodeChunk(job.rows, job.offset, now)
				select {
				case results <- chunkResult{index: job.index, records: recs, err: err}:
				case <-workCtx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := 0; i < numChunks; i++ {
			start := i * p.chunkSize
			end := min(start+p.chunkSize, len(rows))
			job := chunkJob{index: i, offset: start, rows: cloneRows(rows[start:end])}
			select {
			case jobs <- job:
			case <-workCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	chunks := make([][]Record, numChunks)
	converted := 0
	for res := range results {
		if res.err != nil {
			return nil, res.err
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrImportCancelled, err)
		}
		chunks[res.index] = res.records
		converted += len(res.records)
		report(converted)
	}

	if converted != len(rows) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrImportCancelled, err)
		}
		return nil, &ImportTransformError{Row: -1, Err: fmt.Errorf("converted %d of %d rows", converted, len(rows))}
	}

	out := make([]Record, 0, len(rows))
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out, nil
}

// decodeChunk converts rows[i] as input row offset+i. A panic is turned
// into an ImportTransformError for the offending row.
func decodeChunk(rows [][]string, offset int, now time.Time) (out []Record, err error) {
	row := offset
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &ImportTransformError{Row: row, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	out = make([]Record, len(rows))
	for i, cells := range rows {
		row = offset + i
		out[i] = DecodeRow(cells, row, now)
	}
	return out, nil
}

func cloneRows(rows [][]string) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}

// throughputMeter derives rows/second and ETA from progress samples taken at
// least throughputWindow apart.
type throughputMeter struct {
	now       func() time.Time
	last      time.Time
	lastCount int
	rate      *float64
	eta       *float64
}

func newThroughputMeter(now func() time.Time) *throughputMeter {
	return &throughputMeter{now: now, last: now()}
}

// observe records a progress sample and returns the current estimates.
// Both are nil until a full window has elapsed.
func (m *throughputMeter) observe(current, total int) (rate, eta *float64) {
	t := m.now()
	elapsed := t.Sub(m.last)
	if elapsed < throughputWindow {
		return m.rate, m.eta
	}

	r := float64(current-m.lastCount) / elapsed.Seconds()
	m.rate = &r
	if r > 0 {
		e := float64(total-current) / r
		m.eta = &e
	} else {
		m.eta = nil
	}

	m.last = t
	m.lastCount = current
	return m.rate, m.eta
}
