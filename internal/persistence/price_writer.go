// Package persistence batches price ticks into the history table.
package persistence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"trigger-engine/pkg/db"

	"github.com/rs/zerolog/log"
)

// PriceSink stores and trims price history.
type PriceSink interface {
	AddPrices(ctx context.Context, points []db.PricePoint) error
	PrunePrices(ctx context.Context, keep int) (int64, error)
}

// WriterMetrics provides statistics about batch operations.
type WriterMetrics struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	TotalPruned   uint64    `json:"total_pruned"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
}

// PriceWriter buffers ticks and writes them in batches so the feed path
// never waits on the database.
type PriceWriter struct {
	sink        PriceSink
	buffer      []db.PricePoint
	mu          sync.Mutex
	maxSize     int
	flushIntval time.Duration
	retention   int
	done        chan struct{}
	wg          sync.WaitGroup
	closeOnce   sync.Once

	writes, batches, errors, pruned uint64
	lastMu                          sync.Mutex
	lastSize                        int
	lastFlush                       time.Time
}

// NewPriceWriter starts a writer. maxSize triggers an early flush; interval
// is the background flush period; retention is the per-symbol row cap
// applied after each background flush (0 keeps everything).
func NewPriceWriter(sink PriceSink, maxSize int, interval time.Duration, retention int) *PriceWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	w := &PriceWriter{
		sink:        sink,
		buffer:      make([]db.PricePoint, 0, maxSize),
		maxSize:     maxSize,
		flushIntval: interval,
		retention:   retention,
		done:        make(chan struct{}),
	}

	w.wg.Add(1)
	go w.backgroundFlush()

	return w
}

// Record buffers one tick.
func (w *PriceWriter) Record(symbol string, price float64, at time.Time) {
	w.mu.Lock()
	w.buffer = append(w.buffer, db.PricePoint{Symbol: symbol, Price: price, ObservedAt: at})
	shouldFlush := len(w.buffer) >= w.maxSize
	w.mu.Unlock()

	if shouldFlush {
		go w.Flush(context.Background())
	}
}

// Flush writes everything buffered.
func (w *PriceWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return nil
	}
	points := w.buffer
	w.buffer = make([]db.PricePoint, 0, w.maxSize)
	w.mu.Unlock()

	atomic.AddUint64(&w.writes, uint64(len(points)))
	atomic.AddUint64(&w.batches, 1)
	w.lastMu.Lock()
	w.lastSize = len(points)
	w.lastFlush = time.Now()
	w.lastMu.Unlock()

	if err := w.sink.AddPrices(ctx, points); err != nil {
		atomic.AddUint64(&w.errors, 1)
		log.Printf("price writer: flush of %d ticks failed: %v", len(points), err)
		return err
	}
	return nil
}

func (w *PriceWriter) prune(ctx context.Context) {
	if w.retention <= 0 {
		return
	}
	n, err := w.sink.PrunePrices(ctx, w.retention)
	if err != nil {
		atomic.AddUint64(&w.errors, 1)
		log.Printf("price writer: prune failed: %v", err)
		return
	}
	atomic.AddUint64(&w.pruned, uint64(n))
}

func (w *PriceWriter) backgroundFlush() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.flushIntval)
	defer ticker.Stop()

	ctx := context.Background()
	for {
		select {
		case <-ticker.C:
			if err := w.Flush(ctx); err == nil {
				w.prune(ctx)
			}
		case <-w.done:
			if err := w.Flush(ctx); err != nil {
				log.Printf("price writer: final flush error: %v", err)
			}
			return
		}
	}
}

// Pending returns the number of buffered ticks.
func (w *PriceWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}

// Metrics returns batch statistics.
func (w *PriceWriter) Metrics() WriterMetrics {
	w.lastMu.Lock()
	defer w.lastMu.Unlock()
	return WriterMetrics{
		TotalWrites:   atomic.LoadUint64(&w.writes),
		TotalBatches:  atomic.LoadUint64(&w.batches),
		TotalErrors:   atomic.LoadUint64(&w.errors),
		TotalPruned:   atomic.LoadUint64(&w.pruned),
		LastBatchSize: w.lastSize,
		LastFlushTime: w.lastFlush,
	}
}

// Close flushes and stops the background loop.
func (w *PriceWriter) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	w.wg.Wait()
	return nil
}
