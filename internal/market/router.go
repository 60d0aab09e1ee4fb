package market

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"trigger-engine/internal/errs"
	"trigger-engine/internal/events"
	"trigger-engine/internal/monitor"
	exchange "trigger-engine/pkg/exchanges/common"

	"github.com/rs/zerolog/log"
)

// TickHandler receives every routed tick.
type TickHandler func(symbol string, price float64, at time.Time)

// PriceRecorder stores ticks for history.
type PriceRecorder interface {
	Record(symbol string, price float64, at time.Time)
}

var errStreamClosed = errors.New("price stream closed")

type subscription struct {
	refs   int
	stream *exchange.PriceStream
	gen    uint64
}

// Router owns the reference-counted set of symbol subscriptions. A symbol has
// an open stream while its count is above zero. Each stream is read by one
// goroutine, so ticks of a symbol are handled in arrival order.
type Router struct {
	mu      sync.Mutex
	subs    map[string]*subscription
	gen     uint64
	started bool
	baseCtx context.Context

	source   exchange.StreamSource
	handler  TickHandler
	onError  func(symbol string, err error)
	Bus      *events.Bus
	Recorder PriceRecorder
	Metrics  *monitor.Metrics
}

// NewRouter builds a router that forwards ticks to handler.
func NewRouter(source exchange.StreamSource, handler TickHandler) *Router {
	return &Router{
		subs:    make(map[string]*subscription),
		source:  source,
		handler: handler,
		baseCtx: context.Background(),
	}
}

// SetHandler replaces the tick handler. Call before Start.
func (r *Router) SetHandler(h TickHandler) { r.handler = h }

// OnStreamError registers the callback for streams that end unexpectedly or fail to open.
func (r *Router) OnStreamError(fn func(symbol string, err error)) { r.onError = fn }

// Subscribe takes a reference on symbol. Only the first reference opens a
// stream; later calls just count. Before Start, streams are opened by Start.
// A failed open keeps the reference so a reconnect can reopen it.
func (r *Router) Subscribe(ctx context.Context, symbol string) error {
	r.mu.Lock()
	if s, ok := r.subs[symbol]; ok {
		s.refs++
		r.mu.Unlock()
		return nil
	}
	r.subs[symbol] = &subscription{refs: 1}
	started := r.started
	n := len(r.subs)
	r.mu.Unlock()

	r.Metrics.Subscriptions(n)
	if !started {
		return nil
	}
	return r.open(symbol)
}

// Hold takes an extra reference on a symbol that is already subscribed and
// reports whether it did. It never opens a stream. Pair a true result with
// Release.
func (r *Router) Hold(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[symbol]
	if !ok {
		return false
	}
	s.refs++
	return true
}

// Release drops a reference; the last one closes the stream.
func (r *Router) Release(symbol string) {
	r.mu.Lock()
	s, ok := r.subs[symbol]
	if !ok {
		r.mu.Unlock()
		return
	}
	s.refs--
	if s.refs > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.subs, symbol)
	stream := s.stream
	n := len(r.subs)
	r.mu.Unlock()

	r.Metrics.Subscriptions(n)
	if stream != nil {
		stream.Stop()
	}
	log.Printf("router: unsubscribed %s", symbol)
}

// Refs returns the reference count for symbol.
func (r *Router) Refs(symbol string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.subs[symbol]; ok {
		return s.refs
	}
	return 0
}

// Symbols lists subscribed symbols.
func (r *Router) Symbols() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.subs))
	for sym := range r.subs {
		out = append(out, sym)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

// Open reports whether symbol currently has a live stream.
func (r *Router) Open(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[symbol]
	return ok && s.stream != nil
}

// Start opens streams for every symbol subscribed so far. Streams live until
// ctx is done or their last reference is released.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	r.baseCtx = ctx
	r.started = true
	r.mu.Unlock()

	var errList []error
	for _, sym := range r.Symbols() {
		if err := r.open(sym); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// Resubscribe replaces the stream of every tracked symbol. Streams that fail
// to open are reported through the returned error.
func (r *Router) Resubscribe(ctx context.Context) error {
	var errList []error
	for _, sym := range r.Symbols() {
		r.mu.Lock()
		s, ok := r.subs[sym]
		var old *exchange.PriceStream
		if ok {
			old = s.stream
			s.stream = nil
			r.gen++
			s.gen = r.gen
		}
		r.mu.Unlock()
		if !ok {
			continue
		}
		if old != nil {
			old.Stop()
		}
		if err := r.openQuiet(sym); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// Stop closes every stream without dropping references.
func (r *Router) Stop() {
	r.mu.Lock()
	var streams []*exchange.PriceStream
	for _, s := range r.subs {
		if s.stream != nil {
			streams = append(streams, s.stream)
			s.stream = nil
		}
		r.gen++
		s.gen = r.gen
	}
	r.started = false
	r.mu.Unlock()
	for _, st := range streams {
		st.Stop()
	}
}

func (r *Router) open(symbol string) error {
	err := r.openQuiet(symbol)
	if err != nil {
		r.reportError(symbol, err)
	}
	return err
}

func (r *Router) openQuiet(symbol string) error {
	r.mu.Lock()
	ctx := r.baseCtx
	r.mu.Unlock()

	stream, err := r.source.SubscribePriceStream(ctx, symbol)
	if err != nil {
		return &errs.StreamError{Symbol: symbol, Err: fmt.Errorf("open: %w", err)}
	}

	r.mu.Lock()
	s, ok := r.subs[symbol]
	if !ok || s.stream != nil {
		r.mu.Unlock()
		stream.Stop()
		return nil
	}
	r.gen++
	s.gen = r.gen
	s.stream = stream
	gen := s.gen
	r.mu.Unlock()

	go r.pump(symbol, stream, gen)
	log.Printf("router: streaming %s", symbol)
	return nil
}

func (r *Router) pump(symbol string, stream *exchange.PriceStream, gen uint64) {
	for ev := range stream.Events {
		r.dispatch(symbol, ev)
	}

	r.mu.Lock()
	s, ok := r.subs[symbol]
	current := ok && s.gen == gen
	if current {
		s.stream = nil
	}
	r.mu.Unlock()
	if !current {
		return
	}

	err := errStreamClosed
	select {
	case e, ok := <-stream.Errors:
		if ok && e != nil {
			err = e
		}
	default:
	}
	stream.Stop()
	r.reportError(symbol, &errs.StreamError{Symbol: symbol, Err: err})
}

func (r *Router) dispatch(symbol string, ev exchange.PriceEvent) {
	r.mu.Lock()
	_, subscribed := r.subs[symbol]
	r.mu.Unlock()
	if !subscribed {
		return
	}

	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}
	r.Metrics.Tick(symbol)
	if r.Bus != nil {
		r.Bus.Publish(events.EventPriceUpdate, events.PriceUpdate{Symbol: symbol, Price: ev.Price, At: at})
	}
	if r.Recorder != nil {
		r.Recorder.Record(symbol, ev.Price, at)
	}
	if r.handler != nil {
		r.handler(symbol, ev.Price, at)
	}
}

func (r *Router) reportError(symbol string, err error) {
	log.Warn().Err(err).Str("symbol", symbol).Msg("router: stream error")
	if r.Bus != nil {
		r.Bus.Publish(events.EventStreamError, events.StreamError{Symbol: symbol, Error: err.Error()})
	}
	if r.onError != nil {
		r.onError(symbol, err)
	}
}
