package notify

import (
	"sync"
	"sync/atomic"
	"time"

	logpkg "github.com/rzbill/kvdb/pkg/log"
)

const (
	defaultBuffer = 1024
	// maxPending bounds how many sends are coalesced before a forced flush.
	maxPending    = 64
	closeWait     = 2 * time.Second
)

// Options tunes a single subscription. Zero values take the registry's
// defaults.
type Options struct {
	// Filter is an optional CEL expression over key, value, has_value, op,
	// ts_ms and now_ms.
	Filter string
	// Buffer is the outbound queue capacity.
	Buffer int
	// FlushWindow batches sends up to this duration before flushing.
	FlushWindow time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l logpkg.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithDefaults sets the queue capacity and flush window used when a
// subscription leaves them unset.
func WithDefaults(buffer int, flushWindow time.Duration) Option {
	return func(r *Registry) {
		if buffer > 0 {
			r.buffer = buffer
		}
		r.flushWindow = flushWindow
	}
}

// Registry tracks live subscribers and fans events out to them. Broadcast
// never blocks on a subscriber: each one owns a bounded queue drained by its
// own writer goroutine, and a subscriber whose queue is full or whose sink
// fails is dropped.
type Registry struct {
	logger      logpkg.Logger
	buffer      int
	flushWindow time.Duration

	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool

	broadcasts atomic.Int64
	delivered  atomic.Int64
	filtered   atomic.Int64
	dropped    atomic.Int64
	encodeErrs atomic.Int64
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		logger: logpkg.NewNop(),
		buffer: defaultBuffer,
		subs:   map[string]*Subscription{},
	}
	for _, o := range opts {
		o(r)
	}
	r.logger = r.logger.WithComponent("notify")
	return r
}

// Subscription is one registered sink.
type Subscription struct {
	id     string
	sink   Sink
	filter celFilter
	out    chan []byte
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
	reason atomic.Value // error
}

// ID returns the subscriber id.
func (s *Subscription) ID() string { return s.id }

// Done is closed once the writer goroutine has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns why the subscription ended, or nil while it is live or after
// a plain unregister.
func (s *Subscription) Err() error {
	if v, ok := s.reason.Load().(error); ok {
		return v
	}
	return nil
}

func (s *Subscription) stop(reason error) {
	s.once.Do(func() {
		if reason != nil {
			s.reason.Store(reason)
		}
		close(s.quit)
	})
}

// Register binds sink to id and starts its writer. An existing subscriber
// with the same id is replaced and stopped.
func (r *Registry) Register(id string, sink Sink, opts Options) (*Subscription, error) {
	filter, err := newCELFilter(opts.Filter)
	if err != nil {
		return nil, err
	}
	buf := opts.Buffer
	if buf <= 0 {
		buf = r.buffer
	}
	window := opts.FlushWindow
	if window <= 0 {
		window = r.flushWindow
	}
	sub := &Subscription{
		id:     id,
		sink:   sink,
		filter: filter,
		out:    make(chan []byte, buf),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	prev := r.subs[id]
	r.subs[id] = sub
	r.mu.Unlock()

	if prev != nil {
		prev.stop(nil)
	}
	go r.writer(sub, window)
	r.logger.Debug("subscriber registered",
		logpkg.Str(logpkg.SubscriberIDKey, id),
		logpkg.Int("buffer", buf),
		logpkg.Bool("filtered", filter.enabled))
	return sub, nil
}

// Unregister removes id. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	sub := r.subs[id]
	delete(r.subs, id)
	r.mu.Unlock()
	if sub != nil {
		sub.stop(nil)
		r.logger.Debug("subscriber unregistered", logpkg.Str(logpkg.SubscriberIDKey, id))
	}
}

// Count returns the number of live subscribers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Broadcast encodes ev once and queues it for every subscriber whose filter
// matches. Subscribers with a full queue are dropped.
func (r *Registry) Broadcast(ev Event) {
	r.broadcasts.Add(1)
	r.mu.RLock()
	if len(r.subs) == 0 {
		r.mu.RUnlock()
		return
	}
	payload, err := ev.Encode()
	if err != nil {
		r.mu.RUnlock()
		r.encodeErrs.Add(1)
		r.logger.Error("encode event", logpkg.Str("key", ev.Key), logpkg.Err(err))
		return
	}
	var full []*Subscription
	for _, sub := range r.subs {
		if !sub.filter.Eval(ev) {
			r.filtered.Add(1)
			continue
		}
		select {
		case sub.out <- payload:
		default:
			full = append(full, sub)
		}
	}
	r.mu.RUnlock()

	for _, sub := range full {
		r.drop(sub, ErrQueueFull)
	}
}

// drop removes sub if it is still the registered subscriber for its id.
func (r *Registry) drop(sub *Subscription, cause error) {
	r.mu.Lock()
	if r.subs[sub.id] == sub {
		delete(r.subs, sub.id)
	}
	r.mu.Unlock()
	fault := &NotificationFault{SubscriberID: sub.id, Err: cause}
	sub.stop(fault)
	r.dropped.Add(1)
	r.logger.Warn("subscriber dropped", logpkg.Str(logpkg.SubscriberIDKey, sub.id), logpkg.Err(fault))
}

// writer drains one subscriber's queue into its sink, coalescing flushes
// within the flush window.
func (r *Registry) writer(sub *Subscription, window time.Duration) {
	defer close(sub.done)
	pending := 0
	var timer *time.Timer
	var tick <-chan time.Time
	if window > 0 {
		timer = time.NewTimer(window)
		defer timer.Stop()
		tick = timer.C
	}
	flush := func() bool {
		if pending == 0 {
			return true
		}
		pending = 0
		if err := sub.sink.Flush(); err != nil {
			r.drop(sub, err)
			return false
		}
		return true
	}
	resetTimer := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(window)
	}
	for {
		select {
		case payload := <-sub.out:
			if err := sub.sink.Send(payload); err != nil {
				r.drop(sub, err)
				return
			}
			r.delivered.Add(1)
			pending++
			if window == 0 || pending >= maxPending {
				if !flush() {
					return
				}
				resetTimer()
			}
		case <-tick:
			if !flush() {
				return
			}
			timer.Reset(window)
		case <-sub.sink.Context().Done():
			r.mu.Lock()
			if r.subs[sub.id] == sub {
				delete(r.subs, sub.id)
			}
			r.mu.Unlock()
			sub.stop(nil)
			return
		case <-sub.quit:
			flush()
			return
		}
	}
}

// Stats reports fan-out counters.
func (r *Registry) Stats() map[string]any {
	return map[string]any{
		"subscribers":   r.Count(),
		"broadcasts":    r.broadcasts.Load(),
		"delivered":     r.delivered.Load(),
		"filtered":      r.filtered.Load(),
		"dropped":       r.dropped.Load(),
		"encode_errors": r.encodeErrs.Load(),
	}
}

// Close stops every subscriber and rejects further registrations. It waits
// up to closeWait for writers blocked in a sink to exit.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	subs := r.subs
	r.subs = map[string]*Subscription{}
	r.mu.Unlock()
	for _, sub := range subs {
		sub.stop(nil)
	}
	deadline := time.NewTimer(closeWait)
	defer deadline.Stop()
	for _, sub := range subs {
		select {
		case <-sub.done:
		case <-deadline.C:
			r.logger.Warn("subscriber writers still running at close", logpkg.Int("subscribers", len(subs)))
			return
		}
	}
}
