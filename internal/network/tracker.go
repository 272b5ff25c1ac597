package network

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Progress is a snapshot of the requests made for one URL.
type Progress struct {
	URL    string
	Loaded int64
	Total  int64
	// Active counts requests started and not yet ended or failed.
	Active int
	Done   int
	Failed int
}

// RequestTracker aggregates the progress of every request for a URL.
type RequestTracker struct {
	url string
	log *zap.Logger

	mu       sync.Mutex
	loaded   map[string]int64
	total    map[string]int64
	active   map[string]int
	done     int
	failed   int
	onUpdate func(Progress)
}

// NewRequestTracker creates a tracker for url.
func NewRequestTracker(url string, log *zap.Logger) *RequestTracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &RequestTracker{
		url:    url,
		log:    log,
		loaded: make(map[string]int64),
		total:  make(map[string]int64),
		active: make(map[string]int),
	}
}

// OnUpdate sets a callback invoked with a snapshot after every change.
// The callback runs on the goroutine that made the change.
func (t *RequestTracker) OnUpdate(fn func(Progress)) {
	t.mu.Lock()
	t.onUpdate = fn
	t.mu.Unlock()
}

// Start records a request for label.
func (t *RequestTracker) Start(label string) {
	t.change(func() {
		t.active[label]++
		t.loaded[label] = 0
	})
	t.log.Debug("request started", zap.String("url", t.url), zap.String("label", label))
}

// Update records bytes received for label.
func (t *RequestTracker) Update(label string, loaded, total int64) {
	t.change(func() { t.setLoaded(label, loaded, total) })
}

// report is Update for a request that may have been stopped. The flag is
// checked under the tracker lock so nothing is recorded after Drop.
func (t *RequestTracker) report(label string, loaded, total int64, stopped *atomic.Bool) {
	t.mu.Lock()
	if stopped.Load() {
		t.mu.Unlock()
		return
	}
	t.setLoaded(label, loaded, total)
	p := t.snapshot()
	cb := t.onUpdate
	t.mu.Unlock()
	if cb != nil {
		cb(p)
	}
}

func (t *RequestTracker) setLoaded(label string, loaded, total int64) {
	t.loaded[label] = loaded
	if total > 0 {
		t.total[label] = total
	}
}

// End records a completed request.
func (t *RequestTracker) End(label string) {
	t.change(func() {
		t.release(label)
		t.done++
	})
	t.log.Debug("request completed", zap.String("url", t.url), zap.String("label", label))
}

// Fail records a failed attempt. A retried request is started again.
func (t *RequestTracker) Fail(label string) {
	t.change(func() {
		t.release(label)
		t.failed++
	})
	t.log.Debug("request failed", zap.String("url", t.url), zap.String("label", label))
}

// Drop forgets an aborted request without counting it as done or failed.
// No update is reported.
func (t *RequestTracker) Drop(label string) {
	t.mu.Lock()
	t.release(label)
	t.mu.Unlock()
	t.log.Debug("request dropped", zap.String("url", t.url), zap.String("label", label))
}

func (t *RequestTracker) release(label string) {
	t.active[label]--
	if t.active[label] <= 0 {
		delete(t.active, label)
	}
}

// Progress returns the current snapshot.
func (t *RequestTracker) Progress() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot()
}

func (t *RequestTracker) snapshot() Progress {
	p := Progress{URL: t.url, Done: t.done, Failed: t.failed}
	for _, n := range t.loaded {
		p.Loaded += n
	}
	for _, n := range t.total {
		p.Total += n
	}
	for _, n := range t.active {
		p.Active += n
	}
	return p
}

func (t *RequestTracker) change(fn func()) {
	t.mu.Lock()
	fn()
	p := t.snapshot()
	cb := t.onUpdate
	t.mu.Unlock()
	if cb != nil {
		cb(p)
	}
}
