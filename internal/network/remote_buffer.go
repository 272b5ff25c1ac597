// Package network fetches byte ranges of remote resources over HTTP with
// bounded concurrency and retries.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Faultbox/vim-g3d/pkg/bfast"
)

// ErrAborted is returned to callers whose request was dropped by Abort.
var ErrAborted = errors.New("request aborted")

// TransportError is a definitive failure: the server answered with a
// status that retrying will not fix.
type TransportError struct {
	URL        string
	Label      string
	StatusCode int
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s of %s: %d %s", e.Label, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Config tunes a RemoteBuffer.
type Config struct {
	// MaxConcurrency is the initial cap on requests in flight. Every retry
	// lowers it by one, down to 1.
	MaxConcurrency int
	// RetryDelay is how long a failed request waits before requeueing.
	RetryDelay time.Duration
	// RequestTimeout bounds one attempt; 0 means no limit.
	RequestTimeout time.Duration
	// Verbose logs every request at debug level.
	Verbose bool
}

// DefaultConfig returns the default transport settings.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 10,
		RetryDelay:     2 * time.Second,
	}
}

// Option configures a RemoteBuffer.
type Option func(*RemoteBuffer)

// WithClient sets the HTTP client.
func WithClient(c *http.Client) Option {
	return func(b *RemoteBuffer) { b.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *RemoteBuffer) { b.log = l }
}

// RemoteBuffer serves range requests against one URL. Requests wait in a
// FIFO queue and are admitted while fewer than the concurrency cap are in
// flight.
type RemoteBuffer struct {
	url     string
	cfg     Config
	client  *http.Client
	log     *zap.Logger
	tracker *RequestTracker

	probe   singleflight.Group
	encoded *bool

	mu sync.Mutex
	// probeCtx scopes the encoding probe; Abort cancels and replaces it.
	probeCtx       context.Context
	stopProbe      context.CancelFunc
	queue          []*RetryRequest
	active         map[*RetryRequest]struct{}
	waiting        map[*RetryRequest]*time.Timer
	maxConcurrency int
}

// NewRemoteBuffer creates a buffer for url.
func NewRemoteBuffer(url string, cfg Config, opts ...Option) *RemoteBuffer {
	def := DefaultConfig()
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}

	b := &RemoteBuffer{
		url:            url,
		cfg:            cfg,
		client:         http.DefaultClient,
		log:            zap.NewNop(),
		active:         make(map[*RetryRequest]struct{}),
		waiting:        make(map[*RetryRequest]*time.Timer),
		maxConcurrency: cfg.MaxConcurrency,
	}
	b.probeCtx, b.stopProbe = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With(zap.String("url", url))

	trackerLog := zap.NewNop()
	if cfg.Verbose {
		trackerLog = b.log
	}
	b.tracker = NewRequestTracker(url, trackerLog)
	return b
}

// URL returns the resource URL.
func (b *RemoteBuffer) URL() string {
	return b.url
}

// Tracker returns the progress tracker. Its callback runs with the buffer
// locked and must not call back into the buffer.
func (b *RemoteBuffer) Tracker() *RequestTracker {
	return b.tracker
}

// MaxConcurrency returns the current concurrency cap.
func (b *RemoteBuffer) MaxConcurrency() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxConcurrency
}

// Encoded reports whether the server sends the resource with a
// Content-Encoding, in which case byte ranges cannot be requested. The
// HEAD probe runs once; concurrent callers share it. It reports false when
// ctx ends first.
func (b *RemoteBuffer) Encoded(ctx context.Context) bool {
	encoded, _ := b.encoding(ctx)
	return encoded
}

// encoding waits for the shared probe until ctx is done. The probe itself
// is bounded by RequestTimeout and Abort, not by any one caller.
func (b *RemoteBuffer) encoding(ctx context.Context) (bool, error) {
	b.mu.Lock()
	if b.encoded != nil {
		v := *b.encoded
		b.mu.Unlock()
		return v, nil
	}
	b.mu.Unlock()

	select {
	case res := <-b.probe.DoChan("encoding", b.probeEncoding):
		if res.Err != nil {
			return false, res.Err
		}
		return res.Val.(bool), nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (b *RemoteBuffer) probeEncoding() (any, error) {
	b.mu.Lock()
	if b.encoded != nil {
		v := *b.encoded
		b.mu.Unlock()
		return v, nil
	}
	parent := b.probeCtx
	b.mu.Unlock()

	ctx := parent
	if b.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, b.cfg.RequestTimeout)
		defer cancel()
	}

	encoded, err := b.requestEncoding(ctx)
	if err != nil {
		if parent.Err() != nil {
			return false, ErrAborted
		}
		// Not cached: the next request probes again.
		b.log.Warn("encoding probe failed", zap.Error(err))
		return false, nil
	}

	b.mu.Lock()
	b.encoded = &encoded
	b.mu.Unlock()
	return encoded, nil
}

func (b *RemoteBuffer) requestEncoding(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, b.url, nil)
	if err != nil {
		return false, err
	}
	// Asking explicitly keeps the transport from hiding the header.
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	b.log.Debug("requesting header")
	resp, err := b.client.Do(req)
	if err != nil {
		return false, err
	}
	resp.Body.Close()

	encoding := resp.Header.Get("Content-Encoding")
	encoded := encoding != "" && encoding != "identity"
	b.log.Debug("encoding probed", zap.String("encoding", encoding))
	if encoded {
		b.log.Info("content is encoded, downloading whole resource")
	}
	return encoded, nil
}

// Fetch implements bfast.Fetcher.
func (b *RemoteBuffer) Fetch(ctx context.Context, r *bfast.Range, label string) ([]byte, error) {
	return b.HTTP(ctx, r, label)
}

// HTTP fetches a byte range of the resource, or all of it when r is nil.
// It blocks until the request succeeds, fails definitively, is aborted or
// ctx is done. Network errors, 5xx responses and short bodies are retried.
func (b *RemoteBuffer) HTTP(ctx context.Context, r *bfast.Range, label string) ([]byte, error) {
	useRange := false
	if r != nil {
		encoded, err := b.encoding(ctx)
		if err != nil {
			return nil, err
		}
		useRange = !encoded
	}
	req := newRetryRequest(ctx, b.url, label)
	if useRange {
		req.rng = r
		req.msg = fmt.Sprintf("%s : [%d, %d] of %s", label, r.Start, r.End, b.url)
	}

	b.tracker.Start(label)
	b.enqueue(req)

	select {
	case res := <-req.done:
		if res.err != nil {
			return nil, res.err
		}
		if r != nil && !useRange {
			return cut(res.data, r)
		}
		return res.data, nil
	case <-ctx.Done():
		b.cancel(req)
		return nil, ctx.Err()
	}
}

// cut returns the range of a whole-resource download.
func cut(data []byte, r *bfast.Range) ([]byte, error) {
	if r.Start < 0 || r.End < r.Start || r.End > int64(len(data)) {
		return nil, fmt.Errorf("range [%d, %d) outside %d bytes", r.Start, r.End, len(data))
	}
	return data[r.Start:r.End], nil
}

// Abort cancels every request in flight and drops the queue. Their callers
// get ErrAborted; no completion is reported for them.
func (b *RemoteBuffer) Abort() {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.active) + len(b.queue) + len(b.waiting)
	b.stopProbe()
	b.probe.Forget("encoding")
	b.probeCtx, b.stopProbe = context.WithCancel(context.Background())

	// Waiting requests were already released from the tracker when their
	// attempt failed.
	for req := range b.active {
		req.abort()
		req.finish(nil, ErrAborted)
		b.tracker.Drop(req.label)
	}
	for _, req := range b.queue {
		req.finish(nil, ErrAborted)
		b.tracker.Drop(req.label)
	}
	for req, timer := range b.waiting {
		timer.Stop()
		req.finish(nil, ErrAborted)
	}
	clear(b.active)
	clear(b.waiting)
	b.queue = nil
	b.log.Debug("aborted", zap.Int("requests", n))
}

func (b *RemoteBuffer) enqueue(req *RetryRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if req.finished {
		return
	}
	b.queue = append(b.queue, req)
	b.next()
}

// next admits queued requests while there is room. Caller holds b.mu.
func (b *RemoteBuffer) next() {
	for len(b.queue) > 0 && len(b.active) < b.maxConcurrency {
		req := b.queue[0]
		b.queue = b.queue[1:]
		b.active[req] = struct{}{}
		req.attempts++

		ctx := req.ctx
		var cancel context.CancelFunc
		if b.cfg.RequestTimeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, b.cfg.RequestTimeout)
		} else {
			ctx, cancel = context.WithCancel(ctx)
		}
		req.cancel = cancel

		if b.cfg.Verbose {
			b.log.Debug("starting "+req.msg, zap.Int("attempt", req.attempts))
		}
		go b.send(ctx, cancel, req)
	}
}

// cancel drops a request whose caller has gone away.
func (b *RemoteBuffer) cancel(req *RetryRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if req.finished {
		return
	}
	req.abort()
	req.finish(nil, req.ctx.Err())
	delete(b.active, req)
	if timer, ok := b.waiting[req]; ok {
		timer.Stop()
		delete(b.waiting, req)
	} else {
		b.tracker.Fail(req.label)
	}
	for i, q := range b.queue {
		if q == req {
			b.queue = append(b.queue[:i], b.queue[i+1:]...)
			break
		}
	}
	b.next()
}

func (b *RemoteBuffer) send(ctx context.Context, cancel context.CancelFunc, req *RetryRequest) {
	defer cancel()
	data, err := req.do(ctx, b.client, b.tracker)

	var terr *TransportError
	switch {
	case err == nil:
		b.complete(req, data, nil)
	case errors.As(err, &terr):
		b.complete(req, nil, err)
	case req.ctx.Err() != nil:
		// Caller is gone; cancel has already cleaned up.
	default:
		b.retry(req, err)
	}
}

func (b *RemoteBuffer) complete(req *RetryRequest, data []byte, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if req.finished {
		return
	}
	delete(b.active, req)
	if err != nil {
		b.tracker.Fail(req.label)
		b.log.Warn("request failed", zap.String("label", req.label), zap.Error(err))
	} else {
		b.tracker.End(req.label)
	}
	req.finish(data, err)
	b.next()
}

func (b *RemoteBuffer) retry(req *RetryRequest, cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if req.finished {
		return
	}
	delete(b.active, req)
	b.tracker.Fail(req.label)
	b.maxConcurrency = max(1, b.maxConcurrency-1)
	b.log.Warn("request failed, retrying",
		zap.String("label", req.label),
		zap.Int("attempt", req.attempts),
		zap.Int("maxConcurrency", b.maxConcurrency),
		zap.Duration("delay", b.cfg.RetryDelay),
		zap.Error(cause))

	b.waiting[req] = time.AfterFunc(b.cfg.RetryDelay, func() {
		b.mu.Lock()
		delete(b.waiting, req)
		finished := req.finished
		if !finished {
			b.tracker.Start(req.label)
		}
		b.mu.Unlock()
		if finished {
			return
		}
		b.enqueue(req)
	})
	b.next()
}

// RetryRequest is one logical request, resent until it succeeds.
type RetryRequest struct {
	url   string
	rng   *bfast.Range
	label string
	msg   string
	ctx   context.Context

	attempts int
	cancel   context.CancelFunc
	finished bool
	// stopped silences progress reports once the request is finished or
	// aborted.
	stopped atomic.Bool
	done    chan result
}

type result struct {
	data []byte
	err  error
}

func newRetryRequest(ctx context.Context, url, label string) *RetryRequest {
	return &RetryRequest{
		url:    url,
		label:  label,
		msg:    label + " of " + url,
		ctx:    ctx,
		cancel: func() {},
		done:   make(chan result, 1),
	}
}

// RangeHeader returns the Range header value, or "" for a full download.
func (r *RetryRequest) RangeHeader() string {
	if r.rng == nil {
		return ""
	}
	return "bytes=" + strconv.FormatInt(r.rng.Start, 10) + "-" + strconv.FormatInt(r.rng.End-1, 10)
}

func (r *RetryRequest) abort() {
	r.stopped.Store(true)
	r.cancel()
}

// finish delivers the outcome once. Caller holds the buffer's lock.
func (r *RetryRequest) finish(data []byte, err error) {
	if r.finished {
		return
	}
	r.finished = true
	r.stopped.Store(true)
	r.done <- result{data: data, err: err}
}

func (r *RetryRequest) do(ctx context.Context, client *http.Client, tracker *RequestTracker) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, err
	}
	if h := r.RangeHeader(); h != "" {
		httpReq.Header.Set("Range", h)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("server error: %s", resp.Status)
	case resp.StatusCode >= 300:
		return nil, &TransportError{URL: r.url, Label: r.label, StatusCode: resp.StatusCode}
	}

	body := &progressReader{r: resp.Body, label: r.label, total: resp.ContentLength, tracker: tracker, stopped: &r.stopped}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if resp.ContentLength >= 0 && int64(len(data)) < resp.ContentLength {
		return nil, fmt.Errorf("short body: %d of %d bytes", len(data), resp.ContentLength)
	}

	if r.rng != nil {
		if resp.StatusCode == http.StatusOK {
			// Range ignored by the server.
			return cut(data, r.rng)
		}
		if int64(len(data)) < r.rng.Length() {
			return nil, fmt.Errorf("short body: %d of %d bytes", len(data), r.rng.Length())
		}
	}
	return data, nil
}

type progressReader struct {
	r       io.Reader
	label   string
	loaded  int64
	total   int64
	tracker *RequestTracker
	stopped *atomic.Bool
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.loaded += int64(n)
		p.tracker.report(p.label, p.loaded, p.total, p.stopped)
	}
	return n, err
}
