package network

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/vim-g3d/pkg/bfast"
)

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i)
	}
	return data
}

func testConfig() Config {
	return Config{MaxConcurrency: 4, RetryDelay: 10 * time.Millisecond}
}

func serveBytes(data []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "data.bin", time.Time{}, bytes.NewReader(data))
	}
}

func TestHTTPRange(t *testing.T) {
	data := testData(256)
	var header atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			header.Store(r.Header.Get("Range"))
		}
		serveBytes(data)(w, r)
	}))
	defer srv.Close()

	b := NewRemoteBuffer(srv.URL, testConfig())
	got, err := b.HTTP(context.Background(), &bfast.Range{Start: 2, End: 6}, "span")
	require.NoError(t, err)
	assert.Equal(t, data[2:6], got)
	assert.Equal(t, "bytes=2-5", header.Load())

	p := b.Tracker().Progress()
	assert.Equal(t, 1, p.Done)
	assert.Equal(t, 0, p.Active)
	assert.Equal(t, int64(4), p.Loaded)
}

func TestHTTPWholeResource(t *testing.T) {
	data := testData(100)
	srv := httptest.NewServer(serveBytes(data))
	defer srv.Close()

	b := NewRemoteBuffer(srv.URL, testConfig())
	got, err := b.HTTP(context.Background(), nil, "all")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestRetryOnServerError(t *testing.T) {
	data := testData(64)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && calls.Add(1) <= 2 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		serveBytes(data)(w, r)
	}))
	defer srv.Close()

	b := NewRemoteBuffer(srv.URL, testConfig())
	got, err := b.HTTP(context.Background(), &bfast.Range{Start: 8, End: 16}, "retry")
	require.NoError(t, err)
	assert.Equal(t, data[8:16], got)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2, b.MaxConcurrency())
	assert.Equal(t, 2, b.Tracker().Progress().Failed)
}

func TestRetryFloor(t *testing.T) {
	data := testData(16)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && calls.Add(1) <= 5 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		serveBytes(data)(w, r)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.MaxConcurrency = 2
	b := NewRemoteBuffer(srv.URL, cfg)
	_, err := b.HTTP(context.Background(), &bfast.Range{Start: 0, End: 4}, "floor")
	require.NoError(t, err)
	assert.Equal(t, 1, b.MaxConcurrency())
}

func TestClientErrorIsDefinitive(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			calls.Add(1)
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	b := NewRemoteBuffer(srv.URL, testConfig())
	_, err := b.HTTP(context.Background(), &bfast.Range{Start: 0, End: 4}, "missing")

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusNotFound, terr.StatusCode)
	assert.Equal(t, "missing", terr.Label)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 4, b.MaxConcurrency())
}

func TestConcurrencyCap(t *testing.T) {
	data := testData(1024)
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			defer inFlight.Add(-1)
		}
		serveBytes(data)(w, r)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.MaxConcurrency = 3
	b := NewRemoteBuffer(srv.URL, cfg)

	var g errgroup.Group
	for i := range 12 {
		g.Go(func() error {
			start := int64(i * 8)
			got, err := b.HTTP(context.Background(), &bfast.Range{Start: start, End: start + 8}, "chunk")
			if err != nil {
				return err
			}
			if !bytes.Equal(got, data[start:start+8]) {
				return errors.New("unexpected chunk")
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Equal(t, 12, b.Tracker().Progress().Done)
}

func TestEncodedResourceDownloadsWhole(t *testing.T) {
	data := testData(128)
	var heads atomic.Int32
	var mu sync.Mutex
	var ranges []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			heads.Add(1)
			w.Header().Set("Content-Encoding", "gzip")
			return
		}
		mu.Lock()
		ranges = append(ranges, r.Header.Get("Range"))
		mu.Unlock()
		w.Write(data)
	}))
	defer srv.Close()

	b := NewRemoteBuffer(srv.URL, testConfig())
	var g errgroup.Group
	for i := range 4 {
		g.Go(func() error {
			start := int64(i * 10)
			got, err := b.HTTP(context.Background(), &bfast.Range{Start: start, End: start + 5}, "encoded")
			if err != nil {
				return err
			}
			if !bytes.Equal(got, data[start:start+5]) {
				return errors.New("unexpected range")
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.True(t, b.Encoded(context.Background()))
	assert.Equal(t, int32(1), heads.Load())
	assert.Equal(t, []string{"", "", "", ""}, ranges)
}

func TestServerIgnoringRange(t *testing.T) {
	data := testData(64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	}))
	defer srv.Close()

	b := NewRemoteBuffer(srv.URL, testConfig())
	got, err := b.HTTP(context.Background(), &bfast.Range{Start: 10, End: 20}, "ignored")
	require.NoError(t, err)
	assert.Equal(t, data[10:20], got)
}

func TestAbort(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			started <- struct{}{}
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig()
	cfg.MaxConcurrency = 2
	b := NewRemoteBuffer(srv.URL, cfg)

	var completed atomic.Int32
	b.Tracker().OnUpdate(func(p Progress) {
		completed.Store(int32(p.Done))
	})

	errs := make(chan error, 4)
	for i := range 4 {
		go func() {
			start := int64(i)
			_, err := b.HTTP(context.Background(), &bfast.Range{Start: start, End: start + 1}, "blocked")
			errs <- err
		}()
	}
	<-started
	<-started

	b.Abort()
	for range 4 {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrAborted)
		case <-time.After(5 * time.Second):
			t.Fatal("request not aborted")
		}
	}
	assert.Equal(t, int32(0), completed.Load())
	assert.Equal(t, 0, b.Tracker().Progress().Active)
}

func TestContextCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}
	}))
	defer srv.Close()
	defer close(release)

	b := NewRemoteBuffer(srv.URL, testConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := b.HTTP(ctx, &bfast.Range{Start: 0, End: 1}, "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRangeHeader(t *testing.T) {
	tests := []struct {
		name string
		rng  *bfast.Range
		want string
	}{
		{"whole", nil, ""},
		{"first byte", &bfast.Range{Start: 0, End: 1}, "bytes=0-0"},
		{"span", &bfast.Range{Start: 32, End: 96}, "bytes=32-95"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRetryRequest(context.Background(), "http://example.invalid", "x")
			r.rng = tt.rng
			assert.Equal(t, tt.want, r.RangeHeader())
		})
	}
}

func TestBFastOverHTTP(t *testing.T) {
	payload := []byte("hello, ranges")
	data, err := bfast.Marshal([]string{"greeting"}, [][]byte{payload})
	require.NoError(t, err)

	srv := httptest.NewServer(serveBytes(data))
	defer srv.Close()

	b := NewRemoteBuffer(srv.URL, testConfig())
	container := bfast.NewRemote(b, srv.URL)
	got, err := container.Span(context.Background(), "greeting", 7, 6)
	require.NoError(t, err)
	assert.Equal(t, "ranges", string(got))
}

// stalledHead answers GET with data and never answers HEAD.
func stalledHead(data []byte, heads *atomic.Int32, release chan struct{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			heads.Add(1)
			select {
			case <-release:
			case <-r.Context().Done():
			}
			return
		}
		serveBytes(data)(w, r)
	}
}

func TestEncodingProbeHonorsContext(t *testing.T) {
	var heads atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(stalledHead(testData(16), &heads, release))
	defer srv.Close()
	defer close(release)

	b := NewRemoteBuffer(srv.URL, testConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	errs := make(chan error, 1)
	go func() {
		_, err := b.HTTP(ctx, &bfast.Range{Start: 0, End: 4}, "header")
		errs <- err
	}()
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("request blocked on the encoding check past its deadline")
	}
	assert.Equal(t, 0, b.Tracker().Progress().Active)
	b.Abort()
}

func TestEncodingProbeTimeout(t *testing.T) {
	data := testData(32)
	var heads atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(stalledHead(data, &heads, release))
	defer srv.Close()
	defer close(release)

	cfg := testConfig()
	cfg.RequestTimeout = 100 * time.Millisecond
	b := NewRemoteBuffer(srv.URL, cfg)

	got, err := b.HTTP(context.Background(), &bfast.Range{Start: 4, End: 8}, "header")
	require.NoError(t, err)
	assert.Equal(t, data[4:8], got)
	assert.Equal(t, int32(1), heads.Load())
}

func TestAbortStopsEncodingProbe(t *testing.T) {
	var heads atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(stalledHead(testData(16), &heads, release))
	defer srv.Close()
	defer close(release)

	b := NewRemoteBuffer(srv.URL, testConfig())
	errs := make(chan error, 1)
	go func() {
		_, err := b.HTTP(context.Background(), &bfast.Range{Start: 0, End: 4}, "header")
		errs <- err
	}()
	require.Eventually(t, func() bool { return heads.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	b.Abort()
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrAborted)
	case <-time.After(5 * time.Second):
		t.Fatal("request not aborted during the encoding check")
	}
	assert.Equal(t, 0, b.Tracker().Progress().Active)
}

func TestProgressStopsWhenFinished(t *testing.T) {
	tr := NewRequestTracker("http://example.invalid/scene.vim", nil)
	var updates atomic.Int32
	tr.OnUpdate(func(Progress) { updates.Add(1) })

	req := newRetryRequest(context.Background(), "http://example.invalid/scene.vim", "body")
	body := &progressReader{
		r:       strings.NewReader("abcdef"),
		label:   "body",
		total:   6,
		tracker: tr,
		stopped: &req.stopped,
	}

	buf := make([]byte, 3)
	_, err := body.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, int32(1), updates.Load())

	req.abort()
	_, err = body.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, int32(1), updates.Load())
	assert.Equal(t, int64(3), tr.Progress().Loaded)
}

func TestTrackerDrop(t *testing.T) {
	tr := NewRequestTracker("http://example.invalid/scene.vim", nil)
	var updates int
	tr.Start("a")
	tr.Start("a")
	tr.OnUpdate(func(Progress) { updates++ })

	tr.Drop("a")
	p := tr.Progress()
	assert.Equal(t, 1, p.Active)
	assert.Equal(t, 0, p.Done)
	assert.Equal(t, 0, p.Failed)
	assert.Zero(t, updates)
}
