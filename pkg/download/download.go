package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/flanksource/commons/logger"
	"github.com/flanksource/toolchain/pkg/cache"
	tchttp "github.com/flanksource/toolchain/pkg/http"
	"github.com/flanksource/toolchain/pkg/utils"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxRedirects = 5
)

var (
	// ErrTooManyRedirects is returned when a redirect chain exceeds the bound
	ErrTooManyRedirects = errors.New("too many redirects")
	// ErrMissingLocation is returned for a redirect response without a Location header
	ErrMissingLocation = errors.New("redirect response has no Location header")
	// ErrStalled is returned when no data arrives within the inactivity timeout
	ErrStalled = errors.New("download stalled")
)

// Progress is emitted while an artifact streams to disk. Percent stays at or
// below 99; completion is reported by the caller once the artifact is checked.
type Progress struct {
	URL            string
	Downloaded     int64
	Total          int64 // -1 when the server did not send a length
	Percent        int
	BytesPerSecond float64
	ETA            time.Duration
}

// Result describes a finished download
type Result struct {
	Path      string
	Size      int64
	Cached    bool
	FinalURL  string
	Redirects int
}

// Option is a functional option for configuring downloads
type Option func(*config)

type config struct {
	timeout        time.Duration
	maxRedirects   int
	progress       func(Progress)
	updateInterval time.Duration
	transport      http.RoundTripper
}

// WithTimeout sets the connect, response header and inactivity timeout
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxRedirects sets how many redirects are followed before failing
func WithMaxRedirects(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.maxRedirects = n
		}
	}
}

// WithProgress registers a progress callback
func WithProgress(fn func(Progress)) Option {
	return func(c *config) {
		c.progress = fn
	}
}

// WithUpdateInterval throttles progress callbacks, default 100ms
func WithUpdateInterval(d time.Duration) Option {
	return func(c *config) {
		c.updateInterval = d
	}
}

// WithTransport replaces the HTTP transport
func WithTransport(rt http.RoundTripper) Option {
	return func(c *config) {
		c.transport = rt
	}
}

func newClient(cfg *config) *http.Client {
	transport := cfg.transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   cfg.timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   cfg.timeout,
			ResponseHeaderTimeout: cfg.timeout,
			IdleConnTimeout:       90 * time.Second,
		}
	}
	return &http.Client{
		Transport: transport,
		// redirects are followed by hand so the bound and a missing Location are reported distinctly
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// Download streams url to dest. If dest already exists nothing is fetched.
// Total transfer time is unbounded; only connecting, waiting for headers and
// gaps between reads are subject to the timeout.
func Download(ctx context.Context, url, dest string, opts ...Option) (*Result, error) {
	cfg := &config{
		timeout:        DefaultTimeout,
		maxRedirects:   DefaultMaxRedirects,
		updateInterval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cache.Exists(dest) {
		logger.V(3).Infof("Using existing download %s", utils.LogPath(dest))
		result := &Result{Path: dest, Cached: true, FinalURL: url}
		if info, err := os.Stat(dest); err == nil {
			result.Size = info.Size()
		}
		if cfg.progress != nil {
			cfg.progress(Progress{URL: url, Downloaded: result.Size, Total: result.Size, Percent: 99})
		}
		return result, nil
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	client := newClient(cfg)
	resp, finalURL, redirects, err := follow(ctx, client, url, cfg.maxRedirects)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dest, err)
	}

	watchdog := newIdleWatchdog(cfg.timeout, func() { cancel(ErrStalled) })
	defer watchdog.Stop()

	reader := &ProgressReader{
		Reader:    watchdog.Wrap(resp.Body),
		url:       url,
		total:     resp.ContentLength,
		callback:  cfg.progress,
		interval:  cfg.updateInterval,
		startTime: time.Now(),
	}

	written, copyErr := io.Copy(out, reader)
	closeErr := out.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(dest)
		if errors.Is(context.Cause(ctx), ErrStalled) {
			return nil, fmt.Errorf("%w: no data for %s from %s", ErrStalled, cfg.timeout, utils.ShortenURL(url))
		}
		return nil, fmt.Errorf("failed to download %s: %w", utils.ShortenURL(url), copyErr)
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		_ = os.Remove(dest)
		return nil, fmt.Errorf("short download from %s: got %d of %d bytes", utils.ShortenURL(url), written, resp.ContentLength)
	}

	reader.report(true)
	logger.V(2).Infof("Downloaded %s (%s) in %s", filepath.Base(dest), utils.FormatBytes(written),
		utils.FormatDuration(time.Since(reader.startTime)))

	return &Result{
		Path:      dest,
		Size:      written,
		FinalURL:  finalURL,
		Redirects: redirects,
	}, nil
}

// follow issues GET requests, re-issuing to each Location target, until a
// non-redirect response or the redirect bound is hit
func follow(ctx context.Context, client *http.Client, url string, maxRedirects int) (*http.Response, string, int, error) {
	current := url
	for redirects := 0; ; redirects++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return nil, current, redirects, fmt.Errorf("invalid download url %s: %w", current, err)
		}
		req.Header.Set("User-Agent", tchttp.UserAgent)

		resp, err := client.Do(req)
		if err != nil {
			return nil, current, redirects, fmt.Errorf("request to %s failed: %w", utils.ShortenURL(current), err)
		}

		if isRedirect(resp.StatusCode) {
			location := resp.Header.Get("Location")
			resp.Body.Close()
			if location == "" {
				return nil, current, redirects, fmt.Errorf("%w (%d from %s)", ErrMissingLocation, resp.StatusCode, utils.ShortenURL(current))
			}
			if redirects >= maxRedirects {
				return nil, current, redirects, fmt.Errorf("%w: more than %d redirects for %s", ErrTooManyRedirects, maxRedirects, utils.ShortenURL(url))
			}
			next, err := resp.Request.URL.Parse(location)
			if err != nil {
				return nil, current, redirects, fmt.Errorf("invalid redirect location %q: %w", location, err)
			}
			logger.V(4).Infof("Redirect: %s → %s", utils.ShortenURL(current), utils.ShortenURL(next.String()))
			current = next.String()
			continue
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, current, redirects, fmt.Errorf("download %s failed: %s", utils.ShortenURL(current), resp.Status)
		}
		return resp, current, redirects, nil
	}
}

// ProgressReader wraps an io.Reader and reports progress at most once per interval
type ProgressReader struct {
	io.Reader
	url        string
	total      int64
	current    int64
	callback   func(Progress)
	interval   time.Duration
	lastUpdate time.Time
	startTime  time.Time
}

func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	pr.current += int64(n)
	pr.report(false)
	return n, err
}

func (pr *ProgressReader) report(force bool) {
	if pr.callback == nil {
		return
	}
	now := time.Now()
	if !force && now.Sub(pr.lastUpdate) < pr.interval {
		return
	}
	pr.lastUpdate = now
	pr.callback(pr.snapshot(now))
}

func (pr *ProgressReader) snapshot(now time.Time) Progress {
	p := Progress{URL: pr.url, Downloaded: pr.current, Total: pr.total}
	if elapsed := now.Sub(pr.startTime).Seconds(); elapsed > 0 {
		p.BytesPerSecond = float64(pr.current) / elapsed
	}
	if pr.total > 0 {
		p.Percent = min(int(pr.current*100/pr.total), 99)
		if p.BytesPerSecond > 0 {
			remaining := pr.total - pr.current
			p.ETA = time.Duration(float64(remaining) / p.BytesPerSecond * float64(time.Second))
		}
	}
	return p
}

// idleWatchdog fires when reads through Wrap stop making progress for timeout
type idleWatchdog struct {
	mu      sync.Mutex
	timer   *time.Timer
	timeout time.Duration
}

func newIdleWatchdog(timeout time.Duration, fire func()) *idleWatchdog {
	return &idleWatchdog{timer: time.AfterFunc(timeout, fire), timeout: timeout}
}

func (w *idleWatchdog) Wrap(r io.Reader) io.Reader {
	return readerFunc(func(p []byte) (int, error) {
		n, err := r.Read(p)
		if n > 0 {
			w.mu.Lock()
			w.timer.Reset(w.timeout)
			w.mu.Unlock()
		}
		return n, err
	})
}

func (w *idleWatchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timer.Stop()
}

type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }
