package dash

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"mediaindex/internal/cache"
	"mediaindex/internal/index"
	"mediaindex/internal/logger"
	"mediaindex/internal/models"
)

// ErrNoIndexRange is returned when a SegmentBase does not locate its index
// segment.
var ErrNoIndexRange = errors.New("dash: SegmentBase without indexRange")

// RequestError is a request answered with an unexpected HTTP status.
type RequestError struct {
	URL    string
	Status int
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request to %s failed with status %d", e.URL, e.Status)
}

// StatusCode returns the HTTP status of the response.
func (e *RequestError) StatusCode() int {
	return e.Status
}

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	UserAgent  string
	MaxRetries int
	RetryDelay time.Duration
	// Timeout bounds each attempt.
	Timeout time.Duration
	// Cache, when set, keeps fetched resources.
	Cache *cache.ResourceCache
}

// Loader fetches media resources, or byte ranges of them, with retry logic.
type Loader struct {
	httpClient *http.Client
	logger     logger.Logger
	cfg        LoaderConfig
}

// NewLoader creates a new loader.
func NewLoader(client *http.Client, log logger.Logger, cfg LoaderConfig) *Loader {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Loader{httpClient: client, logger: log, cfg: cfg}
}

// FetchRange fetches rng of the resource at target, or all of it when rng
// is nil. Network errors and server errors are retried; other statuses are
// returned as a *RequestError.
func (l *Loader) FetchRange(ctx context.Context, target string, rng *models.ByteRange) ([]byte, error) {
	key := cache.Key(target, rng)
	if l.cfg.Cache != nil {
		if data, ok := l.cfg.Cache.Get(key); ok {
			return data, nil
		}
	}

	var lastErr error
	for attempt := 1; attempt <= l.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(l.cfg.RetryDelay):
			}
		}
		l.logger.Debugf("Fetching %s (Attempt %d/%d)", key, attempt, l.cfg.MaxRetries)
		data, retry, err := l.fetch(ctx, target, rng)
		if err == nil {
			if l.cfg.Cache != nil {
				l.cfg.Cache.Set(key, data)
			}
			return data, nil
		}
		if !retry {
			return nil, err
		}
		lastErr = err
		l.logger.Warnf("fetch attempt %d failed for %s: %v", attempt, key, err)
	}
	return nil, fmt.Errorf("failed to fetch %s after %d attempts: %w", key, l.cfg.MaxRetries, lastErr)
}

// fetch runs one attempt and reports whether a failure is worth retrying.
func (l *Loader) fetch(ctx context.Context, target string, rng *models.ByteRange) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request for %s: %w", target, err)
	}
	if l.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", l.cfg.UserAgent)
	}
	if rng != nil {
		req.Header.Set("Range", rng.Header())
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil || errors.Is(ctx.Err(), context.DeadlineExceeded), err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusPartialContent:
	case resp.StatusCode >= 500:
		return nil, true, &RequestError{URL: target, Status: resp.StatusCode}
	default:
		return nil, false, &RequestError{URL: target, Status: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("reading body of %s: %w", target, err)
	}
	if rng != nil && resp.StatusCode == http.StatusOK {
		// The server ignored the Range header.
		if uint64(len(data)) <= rng.End {
			return nil, false, fmt.Errorf("%s: body of %d bytes does not contain %s", target, len(data), rng.Header())
		}
		data = data[rng.Start : rng.End+1]
	}
	return data, false, nil
}

// InitializeBase loads the index segment of x and initializes it. It does
// nothing when x is already initialized.
func (l *Loader) InitializeBase(ctx context.Context, x *index.BaseIndex) error {
	if x.IsInitialized() {
		return nil
	}
	rng, ok := x.IndexRange()
	if !ok {
		return ErrNoIndexRange
	}
	data, err := l.FetchRange(ctx, x.MediaURL(), &rng)
	if err != nil {
		return fmt.Errorf("loading index segment: %w", err)
	}
	segs, err := ParseSidx(data, rng.Start)
	if err != nil {
		return err
	}
	x.Initialize(segs)
	l.logger.Debugf("Initialized index of %s with %d segments", x.MediaURL(), len(segs))
	return nil
}
