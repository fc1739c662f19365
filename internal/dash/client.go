package dash

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	m "github.com/Eyevinn/dash-mpd/mpd"

	"mediaindex/internal/logger"
)

// maxRedirects bounds the redirects followed while fetching an MPD.
const maxRedirects = 5

// Client is the DASH client responsible for all communication with the origin server.
type Client struct {
	httpClient *http.Client
	logger     logger.Logger
	userAgent  string
}

// NewClient creates a new DASH client. Redirects are followed by hand so
// that the final MPD location is known.
func NewClient(log logger.Logger, userAgent string, headerTimeout time.Duration) *Client {
	if headerTimeout <= 0 {
		headerTimeout = 3 * time.Second
	}
	transport := &http.Transport{
		ResponseHeaderTimeout: headerTimeout,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:    log,
		userAgent: userAgent,
	}
}

// FetchedManifest is a downloaded and parsed MPD.
type FetchedManifest struct {
	MPD *m.MPD
	// URL is the location the MPD was served from, after redirects.
	URL        string
	ReceivedAt time.Time
	// ServerDate is the Date header of the response, when present.
	ServerDate *time.Time
}

// FetchManifest fetches the MPD at manifestURL and parses it.
func (c *Client) FetchManifest(ctx context.Context, manifestURL string) (*FetchedManifest, error) {
	c.logger.Debugf("Fetching MPD from URL: %s", manifestURL)

	finalURL := manifestURL
	var resp *http.Response
	for redirects := 0; ; redirects++ {
		var err error
		resp, err = c.get(ctx, finalURL)
		if err != nil {
			return nil, err
		}
		if !isRedirect(resp.StatusCode) {
			break
		}
		resp.Body.Close()
		if redirects == maxRedirects {
			return nil, fmt.Errorf("too many redirects fetching MPD from %s", manifestURL)
		}
		location, err := resp.Location()
		if err != nil {
			return nil, fmt.Errorf("redirect location error: %w", err)
		}
		finalURL = location.String()
		c.logger.Debugf("Redirected to: %s", finalURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &RequestError{URL: finalURL, Status: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read MPD response body: %w", err)
	}
	receivedAt := time.Now()

	mpd, err := m.ReadFromString(string(data))
	if err != nil {
		c.logger.Errorf("Failed to parse MPD from %s: %v", finalURL, err)
		return nil, fmt.Errorf("failed to parse MPD: %w", err)
	}

	out := &FetchedManifest{MPD: mpd, URL: finalURL, ReceivedAt: receivedAt}
	if date, err := http.ParseTime(resp.Header.Get("Date")); err == nil {
		out.ServerDate = &date
	}
	c.logger.Debugf("Successfully fetched and parsed MPD from %s", finalURL)
	return out, nil
}

func (c *Client) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create new request for MPD: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch MPD from %s: %w", target, err)
	}
	return resp, nil
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// HTTPClient returns the underlying http.Client instance.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}
