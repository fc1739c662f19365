package dash

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"mediaindex/internal/models"
)

// resolveURL resolves ref against base. It works on strings: media
// templates carry "%0Nd" width formats that url.Parse would decode.
func resolveURL(base, ref string) string {
	if ref == "" {
		return base
	}
	if base == "" || hasScheme(ref) {
		return ref
	}
	if strings.HasPrefix(ref, "/") {
		b, err := url.Parse(base)
		if err != nil || b.Host == "" {
			return ref
		}
		if strings.HasPrefix(ref, "//") {
			return b.Scheme + ":" + ref
		}
		return b.Scheme + "://" + b.Host + ref
	}

	dir := base
	if i := strings.IndexAny(dir, "?#"); i >= 0 {
		dir = dir[:i]
	}
	dir = dir[:strings.LastIndex(dir, "/")+1]
	return dir + ref
}

func hasScheme(ref string) bool {
	i := strings.Index(ref, "://")
	return i > 0 && !strings.ContainsAny(ref[:i], "/?#$")
}

// parseByteRange parses a "first-last" byte range attribute.
func parseByteRange(s string) (*models.ByteRange, error) {
	if s == "" {
		return nil, nil
	}
	first, last, ok := strings.Cut(s, "-")
	if !ok {
		return nil, fmt.Errorf("invalid byte range %q", s)
	}
	start, err := strconv.ParseUint(strings.TrimSpace(first), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid byte range %q: %w", s, err)
	}
	end, err := strconv.ParseUint(strings.TrimSpace(last), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid byte range %q: %w", s, err)
	}
	if end < start {
		return nil, fmt.Errorf("invalid byte range %q: end before start", s)
	}
	return &models.ByteRange{Start: start, End: end}, nil
}
