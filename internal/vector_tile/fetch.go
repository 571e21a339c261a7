package vector_tile

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Fetcher retrieves raw tile bytes. A nil slice with a nil error means the
// source has no tile at that address.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

type HTTPFetcher struct {
	client *http.Client
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return data, nil
}

// Load fetches and decodes a tile. Fetch and decode failures are logged and
// reported as a nil tile so that callers render nothing instead of failing.
func Load(ctx context.Context, fetcher Fetcher, url string, log *zap.Logger) *Tile {
	data, err := fetcher.Fetch(ctx, url)
	if err != nil {
		log.Debug("Tile fetch failed", zap.String("url", url), zap.Error(err))
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	v, err := Decode(data)
	if err != nil {
		log.Debug("Tile decode failed", zap.String("url", url), zap.Error(err))
		return &Tile{Layers: map[string]*Layer{}}
	}
	for _, s := range v.Skipped {
		log.Warn("Skipping feature with unknown geometry type",
			zap.String("url", url),
			zap.String("layer", s.Layer),
			zap.Uint64("id", s.ID),
			zap.Uint32("geom_type", s.GeometryType),
		)
	}
	return v.Snapshot()
}
