package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/maptile"
)

// DefaultUserAgent identifies tile requests.
const DefaultUserAgent = "offline-regions"

// Client wraps HTTP operations for tile servers.
//
// Example usage:
//
//	client := NewClient()
//	data, err := client.Get(ctx, "https://tiles.example.com/5/15/10.png")
type Client struct {
	httpClient *http.Client
	userAgent  string
}

// NewClient creates a new HTTP client for tile servers.
//
// The client is configured with:
//   - 30 second timeout
//   - DefaultUserAgent User-Agent header
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		userAgent: DefaultUserAgent,
	}
}

// StatusError is returned for responses other than 200 OK.
type StatusError struct {
	Code   int
	Status string
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s (%s)", e.Code, e.Status, e.URL)
}

// Get performs a GET request and returns the response body as bytes.
//
// Returns an error if:
//   - The request fails
//   - The response status is not 200 OK (as *StatusError)
//   - Reading the body fails
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status, URL: url}
	}

	return io.ReadAll(resp.Body)
}

// FetchTile downloads one tile of a tile URL template.
//
// The template placeholders are:
//   - {z}, {x}, {y} - tile coordinates
//   - {r} - "@2x" when pixelRatio is 2 or more, empty otherwise
func (c *Client) FetchTile(ctx context.Context, template string, tile maptile.Tile, pixelRatio float32) ([]byte, error) {
	return c.Get(ctx, TileURL(template, tile, pixelRatio))
}

// TileURL expands a tile URL template.
func TileURL(template string, tile maptile.Tile, pixelRatio float32) string {
	retina := ""
	if pixelRatio >= 2 {
		retina = "@2x"
	}
	r := strings.NewReplacer(
		"{z}", strconv.FormatUint(uint64(tile.Z), 10),
		"{x}", strconv.FormatUint(uint64(tile.X), 10),
		"{y}", strconv.FormatUint(uint64(tile.Y), 10),
		"{r}", retina,
	)
	return r.Replace(template)
}
