// Package http provides the HTTP client used to fetch map tiles.
//
// The Client in this package handles:
//   - A User-Agent header identifying the downloader
//   - Timeout handling
//   - Tile URL template expansion
//   - Typed errors for non-200 responses
//
// # Basic Usage
//
//	client := http.NewClient()
//
//	tile := maptile.New(272, 154, 9)
//	data, err := client.FetchTile(ctx, "https://tiles.example.com/{z}/{x}/{y}{r}.png", tile, 2)
//	// GET https://tiles.example.com/9/272/154@2x.png
//
// # Errors
//
// Non-200 responses are returned as *StatusError so callers can tell a
// missing tile from a failing server:
//
//	var statusErr *http.StatusError
//	if errors.As(err, &statusErr) && statusErr.Code == 404 {
//	    // no tile at this address
//	}
package http
