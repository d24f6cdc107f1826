// Package search queries a remote catalogue when nothing local matches.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/austinkregel/local-media/grooved/internal/types"
)

const (
	defaultLimit = 10
	maxLimit     = 50
)

// Client talks to an iTunes-search compatible endpoint
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient creates a search client
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type searchResponse struct {
	ResultCount int `json:"resultCount"`
	Results     []struct {
		TrackID       int64  `json:"trackId"`
		TrackName     string `json:"trackName"`
		ArtistName    string `json:"artistName"`
		PreviewURL    string `json:"previewUrl"`
		ArtworkURL100 string `json:"artworkUrl100"`
		ArtworkURL60  string `json:"artworkUrl60"`
	} `json:"results"`
}

// Search returns playable results for query. Results without a preview are
// skipped since they cannot be played.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]types.Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}

	val := url.Values{}
	val.Set("term", query)
	val.Set("media", "music")
	val.Set("entity", "song")
	val.Set("limit", fmt.Sprint(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+val.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search status %d", resp.StatusCode)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	out := make([]types.Track, 0, len(body.Results))
	for _, r := range body.Results {
		if r.PreviewURL == "" {
			continue
		}
		art := r.ArtworkURL100
		if art == "" {
			art = r.ArtworkURL60
		}
		out = append(out, types.Track{
			Locator:    r.PreviewURL,
			Name:       r.TrackName,
			Artist:     r.ArtistName,
			ArtworkURL: art,
			External:   true,
		})
	}
	return out, nil
}
