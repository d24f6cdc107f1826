package playlist

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/austinkregel/local-media/grooved/internal/types"
)

// HTTPSource reads a directory-style HTML listing at <base>/<mediaDir>/
type HTTPSource struct {
	baseURL   string
	mediaDir  string
	extension string
	client    *http.Client
}

// NewHTTPSource creates a listing source
func NewHTTPSource(baseURL, mediaDir, extension string) *HTTPSource {
	return &HTTPSource{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		mediaDir:  strings.Trim(mediaDir, "/"),
		extension: extension,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// ListingURL returns the directory URL that is fetched
func (s *HTTPSource) ListingURL() string {
	return s.baseURL + "/" + s.mediaDir + "/"
}

// Fetch downloads the listing and returns every linked audio file
func (s *HTTPSource) Fetch(ctx context.Context) ([]types.Track, error) {
	listing, err := url.Parse(s.ListingURL())
	if err != nil {
		return nil, fmt.Errorf("invalid listing url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listing.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch listing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing returned status %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing: %w", err)
	}

	marker := "/" + s.mediaDir + "/"
	seen := make(map[string]bool)
	var tracks []types.Track

	for _, href := range anchors(doc) {
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		abs := listing.ResolveReference(ref)
		escaped := abs.EscapedPath()
		if !hasExtension(escaped, s.extension) {
			continue
		}

		i := strings.Index(escaped, marker)
		if i < 0 {
			continue
		}
		id := escaped[i+len(marker):]
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		abs.RawQuery = ""
		abs.Fragment = ""
		tracks = append(tracks, types.NewTrack(id, abs.String()))
	}

	return tracks, nil
}

// anchors returns every <a href> value in document order
func anchors(n *html.Node) []string {
	var hrefs []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "href" {
					hrefs = append(hrefs, attr.Val)
					break
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return hrefs
}
