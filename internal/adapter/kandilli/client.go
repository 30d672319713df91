// Package kandilli fetches the Kandilli Observatory recent-earthquakes page
// and extracts its <pre> data block.
package kandilli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/couchcryptid/quake-feed-service/internal/domain"
	"golang.org/x/net/html"
)

// DefaultURL is the observatory's recent-earthquakes listing.
const DefaultURL = "http://www.koeri.boun.edu.tr/scripts/lst2.asp"

// maxPageBytes caps how much of a response body is read.
const maxPageBytes = 5 * 1024 * 1024

// Client fetches the feed page. It never retries; the next scheduled tick
// is the retry.
type Client struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a feed client whose requests are bounded by timeout.
func NewClient(url string, timeout time.Duration, logger *slog.Logger) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// URL returns the feed address.
func (c *Client) URL() string { return c.url }

// FetchBlock retrieves the page and returns the raw text of its <pre>
// block. Transport errors, timeouts and non-2xx responses are returned as
// *domain.FetchError; a page without a <pre> block yields
// domain.ErrFeedBlockMissing.
func (c *Client) FetchBlock(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return "", &domain.FetchError{URL: c.url, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", "quakefeed/1.0")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &domain.FetchError{URL: c.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &domain.FetchError{
			URL:        c.url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(body))),
		}
	}

	block, err := ExtractBlock(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", err
	}

	c.logger.Debug("feed fetched", "url", c.url, "bytes", len(block), "duration", time.Since(start))
	return block, nil
}

// ExtractBlock parses an HTML page and returns the text of its first <pre>
// element. Read and parse failures surface as *domain.FetchError.
func ExtractBlock(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", &domain.FetchError{Err: fmt.Errorf("parse page: %w", err)}
	}

	pre := findElement(doc, "pre")
	if pre == nil {
		return "", domain.ErrFeedBlockMissing
	}

	var sb strings.Builder
	collectText(pre, &sb)
	return sb.String(), nil
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}
