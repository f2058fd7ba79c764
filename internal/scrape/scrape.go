// Package scrape fetches raw character articles from the configured
// wiki by numeric page id.
package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"charvox/internal/resilience"
)

const maxMediaURLs = 12

// Result is one raw fetch: extracted article text plus page metadata.
type Result struct {
	Name      string
	Variant   *string
	FinalURL  string
	Text      string
	MediaURLs []string
}

// WikiScraper fetches character pages via HTTP and extracts readable
// text and media references.
type WikiScraper struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// NewWikiScraper creates a scraper for the given wiki base URL.
func NewWikiScraper(baseURL, userAgent string, timeout time.Duration) *WikiScraper {
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	return &WikiScraper{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// PageURL returns the canonical fetch URL for a page id.
func (s *WikiScraper) PageURL(pageID int64) string {
	return fmt.Sprintf("%s/?curid=%d", s.baseURL, pageID)
}

// FetchRaw fetches the article for a page id. Redirects are followed;
// the final URL is reported so the quality gate can detect pages that
// collapsed back to the wiki root.
func (s *WikiScraper) FetchRaw(ctx context.Context, pageID int64) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.PageURL(pageID), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching page %d: %w", pageID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &resilience.StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading page %d: %w", pageID, err)
	}

	finalURL := s.PageURL(pageID)
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return s.parsePage(string(body), finalURL)
}

func (s *WikiScraper) parsePage(html, finalURL string) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing page: %w", err)
	}

	name, variant := parseTitle(pageTitle(doc))
	result := &Result{
		Name:      name,
		Variant:   variant,
		FinalURL:  finalURL,
		MediaURLs: extractMediaURLs(doc, finalURL),
	}

	parsedURL, _ := url.Parse(finalURL)
	article, err := readability.FromReader(strings.NewReader(html), parsedURL)
	if err == nil {
		result.Text = strings.TrimSpace(article.TextContent)
	}
	if result.Text == "" {
		// Readability gives up on sparse pages; fall back to the body text.
		result.Text = strings.TrimSpace(doc.Find("body").Text())
	}

	return result, nil
}

func pageTitle(doc *goquery.Document) string {
	if heading := strings.TrimSpace(doc.Find("h1#firstHeading").First().Text()); heading != "" {
		return heading
	}
	if heading := strings.TrimSpace(doc.Find("h1").First().Text()); heading != "" {
		return heading
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	// "<Page> | <Wiki> | Fandom" style suffixes
	if idx := strings.Index(title, " | "); idx > 0 {
		title = title[:idx]
	}
	return title
}

var variantExpr = regexp.MustCompile(`^(.*?)\s*\(([^)]+)\)$`)

// parseTitle splits "Jin Harlow (Earth-616)" into name and variant.
func parseTitle(title string) (string, *string) {
	title = strings.TrimSpace(title)
	if m := variantExpr.FindStringSubmatch(title); m != nil {
		variant := strings.TrimSpace(m[2])
		return strings.TrimSpace(m[1]), &variant
	}
	return title, nil
}

// extractMediaURLs collects portrait and infobox image URLs, preferring
// the structured infobox selectors used by Fandom-style wikis.
func extractMediaURLs(doc *goquery.Document, pageURL string) []string {
	base, _ := url.Parse(pageURL)
	seen := make(map[string]struct{})
	var urls []string

	add := func(_ int, sel *goquery.Selection) {
		if len(urls) >= maxMediaURLs {
			return
		}
		src, ok := sel.Attr("src")
		if !ok || src == "" || strings.HasPrefix(src, "data:") {
			return
		}
		resolved := resolveURL(base, src)
		if resolved == "" {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		urls = append(urls, resolved)
	}

	doc.Find(".pi-image img, .infobox img").Each(add)
	if len(urls) == 0 {
		doc.Find("img").Each(add)
	}
	return urls
}

func resolveURL(base *url.URL, src string) string {
	ref, err := url.Parse(src)
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	return ref.String()
}
