// Package discover finds candidate character pages from the wiki's
// recent-changes feed.
package discover

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mmcdole/gofeed"
)

const defaultLimit = 20

// Candidate is one page discovered from the feed.
type Candidate struct {
	PageID    int64
	Title     string
	URL       string
	Published string // YYYY-MM-DD or empty
}

// Finder parses the recent-changes feed for candidate page ids.
type Finder struct {
	feedURL string
	parser  *gofeed.Parser
}

// NewFinder creates a finder for the given feed URL.
func NewFinder(feedURL string) *Finder {
	return &Finder{feedURL: feedURL, parser: gofeed.NewParser()}
}

// Recent returns up to limit candidates from the feed, newest first as
// ordered by the feed. Entries whose links carry no page id are
// skipped; duplicate ids keep the first occurrence.
func (f *Finder) Recent(limit int) ([]Candidate, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	feed, err := f.parser.ParseURL(f.feedURL)
	if err != nil {
		return nil, fmt.Errorf("parsing feed %s: %w", f.feedURL, err)
	}

	seen := make(map[int64]struct{})
	var candidates []Candidate
	for _, item := range feed.Items {
		if len(candidates) >= limit {
			break
		}

		candidate := parseItem(item)
		if candidate == nil {
			continue
		}
		if _, dup := seen[candidate.PageID]; dup {
			continue
		}
		seen[candidate.PageID] = struct{}{}
		candidates = append(candidates, *candidate)
	}

	return candidates, nil
}

func parseItem(item *gofeed.Item) *Candidate {
	link := item.Link
	if link == "" {
		link = item.GUID
	}
	pageID := extractPageID(link)
	if pageID == 0 {
		return nil
	}

	title := strings.TrimSpace(item.Title)
	if title == "" {
		return nil
	}

	var published string
	if item.PublishedParsed != nil {
		published = item.PublishedParsed.Format("2006-01-02")
	} else if item.UpdatedParsed != nil {
		published = item.UpdatedParsed.Format("2006-01-02")
	}

	return &Candidate{
		PageID:    pageID,
		Title:     title,
		URL:       link,
		Published: published,
	}
}

// extractPageID pulls the numeric page id out of a curid-style link.
// Links without one (title-based URLs, diffs) yield 0.
func extractPageID(link string) int64 {
	u, err := url.Parse(link)
	if err != nil {
		return 0
	}
	raw := u.Query().Get("curid")
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}
