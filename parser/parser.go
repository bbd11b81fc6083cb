// Package parser turns raw feed documents into a format-agnostic shape.
//
// RSS 2.0 and Atom 1.0 differences (description vs summary, content:encoded
// vs atom content) are resolved here; nothing downstream knows which format
// a feed used.
package parser

import (
	"bytes"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"
)

// ParseError is returned when a document cannot be interpreted as a feed.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("feed parsing error: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ContentBlock is one typed block of entry content.
type ContentBlock struct {
	Type  string
	Value string
}

// RawEntry is one parsed feed entry with every field optional.
type RawEntry struct {
	ID        string
	Title     string
	Link      string
	Summary   string
	Content   []ContentBlock
	Published *time.Time
	Updated   *time.Time
	Created   *time.Time
}

// ParsedFeed is the normalized in-memory form of a fetched document.
type ParsedFeed struct {
	Title   string
	Entries []RawEntry
}

// Parser parses RSS and Atom documents.
type Parser struct {
	parser *gofeed.Parser
}

func New() *Parser {
	return &Parser{parser: gofeed.NewParser()}
}

// Parse interprets a raw document as a feed. Malformed documents that still
// yield entries are accepted as a best-effort parse; only a document that
// cannot be read as a feed at all is a hard failure.
func (p *Parser) Parse(raw []byte) (*ParsedFeed, error) {
	feed, err := p.parser.Parse(bytes.NewReader(raw))
	if err != nil || feed == nil {
		if err == nil {
			err = gofeed.ErrFeedTypeNotDetected
		}
		return nil, &ParseError{Err: err}
	}

	entries := make([]RawEntry, 0, len(feed.Items))
	for _, item := range feed.Items {
		entries = append(entries, mapItem(item))
	}

	return &ParsedFeed{
		Title:   feed.Title,
		Entries: entries,
	}, nil
}

func mapItem(item *gofeed.Item) RawEntry {
	entry := RawEntry{
		ID:        item.GUID,
		Title:     item.Title,
		Link:      item.Link,
		Summary:   item.Description,
		Published: item.PublishedParsed,
		Updated:   item.UpdatedParsed,
	}

	if item.Content != "" {
		entry.Content = append(entry.Content, ContentBlock{
			Type:  "text/html",
			Value: item.Content,
		})
	}

	return entry
}
