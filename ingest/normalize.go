package ingest

import (
	"fmt"
	"hash/fnv"
	"time"

	"github.com/AlecRosenbaum/eink-rss-reader/parser"
)

// summaryLength caps stored summaries. Independent of the configurable
// content length; summaries are for listings and stay short.
const summaryLength = 500

// deriveGUID picks the dedup identity of an entry: id, then link, then
// title, then a stable hash over the whole entry.
func deriveGUID(entry parser.RawEntry) string {
	if entry.ID != "" {
		return entry.ID
	}
	if entry.Link != "" {
		return entry.Link
	}
	if entry.Title != "" {
		return entry.Title
	}

	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%s", entry.ID, entry.Link, entry.Title, entry.Summary)
	for _, block := range entry.Content {
		fmt.Fprintf(h, "|%s:%s", block.Type, block.Value)
	}
	return fmt.Sprintf("%x", h.Sum64())
}

// deriveContent prefers the first content block, falling back to the full
// summary, truncated to maxLength codepoints.
func deriveContent(entry parser.RawEntry, maxLength int) *string {
	if len(entry.Content) > 0 && entry.Content[0].Value != "" {
		content := truncate(entry.Content[0].Value, maxLength)
		return &content
	}
	if entry.Summary != "" {
		summary := truncate(entry.Summary, maxLength)
		return &summary
	}
	return nil
}

// deriveSummary truncates the raw summary field to the fixed short length.
func deriveSummary(entry parser.RawEntry) *string {
	if entry.Summary == "" {
		return nil
	}
	summary := truncate(entry.Summary, summaryLength)
	return &summary
}

// deriveTimestamp tries published, updated and created times in that order.
func deriveTimestamp(entry parser.RawEntry) *time.Time {
	for _, ts := range []*time.Time{entry.Published, entry.Updated, entry.Created} {
		if ts != nil && !ts.IsZero() {
			return ts
		}
	}
	return nil
}

// truncate cuts a string to at most n codepoints, never splitting a rune.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
