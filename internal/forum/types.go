// Package forum defines the domain types shared across the harvester:
// listing items discovered on index pages, the detail records emitted to the
// output artifact, and listing-page URL construction.
package forum

import (
	"fmt"
	"strings"
)

// AnswerStatus classifies a listed thread by its answer marker.
type AnswerStatus string

// Answer status values produced by the listing parser.
const (
	StatusAnswered    AnswerStatus = "Answered"
	StatusNotAnswered AnswerStatus = "Not Answered"
	StatusUnknown     AnswerStatus = "Unknown"
)

// ListingItem is one thread as it appears on a listing page. Items are
// ephemeral: they exist only between the listing parse and the detail fetch.
type ListingItem struct {
	Title  string
	URL    string
	Status AnswerStatus
}

// DetailRecord is the final unit of output, uniquely identified by URL.
// Once constructed it is never mutated.
type DetailRecord struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Sentinel values emitted when a detail page has no recognizable question or
// answer region. Downstream consumers treat these as valid-but-empty, not as
// errors.
const (
	NoQuestionFound = "No Question Found"
	NoAnswerFound   = "No Answer Found"
)

// Site describes the forum being harvested. Page 1 is the bare forum URL;
// later pages append the pagination query parameter.
type Site struct {
	// BaseURL is the forum listing URL without any pagination query.
	BaseURL string
	// PageParam is the query parameter carrying the page number.
	PageParam string
}

// ListingURL returns the URL of the given listing page.
func (s Site) ListingURL(page int) string {
	if page <= 1 {
		return s.BaseURL
	}
	sep := "?"
	if strings.Contains(s.BaseURL, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s%s=%d", s.BaseURL, sep, s.PageParam, page)
}
