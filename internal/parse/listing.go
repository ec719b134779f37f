// Package parse contains the pure HTML parsers for listing pages, detail
// pages, and the pagination probe. All parsers tolerate malformed or empty
// markup: they return empty results or sentinel values, never errors that
// would abort a crawl.
package parse

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/forum-qa-harvester/internal/forum"
)

const (
	listingItemSelector = "div.name.cell"
	listingLinkSelector = "a.internal-link.view-post"
	statusCellSelector  = "div.icon.cell.answer-status"

	verifiedMarkerSelector   = "a.ui-tip.verified.replace-with-icon.check[title^='Question answered']"
	suggestedMarkerSelector  = "a.ui-tip.suggested.replace-with-icon.check[title^='Answer suggested']"
	unansweredMarkerSelector = "span.attribute-value.unanswered.ui-tip.replace-with-icon.help"
)

// Listing extracts the candidate items from a listing page body. A nil or
// empty body yields an empty slice. Item containers without a recognizable
// link are skipped.
func Listing(body []byte) []forum.ListingItem {
	if len(body) == 0 {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	var items []forum.ListingItem
	doc.Find(listingItemSelector).Each(func(_ int, cell *goquery.Selection) {
		link := cell.Find(listingLinkSelector).First()
		if link.Length() == 0 {
			return
		}
		items = append(items, forum.ListingItem{
			Title:  cleanText(link.Text()),
			URL:    link.AttrOr("href", ""),
			Status: classifyStatus(cell),
		})
	})
	return items
}

// classifyStatus inspects the answer-status cell in the same row as the item
// cell. The status cell may sit on either side of the name cell and is not
// necessarily adjacent (avatar and reply-count cells sit between them); the
// nearest preceding sibling is checked first, then the nearest following one.
func classifyStatus(cell *goquery.Selection) forum.AnswerStatus {
	status := cell.PrevAllFiltered(statusCellSelector).First()
	if status.Length() == 0 {
		status = cell.NextAllFiltered(statusCellSelector).First()
	}
	if status.Length() == 0 {
		return forum.StatusUnknown
	}
	switch {
	case status.Find(verifiedMarkerSelector).Length() > 0:
		return forum.StatusAnswered
	case status.Find(suggestedMarkerSelector).Length() > 0:
		return forum.StatusAnswered
	case status.Find(unansweredMarkerSelector).Length() > 0:
		return forum.StatusNotAnswered
	default:
		return forum.StatusUnknown
	}
}

// cleanText trims and collapses internal whitespace runs.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
