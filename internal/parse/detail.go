package parse

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/forum-qa-harvester/internal/forum"
)

const (
	questionSelector      = "div.thread-start div.content.full div.content"
	answerContentSelector = "div.content"
)

// Detail extracts the question and answer text from a detail page body.
// Missing regions resolve to the sentinel values independently; a nil or
// empty body yields both sentinels.
func Detail(body []byte) (question, answer string) {
	question = forum.NoQuestionFound
	answer = forum.NoAnswerFound
	if len(body) == 0 {
		return question, answer
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return question, answer
	}

	if q := doc.Find(questionSelector).First(); q.Length() > 0 {
		if text := cleanText(q.Text()); text != "" {
			question = text
		}
	}
	if text := answerText(doc); text != "" {
		answer = text
	}
	return question, answer
}

// answerText locates the first element whose class marks it verified or
// suggested and returns the trimmed text of its inner content region. An
// empty string means no answer region exists on the page.
func answerText(doc *goquery.Document) string {
	var marked *goquery.Selection
	doc.Find("div[class]").EachWithBreak(func(_ int, div *goquery.Selection) bool {
		class := div.AttrOr("class", "")
		if !strings.Contains(class, "verified") && !strings.Contains(class, "suggested") {
			return true
		}
		marked = div
		return false
	})
	if marked == nil {
		return ""
	}
	content := marked.Find(answerContentSelector).First()
	if content.Length() == 0 {
		return ""
	}
	return cleanText(content.Text())
}
