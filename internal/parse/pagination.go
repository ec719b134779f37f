package parse

import (
	"bytes"
	"strconv"

	"github.com/PuerkitoBio/goquery"
)

const lastPageSelector = "a.last[data-type='last']"

// LastPage extracts the highest page number advertised by the pagination
// links of a rendered listing page. The second return value is false when no
// usable pagination link exists, which callers treat as "probe failed, fall
// back to one page".
func LastPage(body []byte) (int, bool) {
	if len(body) == 0 {
		return 0, false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0, false
	}

	last := 0
	doc.Find(lastPageSelector).Each(func(_ int, link *goquery.Selection) {
		raw, ok := link.Attr("data-page")
		if !ok {
			return
		}
		page, err := strconv.Atoi(raw)
		if err != nil {
			return
		}
		if page > last {
			last = page
		}
	})
	return last, last > 0
}
