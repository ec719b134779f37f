package harvest

// Range is a contiguous, inclusive span of listing page numbers processed as
// one unit of work between flushes.
type Range struct {
	Start int
	End   int
}

// Pages returns the page numbers covered by the range, in order.
func (r Range) Pages() []int {
	pages := make([]int, 0, r.End-r.Start+1)
	for p := r.Start; p <= r.End; p++ {
		pages = append(pages, p)
	}
	return pages
}

// Partition splits [1, totalPages] into contiguous chunks of at most
// chunkSize pages. The chunks cover the interval exactly once, in order,
// with no gaps and no overlaps.
func Partition(totalPages, chunkSize int) []Range {
	if totalPages <= 0 || chunkSize <= 0 {
		return nil
	}
	ranges := make([]Range, 0, (totalPages+chunkSize-1)/chunkSize)
	for start := 1; start <= totalPages; start += chunkSize {
		end := start + chunkSize - 1
		if end > totalPages {
			end = totalPages
		}
		ranges = append(ranges, Range{Start: start, End: end})
	}
	return ranges
}
