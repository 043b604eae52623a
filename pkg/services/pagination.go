package services

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// normalizePage clamps pagination parameters to sane values: pages start
// at 1 and page size defaults to 50 with a hard cap of 100.
func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}
