package pagination

// DefaultWindowSize is the number of items shown per page.
const DefaultWindowSize = 5

// Window is a zero-based page over a list of Total items, viewed Size items
// at a time. Windows are values; movement returns a new Window and never
// leaves the valid range, so advancing past the last page is a no-op.
type Window struct {
	Page  int `json:"page"`
	Size  int `json:"size"`
	Total int `json:"total"`
}

// NewWindow returns the first page over total items. A non-positive size
// falls back to DefaultWindowSize.
func NewWindow(size, total int) Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	if total < 0 {
		total = 0
	}
	return Window{Page: 0, Size: size, Total: total}
}

// Start returns the index of the first item on the current page.
func (w Window) Start() int {
	start := w.Page * w.Size
	if start > w.Total {
		return w.Total
	}
	return start
}

// End returns the index one past the last item on the current page.
func (w Window) End() int {
	end := w.Start() + w.Size
	if end > w.Total {
		return w.Total
	}
	return end
}

// Bounds returns the half-open [start, end) slice range for the current page.
func (w Window) Bounds() (start, end int) {
	return w.Start(), w.End()
}

// HasNext reports whether items exist beyond the current page.
func (w Window) HasNext() bool {
	return w.End() < w.Total
}

// HasPrevious reports whether the current page is not the first.
func (w Window) HasPrevious() bool {
	return w.Page > 0
}

// Next advances one page. At the last page the same window is returned.
func (w Window) Next() Window {
	if !w.HasNext() {
		return w
	}
	w.Page++
	return w
}

// Previous retreats one page. At the first page the same window is returned.
func (w Window) Previous() Window {
	if !w.HasPrevious() {
		return w
	}
	w.Page--
	return w
}
