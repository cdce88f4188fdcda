package pagination

import "testing"

func TestNewWindow_Defaults(t *testing.T) {
	w := NewWindow(0, 12)
	if w.Size != DefaultWindowSize {
		t.Errorf("expected default size %d, got %d", DefaultWindowSize, w.Size)
	}
	if w.Page != 0 {
		t.Errorf("expected page 0, got %d", w.Page)
	}

	w = NewWindow(5, -3)
	if w.Total != 0 {
		t.Errorf("expected negative total clamped to 0, got %d", w.Total)
	}
}

func TestWindow_Bounds(t *testing.T) {
	tests := []struct {
		name      string
		page      int
		total     int
		wantStart int
		wantEnd   int
	}{
		{"first page", 0, 12, 0, 5},
		{"second page", 1, 12, 5, 10},
		{"partial last page", 2, 12, 10, 12},
		{"exact fit", 1, 10, 5, 10},
		{"empty list", 0, 0, 0, 0},
		{"single item", 0, 1, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := Window{Page: tt.page, Size: 5, Total: tt.total}
			start, end := w.Bounds()
			if start != tt.wantStart || end != tt.wantEnd {
				t.Errorf("Bounds() = [%d, %d), want [%d, %d)", start, end, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestWindow_TwelveItemsWalk(t *testing.T) {
	w := NewWindow(5, 12)

	if !w.HasNext() {
		t.Error("expected HasNext at page 0")
	}
	if w.HasPrevious() {
		t.Error("did not expect HasPrevious at page 0")
	}

	w = w.Next()
	if w.Page != 1 {
		t.Fatalf("expected page 1, got %d", w.Page)
	}
	if !w.HasNext() {
		t.Error("expected HasNext at page 1")
	}

	w = w.Next()
	if w.Page != 2 {
		t.Fatalf("expected page 2, got %d", w.Page)
	}
	if w.HasNext() {
		t.Error("did not expect HasNext at page 2")
	}
	if start, end := w.Bounds(); start != 10 || end != 12 {
		t.Errorf("page 2 bounds = [%d, %d), want [10, 12)", start, end)
	}

	// Advancing past the end is a no-op.
	w = w.Next()
	if w.Page != 2 {
		t.Errorf("Next past end moved to page %d, want 2", w.Page)
	}
}

func TestWindow_PreviousClamps(t *testing.T) {
	w := NewWindow(5, 12)
	w = w.Previous()
	if w.Page != 0 {
		t.Errorf("Previous at page 0 moved to page %d, want 0", w.Page)
	}

	w = w.Next().Previous()
	if w.Page != 0 {
		t.Errorf("expected page 0 after Next().Previous(), got %d", w.Page)
	}
}

func TestWindow_StartClampedPastTotal(t *testing.T) {
	// A window constructed on page 4 of a 3-item list must not produce
	// out-of-range bounds.
	w := Window{Page: 4, Size: 5, Total: 3}
	start, end := w.Bounds()
	if start != 3 || end != 3 {
		t.Errorf("Bounds() = [%d, %d), want [3, 3)", start, end)
	}
}
