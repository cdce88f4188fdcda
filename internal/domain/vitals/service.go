package vitals

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/smartvitals/smartvitals/internal/platform/session"
	"github.com/smartvitals/smartvitals/pkg/fhirmodels"
	"github.com/smartvitals/smartvitals/pkg/pagination"
)

var (
	// ErrNotLoaded is returned by view operations before the first fetch.
	ErrNotLoaded = errors.New("no observations loaded")
	// ErrNoCategory is returned by page operations before a category exists.
	ErrNoCategory = errors.New("no category selected")
	// ErrUnknownCategory is returned when selecting a label not in the data.
	ErrUnknownCategory = errors.New("unknown category")
)

// ObservationAPI is the slice of the FHIR client this service consumes.
// *fhir.Client satisfies it.
type ObservationAPI interface {
	SearchObservations(ctx context.Context) (*fhirmodels.Bundle, error)
	CreateObservation(ctx context.Context, obs *fhirmodels.Observation) (*fhirmodels.Observation, error)
}

// Service holds the fetched observation set and the current category and
// page selection. Fetching replaces the whole set; selection and paging are
// pure re-slices of it, no network involved.
type Service struct {
	api    ObservationAPI
	store  session.Store
	logger zerolog.Logger

	mu       sync.Mutex
	loaded   bool
	order    []string
	groups   map[string][]fhirmodels.Observation
	selected string
	window   pagination.Window
}

// NewService creates a vitals service.
func NewService(api ObservationAPI, store session.Store, logger zerolog.Logger) *Service {
	return &Service{api: api, store: store, logger: logger}
}

// Fetch pulls the patient's vital-sign observations and rebuilds the
// category groups. The previous category selection is kept when its label
// still exists, otherwise the first group is selected; either way the view
// returns to the first page.
func (s *Service) Fetch(ctx context.Context) (Overview, error) {
	bundle, err := s.api.SearchObservations(ctx)
	if err != nil {
		return Overview{}, err
	}
	obs := bundle.Observations()
	order, groups := groupByCategory(obs)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = true
	s.order = order
	s.groups = groups
	if _, ok := groups[s.selected]; !ok {
		s.selected = ""
		if len(order) > 0 {
			s.selected = order[0]
		}
	}
	s.window = pagination.NewWindow(pagination.DefaultWindowSize, len(groups[s.selected]))
	s.logger.Info().Int("observations", len(obs)).Int("categories", len(order)).Msg("vitals fetched")
	return s.overviewLocked(), nil
}

// Overview returns the category list and current window.
func (s *Service) Overview() (Overview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return Overview{}, ErrNotLoaded
	}
	return s.overviewLocked(), nil
}

// Select makes label the active category. Selecting always returns to the
// first page, even when the label is already active.
func (s *Service) Select(label string) (PageView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return PageView{}, ErrNotLoaded
	}
	group, ok := s.groups[label]
	if !ok {
		return PageView{}, fmt.Errorf("%w %q", ErrUnknownCategory, label)
	}
	s.selected = label
	s.window = pagination.NewWindow(pagination.DefaultWindowSize, len(group))
	return s.pageLocked(), nil
}

// NextPage advances one page. Past the last page it returns the current view
// unchanged.
func (s *Service) NextPage() (PageView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return PageView{}, ErrNotLoaded
	}
	if s.selected == "" {
		return PageView{}, ErrNoCategory
	}
	s.window = s.window.Next()
	return s.pageLocked(), nil
}

// PrevPage retreats one page. Before the first page it returns the current
// view unchanged.
func (s *Service) PrevPage() (PageView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return PageView{}, ErrNotLoaded
	}
	if s.selected == "" {
		return PageView{}, ErrNoCategory
	}
	s.window = s.window.Previous()
	return s.pageLocked(), nil
}

// Invalidate drops the loaded set, forcing the next view through Fetch.
// Called when the launch context is reset.
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
	s.order = nil
	s.groups = nil
	s.selected = ""
	s.window = pagination.Window{}
}

func (s *Service) overviewLocked() Overview {
	ov := Overview{Categories: make([]CategorySummary, 0, len(s.order))}
	for _, label := range s.order {
		ov.Categories = append(ov.Categories, CategorySummary{Label: label, Count: len(s.groups[label])})
	}
	if s.selected != "" {
		page := s.pageLocked()
		ov.Page = &page
	}
	return ov
}

func (s *Service) pageLocked() PageView {
	group := s.groups[s.selected]
	start, end := s.window.Bounds()
	items := make([]VitalView, 0, end-start)
	for i := start; i < end; i++ {
		items = append(items, viewOf(&group[i]))
	}
	return PageView{
		Category:    s.selected,
		Page:        s.window.Page,
		PageSize:    s.window.Size,
		Total:       s.window.Total,
		HasNext:     s.window.HasNext(),
		HasPrevious: s.window.HasPrevious(),
		Items:       items,
	}
}
