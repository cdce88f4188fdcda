// Package vitals retrieves, groups, paginates, and submits the launch
// patient's vital-sign observations.
package vitals

import (
	"sort"
	"time"

	"github.com/smartvitals/smartvitals/pkg/fhirmodels"
)

// UnknownCategory labels observations whose code carries neither a display
// nor a code value.
const UnknownCategory = "Unknown"

// CategorySummary is one observation group in the category list.
type CategorySummary struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// VitalView is one observation row, with its value already rendered.
type VitalView struct {
	ID            string     `json:"id,omitempty"`
	Value         string     `json:"value"`
	EffectiveTime *time.Time `json:"effective_time,omitempty"`
}

// PageView is the visible window over the selected category.
type PageView struct {
	Category    string      `json:"category"`
	Page        int         `json:"page"`
	PageSize    int         `json:"page_size"`
	Total       int         `json:"total"`
	HasNext     bool        `json:"has_next"`
	HasPrevious bool        `json:"has_previous"`
	Items       []VitalView `json:"items"`
}

// Overview combines the category list with the current window.
type Overview struct {
	Categories []CategorySummary `json:"categories"`
	Page       *PageView         `json:"page,omitempty"`
}

// CategoryLabel derives the grouping label for an observation from the first
// coding of its code: the display when present, else the bare code, else the
// unknown sentinel.
func CategoryLabel(o *fhirmodels.Observation) string {
	if len(o.Code.Coding) > 0 {
		c := o.Code.Coding[0]
		if c.Display != "" {
			return c.Display
		}
		if c.Code != "" {
			return c.Code
		}
	}
	return UnknownCategory
}

// groupByCategory splits observations into per-label groups, labels ordered
// by first appearance, each group sorted most recent first. The sort is
// stable so same-timestamp entries keep their server order.
func groupByCategory(obs []fhirmodels.Observation) ([]string, map[string][]fhirmodels.Observation) {
	order := make([]string, 0)
	groups := make(map[string][]fhirmodels.Observation)
	for _, o := range obs {
		label := CategoryLabel(&o)
		if _, seen := groups[label]; !seen {
			order = append(order, label)
		}
		groups[label] = append(groups[label], o)
	}
	for _, label := range order {
		sortByEffectiveDesc(groups[label])
	}
	return order, groups
}

func sortByEffectiveDesc(obs []fhirmodels.Observation) {
	sort.SliceStable(obs, func(i, j int) bool {
		return obs[i].EffectiveTime().After(obs[j].EffectiveTime())
	})
}

func viewOf(o *fhirmodels.Observation) VitalView {
	v := VitalView{ID: o.ID, Value: FormatValue(o)}
	if t := o.EffectiveTime(); !t.IsZero() {
		v.EffectiveTime = &t
	}
	return v
}
