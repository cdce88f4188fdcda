package vitals

import (
	"strconv"
	"strings"

	"github.com/smartvitals/smartvitals/pkg/fhirmodels"
)

// NoValue is reported for observations with none of the recognized value
// shapes.
const NoValue = "no value available"

// valueKind identifies which of the observation value shapes is present.
// Exactly one kind applies to an observation; when a resource carries several
// shapes the first in this order wins.
type valueKind int

const (
	valueAbsent valueKind = iota
	valueQuantity
	valueComponents
	valueConcept
	valueText
	valueBoolean
)

func kindOf(o *fhirmodels.Observation) valueKind {
	switch {
	case o.ValueQuantity != nil && o.ValueQuantity.Value != nil:
		return valueQuantity
	case hasComponentQuantity(o):
		return valueComponents
	case o.ValueCodeableConcept != nil && conceptText(o.ValueCodeableConcept) != "":
		return valueConcept
	case o.ValueString != nil:
		return valueText
	case o.ValueBoolean != nil:
		return valueBoolean
	default:
		return valueAbsent
	}
}

// FormatValue renders an observation's value as a display string. Multi-part
// readings such as blood pressure join their component quantities with " / ".
func FormatValue(o *fhirmodels.Observation) string {
	switch kindOf(o) {
	case valueQuantity:
		return formatQuantity(o.ValueQuantity)
	case valueComponents:
		parts := make([]string, 0, len(o.Component))
		for _, comp := range o.Component {
			if comp.ValueQuantity != nil && comp.ValueQuantity.Value != nil {
				parts = append(parts, formatQuantity(comp.ValueQuantity))
			}
		}
		return strings.Join(parts, " / ")
	case valueConcept:
		return conceptText(o.ValueCodeableConcept)
	case valueText:
		return *o.ValueString
	case valueBoolean:
		return strconv.FormatBool(*o.ValueBoolean)
	default:
		return NoValue
	}
}

func hasComponentQuantity(o *fhirmodels.Observation) bool {
	for _, comp := range o.Component {
		if comp.ValueQuantity != nil && comp.ValueQuantity.Value != nil {
			return true
		}
	}
	return false
}

func conceptText(c *fhirmodels.CodeableConcept) string {
	if c.Text != "" {
		return c.Text
	}
	if len(c.Coding) > 0 {
		if c.Coding[0].Display != "" {
			return c.Coding[0].Display
		}
		return c.Coding[0].Code
	}
	return ""
}

func formatQuantity(q *fhirmodels.Quantity) string {
	value := strconv.FormatFloat(*q.Value, 'f', -1, 64)
	unit := q.Unit
	if unit == "" {
		unit = q.Code
	}
	if unit == "" {
		return value
	}
	return value + " " + unit
}
