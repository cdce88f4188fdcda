package vitals

import (
	"context"
	"fmt"
	"time"

	"github.com/smartvitals/smartvitals/internal/platform/session"
	"github.com/smartvitals/smartvitals/internal/platform/smart"
	"github.com/smartvitals/smartvitals/pkg/fhirmodels"
	"github.com/smartvitals/smartvitals/pkg/vitalcodes"
)

// CreateInput is the user-entered material for a new vital-sign reading.
type CreateInput struct {
	Category      string     `json:"category"`
	Value         float64    `json:"value"`
	Unit          string     `json:"unit"`
	EffectiveTime *time.Time `json:"effective_time,omitempty"`
}

// Validate checks the required fields.
func (in *CreateInput) Validate() error {
	if in.Category == "" {
		return fmt.Errorf("category is required")
	}
	if in.Unit == "" {
		return fmt.Errorf("unit is required")
	}
	return nil
}

// Create posts a new final-status vital-sign observation for the launch
// patient, then re-runs Fetch so the new reading appears in subsequent
// views. Category labels outside the terminology table are submitted under
// the sentinel code and left for the server to accept or reject; units
// outside the table pass through as typed.
func (s *Service) Create(ctx context.Context, in CreateInput) (*fhirmodels.Observation, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	patientID, err := s.store.Get(session.KeyPatientID)
	if err != nil {
		return nil, smart.NewError(smart.ErrCodeNoPatientContext, "no patient id in session")
	}
	if !vitalcodes.KnownCategory(in.Category) {
		s.logger.Warn().Str("category", in.Category).Msg("submitting observation with unmapped category code")
	}

	obs := buildObservation(in, patientID, time.Now().UTC())
	created, err := s.api.CreateObservation(ctx, obs)
	if err != nil {
		return nil, err
	}
	if created == nil {
		// Server accepted without echoing the resource back.
		created = obs
	}
	s.logger.Info().Str("category", in.Category).Msg("observation created")

	// Refresh the list so the new reading appears in subsequent views. The
	// create already succeeded, so a failed refresh only leaves the view
	// stale.
	if _, ferr := s.Fetch(ctx); ferr != nil {
		s.logger.Warn().Err(ferr).Msg("refetch after create failed")
	}
	return created, nil
}

func buildObservation(in CreateInput, patientID string, now time.Time) *fhirmodels.Observation {
	effective := now
	if in.EffectiveTime != nil {
		effective = *in.EffectiveTime
	}
	value := in.Value
	return &fhirmodels.Observation{
		ResourceType: "Observation",
		Status:       fhirmodels.ObsStatusFinal,
		Category: []fhirmodels.CodeableConcept{{
			Coding: []fhirmodels.Coding{{
				System:  fhirmodels.SystemObservationCategory,
				Code:    fhirmodels.ObsCategoryVitalSigns,
				Display: "Vital Signs",
			}},
		}},
		Code: fhirmodels.CodeableConcept{
			Coding: []fhirmodels.Coding{{
				System:  fhirmodels.SystemLOINC,
				Code:    vitalcodes.LOINCCode(in.Category),
				Display: in.Category,
			}},
			Text: in.Category,
		},
		Subject:           &fhirmodels.Reference{Reference: "Patient/" + patientID},
		EffectiveDateTime: &effective,
		ValueQuantity: &fhirmodels.Quantity{
			Value:  &value,
			Unit:   in.Unit,
			System: fhirmodels.SystemUCUM,
			Code:   vitalcodes.UCUMCode(in.Unit),
		},
	}
}
