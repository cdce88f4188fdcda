// Package vitalcodes holds the closed vital-sign terminology tables used when
// constructing observations: a category-label to LOINC code map and a
// unit-label to UCUM code map. Both are total lookups; categories outside the
// table map to an explicit unknown sentinel and units outside the table pass
// through unchanged.
package vitalcodes

import "strings"

// UnknownCode is the sentinel LOINC code used for category labels not in the
// table. Submissions carry it as-is; whether the server accepts an
// unrecognized code is its decision and surfaces through the normal create
// error path.
const UnknownCode = "unknown"

// LOINC codes for the vital-sign panels this application submits.
const (
	LOINCHeartRate        = "8867-4"
	LOINCRespiratoryRate  = "9279-1"
	LOINCBodyTemperature  = "8310-5"
	LOINCBodyWeight       = "29463-7"
	LOINCBodyHeight       = "8302-2"
	LOINCOxygenSaturation = "2708-6"
	LOINCBodyMassIndex    = "39156-5"
	LOINCBloodPressure    = "85354-9"
)

var categoryToLOINC = map[string]string{
	"heart rate":        LOINCHeartRate,
	"respiratory rate":  LOINCRespiratoryRate,
	"body temperature":  LOINCBodyTemperature,
	"body weight":       LOINCBodyWeight,
	"body height":       LOINCBodyHeight,
	"oxygen saturation": LOINCOxygenSaturation,
	"body mass index":   LOINCBodyMassIndex,
	"blood pressure":    LOINCBloodPressure,
}

var unitToUCUM = map[string]string{
	"bpm":         "/min",
	"beats/min":   "/min",
	"breaths/min": "/min",
	"cel":         "Cel",
	"°c":          "Cel",
	"c":           "Cel",
	"°f":          "[degF]",
	"f":           "[degF]",
	"kg":          "kg",
	"lb":          "[lb_av]",
	"lbs":         "[lb_av]",
	"cm":          "cm",
	"in":          "[in_i]",
	"%":           "%",
	"mmhg":        "mm[Hg]",
	"kg/m2":       "kg/m2",
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// LOINCCode maps a vital-sign category label to its LOINC code. Labels are
// matched case-insensitively. Unrecognized labels return UnknownCode.
func LOINCCode(category string) string {
	if code, ok := categoryToLOINC[normalize(category)]; ok {
		return code
	}
	return UnknownCode
}

// KnownCategory reports whether the category label is in the table.
func KnownCategory(category string) bool {
	_, ok := categoryToLOINC[normalize(category)]
	return ok
}

// UCUMCode maps a human-entered unit to its UCUM code. Units are matched
// case-insensitively; unrecognized units pass through unchanged so the server
// still receives what the user typed.
func UCUMCode(unit string) string {
	if code, ok := unitToUCUM[normalize(unit)]; ok {
		return code
	}
	return unit
}
