// Package lead defines the typed-variant record carried through the
// enrichment pipeline. The underlying source treats the lead as an untyped
// map whose shape grows and shrinks as it passes through stations; modeling
// it as a Go struct would couple every station to every other station's
// fields. Record keeps the map but adds typed accessors and a small set of
// well-known key constants so stations can still declare required/produced
// sets without string-typo risk.
package lead

import "strings"

// Well-known keys. Not exhaustive — stations may read/write arbitrary keys —
// but these are referenced from more than one package.
const (
	KeyName        = "name"
	KeyFullName    = "fullName"
	KeyFirstName   = "firstName"
	KeyLastName    = "lastName"
	KeyLinkedInURL = "linkedinUrl"
	KeyCompany     = "company"
	KeyTitle       = "title"
	KeyLocation    = "location"
	KeyCity        = "city"
	KeyState       = "state"
	KeyZipcode     = "zipcode"
	KeyPhone       = "phone"
	KeyEmail       = "email"
	KeyAge         = "age"
	KeyIncome      = "income"
	KeySaved       = "saved"

	KeyChimeraPhone  = "chimera_phone"
	KeyChimeraEmail  = "chimera_email"
	KeyChimeraAge    = "chimera_age"
	KeyChimeraIncome = "chimera_income"
	KeyChimeraRaw    = "chimera_raw"

	KeyNeedsOlmocrVerification = "NEEDS_OLMOCR_VERIFICATION"
	KeyNeedsReconciliation     = "NEEDS_RECONCILIATION"

	KeyPipelineCost     = "_pipeline_cost"
	KeyPipelineStations = "_pipeline_stations_executed"
	KeyPipelineErrors   = "_pipeline_errors"
	KeyBlueprint        = "_blueprint"
	KeyBlueprintDomain  = "_blueprint_domain"
	KeyMappingRequired  = "_mapping_required"
	KeySelectedProvider = "_selected_provider"

	KeyDNCStatus          = "dnc_status"
	KeyCanContact         = "can_contact"
	KeyValidationRejected = "validation_rejected"
)

// Record is a mutable, string-keyed bag of heterogeneous values that
// represents a lead as it flows through the pipeline. Delta maps returned by
// stations are merged into a Record via Merge.
type Record map[string]any

// New creates a Record from a plain map, copying it so the caller's map is
// never mutated by the pipeline.
func New(initial map[string]any) Record {
	r := make(Record, len(initial))
	for k, v := range initial {
		r[k] = v
	}
	return r
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge writes every key in delta into r, overwriting existing values.
// A nil value is still written (stations sometimes explicitly clear a
// field); callers that want to skip nils should filter before calling.
func (r Record) Merge(delta map[string]any) {
	for k, v := range delta {
		r[k] = v
	}
}

// Has reports whether key is present and non-nil.
func (r Record) Has(key string) bool {
	v, ok := r[key]
	return ok && v != nil
}

// HasAll reports whether every key in keys is present and non-nil.
func (r Record) HasAll(keys map[string]struct{}) bool {
	for k := range keys {
		if !r.Has(k) {
			return false
		}
	}
	return true
}

// String returns the string value at key, or "" if absent or not a string.
func (r Record) String(key string) string {
	if v, ok := r[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Float returns the numeric value at key as a float64.
func (r Record) Float(key string) (float64, bool) {
	switch v := r[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Bool returns the boolean value at key, defaulting to false.
func (r Record) Bool(key string) bool {
	if v, ok := r[key].(bool); ok {
		return v
	}
	return false
}

// ResolveName derives a working "name" from name|fullName|(firstName+lastName)
// and, when name is absent, sets it on the record. Runs as the first step of
// every pipeline execution so downstream stations can assume "name" exists.
func ResolveName(r Record) {
	if r.Has(KeyName) {
		return
	}
	if full := r.String(KeyFullName); full != "" {
		r[KeyName] = full
		return
	}
	first := r.String(KeyFirstName)
	last := r.String(KeyLastName)
	if first != "" || last != "" {
		r[KeyName] = strings.TrimSpace(first + " " + last)
	}
}

// IsHighValue reports whether both company and title are present, the bar
// for triggering cross-source corroboration against a second provider.
func IsHighValue(r Record) bool {
	return strings.TrimSpace(r.String(KeyCompany)) != "" && strings.TrimSpace(r.String(KeyTitle)) != ""
}
