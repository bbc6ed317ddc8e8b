package stations

import (
	"context"
	"regexp"
	"strings"

	"github.com/scrapeshifter/goldenrecord/lead"
	"github.com/scrapeshifter/goldenrecord/pipeline"
)

var (
	suffixPattern = regexp.MustCompile(`(?i)\s+(Jr\.?|Sr\.?|II|III|IV)$`)
	zipPattern    = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
)

// stateAbbreviations maps a handful of full state names to their postal
// abbreviation. Not exhaustive — free-text location strings that don't
// match pass through unchanged.
var stateAbbreviations = map[string]string{
	"texas":      "TX",
	"california": "CA",
	"new york":   "NY",
	"florida":    "FL",
	"illinois":   "IL",
	"washington": "WA",
	"georgia":    "GA",
	"arizona":    "AZ",
	"colorado":   "CO",
	"ohio":       "OH",
}

// IdentityResolutionStation normalizes the name fields on a lead into a
// single clean "name" plus split firstName/lastName, and parses a
// free-text "location" into city/state when those aren't already set.
type IdentityResolutionStation struct{}

func (IdentityResolutionStation) Name() string             { return "identity" }
func (IdentityResolutionStation) RequiredInputs() []string  { return []string{lead.KeyName} }
func (IdentityResolutionStation) ProducesOutputs() []string {
	return []string{lead.KeyName, lead.KeyFirstName, lead.KeyLastName, lead.KeyCity, lead.KeyState}
}
func (IdentityResolutionStation) CostEstimate(_ *pipeline.Context) float64 { return 0 }

func (IdentityResolutionStation) Process(_ context.Context, pctx *pipeline.Context) (map[string]any, pipeline.StopCondition, error) {
	delta := map[string]any{}

	clean := cleanName(pctx.Data.String(lead.KeyName))
	if clean != "" {
		delta[lead.KeyName] = clean
		first, last := parseName(clean)
		if first != "" {
			delta[lead.KeyFirstName] = first
		}
		if last != "" {
			delta[lead.KeyLastName] = last
		}
	}

	if !pctx.Data.Has(lead.KeyCity) || !pctx.Data.Has(lead.KeyState) {
		if city, state, zip, ok := parseLocation(pctx.Data.String(lead.KeyLocation)); ok {
			if !pctx.Data.Has(lead.KeyCity) {
				delta[lead.KeyCity] = city
			}
			if !pctx.Data.Has(lead.KeyState) {
				delta[lead.KeyState] = normalizeState(state)
			}
			if zip != "" && !pctx.Data.Has(lead.KeyZipcode) {
				delta[lead.KeyZipcode] = zip
			}
		}
	}

	return delta, pipeline.Continue, nil
}

// cleanName trims whitespace, collapses internal runs of spaces, and drops
// a trailing generational suffix (Jr., III, ...).
func cleanName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	name = suffixPattern.ReplaceAllString(name, "")
	fields := strings.Fields(name)
	return strings.Join(fields, " ")
}

// parseName splits a cleaned full name into first and last, treating
// everything between the first and last token as a middle name folded into
// the last-name field (matching how most people-search providers report
// multi-word surnames).
func parseName(name string) (first, last string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

// parseLocation splits "City, ST", "City, State", or "City, ST 78701" into
// parts. ok is false when the string has no recognizable comma-separated
// city/state shape.
func parseLocation(location string) (city, state, zip string, ok bool) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", "", "", false
	}
	parts := strings.SplitN(location, ",", 2)
	if len(parts) != 2 {
		return "", "", "", false
	}

	city = strings.TrimSpace(parts[0])
	state = strings.TrimSpace(parts[1])
	if fields := strings.Fields(state); len(fields) > 1 {
		if last := fields[len(fields)-1]; zipPattern.MatchString(last) {
			zip = last
			state = strings.Join(fields[:len(fields)-1], " ")
		}
	}
	return city, state, zip, true
}

// normalizeState maps a full state name to its postal abbreviation,
// leaving anything already abbreviation-shaped (or unrecognized) alone.
func normalizeState(state string) string {
	if abbr, ok := stateAbbreviations[strings.ToLower(state)]; ok {
		return abbr
	}
	if len(state) == 2 {
		return strings.ToUpper(state)
	}
	return state
}
