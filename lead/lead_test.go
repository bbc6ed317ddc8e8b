package lead_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scrapeshifter/goldenrecord/lead"
)

func TestResolveNamePrefersExistingName(t *testing.T) {
	r := lead.New(map[string]any{"name": "Jane Doe", "fullName": "Janet Doerr"})
	lead.ResolveName(r)
	require.Equal(t, "Jane Doe", r.String(lead.KeyName))
}

func TestResolveNameFallsBackToFullName(t *testing.T) {
	r := lead.New(map[string]any{"fullName": "Jane Doe"})
	lead.ResolveName(r)
	require.Equal(t, "Jane Doe", r.String(lead.KeyName))
}

func TestResolveNameJoinsFirstAndLast(t *testing.T) {
	r := lead.New(map[string]any{"firstName": "Jane", "lastName": "Doe"})
	lead.ResolveName(r)
	require.Equal(t, "Jane Doe", r.String(lead.KeyName))
}

func TestResolveNameLeavesNamelessRecordAlone(t *testing.T) {
	r := lead.New(map[string]any{"company": "Acme"})
	lead.ResolveName(r)
	require.False(t, r.Has(lead.KeyName))
}

func TestNewCopiesTheCallerMap(t *testing.T) {
	src := map[string]any{"name": "Jane Doe"}
	r := lead.New(src)
	r["name"] = "overwritten"
	require.Equal(t, "Jane Doe", src["name"])
}

func TestMergeOverwritesIncludingNil(t *testing.T) {
	r := lead.New(map[string]any{"phone": "5125550100", "city": "Austin"})
	r.Merge(map[string]any{"phone": nil, "state": "TX"})
	require.False(t, r.Has("phone"))
	require.Equal(t, "TX", r.String("state"))
	require.Equal(t, "Austin", r.String("city"))
}

func TestFloatCoercesNumericTypes(t *testing.T) {
	r := lead.New(map[string]any{"age": 45, "income": 120000.5, "count": int64(3)})
	for key, want := range map[string]float64{"age": 45, "income": 120000.5, "count": 3} {
		got, ok := r.Float(key)
		require.True(t, ok, key)
		require.Equal(t, want, got, key)
	}
	_, ok := r.Float("missing")
	require.False(t, ok)
}

func TestIsHighValueNeedsBothCompanyAndTitle(t *testing.T) {
	require.True(t, lead.IsHighValue(lead.New(map[string]any{"company": "Acme", "title": "VP"})))
	require.False(t, lead.IsHighValue(lead.New(map[string]any{"company": "Acme"})))
	require.False(t, lead.IsHighValue(lead.New(map[string]any{"company": "Acme", "title": "  "})))
}
