package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetField(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected string
		stored   bool
	}{
		{"Trimmed", "  250g  ", "250g", true},
		{"Whitespace only", "   \t ", "", false},
		{"Empty", "", "", false},
		{"Truncated", strings.Repeat("a", 250), strings.Repeat("a", MaxFieldLength), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewProductRecord("https://example.com/p", "generic")
			ok, err := r.SetField(FieldNetQuantity, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.stored, ok)

			v, present, err := r.Field(FieldNetQuantity)
			require.NoError(t, err)
			assert.Equal(t, tt.stored, present)
			assert.Equal(t, tt.expected, v)
		})
	}
}

func TestSetFieldUnknown(t *testing.T) {
	r := NewProductRecord("https://example.com/p", "generic")

	_, err := r.SetField("brand", "Acme")
	assert.ErrorIs(t, err, ErrUnknownField)

	_, _, err = r.Field("brand")
	assert.ErrorIs(t, err, ErrUnknownField)

	assert.False(t, IsKnownField("brand"))
	for _, f := range Fields {
		assert.True(t, IsKnownField(f), f)
	}
}

func TestSetFieldIfAbsent(t *testing.T) {
	r := NewProductRecord("https://example.com/p", "generic")

	ok, err := r.SetFieldIfAbsent(FieldMRP, "Rs. 50")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.SetFieldIfAbsent(FieldMRP, "Rs. 99")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "Rs. 50", *r.MRP)
}

func TestClone(t *testing.T) {
	r := NewProductRecord("https://example.com/p", "generic")
	_, _ = r.SetField(FieldGenericName, "Tea")
	r.ImageURLs = append(r.ImageURLs, "https://example.com/a.jpg")

	c := r.Clone()
	_, _ = c.SetField(FieldGenericName, "Coffee")
	c.ImageURLs[0] = "changed"

	assert.Equal(t, "Tea", *r.GenericName)
	assert.Equal(t, "https://example.com/a.jpg", r.ImageURLs[0])
}

func TestApplyReport(t *testing.T) {
	report := &ValidationReport{
		OverallStatus:   StatusViolation,
		TotalRules:      10,
		ViolationsCount: 3,
		RuleResults: []RuleResult{
			{RuleID: "A", Violated: true, Details: "mrp missing"},
			{RuleID: "B", Violated: false},
			{RuleID: "C", Violated: true, Details: "x"},
			{RuleID: "D", Violated: true, Details: "y"},
		},
	}

	r := NewProductRecord("https://example.com/p", "generic")
	r.ApplyReport(report)

	assert.Equal(t, StatusViolation, r.ComplianceStatus)
	assert.Equal(t, 70.0, r.ComplianceScore)
	assert.Equal(t, []string{"A: mrp missing", "C: x", "D: y"}, r.IssuesFound)
}

func TestScore(t *testing.T) {
	assert.Equal(t, 100.0, (&ValidationReport{}).Score())
	assert.Equal(t, 66.67, (&ValidationReport{TotalRules: 3, ViolationsCount: 1}).Score())
	assert.Equal(t, 0.0, (&ValidationReport{TotalRules: 2, ViolationsCount: 2}).Score())
}
