package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckValueForInjection(t *testing.T) {
	tests := []struct {
		name            string
		value           string
		expectInjection bool
	}{
		// Clean values - should pass
		{name: "plant code", value: "PLANT01", expectInjection: false},
		{name: "planning area with spaces", value: "North America", expectInjection: false},
		{name: "scenario name", value: "Base Plan 2026", expectInjection: false},
		{name: "apostrophe in name", value: "O'Brien", expectInjection: false},

		// Injection attempts - should be caught
		{name: "tautology", value: "' OR '1'='1", expectInjection: true},
		{name: "stacked statement", value: "'; DROP TABLE users--", expectInjection: true},
		{name: "union select", value: "1 UNION SELECT * FROM passwords", expectInjection: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CheckValueForInjection("plant", tt.value)
			if !tt.expectInjection {
				assert.Nil(t, result)
				return
			}
			require.NotNil(t, result)
			assert.Equal(t, "plant", result.Dimension)
			assert.Equal(t, tt.value, result.Value)
			assert.NotEmpty(t, result.Fingerprint)
		})
	}
}

func TestCheckValuesForInjection(t *testing.T) {
	results := CheckValuesForInjection("scenario", []string{"Base", "' OR '1'='1", "Stretch"})
	require.Len(t, results, 1)
	assert.Equal(t, "' OR '1'='1", results[0].Value)

	assert.Empty(t, CheckValuesForInjection("scenario", nil))
}
