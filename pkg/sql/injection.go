package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult describes a filter value that looks like a SQL injection attempt.
type InjectionCheckResult struct {
	Dimension   string // filter dimension the value was supplied for
	Value       string
	Fingerprint string // libinjection fingerprint of the detected pattern
}

// CheckValueForInjection uses libinjection to detect SQL injection patterns in a
// user-supplied filter value. Returns nil when the value is clean.
//
// Values are always quoted before they reach SQL; this check rejects obviously
// hostile input early so it can be logged and reported.
//
// Example:
//
//	result := CheckValueForInjection("plant", "Plant-01")
//	// result == nil
//
//	result = CheckValueForInjection("plant", "' OR '1'='1")
//	// result.Fingerprint == "s&sos" (or similar)
func CheckValueForInjection(dimension, value string) *InjectionCheckResult {
	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		Dimension:   dimension,
		Value:       value,
		Fingerprint: string(fingerprint),
	}
}

// CheckValuesForInjection checks every value and returns the ones that failed.
func CheckValuesForInjection(dimension string, values []string) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for _, v := range values {
		if r := CheckValueForInjection(dimension, v); r != nil {
			results = append(results, r)
		}
	}
	return results
}
