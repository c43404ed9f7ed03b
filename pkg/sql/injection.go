package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult describes a bound value that matched a SQL injection
// fingerprint. Values are always bound parameters, so a match never changes
// query results; callers log it for audit.
type InjectionCheckResult struct {
	Fingerprint string
	Value       string
}

// CheckValueForInjection screens one bound value with libinjection. Only
// string values are checked; other types cannot carry injection patterns.
// Returns nil when the value is clean.
func CheckValueForInjection(value any) *InjectionCheckResult {
	strValue, ok := value.(string)
	if !ok {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(strValue)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		Fingerprint: string(fingerprint),
		Value:       strValue,
	}
}

// ScreenArgs screens every bound argument of a predicate and returns the
// suspicious ones. An empty result means all values were clean.
func ScreenArgs(args []any) []InjectionCheckResult {
	var results []InjectionCheckResult
	for _, arg := range args {
		if r := CheckValueForInjection(arg); r != nil {
			results = append(results, *r)
		}
	}
	return results
}
