package domain

import (
	"sort"

	dErrors "openconsent/pkg/domain-errors"
)

// ConsentScope names a category of customer data a participant may access.
// Invariant: the value must be one of the supported scopes.
//
// Usage: construct via ParseConsentScope at trust boundaries to enforce the
// allowlist; direct casting bypasses validation.
type ConsentScope string

// Supported data-sharing scopes.
const (
	ScopeAccountInfo        ConsentScope = "ACCOUNT_INFO"
	ScopeTransactionHistory ConsentScope = "TRANSACTION_HISTORY"
	ScopeBalances           ConsentScope = "BALANCES"
	ScopeDirectDebits       ConsentScope = "DIRECT_DEBITS"
	ScopeStandingOrders     ConsentScope = "STANDING_ORDERS"
	ScopePartyDetails       ConsentScope = "PARTY_DETAILS"
)

// validConsentScopes is the single source of truth for valid scopes.
var validConsentScopes = map[ConsentScope]bool{
	ScopeAccountInfo:        true,
	ScopeTransactionHistory: true,
	ScopeBalances:           true,
	ScopeDirectDebits:       true,
	ScopeStandingOrders:     true,
	ScopePartyDetails:       true,
}

// ParseConsentScope constructs a ConsentScope from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported.
func ParseConsentScope(s string) (ConsentScope, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "scope cannot be empty")
	}
	scope := ConsentScope(s)
	if !scope.IsValid() {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unsupported scope %q", s)
	}
	return scope, nil
}

// ParseConsentScopes parses a set of scopes, rejecting empty sets and
// duplicates collapsing silently. The result is sorted for deterministic
// serialization.
func ParseConsentScopes(values []string) ([]ConsentScope, error) {
	if len(values) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "at least one scope is required")
	}
	seen := make(map[ConsentScope]bool, len(values))
	scopes := make([]ConsentScope, 0, len(values))
	for _, v := range values {
		scope, err := ParseConsentScope(v)
		if err != nil {
			return nil, err
		}
		if seen[scope] {
			continue
		}
		seen[scope] = true
		scopes = append(scopes, scope)
	}
	sort.Slice(scopes, func(i, j int) bool { return scopes[i] < scopes[j] })
	return scopes, nil
}

// IsValid checks if the scope is one of the supported enum values.
func (s ConsentScope) IsValid() bool {
	return validConsentScopes[s]
}

// String returns the string representation of the scope.
func (s ConsentScope) String() string {
	return string(s)
}
