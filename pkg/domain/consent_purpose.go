package domain

import dErrors "openconsent/pkg/domain-errors"

// ConsentPurpose is a domain value that identifies why data is shared.
// Invariant: the value must be one of the supported consent purposes.
//
// Usage: construct via ParseConsentPurpose at trust boundaries to enforce the
// allowlist; direct casting bypasses validation.
type ConsentPurpose string

// Supported consent purposes.
const (
	PurposeAccountAggregation ConsentPurpose = "account_aggregation"
	PurposeLoanApplication    ConsentPurpose = "loan_application"
	PurposePaymentInitiation  ConsentPurpose = "payment_initiation"
	PurposeCreditAssessment   ConsentPurpose = "credit_assessment"
)

// validConsentPurposes is the single source of truth for valid purposes.
var validConsentPurposes = map[ConsentPurpose]bool{
	PurposeAccountAggregation: true,
	PurposeLoanApplication:    true,
	PurposePaymentInitiation:  true,
	PurposeCreditAssessment:   true,
}

// recommendedValidityDays drives the default expiry window per purpose when a
// creation request does not carry an explicit validity.
var recommendedValidityDays = map[ConsentPurpose]int{
	PurposeAccountAggregation: 90,
	PurposeLoanApplication:    30,
	PurposePaymentInitiation:  1,
	PurposeCreditAssessment:   30,
}

// MaxValidityDays caps the validity window of any consent regardless of the
// requested duration.
const MaxValidityDays = 90

// ParseConsentPurpose constructs a ConsentPurpose from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported.
func ParseConsentPurpose(s string) (ConsentPurpose, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "purpose cannot be empty")
	}
	p := ConsentPurpose(s)
	if !p.IsValid() {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unsupported purpose %q", s)
	}
	return p, nil
}

// IsValid checks if the consent purpose is one of the supported enum values.
func (p ConsentPurpose) IsValid() bool {
	return validConsentPurposes[p]
}

// RecommendedValidityDays returns the default validity window for the purpose.
func (p ConsentPurpose) RecommendedValidityDays() int {
	if d, ok := recommendedValidityDays[p]; ok {
		return d
	}
	return 30
}

// String returns the string representation of the purpose.
func (p ConsentPurpose) String() string {
	return string(p)
}
