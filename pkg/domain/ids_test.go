package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "openconsent/pkg/domain-errors"
)

// TestParseConsentID_Invariants validates the parsing invariant:
// consent IDs must be valid, non-empty, non-nil UUIDs.
func TestParseConsentID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseConsentID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseConsentID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseConsentID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		valid := uuid.New()
		id, err := ParseConsentID(valid.String())
		require.NoError(t, err)
		assert.Equal(t, ConsentID(valid), id)
		assert.False(t, id.IsNil())
	})
}

func TestParseCustomerAndParticipantIDs(t *testing.T) {
	t.Run("trims whitespace", func(t *testing.T) {
		id, err := ParseCustomerID("  CUST-123  ")
		require.NoError(t, err)
		assert.Equal(t, CustomerID("CUST-123"), id)
	})

	t.Run("rejects blank customer id", func(t *testing.T) {
		_, err := ParseCustomerID("   ")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects blank participant id", func(t *testing.T) {
		_, err := ParseParticipantID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func TestParseConsentScopes(t *testing.T) {
	t.Run("rejects empty set", func(t *testing.T) {
		_, err := ParseConsentScopes(nil)
		require.Error(t, err)
	})

	t.Run("rejects unknown scope", func(t *testing.T) {
		_, err := ParseConsentScopes([]string{"ACCOUNT_INFO", "NOT_A_SCOPE"})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("deduplicates and sorts", func(t *testing.T) {
		scopes, err := ParseConsentScopes([]string{
			"TRANSACTION_HISTORY", "ACCOUNT_INFO", "TRANSACTION_HISTORY",
		})
		require.NoError(t, err)
		assert.Equal(t, []ConsentScope{ScopeAccountInfo, ScopeTransactionHistory}, scopes)
	})
}

func TestConsentPurpose(t *testing.T) {
	t.Run("parse rejects unsupported", func(t *testing.T) {
		_, err := ParseConsentPurpose("marketing")
		require.Error(t, err)
	})

	t.Run("recommended validity per purpose", func(t *testing.T) {
		assert.Equal(t, 1, PurposePaymentInitiation.RecommendedValidityDays())
		assert.Equal(t, 30, PurposeLoanApplication.RecommendedValidityDays())
		assert.Equal(t, 90, PurposeAccountAggregation.RecommendedValidityDays())
	})
}
