// Package httpclient is the HTTP adapter for the participant directory port.
// Outbound calls carry a signed client assertion; a circuit breaker guards
// the directory so a flapping registry cannot stall consent commands.
package httpclient

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"openconsent/internal/participant"
	"openconsent/internal/platform/config"
	"openconsent/pkg/domain"
	dErrors "openconsent/pkg/domain-errors"
	"openconsent/pkg/platform/circuit"
)

// Client calls the participant directory over HTTP.
type Client struct {
	baseURL    string
	clientID   string
	signingKey []byte
	httpClient *http.Client
	breaker    *circuit.Breaker
	logger     *slog.Logger
}

// New builds a directory client from configuration.
func New(cfg config.Participant, logger *slog.Logger) (*Client, error) {
	if cfg.DirectoryURL == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "directory URL is required")
	}
	key, err := hex.DecodeString(cfg.SigningKeyHex)
	if err != nil || len(key) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "directory signing key must be non-empty hex")
	}
	return &Client{
		baseURL:    cfg.DirectoryURL,
		clientID:   cfg.ClientID,
		signingKey: key,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		breaker: circuit.New("participant-directory",
			circuit.WithFailureThreshold(5),
			circuit.WithSuccessThreshold(2)),
		logger: logger,
	}, nil
}

type validationResponse struct {
	ParticipantID string `json:"participant_id"`
	Valid         bool   `json:"valid"`
	Reason        string `json:"reason,omitempty"`
}

// Validate asks the directory whether the participant is registered and in
// good standing.
//
// Errors: CodeParticipantValidation when the directory is unreachable, times
// out, or the breaker is open. The verdict itself travels in the result, not
// the error.
func (c *Client) Validate(ctx context.Context, id domain.ParticipantID) (participant.ValidationResult, error) {
	if c.breaker.IsOpen() {
		return participant.ValidationResult{}, dErrors.New(dErrors.CodeParticipantValidation,
			"participant directory circuit open")
	}

	assertion, err := c.clientAssertion()
	if err != nil {
		return participant.ValidationResult{}, dErrors.Wrap(err, dErrors.CodeInternal,
			"sign directory client assertion")
	}

	url := fmt.Sprintf("%s/participants/%s/validate", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return participant.ValidationResult{}, dErrors.Wrap(err, dErrors.CodeInternal,
			"build directory request")
	}
	req.Header.Set("Authorization", "Bearer "+assertion)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordFailure()
		return participant.ValidationResult{}, dErrors.Wrap(err, dErrors.CodeParticipantValidation,
			"participant directory unreachable")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		c.recordSuccess()
		return participant.ValidationResult{
			ParticipantID: id,
			Valid:         false,
			Reason:        "participant not registered",
			ValidatedAt:   time.Now().UTC(),
		}, nil
	default:
		c.recordFailure()
		return participant.ValidationResult{}, dErrors.Newf(dErrors.CodeParticipantValidation,
			"participant directory returned status %d", resp.StatusCode)
	}

	var body validationResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.recordFailure()
		return participant.ValidationResult{}, dErrors.Wrap(err, dErrors.CodeParticipantValidation,
			"decode directory response")
	}
	c.recordSuccess()

	return participant.ValidationResult{
		ParticipantID: id,
		Valid:         body.Valid,
		Reason:        body.Reason,
		ValidatedAt:   time.Now().UTC(),
	}, nil
}

type revocationNoticeBody struct {
	ConsentID string    `json:"consent_id"`
	Reason    string    `json:"reason,omitempty"`
	RevokedAt time.Time `json:"revoked_at"`
}

// NotifyRevoked posts a revocation notice to the participant's callback
// endpoint at the directory. The revocation is already committed when this
// runs, so failures are reported to the caller but never retried here.
func (c *Client) NotifyRevoked(ctx context.Context, id domain.ParticipantID, notice participant.RevocationNotice) error {
	if c.breaker.IsOpen() {
		return dErrors.New(dErrors.CodeUnavailable, "participant directory circuit open")
	}

	assertion, err := c.clientAssertion()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "sign directory client assertion")
	}

	body, err := json.Marshal(revocationNoticeBody{
		ConsentID: notice.ConsentID.String(),
		Reason:    notice.Reason,
		RevokedAt: notice.RevokedAt,
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "encode revocation notice")
	}

	url := fmt.Sprintf("%s/participants/%s/revocations", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "build directory request")
	}
	req.Header.Set("Authorization", "Bearer "+assertion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordFailure()
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "participant directory unreachable")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		c.recordSuccess()
		return nil
	default:
		c.recordFailure()
		return dErrors.Newf(dErrors.CodeUnavailable,
			"participant directory returned status %d for revocation notice", resp.StatusCode)
	}
}

// clientAssertion signs a short-lived token identifying this service to the
// directory.
func (c *Client) clientAssertion() (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    c.clientID,
		Subject:   c.clientID,
		Audience:  jwt.ClaimStrings{c.baseURL},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	})
	return token.SignedString(c.signingKey)
}

func (c *Client) recordFailure() {
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.Warn("participant directory circuit opened")
	}
}

func (c *Client) recordSuccess() {
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.Info("participant directory circuit closed")
	}
}
