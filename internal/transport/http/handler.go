// Package httptransport is the thin HTTP adapter over the consent services.
// Handlers decode, delegate, and encode; every decision lives in the domain
// layer.
package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"openconsent/internal/consent/models"
	"openconsent/internal/consent/service"
	"openconsent/internal/projection"
	"openconsent/pkg/domain"
	dErrors "openconsent/pkg/domain-errors"
)

// Service is the command surface the handler delegates to.
type Service interface {
	Create(ctx context.Context, req service.CreateRequest) (*models.Consent, error)
	Authorize(ctx context.Context, req service.AuthorizeRequest) (*models.Consent, error)
	Revoke(ctx context.Context, req service.RevokeRequest) (*models.Consent, error)
	RecordUsage(ctx context.Context, req service.UsageRequest) (*models.Consent, error)
	Get(ctx context.Context, id domain.ConsentID) (*models.Consent, error)
}

// Views is the read-model surface for list queries.
type Views interface {
	ListByCustomer(ctx context.Context, customerID domain.CustomerID) ([]projection.ConsentView, error)
	ListByParticipant(ctx context.Context, participantID domain.ParticipantID) ([]projection.ConsentView, error)
	ListByStatus(ctx context.Context, status models.Status) ([]projection.ConsentView, error)
	ListUsage(ctx context.Context, consentID string) ([]projection.UsageRecord, error)
	GetParticipant(ctx context.Context, id domain.ParticipantID) (projection.ParticipantView, error)
}

// Admin exposes projection maintenance to operators.
type Admin interface {
	RebuildAll(ctx context.Context) error
	RebuildForAggregate(ctx context.Context, aggregateID string) error
	ValidateConsistency(ctx context.Context) (projection.ConsistencyReport, error)
}

// Handler handles the consent API endpoints.
type Handler struct {
	service Service
	views   Views
	admin   Admin
	logger  *slog.Logger
}

func NewHandler(svc Service, views Views, admin Admin, logger *slog.Logger) *Handler {
	return &Handler{service: svc, views: views, admin: admin, logger: logger}
}

// Register mounts the API routes.
func (h *Handler) Register(r chi.Router) {
	r.Route("/consents", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Route("/{consentID}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Post("/authorize", h.handleAuthorize)
			r.Post("/revoke", h.handleRevoke)
			r.Post("/usages", h.handleRecordUsage)
			r.Get("/usages", h.handleListUsage)
		})
	})
	r.Get("/participants/{participantID}", h.handleGetParticipant)
	r.Route("/admin/projection", func(r chi.Router) {
		r.Post("/rebuild", h.handleRebuild)
		r.Get("/consistency", h.handleConsistency)
	})
}

type createConsentRequest struct {
	CustomerID    string   `json:"customer_id"`
	ParticipantID string   `json:"participant_id"`
	Scopes        []string `json:"scopes"`
	Purpose       string   `json:"purpose"`
	ValidityDays  int      `json:"validity_days,omitempty"`
}

type consentResponse struct {
	ConsentID        string     `json:"consent_id"`
	CustomerID       string     `json:"customer_id"`
	ParticipantID    string     `json:"participant_id"`
	Scopes           []string   `json:"scopes"`
	Purpose          string     `json:"purpose"`
	Status           string     `json:"status"`
	Version          int64      `json:"version"`
	UsageCount       int        `json:"usage_count"`
	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	AuthorizedAt     *time.Time `json:"authorized_at,omitempty"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	RevocationReason string     `json:"revocation_reason,omitempty"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createConsentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	scopes := make([]domain.ConsentScope, len(req.Scopes))
	for i, s := range req.Scopes {
		scopes[i] = domain.ConsentScope(s)
	}

	consent, err := h.service.Create(ctx, service.CreateRequest{
		CustomerID:    domain.CustomerID(req.CustomerID),
		ParticipantID: domain.ParticipantID(req.ParticipantID),
		Scopes:        scopes,
		Purpose:       domain.ConsentPurpose(req.Purpose),
		ValidityDays:  req.ValidityDays,
		RequestID:     requestID(r),
	})
	if err != nil {
		h.logger.WarnContext(ctx, "consent creation rejected", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toConsentResponse(consent))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.consentID(w, r)
	if !ok {
		return
	}
	consent, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConsentResponse(consent))
}

type authorizeRequest struct {
	Method    string `json:"method"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	id, ok := h.consentID(w, r)
	if !ok {
		return
	}

	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	consent, err := h.service.Authorize(r.Context(), service.AuthorizeRequest{
		ConsentID: id,
		Context: models.AuthorizationContext{
			Method:    req.Method,
			IPAddress: req.IPAddress,
			UserAgent: req.UserAgent,
		},
		RequestID: requestID(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConsentResponse(consent))
}

type revokeRequest struct {
	Reason    string `json:"reason"`
	RevokedBy string `json:"revoked_by,omitempty"`
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	id, ok := h.consentID(w, r)
	if !ok {
		return
	}

	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	consent, err := h.service.Revoke(r.Context(), service.RevokeRequest{
		ConsentID: id,
		Reason:    req.Reason,
		RevokedBy: req.RevokedBy,
		RequestID: requestID(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConsentResponse(consent))
}

type usageRequest struct {
	Scope     string `json:"scope"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

func (h *Handler) handleRecordUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.consentID(w, r)
	if !ok {
		return
	}

	var req usageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	consent, err := h.service.RecordUsage(r.Context(), service.UsageRequest{
		ConsentID: id,
		Context: models.UsageContext{
			Scope:     domain.ConsentScope(req.Scope),
			IPAddress: req.IPAddress,
			UserAgent: req.UserAgent,
		},
		RequestID: requestID(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConsentResponse(consent))
}

// handleList serves read-model queries. Results are eventually consistent
// with the event log.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	var (
		views []projection.ConsentView
		err   error
	)
	switch {
	case query.Get("customer_id") != "":
		views, err = h.views.ListByCustomer(ctx, domain.CustomerID(query.Get("customer_id")))
	case query.Get("participant_id") != "":
		views, err = h.views.ListByParticipant(ctx, domain.ParticipantID(query.Get("participant_id")))
	case query.Get("status") != "":
		views, err = h.views.ListByStatus(ctx, models.Status(query.Get("status")))
	default:
		writeError(w, dErrors.New(dErrors.CodeBadRequest,
			"one of customer_id, participant_id or status is required"))
		return
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "consent list query failed", "error", err)
		writeError(w, dErrors.New(dErrors.CodeInternal, "query failed"))
		return
	}

	out := make([]consentResponse, len(views))
	for i, view := range views {
		out[i] = toViewResponse(view)
	}
	writeJSON(w, http.StatusOK, map[string]any{"consents": out})
}

func (h *Handler) handleListUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.consentID(w, r)
	if !ok {
		return
	}
	records, err := h.views.ListUsage(r.Context(), id.String())
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeInternal, "query failed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"usages": records})
}

func (h *Handler) handleGetParticipant(w http.ResponseWriter, r *http.Request) {
	id := domain.ParticipantID(chi.URLParam(r, "participantID"))
	p, err := h.views.GetParticipant(r.Context(), id)
	if err != nil {
		writeError(w, dErrors.Wrap(err, dErrors.CodeNotFound, "participant not found"))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) handleRebuild(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if aggregateID := r.URL.Query().Get("aggregate_id"); aggregateID != "" {
		if err := h.admin.RebuildForAggregate(ctx, aggregateID); err != nil {
			writeError(w, dErrors.Wrap(err, dErrors.CodeNotFound, "aggregate not found"))
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.admin.RebuildAll(ctx); err != nil {
		h.logger.ErrorContext(ctx, "projection rebuild failed", "error", err)
		writeError(w, dErrors.New(dErrors.CodeInternal, "rebuild failed"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleConsistency(w http.ResponseWriter, r *http.Request) {
	report, err := h.admin.ValidateConsistency(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "consistency check failed", "error", err)
		writeError(w, dErrors.New(dErrors.CodeInternal, "consistency check failed"))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) consentID(w http.ResponseWriter, r *http.Request) (domain.ConsentID, bool) {
	id, err := domain.ParseConsentID(chi.URLParam(r, "consentID"))
	if err != nil {
		writeError(w, err)
		return domain.ConsentID{}, false
	}
	return id, true
}

func requestID(r *http.Request) string {
	return r.Header.Get("X-Request-Id")
}

func toConsentResponse(c *models.Consent) consentResponse {
	resp := consentResponse{
		ConsentID:        c.ID.String(),
		CustomerID:       string(c.CustomerID),
		ParticipantID:    string(c.ParticipantID),
		Scopes:           scopeStrings(c.Scopes),
		Purpose:          string(c.Purpose),
		Status:           string(c.Status),
		Version:          c.Version(),
		UsageCount:       c.UsageCount,
		CreatedAt:        c.CreatedAt,
		ExpiresAt:        c.ExpiresAt,
		AuthorizedAt:     c.AuthorizedAt,
		RevokedAt:        c.RevokedAt,
		RevocationReason: c.RevocationReason,
	}
	return resp
}

func toViewResponse(view projection.ConsentView) consentResponse {
	return consentResponse{
		ConsentID:        view.ConsentID,
		CustomerID:       string(view.CustomerID),
		ParticipantID:    string(view.ParticipantID),
		Scopes:           scopeStrings(view.Scopes),
		Purpose:          string(view.Purpose),
		Status:           string(view.Status),
		Version:          view.Version,
		UsageCount:       view.UsageCount,
		CreatedAt:        view.CreatedAt,
		ExpiresAt:        view.ExpiresAt,
		AuthorizedAt:     view.AuthorizedAt,
		RevokedAt:        view.RevokedAt,
		RevocationReason: view.RevocationReason,
	}
}

func scopeStrings(scopes []domain.ConsentScope) []string {
	out := make([]string, len(scopes))
	for i, s := range scopes {
		out[i] = string(s)
	}
	return out
}
