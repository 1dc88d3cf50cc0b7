package httptransport

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"openconsent/internal/consent/cache"
	consentmetrics "openconsent/internal/consent/metrics"
	"openconsent/internal/consent/publisher"
	"openconsent/internal/consent/service"
	"openconsent/internal/eventstore"
	"openconsent/internal/participant"
	"openconsent/internal/platform/crypto"
	"openconsent/internal/projection"
	projectionmetrics "openconsent/internal/projection/metrics"
	"openconsent/pkg/platform/audit"
)

type HandlerSuite struct {
	suite.Suite
	ctx       context.Context
	bus       *publisher.Recorder
	views     *projection.Memory
	projector *projection.Projector
	server    *httptest.Server
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctx = context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	key := hex.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	box, err := crypto.NewBox(key)
	s.Require().NoError(err)

	store := eventstore.NewMemory(box)
	repo := eventstore.NewConsentRepository(store, logger)
	directory := participant.NewMemoryDirectory()
	directory.Register(participant.Participant{ID: "bank-a", LegalName: "Bank A", Role: "data_receiver"})
	s.bus = &publisher.Recorder{}
	auditPub := audit.NewPublisher(64, logger)

	svc := service.New(service.Deps{
		Repository: repo,
		Store:      store,
		Directory:  directory,
		Cache:      cache.NewMemory(),
		Bus:        s.bus,
		Audit:      auditPub,
		Metrics:    consentmetrics.New(prometheus.NewRegistry()),
		Logger:     logger,
	})

	s.views = projection.NewMemory()
	s.projector = projection.New(s.views, store, auditPub,
		projectionmetrics.New(prometheus.NewRegistry()), logger)

	handler := NewHandler(svc, s.views, s.projector, logger)
	router := NewRouter(handler, map[string]Health{
		"eventstore": func() error { return nil },
	})
	s.server = httptest.NewServer(router)
	s.T().Cleanup(s.server.Close)
}

func (s *HandlerSuite) do(method, path string, body any) *http.Response {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequestWithContext(s.ctx, method, s.server.URL+path, &buf)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.server.Client().Do(req)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (s *HandlerSuite) decode(resp *http.Response, into any) {
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(into))
}

func (s *HandlerSuite) createConsent() consentResponse {
	resp := s.do(http.MethodPost, "/consents", map[string]any{
		"customer_id":    "cust-1",
		"participant_id": "bank-a",
		"scopes":         []string{"ACCOUNT_INFO"},
		"purpose":        "account_aggregation",
	})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)

	var created consentResponse
	s.decode(resp, &created)
	return created
}

// projectAll feeds everything the service published into the read model.
func (s *HandlerSuite) projectAll() {
	for _, env := range append(s.bus.Events, s.bus.Revocations...) {
		s.Require().NoError(s.projector.Apply(s.ctx, env))
	}
}

func (s *HandlerSuite) TestCreateConsent() {
	created := s.createConsent()
	s.Equal("PENDING", created.Status)
	s.Equal("cust-1", created.CustomerID)
	s.Equal(int64(1), created.Version)
	s.WithinDuration(time.Now().Add(90*24*time.Hour), created.ExpiresAt, time.Hour)
}

func (s *HandlerSuite) TestCreateConsentRejections() {
	s.Run("malformed body", func() {
		req, err := http.NewRequestWithContext(s.ctx, http.MethodPost,
			s.server.URL+"/consents", bytes.NewBufferString("{not json"))
		s.Require().NoError(err)
		resp, err := s.server.Client().Do(req)
		s.Require().NoError(err)
		defer resp.Body.Close()
		s.Equal(http.StatusBadRequest, resp.StatusCode)
	})

	s.Run("unknown participant", func() {
		resp := s.do(http.MethodPost, "/consents", map[string]any{
			"customer_id":    "cust-1",
			"participant_id": "ghost",
			"scopes":         []string{"ACCOUNT_INFO"},
			"purpose":        "account_aggregation",
		})
		s.Equal(http.StatusBadGateway, resp.StatusCode)

		var body errorResponse
		s.decode(resp, &body)
		s.Equal("participant_validation_failed", body.Error)
	})
}

func (s *HandlerSuite) TestGetConsent() {
	created := s.createConsent()

	resp := s.do(http.MethodGet, "/consents/"+created.ConsentID, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var got consentResponse
	s.decode(resp, &got)
	s.Equal(created.ConsentID, got.ConsentID)

	s.Run("malformed id", func() {
		resp := s.do(http.MethodGet, "/consents/not-a-uuid", nil)
		s.Equal(http.StatusBadRequest, resp.StatusCode)
	})

	s.Run("unknown id", func() {
		resp := s.do(http.MethodGet, "/consents/00000000-0000-4000-8000-000000000001", nil)
		s.Equal(http.StatusNotFound, resp.StatusCode)
	})
}

func (s *HandlerSuite) TestLifecycleEndpoints() {
	created := s.createConsent()
	base := "/consents/" + created.ConsentID

	resp := s.do(http.MethodPost, base+"/authorize", map[string]string{"method": "SCA"})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var authorized consentResponse
	s.decode(resp, &authorized)
	s.Equal("AUTHORIZED", authorized.Status)
	s.NotNil(authorized.AuthorizedAt)

	resp = s.do(http.MethodPost, base+"/usages", map[string]string{
		"scope":      "ACCOUNT_INFO",
		"user_agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0.0.0",
	})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var used consentResponse
	s.decode(resp, &used)
	s.Equal(1, used.UsageCount)

	resp = s.do(http.MethodPost, base+"/revoke", map[string]string{
		"reason": "customer request", "revoked_by": "cust-1",
	})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var revoked consentResponse
	s.decode(resp, &revoked)
	s.Equal("REVOKED", revoked.Status)

	s.Run("second revoke conflicts", func() {
		resp := s.do(http.MethodPost, base+"/revoke", map[string]string{"reason": "again"})
		s.Equal(http.StatusConflict, resp.StatusCode)

		var body errorResponse
		s.decode(resp, &body)
		s.Equal("already_revoked", body.Error)
	})

	s.Run("usage after revocation conflicts", func() {
		resp := s.do(http.MethodPost, base+"/usages", map[string]string{"scope": "ACCOUNT_INFO"})
		s.Equal(http.StatusConflict, resp.StatusCode)
	})
}

func (s *HandlerSuite) TestListConsents() {
	created := s.createConsent()
	s.projectAll()

	resp := s.do(http.MethodGet, "/consents?customer_id=cust-1", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var body struct {
		Consents []consentResponse `json:"consents"`
	}
	s.decode(resp, &body)
	s.Require().Len(body.Consents, 1)
	s.Equal(created.ConsentID, body.Consents[0].ConsentID)

	s.Run("filter is required", func() {
		resp := s.do(http.MethodGet, "/consents", nil)
		s.Equal(http.StatusBadRequest, resp.StatusCode)
	})
}

func (s *HandlerSuite) TestConsistencyEndpoint() {
	s.createConsent()
	s.projectAll()

	resp := s.do(http.MethodGet, "/admin/projection/consistency", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var report struct {
		Aggregates int      `json:"Aggregates"`
		Missing    []string `json:"Missing"`
	}
	s.decode(resp, &report)
	s.Equal(1, report.Aggregates)
	s.Empty(report.Missing)
}

func (s *HandlerSuite) TestRebuildEndpoint() {
	created := s.createConsent()

	// Read model intentionally empty: rebuild must fill it from the log.
	resp := s.do(http.MethodPost, "/admin/projection/rebuild", nil)
	s.Require().Equal(http.StatusNoContent, resp.StatusCode)

	view, err := s.views.GetConsent(s.ctx, created.ConsentID)
	s.Require().NoError(err)
	s.Equal(created.ConsentID, view.ConsentID)
}

func (s *HandlerSuite) TestHealth() {
	resp := s.do(http.MethodGet, "/healthz", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
}

func TestHealthReportsFailures(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := NewRouter(NewHandler(nil, nil, nil, logger), map[string]Health{
		"redis": func() error { return errors.New("connection refused") },
	})
	server := httptest.NewServer(router)
	defer server.Close()

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}
