package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/auth"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/models"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/services"
)

// mockQueryService implements services.QueryService for handler tests.
type mockQueryService struct {
	askResp      *services.AskResponse
	askErr       error
	validateResp *services.ValidateSQLResponse
	validateErr  error

	lastAsk      *services.AskRequest
	lastValidate *services.ValidateSQLRequest
}

func (m *mockQueryService) Ask(_ context.Context, req *services.AskRequest) (*services.AskResponse, error) {
	m.lastAsk = req
	return m.askResp, m.askErr
}

func (m *mockQueryService) ValidateSQL(_ context.Context, req *services.ValidateSQLRequest) (*services.ValidateSQLResponse, error) {
	m.lastValidate = req
	return m.validateResp, m.validateErr
}

// mockClassifier implements services.QuestionClassifier.
type mockClassifier struct {
	result   *models.ClassificationResult
	lastText string
	lastMode string
}

func (m *mockClassifier) Classify(text, mode string) *models.ClassificationResult {
	m.lastText, m.lastMode = text, mode
	return m.result
}

// mockAuthService authenticates every request as claims, or fails when claims is nil.
type mockAuthService struct {
	claims *auth.Claims
}

func (m *mockAuthService) ValidateRequest(_ *http.Request) (*auth.Claims, string, error) {
	if m.claims == nil {
		return nil, "", auth.ErrMissingAuthorization
	}
	return m.claims, "test-token", nil
}

// mockSchema implements SchemaRefresher.
type mockSchema struct {
	loaded     bool
	loadedAt   time.Time
	tables     []string
	refreshErr error
	refreshed  int
}

func (m *mockSchema) Loaded() bool         { return m.loaded }
func (m *mockSchema) LoadedAt() time.Time  { return m.loadedAt }
func (m *mockSchema) TableNames() []string { return m.tables }

func (m *mockSchema) Refresh(_ context.Context) error {
	m.refreshed++
	if m.refreshErr != nil {
		return m.refreshErr
	}
	m.loaded = true
	return nil
}

func testClaims(subject string, roles ...string) *auth.Claims {
	return &auth.Claims{
		RegisteredClaims:  jwt.RegisteredClaims{Subject: subject},
		PreferredUsername: subject,
		Roles:             roles,
	}
}

// withUser returns req with claims for subject in its context.
func withUser(req *http.Request, subject string) *http.Request {
	return req.WithContext(auth.WithClaims(req.Context(), testClaims(subject), "test-token"))
}
