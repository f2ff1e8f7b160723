package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/taskfoundry/aigov/internal/config"
	"github.com/taskfoundry/aigov/internal/decisionlog"
	apihttp "github.com/taskfoundry/aigov/internal/http"
	"github.com/taskfoundry/aigov/internal/models"
	"github.com/taskfoundry/aigov/internal/quota"
	"github.com/taskfoundry/aigov/internal/security"
	"github.com/taskfoundry/aigov/internal/settings"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testJWTSecret = "admin-test-secret"

type adminAPIEnv struct {
	db     *gorm.DB
	store  *quota.Store
	router *gin.Engine
	token  string
}

func setupAdminAPI(t *testing.T) *adminAPIEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:adminapi_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	errMigrate := db.AutoMigrate(
		&models.Admin{}, &models.Organization{}, &models.Quota{}, &models.QuotaArchive{},
		&models.Decision{}, &models.Execution{}, &models.AgentKey{}, &models.Setting{},
	)
	if errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}

	hash, errHash := security.HashPassword("hunter22aa")
	if errHash != nil {
		t.Fatalf("hash password: %v", errHash)
	}
	admin := models.Admin{Username: "root", PasswordHash: hash}
	if errCreate := db.Create(&admin).Error; errCreate != nil {
		t.Fatalf("create admin: %v", errCreate)
	}

	jwtCfg := config.JWTConfig{Secret: testJWTSecret, ExpiryHours: 1}
	store := quota.NewStore(db)
	decisions := decisionlog.NewLog(db)

	router := gin.New()
	auth := NewAuthHandler(db, jwtCfg)
	orgs := NewOrganizationHandler(db, store)
	quotas := NewQuotaHandler(db, store)
	settingsHandler := NewSettingsHandler(db)
	decisionHandler := NewDecisionHandler(decisions)
	keys := NewAgentKeyHandler(db)
	report := NewUsageReportHandler(db, store)

	group := router.Group("/admin")
	group.POST("/login", auth.Login)
	authed := group.Group("")
	authed.Use(apihttp.AdminAuthMiddleware(jwtCfg.Secret))
	authed.POST("/organizations", orgs.Create)
	authed.GET("/organizations", orgs.List)
	authed.GET("/organizations/:id", orgs.Get)
	authed.PUT("/quotas/:id/tier", quotas.UpdateTier)
	authed.GET("/quotas", quotas.List)
	authed.GET("/usage/report", report.Report)
	authed.GET("/decisions", decisionHandler.List)
	authed.POST("/agent-keys", keys.Create)
	authed.PUT("/settings", settingsHandler.Update)

	token, errToken := security.GenerateAdminToken(testJWTSecret, admin.ID, admin.Username, time.Hour)
	if errToken != nil {
		t.Fatalf("issue token: %v", errToken)
	}

	return &adminAPIEnv{db: db, store: store, router: router, token: token}
}

func (env *adminAPIEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var raw []byte
	if body != nil {
		var errMarshal error
		raw, errMarshal = json.Marshal(body)
		if errMarshal != nil {
			t.Fatalf("marshal body: %v", errMarshal)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Authorization", "Bearer "+env.token)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func TestLoginIssuesToken(t *testing.T) {
	env := setupAdminAPI(t)

	body, _ := json.Marshal(gin.H{"username": "root", "password": "hunter22aa"})
	req := httptest.NewRequest(http.MethodPost, "/admin/login", bytes.NewReader(body))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	var resp struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expires_in"`
		Admin     struct {
			Username string `json:"username"`
		} `json:"admin"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &resp); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if resp.Token == "" || resp.Admin.Username != "root" || resp.ExpiresIn != 3600 {
		t.Fatalf("unexpected login response: %+v", resp)
	}

	// The issued token must be accepted by the middleware.
	req = httptest.NewRequest(http.MethodGet, "/admin/quotas", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with fresh token, got %d", w.Code)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	env := setupAdminAPI(t)

	body, _ := json.Marshal(gin.H{"username": "root", "password": "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/admin/login", bytes.NewReader(body))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	env := setupAdminAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/quotas", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/quotas", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage token, got %d", w.Code)
	}
}

func TestCreateOrganizationProvisionsQuota(t *testing.T) {
	env := setupAdminAPI(t)

	w := env.do(t, http.MethodPost, "/admin/organizations", gin.H{
		"name": "Acme Corp",
		"slug": "ACME",
		"tier": "premium",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", w.Code, w.Body.String())
	}
	var resp struct {
		Organization struct {
			ID   uint64 `json:"id"`
			Slug string `json:"slug"`
		} `json:"organization"`
		Quota struct {
			ID   uint64 `json:"id"`
			Tier string `json:"tier"`
		} `json:"quota"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &resp); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if resp.Organization.Slug != "acme" {
		t.Fatalf("slug must be lowercased, got %q", resp.Organization.Slug)
	}
	if resp.Quota.ID == 0 || resp.Quota.Tier != quota.TierPremium {
		t.Fatalf("quota not provisioned: %+v", resp.Quota)
	}

	// Duplicate slug is a conflict, not a 500.
	w = env.do(t, http.MethodPost, "/admin/organizations", gin.H{"name": "Other", "slug": "acme"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate slug, got %d (%s)", w.Code, w.Body.String())
	}
}

func TestUpdateTierValidatesCustomLimits(t *testing.T) {
	env := setupAdminAPI(t)
	row, errEnsure := env.store.EnsureForOrganization(nil, 1, quota.TierFree)
	if errEnsure != nil {
		t.Fatalf("ensure quota: %v", errEnsure)
	}

	path := fmt.Sprintf("/admin/quotas/%d/tier", row.ID)

	// Partial custom limits are rejected.
	w := env.do(t, http.MethodPut, path, gin.H{"tier": "custom", "max_requests": 100})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for partial limits, got %d", w.Code)
	}

	// Custom without limits is rejected by the store.
	w = env.do(t, http.MethodPut, path, gin.H{"tier": "custom"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for custom without limits, got %d", w.Code)
	}

	w = env.do(t, http.MethodPut, path, gin.H{
		"tier":            "custom",
		"max_requests":    100,
		"max_tokens":      50000,
		"max_cost_micros": 2000000,
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d (%s)", w.Code, w.Body.String())
	}

	got, errGet := env.store.Get(nil, row.ID)
	if errGet != nil {
		t.Fatalf("get quota: %v", errGet)
	}
	if got.Tier != quota.TierCustom || got.MaxRequests != 100 || got.MaxTokens != 50000 {
		t.Fatalf("limits not applied: %+v", got)
	}

	// Unknown quota is a 404.
	w = env.do(t, http.MethodPut, "/admin/quotas/9999/tier", gin.H{"tier": "premium"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestUpdateSettingsRefreshesSnapshot(t *testing.T) {
	env := setupAdminAPI(t)
	t.Cleanup(func() {
		settings.Store(time.Time{}, map[string]json.RawMessage{})
	})

	w := env.do(t, http.MethodPut, "/admin/settings", gin.H{
		"values": gin.H{
			settings.ExportPageSizeKey: 250,
		},
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d (%s)", w.Code, w.Body.String())
	}
	if got := settings.IntValue(settings.ExportPageSizeKey, 0); got != 250 {
		t.Fatalf("snapshot not refreshed: got %d", got)
	}

	// Broken JSON must be rejected before anything is written. The body is
	// assembled by hand; a marshalled map could never carry invalid JSON.
	raw := []byte(`{"values":{"` + settings.RecordOnFailureKey + `":{broken}}`)
	req := httptest.NewRequest(http.MethodPut, "/admin/settings", bytes.NewReader(raw))
	req.Header.Set("Authorization", "Bearer "+env.token)
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid value, got %d", w.Code)
	}
	if got := settings.BoolValue(settings.RecordOnFailureKey, false); got {
		t.Fatalf("rejected update must not reach the snapshot")
	}
}

func TestCreateAgentKeyReturnsPlaintextOnce(t *testing.T) {
	env := setupAdminAPI(t)
	org := models.Organization{Name: "Acme", Slug: "acme", IsEnabled: true}
	if errCreate := env.db.Create(&org).Error; errCreate != nil {
		t.Fatalf("create org: %v", errCreate)
	}

	w := env.do(t, http.MethodPost, "/admin/agent-keys", gin.H{
		"organization_id": org.ID,
		"name":            "ci",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", w.Code, w.Body.String())
	}
	var resp struct {
		ID  uint64 `json:"id"`
		Key string `json:"key"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &resp); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if resp.ID == 0 || resp.Key == "" {
		t.Fatalf("expected plaintext key at creation, got %+v", resp)
	}

	// Unknown organizations cannot get keys.
	w = env.do(t, http.MethodPost, "/admin/agent-keys", gin.H{"organization_id": 999, "name": "ci"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown org, got %d", w.Code)
	}
}

func TestUsageReportAggregatesPeriodAndDecisions(t *testing.T) {
	env := setupAdminAPI(t)
	row, errEnsure := env.store.EnsureForOrganization(nil, 1, quota.TierStandard)
	if errEnsure != nil {
		t.Fatalf("ensure quota: %v", errEnsure)
	}
	errApply := env.store.ApplyUsage(nil, row.ID, quota.UsageDelta{
		Requests: 2, Tokens: 300, CostMicros: 7000, Decisions: 2,
		AgentKind: "Product", DecisionKind: "create_task",
	})
	if errApply != nil {
		t.Fatalf("apply usage: %v", errApply)
	}

	decisions := decisionlog.NewLog(env.db)
	for i := 0; i < 2; i++ {
		_, errAppend := decisions.Append(nil, decisionlog.Entry{
			OrganizationID: 1, AgentKind: "Product", DecisionKind: "create_task",
			Status: models.DecisionStatusCompleted, Success: true,
			TokensUsed: 150, CostMicros: 3500,
		})
		if errAppend != nil {
			t.Fatalf("append decision: %v", errAppend)
		}
	}

	w := env.do(t, http.MethodGet, "/admin/usage/report?organization_id=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	var resp struct {
		Period struct {
			RequestsUsed int64 `json:"requests_used"`
			TokensUsed   int64 `json:"tokens_used"`
		} `json:"period"`
		Decisions struct {
			Total      int64 `json:"total"`
			TokensUsed int64 `json:"tokens_used"`
		} `json:"decisions"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &resp); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if resp.Period.RequestsUsed != 2 || resp.Period.TokensUsed != 300 {
		t.Fatalf("unexpected period block: %+v", resp.Period)
	}
	if resp.Decisions.Total != 2 || resp.Decisions.TokensUsed != 300 {
		t.Fatalf("unexpected decisions block: %+v", resp.Decisions)
	}

	// A tenant without a quota record still reports, with zeroed counters.
	w = env.do(t, http.MethodGet, "/admin/usage/report?organization_id=42", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown org, got %d", w.Code)
	}
}
