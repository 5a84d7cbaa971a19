package main

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwttoken "trainflow/internal/jwt_token"
	"trainflow/internal/platform/config"
	"trainflow/internal/platform/logger"
	training "trainflow/internal/training/models"
	id "trainflow/pkg/domain"
	"trainflow/pkg/testutil"
)

func memoryConfig() config.Config {
	return config.Config{
		Server: config.Server{
			Addr:          ":0",
			JWTSigningKey: "test-signing-key",
			Storage:       config.StorageMemory,
		},
		Scan: config.ScanConfig{
			Thresholds: []int{30, 14, 7, 1},
			TimeZone:   "UTC",
			Interval:   time.Hour,
		},
	}
}

func bearer(t *testing.T, cfg config.Config, role training.Role) string {
	t.Helper()
	token, err := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer).
		GenerateAccessToken(id.UserID(uuid.New()), id.TenantID(uuid.New()), string(role), time.Minute)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestBuildServesRoutes(t *testing.T) {
	cfg := memoryConfig()
	a, err := build(context.Background(), cfg, logger.NewWithWriter(io.Discard, "error", "text"))
	require.NoError(t, err)
	defer a.close()
	assert.Nil(t, a.scheduler, "scan disabled in config")

	t.Run("health and metrics are public", func(t *testing.T) {
		testutil.AssertStatusOK(t, testutil.DoRequest(a.router, testutil.NewRequest(t, http.MethodGet, "/healthz")))
		rr := testutil.DoRequest(a.router, testutil.NewRequest(t, http.MethodGet, "/metrics"))
		testutil.AssertStatusOK(t, rr)
		assert.Contains(t, rr.Body.String(), "go_goroutines")
	})

	t.Run("workflow routes require a token", func(t *testing.T) {
		rr := testutil.DoRequest(a.router, testutil.NewJSONRequest(t, http.MethodPost, "/renewals",
			map[string]string{"certification_id": uuid.NewString()}))
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
	})

	t.Run("unknown certification is not found", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/renewals",
			map[string]string{"certification_id": uuid.NewString()})
		req.Header.Set("Authorization", bearer(t, cfg, training.RoleEmployee))
		testutil.AssertStatusAndError(t, testutil.DoRequest(a.router, req), http.StatusNotFound, "not_found")
	})

	t.Run("manual scan is limited to officers", func(t *testing.T) {
		req := testutil.NewRequest(t, http.MethodPost, "/admin/expiry-scans")
		req.Header.Set("Authorization", bearer(t, cfg, training.RoleEmployee))
		testutil.AssertStatusAndError(t, testutil.DoRequest(a.router, req), http.StatusForbidden, "forbidden")

		req = testutil.NewRequest(t, http.MethodPost, "/admin/expiry-scans")
		req.Header.Set("Authorization", bearer(t, cfg, training.RoleTrainingOfficer))
		rr := testutil.DoRequest(a.router, req)
		testutil.AssertStatusOK(t, rr)
		testutil.AssertJSONContains(t, rr, "checked", float64(0))
	})
}

func TestBuildSeedsDemoData(t *testing.T) {
	cfg := memoryConfig()
	cfg.Server.SeedDemoData = true
	cfg.Scan.Enabled = true

	a, err := build(context.Background(), cfg, logger.NewWithWriter(io.Discard, "error", "text"))
	require.NoError(t, err)
	defer a.close()
	require.NotNil(t, a.scheduler)

	req := testutil.NewRequest(t, http.MethodPost, "/admin/expiry-scans")
	req.Header.Set("Authorization", bearer(t, cfg, training.RoleAdministrator))
	rr := testutil.DoRequest(a.router, req)
	testutil.AssertStatusOK(t, rr)

	body := testutil.UnmarshalResponse[map[string]any](t, rr)
	assert.Greater(t, (*body)["checked"], float64(0))
}
