package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/logicthinker/orm-capital-engine/infrastructure/config"
	"github.com/logicthinker/orm-capital-engine/internal/services/analytics"
	"github.com/logicthinker/orm-capital-engine/internal/services/calculations"
	"github.com/logicthinker/orm-capital-engine/internal/services/consolidation"
	"github.com/logicthinker/orm-capital-engine/internal/services/jobs"
	"github.com/logicthinker/orm-capital-engine/internal/services/lineage"
	"github.com/logicthinker/orm-capital-engine/internal/services/losses"
	"github.com/logicthinker/orm-capital-engine/internal/services/overrides"
	"github.com/logicthinker/orm-capital-engine/internal/services/parameters"
	"github.com/logicthinker/orm-capital-engine/internal/storage"
	"github.com/logicthinker/orm-capital-engine/pkg/fixedpoint"
	"github.com/logicthinker/orm-capital-engine/pkg/logger"
)

func newTestServer(t *testing.T) (*httptest.Server, *storage.Memory) {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemory()
	log := logger.NewDefault("test")

	cfg := &config.Config{
		Jobs: config.JobsConfig{
			MaxConcurrentJobs:  2,
			SyncThreshold:      5 * time.Second,
			MaxJobAge:          time.Hour,
			CleanupSchedule:    "@every 1h",
			WebhookMaxRetries:  1,
			WebhookInitialWait: 10 * time.Millisecond,
			WebhookTimeout:     time.Second,
		},
	}

	paramSvc := parameters.NewService(store, log)
	require.NoError(t, paramSvc.Seed(ctx))

	lossSvc := losses.NewService(store, fixedpoint.MustParse("10000000"), log)
	overrideSvc := overrides.NewService(store, log)
	lineageSvc := lineage.NewService(store, store, log)
	consolidationSvc := consolidation.NewService(store, store, log)
	analyticsSvc := analytics.NewService(lossSvc, log)
	calcSvc := calculations.NewService(store, paramSvc, lossSvc, overrideSvc, lineageSvc, log)

	jobSvc := jobs.NewService(store, calcSvc, nil, cfg.Jobs, nil, log)
	require.NoError(t, jobSvc.Start(ctx))
	t.Cleanup(jobSvc.Shutdown)

	server := NewServer(cfg, store, jobSvc, lossSvc, paramSvc, overrideSvc,
		consolidationSvc, lineageSvc, analyticsSvc, nil, log)

	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return ts, store
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSyncBIACalculationOverHTTP(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/calculation-jobs", map[string]interface{}{
		"model_name":       "bia",
		"execution_mode":   "sync",
		"entity_id":        "BANK001",
		"calculation_date": "2024-03-31",
		"gross_income": []map[string]interface{}{
			{"year": 2023, "gross_income": "2000000000", "excluded_items": "50000000"},
			{"year": 2022, "gross_income": "1800000000", "excluded_items": "40000000"},
		},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Equal(t, "bia", result["methodology"])
	require.NotEmpty(t, result["operational_risk_capital"])
	require.NotEmpty(t, result["run_id"])
}

func TestLineageEndpointsAfterCalculation(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/calculation-jobs", map[string]interface{}{
		"model_name":       "bia",
		"execution_mode":   "sync",
		"entity_id":        "BANK001",
		"calculation_date": "2024-03-31",
		"gross_income": []map[string]interface{}{
			{"year": 2023, "gross_income": "2000000000", "excluded_items": "0"},
		},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	runID := result["run_id"].(string)

	integrity, err := http.Get(ts.URL + "/api/v1/lineage/" + runID + "/integrity")
	require.NoError(t, err)
	defer integrity.Body.Close()
	require.Equal(t, http.StatusOK, integrity.StatusCode)

	var report map[string]interface{}
	require.NoError(t, json.NewDecoder(integrity.Body).Decode(&report))
	require.Equal(t, true, report["overall"])

	repro, err := http.Get(ts.URL + "/api/v1/lineage/" + runID + "/reproducibility")
	require.NoError(t, err)
	defer repro.Body.Close()
	require.Equal(t, http.StatusOK, repro.StatusCode)
}

func TestErrorEnvelopeShape(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/calculation-jobs/missing-job")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var envelope map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.Equal(t, "JOB_NOT_FOUND", envelope["error_code"])
	require.NotEmpty(t, envelope["error_message"])
}

func TestLossEventIngestionOverHTTP(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/loss-events", []map[string]interface{}{
		{
			"entity_id":       "BANK001",
			"event_type":      "external_fraud",
			"business_line":   "retail_banking",
			"occurrence_date": "2023-01-10",
			"discovery_date":  "2023-02-01",
			"accounting_date": "2023-03-01",
			"gross_amount":    "50000000",
		},
		{
			"entity_id":       "BANK001",
			"event_type":      "weather",
			"business_line":   "retail_banking",
			"occurrence_date": "2023-01-10",
			"discovery_date":  "2023-02-01",
			"accounting_date": "2023-03-01",
			"gross_amount":    "50000000",
		},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Validation struct {
			RecordsAccepted int  `json:"records_accepted"`
			RecordsRejected int  `json:"records_rejected"`
			Success         bool `json:"success"`
		} `json:"validation"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, 1, body.Validation.RecordsAccepted)
	require.Equal(t, 1, body.Validation.RecordsRejected)
	require.False(t, body.Validation.Success)
}

func TestGetActiveParametersOverHTTP(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/parameters/sma")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap struct {
		Values   map[string]json.RawMessage `json:"values"`
		Versions map[string]string          `json:"versions"`
		Digest   string                     `json:"digest"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.NotEmpty(t, snap.Digest)
	require.Contains(t, snap.Values, "lc_multiplier")
	require.Contains(t, snap.Versions, "marginal_coefficients")
}
