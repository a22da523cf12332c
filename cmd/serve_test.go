package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homereach/contact-cli/internal/model"
	"github.com/homereach/contact-cli/internal/monitoring"
	"github.com/homereach/contact-cli/internal/store"
)

func newTestRouter(t *testing.T) (http.Handler, store.Store) {
	t.Helper()
	st := newTestStore(t)
	return newRouter(st, monitoring.NewCollector(st), "acme"), st
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCreateJobEndpoint(t *testing.T) {
	router, st := newTestRouter(t)

	body := `{"lead_id":"L-900","portal":"hogarix","listing_url":"https://hogarix.com/piso/9","title":"Chalet adosado","message_template":"Hola, ¿sigue disponible {title}?","priority":3}`
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var created model.ContactJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "acme", created.TenantID)
	assert.Equal(t, model.PortalHogarix, created.Portal)
	assert.Equal(t, model.JobStatePending, created.State)
	assert.Equal(t, 3, created.Priority)

	got, err := st.GetJob(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "L-900", got.LeadID)
	assert.Equal(t, "Hola, ¿sigue disponible {title}?", got.MessageTemplate)
}

func TestCreateJobEndpoint_Invalid(t *testing.T) {
	router, _ := newTestRouter(t)

	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"unknown portal", `{"lead_id":"L-1","portal":"idealista","listing_url":"https://x.es/1"}`},
		{"missing lead", `{"portal":"casalia","listing_url":"https://x.es/1"}`},
		{"bad url", `{"lead_id":"L-1","portal":"casalia","listing_url":"ftp://x.es/1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "error")
		})
	}
}

func TestListJobsEndpoint(t *testing.T) {
	router, st := newTestRouter(t)
	seedPendingJobs(t, st, 2)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs?tenant=acme&portal=casalia", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var jobs []model.ContactJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	assert.Len(t, jobs, 2)

	// No completed jobs yet, and the empty result is a JSON array.
	req = httptest.NewRequest(http.MethodGet, "/api/jobs?state=completed", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestListJobsEndpoint_BadParams(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, target := range []string{
		"/api/jobs?limit=abc",
		"/api/jobs?state=done",
		"/api/jobs?portal=idealista",
	} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code, "expected 400 for %s", target)
	}
}

func TestStatsEndpoint(t *testing.T) {
	router, st := newTestRouter(t)
	seedPendingJobs(t, st, 3)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var snap monitoring.QueueSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "acme", snap.Tenant)
	assert.Equal(t, 3, snap.Jobs.Total)
	assert.Equal(t, 3, snap.Jobs.ByState["pending"])
	assert.False(t, snap.CollectedAt.IsZero())
}
