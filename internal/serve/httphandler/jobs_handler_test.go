package httphandler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdulrahimiqbal/RoluATM-sub000/db"
	"github.com/abdulrahimiqbal/RoluATM-sub000/db/dbtest"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/data"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/serve/middleware"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/services"
)

func jobsRouter(handler JobsHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(middleware.KioskAuthMiddleware)
		r.Get("/jobs/pending", handler.GetPending)
		r.Post("/jobs/{id}/complete", handler.PostComplete)
	})
	return r
}

func Test_JobsHandler_GetPending(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()
	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	models, err := data.NewModels(dbConnectionPool)
	require.NoError(t, err)
	queue, err := services.NewJobQueue(models, nil)
	require.NoError(t, err)
	r := jobsRouter(JobsHandler{Queue: queue})

	t.Run("returns 400 without the kiosk header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/jobs/pending", nil)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), `"error_code":"invalid_kiosk"`)
	})

	t.Run("returns a null job when there is no work", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/jobs/pending", nil)
		req.Header.Set(middleware.KioskIDHeaderKey, "kiosk-idle")
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"job": null}`, rr.Body.String())
	})

	t.Run("🎉 leases the pending job", func(t *testing.T) {
		data.CreateKioskFixture(t, ctx, dbConnectionPool, "kiosk-1")
		transaction := data.CreateTransactionFixture(t, ctx, dbConnectionPool, "kiosk-1", decimal.NewFromInt(5), 20, data.PaidTransactionStatus, time.Now().Add(15*time.Minute))
		job := data.CreateDispenseJobFixture(t, ctx, dbConnectionPool, transaction.ID, "kiosk-1", 20, data.PendingDispenseJobStatus, 0)

		req := httptest.NewRequest(http.MethodGet, "/jobs/pending", nil)
		req.Header.Set(middleware.KioskIDHeaderKey, "kiosk-1")
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		respBody := rr.Body.String()
		assert.Contains(t, respBody, fmt.Sprintf(`"id":%q`, job.ID))
		assert.Contains(t, respBody, `"status":"in_progress"`)
		assert.Contains(t, respBody, `"coin_count":20`)
	})
}

func Test_JobsHandler_PostComplete(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()
	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	models, err := data.NewModels(dbConnectionPool)
	require.NoError(t, err)
	queue, err := services.NewJobQueue(models, nil)
	require.NoError(t, err)
	r := jobsRouter(JobsHandler{Queue: queue})

	leaseJob := func(t *testing.T, kioskID string) *data.DispenseJob {
		t.Helper()
		data.CreateKioskFixture(t, ctx, dbConnectionPool, kioskID)
		transaction := data.CreateTransactionFixture(t, ctx, dbConnectionPool, kioskID, decimal.NewFromInt(5), 20, data.PaidTransactionStatus, time.Now().Add(15*time.Minute))
		data.CreateDispenseJobFixture(t, ctx, dbConnectionPool, transaction.ID, kioskID, 20, data.PendingDispenseJobStatus, 0)

		job, err := queue.Next(ctx, kioskID)
		require.NoError(t, err)
		require.NotNil(t, job)
		return job
	}

	postComplete := func(jobID, kioskID, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/jobs/"+jobID+"/complete", strings.NewReader(body))
		req.Header.Set(middleware.KioskIDHeaderKey, kioskID)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}

	t.Run("returns 400 for a failure report without an error", func(t *testing.T) {
		job := leaseJob(t, "kiosk-noerr")
		rr := postComplete(job.ID, "kiosk-noerr", `{"success": false}`)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("returns 404 for an unknown job", func(t *testing.T) {
		data.CreateKioskFixture(t, ctx, dbConnectionPool, "kiosk-404")
		rr := postComplete("00000000-0000-0000-0000-000000000000", "kiosk-404", `{"success": true}`)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("returns 403 for a report from the wrong kiosk", func(t *testing.T) {
		job := leaseJob(t, "kiosk-owner")
		data.CreateKioskFixture(t, ctx, dbConnectionPool, "kiosk-thief")
		rr := postComplete(job.ID, "kiosk-thief", `{"success": true}`)

		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Contains(t, rr.Body.String(), `"error_code":"job_ownership_mismatch"`)
	})

	t.Run("🎉 settles a success report", func(t *testing.T) {
		job := leaseJob(t, "kiosk-ok")
		rr := postComplete(job.ID, "kiosk-ok", `{"success": true}`)

		assert.Equal(t, http.StatusOK, rr.Code)
		respBody := rr.Body.String()
		assert.Contains(t, respBody, `"outcome":"success"`)
		assert.Contains(t, respBody, `"status":"completed"`)
	})

	t.Run("settles a failure report as a retry", func(t *testing.T) {
		job := leaseJob(t, "kiosk-fail")
		rr := postComplete(job.ID, "kiosk-fail", `{"success": false, "error": "hopper jam"}`)

		assert.Equal(t, http.StatusOK, rr.Code)
		respBody := rr.Body.String()
		assert.Contains(t, respBody, `"outcome":"retry"`)
		assert.Contains(t, respBody, `"status":"pending"`)
		assert.Contains(t, respBody, `"attempts":1`)
	})
}
