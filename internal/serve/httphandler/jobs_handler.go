package httphandler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stellar/go-stellar-sdk/support/http/httpdecode"
	"github.com/stellar/go-stellar-sdk/support/render/httpjson"

	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/data"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/serve/httperror"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/serve/middleware"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/services"
)

type JobsHandler struct {
	Queue *services.JobQueue
}

// JobResponse is the agent's view of a dispense job.
type JobResponse struct {
	ID            string                 `json:"id"`
	TransactionID string                 `json:"transaction_id"`
	CoinCount     int                    `json:"coin_count"`
	Status        data.DispenseJobStatus `json:"status"`
	Attempts      int                    `json:"attempts"`
	MaxAttempts   int                    `json:"max_attempts"`
	LastError     *string                `json:"last_error,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

func toJobResponse(j *data.DispenseJob) *JobResponse {
	if j == nil {
		return nil
	}
	return &JobResponse{
		ID:            j.ID,
		TransactionID: j.TransactionID,
		CoinCount:     j.CoinCount,
		Status:        j.Status,
		Attempts:      j.Attempts,
		MaxAttempts:   j.MaxAttempts,
		LastError:     j.LastError,
		CreatedAt:     j.CreatedAt,
	}
}

type PendingJobResponse struct {
	Job *JobResponse `json:"job"`
}

type CompleteJobRequest struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type CompleteJobResponse struct {
	Job     *JobResponse         `json:"job"`
	Outcome data.CompleteOutcome `json:"outcome"`
}

// GetPending leases the kiosk's next dispense job. An empty lease is a normal
// poll result, rendered as {"job": null}.
func (h JobsHandler) GetPending(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	kioskID, ok := middleware.KioskIDFromContext(ctx)
	if !ok {
		httperror.Unauthorized("", nil, nil).WithErrorCode(httperror.CodeInvalidKiosk).Render(rw)
		return
	}

	job, err := h.Queue.Next(ctx, kioskID)
	if err != nil {
		httperror.InternalError(ctx, "Cannot lease next job", err, nil).Render(rw)
		return
	}

	httpjson.Render(rw, PendingJobResponse{Job: toJobResponse(job)}, httpjson.JSON)
}

// PostComplete settles the agent's outcome report for a job.
func (h JobsHandler) PostComplete(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	jobID := chi.URLParam(req, "id")

	kioskID, ok := middleware.KioskIDFromContext(ctx)
	if !ok {
		httperror.Unauthorized("", nil, nil).WithErrorCode(httperror.CodeInvalidKiosk).Render(rw)
		return
	}

	var reqBody CompleteJobRequest
	if err := httpdecode.DecodeJSON(req, &reqBody); err != nil {
		httperror.BadRequest("", err, nil).WithErrorCode(httperror.CodeInvalidRequest).Render(rw)
		return
	}
	if !reqBody.Success && reqBody.Error == "" {
		httperror.BadRequest("A failure report must include an error description.", nil, nil).
			WithErrorCode(httperror.CodeInvalidRequest).
			Render(rw)
		return
	}

	job, outcome, err := h.Queue.Report(ctx, jobID, kioskID, reqBody.Success, reqBody.Error)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			httperror.NotFound("Job not found.", err, nil).
				WithErrorCode(httperror.CodeNotFound).
				Render(rw)
		case errors.Is(err, data.ErrJobOwnershipMismatch):
			httperror.Forbidden("The job is leased to another kiosk.", err, nil).
				WithErrorCode(httperror.CodeJobOwnershipMismatch).
				Render(rw)
		case errors.Is(err, data.ErrJobNotInProgress):
			httperror.Conflict("The job has not been leased.", err, nil).
				WithErrorCode(httperror.CodeJobNotInProgress).
				Render(rw)
		default:
			httperror.InternalError(ctx, "Cannot settle job report", err, nil).Render(rw)
		}
		return
	}

	httpjson.Render(rw, CompleteJobResponse{Job: toJobResponse(job), Outcome: outcome}, httpjson.JSON)
}
