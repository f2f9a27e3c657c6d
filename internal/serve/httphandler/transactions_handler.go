package httphandler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stellar/go-stellar-sdk/support/http/httpdecode"
	"github.com/stellar/go-stellar-sdk/support/render/httpjson"

	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/data"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/serve/httperror"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/serve/middleware"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/serve/validators"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/services"
)

type TransactionsHandler struct {
	Coordinator *services.TxCoordinator
}

type CreateTransactionRequest struct {
	Amount string `json:"amount"`
}

// PayTransactionResponse is the settled transaction plus the id of its
// dispense job, which the payer client polls for payout progress.
type PayTransactionResponse struct {
	TransactionResponse
	JobID string `json:"job_id"`
}

type PayTransactionRequest struct {
	TransactionID string `json:"transaction_id"`
	Proof         string `json:"proof"`
	NullifierHash string `json:"nullifier_hash"`
	MerkleRoot    string `json:"merkle_root"`
}

// TransactionResponse is the public view of a transaction. It omits the kiosk
// id and the nullifier, which are not the payer's business.
type TransactionResponse struct {
	ID          string                 `json:"id"`
	Amount      decimal.Decimal        `json:"amount"`
	CoinCount   int                    `json:"coin_count"`
	Total       decimal.Decimal        `json:"total"`
	Status      data.TransactionStatus `json:"status"`
	PayerURL    string                 `json:"payer_url"`
	ExpiresAt   time.Time              `json:"expires_at"`
	PaidAt      *time.Time             `json:"paid_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

func toTransactionResponse(t *data.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:          t.ID,
		Amount:      t.Amount,
		CoinCount:   t.CoinCount,
		Total:       t.Total,
		Status:      t.Status,
		PayerURL:    t.PayerURL,
		ExpiresAt:   t.ExpiresAt,
		PaidAt:      t.PaidAt,
		CompletedAt: t.CompletedAt,
		CreatedAt:   t.CreatedAt,
	}
}

// PostCreate opens a pending transaction for the kiosk identified by the
// request header. The response carries the payer URL the kiosk renders as a
// QR code.
func (h TransactionsHandler) PostCreate(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	kioskID, ok := middleware.KioskIDFromContext(ctx)
	if !ok {
		httperror.BadRequest("Missing kiosk identity.", nil, nil).WithErrorCode(httperror.CodeInvalidKiosk).Render(rw)
		return
	}

	var reqBody CreateTransactionRequest
	if err := httpdecode.DecodeJSON(req, &reqBody); err != nil {
		httperror.BadRequest("", err, nil).WithErrorCode(httperror.CodeInvalidRequest).Render(rw)
		return
	}

	validator := validators.NewTransactionRequestValidator()
	amount := validator.ValidateCreateRequest(reqBody.Amount)
	if validator.HasErrors() {
		httperror.BadRequest("invalid request body", nil, validator.Errors).
			WithErrorCode(httperror.CodeInvalidRequest).
			Render(rw)
		return
	}

	transaction, err := h.Coordinator.CreateTransaction(ctx, kioskID, amount)
	if err != nil {
		var invalidAmountErr *services.InvalidAmountError
		if errors.As(err, &invalidAmountErr) {
			httperror.BadRequest(invalidAmountErr.Message, err, nil).
				WithErrorCode(httperror.CodeInvalidAmount).
				Render(rw)
			return
		}
		httperror.InternalError(ctx, "Cannot create transaction", err, nil).Render(rw)
		return
	}

	httpjson.RenderStatus(rw, http.StatusCreated, toTransactionResponse(transaction), httpjson.JSON)
}

// PostPay settles a payment proof against a pending transaction.
func (h TransactionsHandler) PostPay(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	var reqBody PayTransactionRequest
	if err := httpdecode.DecodeJSON(req, &reqBody); err != nil {
		httperror.BadRequest("", err, nil).WithErrorCode(httperror.CodeInvalidRequest).Render(rw)
		return
	}

	validator := validators.NewTransactionRequestValidator()
	validator.ValidatePayRequest(reqBody.TransactionID, reqBody.Proof, reqBody.NullifierHash)
	if validator.HasErrors() {
		httperror.BadRequest("invalid request body", nil, validator.Errors).
			WithErrorCode(httperror.CodeInvalidRequest).
			Render(rw)
		return
	}

	transaction, job, err := h.Coordinator.Pay(ctx, reqBody.TransactionID, services.VerificationRequest{
		Proof:         reqBody.Proof,
		NullifierHash: reqBody.NullifierHash,
		MerkleRoot:    reqBody.MerkleRoot,
	})
	if err != nil {
		h.renderPayError(ctx, rw, err)
		return
	}

	httpjson.Render(rw, PayTransactionResponse{
		TransactionResponse: toTransactionResponse(transaction),
		JobID:               job.ID,
	}, httpjson.JSON)
}

func (h TransactionsHandler) renderPayError(ctx context.Context, rw http.ResponseWriter, err error) {
	var rejectedErr *services.VerificationRejectedError
	switch {
	case errors.As(err, &rejectedErr):
		httperror.BadRequest("Proof verification was rejected.", err, map[string]any{"reason": rejectedErr.Reason}).
			WithErrorCode(httperror.CodeVerificationRejected).
			Render(rw)
	case errors.Is(err, data.ErrRecordNotFound):
		httperror.NotFound("Transaction not found.", err, nil).
			WithErrorCode(httperror.CodeNotFound).
			Render(rw)
	case errors.Is(err, data.ErrTransactionExpired):
		httperror.BadRequest("The transaction's authorization window has closed.", err, nil).
			WithErrorCode(httperror.CodeExpired).
			Render(rw)
	case errors.Is(err, data.ErrTransactionAlreadyProcessed):
		httperror.Conflict("The transaction was already paid.", err, nil).
			WithErrorCode(httperror.CodeAlreadyProcessed).
			Render(rw)
	case errors.Is(err, data.ErrNullifierReused):
		httperror.Conflict("This proof was already used by another transaction.", err, nil).
			WithErrorCode(httperror.CodeNullifierReused).
			Render(rw)
	default:
		httperror.InternalError(ctx, "Cannot process payment", err, nil).Render(rw)
	}
}

// GetTransaction returns the public view of a transaction for status polling.
func (h TransactionsHandler) GetTransaction(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	transactionID := chi.URLParam(req, "id")

	transaction, err := h.Coordinator.GetTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			httperror.NotFound("Transaction not found.", err, nil).
				WithErrorCode(httperror.CodeNotFound).
				Render(rw)
			return
		}
		httperror.InternalError(ctx, "Cannot retrieve transaction", err, nil).Render(rw)
		return
	}

	httpjson.Render(rw, toTransactionResponse(transaction), httpjson.JSON)
}

// GetTransactionEvents returns a transaction's audit trail, oldest first.
func (h TransactionsHandler) GetTransactionEvents(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	transactionID := chi.URLParam(req, "id")

	events, err := h.Coordinator.ListTransactionEvents(ctx, transactionID)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			httperror.NotFound("Transaction not found.", err, nil).
				WithErrorCode(httperror.CodeNotFound).
				Render(rw)
			return
		}
		httperror.InternalError(ctx, "Cannot retrieve transaction events", err, nil).Render(rw)
		return
	}

	httpjson.Render(rw, events, httpjson.JSON)
}
