package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// VerificationRequest carries the zero-knowledge proof material submitted by
// the payer's wallet. The verifier checks it against the configured action.
type VerificationRequest struct {
	Proof         string `json:"proof"`
	NullifierHash string `json:"nullifier_hash"`
	MerkleRoot    string `json:"merkle_root"`
	ActionID      string `json:"action_id"`
}

// VerificationResult distinguishes "the verifier said no" from transport
// failures, which surface as errors instead.
type VerificationResult struct {
	Accepted bool
	Reason   string
}

type ProofVerifier interface {
	VerifyProof(ctx context.Context, req VerificationRequest) (VerificationResult, error)
}

const verifierRequestTimeout = 10 * time.Second

// HTTPProofVerifier calls an external verification service. An unreachable or
// slow verifier is treated as a rejection: coins leave the machine only after
// an explicit yes.
type HTTPProofVerifier struct {
	VerifyURL  string
	ActionID   string
	HTTPClient *http.Client
}

func NewHTTPProofVerifier(verifyURL, actionID string) (*HTTPProofVerifier, error) {
	if strings.TrimSpace(verifyURL) == "" {
		return nil, fmt.Errorf("verify URL cannot be empty")
	}
	if strings.TrimSpace(actionID) == "" {
		return nil, fmt.Errorf("action id cannot be empty")
	}

	return &HTTPProofVerifier{
		VerifyURL:  verifyURL,
		ActionID:   actionID,
		HTTPClient: &http.Client{Timeout: verifierRequestTimeout},
	}, nil
}

type verifyResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (v *HTTPProofVerifier) VerifyProof(ctx context.Context, req VerificationRequest) (VerificationResult, error) {
	req.ActionID = v.ActionID

	reqBody, err := json.Marshal(req)
	if err != nil {
		return VerificationResult{}, fmt.Errorf("marshaling verification request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.VerifyURL, bytes.NewReader(reqBody))
	if err != nil {
		return VerificationResult{}, fmt.Errorf("creating verification request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := v.HTTPClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return VerificationResult{Accepted: false, Reason: "verification timed out"}, nil
		}
		return VerificationResult{}, fmt.Errorf("calling verification service: %w", err)
	}
	defer resp.Body.Close()

	var body verifyResponse
	if err = json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return VerificationResult{}, fmt.Errorf("decoding verification response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || !body.Success {
		reason := body.Error
		if reason == "" {
			reason = fmt.Sprintf("verification service returned status %d", resp.StatusCode)
		}
		return VerificationResult{Accepted: false, Reason: reason}, nil
	}

	return VerificationResult{Accepted: true}, nil
}

// AlwaysAcceptVerifier accepts every proof. Development only; refusing it in
// production is enforced at config validation.
type AlwaysAcceptVerifier struct{}

func (AlwaysAcceptVerifier) VerifyProof(_ context.Context, _ VerificationRequest) (VerificationResult, error) {
	return VerificationResult{Accepted: true}, nil
}

var _ ProofVerifier = (*HTTPProofVerifier)(nil)
var _ ProofVerifier = AlwaysAcceptVerifier{}
