package services

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockProofVerifier struct {
	mock.Mock
}

func (m *MockProofVerifier) VerifyProof(ctx context.Context, req VerificationRequest) (VerificationResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(VerificationResult), args.Error(1)
}

var _ ProofVerifier = (*MockProofVerifier)(nil)
