package validators

import (
	"strings"

	"github.com/shopspring/decimal"
)

type TransactionRequestValidator struct {
	*Validator
}

func NewTransactionRequestValidator() *TransactionRequestValidator {
	return &TransactionRequestValidator{Validator: NewValidator()}
}

// ValidateCreateRequest checks the create-transaction request fields and
// returns the parsed amount when they are well formed. The kiosk identity is
// not part of the body; it arrives in the request header.
func (v *TransactionRequestValidator) ValidateCreateRequest(rawAmount string) decimal.Decimal {
	v.Check(strings.TrimSpace(rawAmount) != "", "amount", "amount is required")
	if v.HasErrors() {
		return decimal.Zero
	}

	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		v.AddError("amount", "amount must be a valid decimal number")
		return decimal.Zero
	}

	v.Check(amount.IsPositive(), "amount", "amount must be greater than zero")
	v.Check(amount.Exponent() >= -2, "amount", "amount cannot have more than two decimal places")

	return amount
}

// ValidatePayRequest checks the pay-transaction request fields.
func (v *TransactionRequestValidator) ValidatePayRequest(transactionID, proof, nullifierHash string) {
	v.Check(strings.TrimSpace(transactionID) != "", "transaction_id", "transaction_id is required")
	v.Check(strings.TrimSpace(proof) != "", "proof", "proof is required")
	v.Check(strings.TrimSpace(nullifierHash) != "", "nullifier_hash", "nullifier_hash is required")
}
