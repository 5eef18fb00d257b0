package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionInput is the immutable record handed to the engine for one evaluation.
// UserKey is the internal identifier already resolved by the user directory.
type TransactionInput struct {
	ID       string
	Amount   decimal.Decimal
	Currency string
	Merchant string
	Location string
	UserKey  int64
}

// Validate rejects inputs that must never reach the rule engine or the scorer.
func (t *TransactionInput) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: transaction is required", ErrInvalidInput)
	}
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: transaction_id is required", ErrInvalidInput)
	}
	if t.Amount.IsNegative() {
		return fmt.Errorf("%w: amount must not be negative, got %s", ErrInvalidInput, t.Amount.String())
	}
	return nil
}

// AmountFloat returns the amount as a float64 for the numeric model.
func (t *TransactionInput) AmountFloat() float64 {
	f, _ := t.Amount.Float64()
	return f
}

// TransactionRequest is the API request payload for POST /transaction.
// Amount accepts a JSON number or a numeric string; anything else fails decoding.
// An absent or null amount leaves Amount invalid and Validate rejects it.
type TransactionRequest struct {
	TransactionID string              `json:"transaction_id"`
	UserID        string              `json:"user_id"`
	Amount        decimal.NullDecimal `json:"amount"`
	Currency      string              `json:"currency"`
	Merchant      string              `json:"merchant"`
	Location      string              `json:"location"`
}

// Validate checks the request fields the directory and engine depend on.
func (r *TransactionRequest) Validate() error {
	if strings.TrimSpace(r.TransactionID) == "" {
		return fmt.Errorf("%w: transaction_id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if !r.Amount.Valid {
		return fmt.Errorf("%w: amount is required", ErrInvalidInput)
	}
	if r.Amount.Decimal.IsNegative() {
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidInput)
	}
	return nil
}

// ToInput converts a request to engine input for an already resolved user.
func (r *TransactionRequest) ToInput(userKey int64) *TransactionInput {
	return &TransactionInput{
		ID:       r.TransactionID,
		Amount:   r.Amount.Decimal,
		Currency: r.Currency,
		Merchant: r.Merchant,
		Location: r.Location,
		UserKey:  userKey,
	}
}

// Transaction is the persisted fact record: the original transaction alongside its decision.
type Transaction struct {
	ID         string          `json:"transactionId"`
	UserKey    int64           `json:"userKey"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Merchant   string          `json:"merchant"`
	Location   string          `json:"location"`
	FraudScore float64         `json:"fraudScore"`
	Decision   Decision        `json:"finalDecision"`
	Rule       RuleLabel       `json:"rule"`
	Reasons    []string        `json:"reasons"`
	LatencyMs  int64           `json:"latencyMs"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// NewTransaction builds the fact record for an evaluated input.
func NewTransaction(in *TransactionInput, d *FinalDecision) *Transaction {
	return &Transaction{
		ID:         in.ID,
		UserKey:    in.UserKey,
		Amount:     in.Amount,
		Currency:   in.Currency,
		Merchant:   in.Merchant,
		Location:   in.Location,
		FraudScore: d.Score,
		Decision:   d.Decision,
		Rule:       d.Rule,
		Reasons:    d.Reasons,
		LatencyMs:  d.LatencyMs,
		CreatedAt:  time.Now().UTC(),
	}
}
