package domain

import (
	"time"
)

// FinalDecision is the terminal artifact of an evaluation.
// Score is the rule risk plus the clamped anomaly score and carries no upper bound.
type FinalDecision struct {
	TxID         string    `json:"transactionId"`
	Decision     Decision  `json:"decision"`
	Score        float64   `json:"score"`
	Reasons      []string  `json:"reasons"`
	Rule         RuleLabel `json:"rule"`
	RuleRisk     int       `json:"ruleRisk"`
	AnomalyScore float64   `json:"anomalyScore"`
	ModelVersion string    `json:"modelVersion,omitempty"`
	Alerted      bool      `json:"alerted"`
	EvaluatedAt  time.Time `json:"evaluatedAt"`
	LatencyMs    int64     `json:"latencyMs"`
}

// AlertTask is a unit of "notify about this high-risk transaction" work.
// The transaction id is the only deduplication key; consumers must tolerate repeats.
type AlertTask struct {
	TxID  string  `json:"transaction_id"`
	Score float64 `json:"score"`
}

// AlertDispatcher accepts alert tasks without blocking or failing the caller.
type AlertDispatcher interface {
	Enqueue(task AlertTask)
}

// TransactionResponse is the API response for POST /transaction.
type TransactionResponse struct {
	Status        Decision  `json:"status"`
	TransactionID string    `json:"transaction_id"`
	FraudScore    float64   `json:"fraud_score"`
	Reasons       []string  `json:"reasons"`
	Rule          RuleLabel `json:"rule"`
	AnomalyScore  float64   `json:"anomaly_score"`
	Alerted       bool      `json:"alerted"`
	LatencyMs     int64     `json:"latency_ms"`
}

// ToResponse converts a FinalDecision to its API shape.
func (d *FinalDecision) ToResponse() *TransactionResponse {
	return &TransactionResponse{
		Status:        d.Decision,
		TransactionID: d.TxID,
		FraudScore:    d.Score,
		Reasons:       d.Reasons,
		Rule:          d.Rule,
		AnomalyScore:  d.AnomalyScore,
		Alerted:       d.Alerted,
		LatencyMs:     d.LatencyMs,
	}
}
