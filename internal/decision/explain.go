package decision

import (
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/sentinelstream/internal/domain"
)

// Reason strings, in the order Explain emits them.
const (
	ReasonHighAmount         = "High amount compared to typical spending"
	ReasonSuspiciousLocation = "Transaction from suspicious location"
	ReasonAnomaly            = "ML Model flagged as anomaly"
	ReasonNormal             = "Normal behavior"
)

var (
	highAmount       = decimal.NewFromInt(5000)
	anomalyThreshold = 70.0
)

// Explain returns the human readable reasons for a decision. The list is
// never empty.
func Explain(amount decimal.Decimal, rule domain.RuleLabel, combined float64) []string {
	var reasons []string
	if amount.GreaterThan(highAmount) {
		reasons = append(reasons, ReasonHighAmount)
	}
	if rule == domain.RuleSuspiciousLocation {
		reasons = append(reasons, ReasonSuspiciousLocation)
	}
	if combined > anomalyThreshold {
		reasons = append(reasons, ReasonAnomaly)
	}
	if len(reasons) == 0 {
		reasons = append(reasons, ReasonNormal)
	}
	return reasons
}
