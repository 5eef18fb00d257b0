package domain

// Decision is the verdict for a transaction, both preliminary and final.
type Decision string

const (
	DecisionAccepted Decision = "ACCEPTED"
	DecisionReview   Decision = "REVIEW"
	DecisionRejected Decision = "REJECTED"
)

// Valid reports whether d is one of the known decisions.
func (d Decision) Valid() bool {
	switch d {
	case DecisionAccepted, DecisionReview, DecisionRejected:
		return true
	}
	return false
}

// RuleLabel names the rule that last fired during evaluation.
type RuleLabel string

const (
	RuleHighAmount         RuleLabel = "HIGH_AMOUNT"
	RuleSuspiciousLocation RuleLabel = "SUSPICIOUS_LOCATION"
	RuleNone               RuleLabel = "NO_RULE_TRIGGERED"
)

// RuleOutcome is the output of the rule engine for one transaction.
type RuleOutcome struct {
	Decision Decision  `json:"decision"`
	Rule     RuleLabel `json:"rule"`
	Risk     int       `json:"risk"`
}
