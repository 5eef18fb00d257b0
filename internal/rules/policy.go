package rules

import "github.com/opensource-finance/sentinelstream/internal/domain"

// Policy is one entry of the ordered rule table.
// When Expression evaluates to true, Decision and Rule replace the running
// outcome and Risk is added to the running total.
type Policy struct {
	ID         string
	Expression string
	Decision   domain.Decision
	Rule       domain.RuleLabel
	Risk       int
}

// SuspiciousLocations lists the lowercase locations that trigger an outright rejection.
var SuspiciousLocations = []string{"nigeria", "russia", "unknown"}

// DefaultPolicies returns the production rule table in evaluation order.
func DefaultPolicies() []Policy {
	return []Policy{
		{
			ID:         "high-amount",
			Expression: `decimal_gt(amount_exact, "5000")`,
			Decision:   domain.DecisionReview,
			Rule:       domain.RuleHighAmount,
			Risk:       40,
		},
		{
			ID:         "suspicious-location",
			Expression: `location in ["nigeria", "russia", "unknown"]`,
			Decision:   domain.DecisionRejected,
			Rule:       domain.RuleSuspiciousLocation,
			Risk:       60,
		},
	}
}
