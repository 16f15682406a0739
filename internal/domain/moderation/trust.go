package moderation

// TrustTier is the submitter reputation bucket controlling decision thresholds.
type TrustTier string

const (
	TierNew      TrustTier = "new"
	TierVerified TrustTier = "verified"
)

// TierRule holds the account requirements for the verified tier.
type TierRule struct {
	MinAccountAgeDays int
	MinApprovedCount  int
}

// DefaultTierRule matches the reference configuration: accounts at least
// 30 days old with 3 or more approved submissions are verified.
var DefaultTierRule = TierRule{MinAccountAgeDays: 30, MinApprovedCount: 3}

// ResolveTrustTier derives the submitter tier from account age and prior
// approvals. The rule is monotonic: older accounts with more approvals never
// map to a lower tier.
func ResolveTrustTier(profile *SubmitterProfile, rule TierRule) TrustTier {
	if profile == nil {
		return TierNew
	}
	if profile.AccountAgeDays >= rule.MinAccountAgeDays && profile.ApprovedCount >= rule.MinApprovedCount {
		return TierVerified
	}
	return TierNew
}

// Thresholds are the alignment-score cutoffs for one trust tier.
// score >= AutoApprove is approved; AutoRejectMax <= score < AutoApprove is
// flagged for peer review; score < AutoRejectMax is rejected.
type Thresholds struct {
	AutoApprove   float64 `yaml:"auto_approve"`
	AutoRejectMax float64 `yaml:"auto_reject_max"`
}

// DecideFromScore maps an alignment score to a decision under the given
// thresholds.
func DecideFromScore(score float64, th Thresholds) Decision {
	switch {
	case score >= th.AutoApprove:
		return DecisionApproved
	case score >= th.AutoRejectMax:
		return DecisionFlagged
	default:
		return DecisionRejected
	}
}
