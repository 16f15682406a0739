package peerreview

import (
	"testing"

	"github.com/civicforge/civicforge/internal/domain/geo"
	"github.com/civicforge/civicforge/internal/domain/moderation"
)

func TestTierWeightAndRank(t *testing.T) {
	tests := []struct {
		tier   ValidatorTier
		weight float64
		rank   int
	}{
		{TierApprentice, 1.0, 0},
		{TierJourneyman, 1.5, 1},
		{TierExpert, 2.0, 2},
		{ValidatorTier("unknown"), 1.0, 0},
	}
	for _, tt := range tests {
		if got := tt.tier.Weight(); got != tt.weight {
			t.Errorf("%s.Weight() = %v, want %v", tt.tier, got, tt.weight)
		}
		if got := tt.tier.Rank(); got != tt.rank {
			t.Errorf("%s.Rank() = %d, want %d", tt.tier, got, tt.rank)
		}
	}
}

func TestConsensusAgreesWith(t *testing.T) {
	tests := []struct {
		decision  ConsensusDecision
		automated moderation.Decision
		want      bool
	}{
		{ConsensusApproved, moderation.DecisionApproved, true},
		{ConsensusApproved, moderation.DecisionFlagged, false},
		{ConsensusRejected, moderation.DecisionRejected, true},
		{ConsensusRejected, moderation.DecisionApproved, false},
		{ConsensusEscalated, moderation.DecisionFlagged, true},
		{ConsensusEscalated, moderation.DecisionApproved, false},
		{ConsensusExpired, moderation.DecisionApproved, false},
	}
	for _, tt := range tests {
		if got := tt.decision.AgreesWith(tt.automated); got != tt.want {
			t.Errorf("%s.AgreesWith(%s) = %v, want %v", tt.decision, tt.automated, got, tt.want)
		}
	}
}

func TestNearAny(t *testing.T) {
	member := ValidatorPoolMember{
		HomeRegions: []geo.Point{
			{Lat: 48.1351, Lng: 11.5820}, // Munich
			{Lat: 40.0, Lng: -75.0},
		},
	}

	if !member.NearAny(geo.Point{Lat: 40.2, Lng: -75.1}, 100) {
		t.Error("expected second home region to match within 100km")
	}
	if member.NearAny(geo.Point{Lat: -33.8688, Lng: 151.2093}, 100) {
		t.Error("sydney should not match any home region")
	}

	var nomad ValidatorPoolMember
	if nomad.NearAny(geo.Point{Lat: 40, Lng: -75}, 100) {
		t.Error("member with no home regions is never local")
	}
}
