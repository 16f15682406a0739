package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/civicforge/civicforge/internal/adapter/ws"
	"github.com/civicforge/civicforge/internal/config"
	"github.com/civicforge/civicforge/internal/domain/geo"
	"github.com/civicforge/civicforge/internal/domain/moderation"
	"github.com/civicforge/civicforge/internal/domain/peerreview"
	"github.com/civicforge/civicforge/internal/port/broadcast"
	"github.com/civicforge/civicforge/internal/port/database"
	"github.com/civicforge/civicforge/internal/port/messagequeue"
	"github.com/civicforge/civicforge/internal/port/notifier"
)

// AssignmentRequest describes one submission that needs peer validators.
type AssignmentRequest struct {
	SubmissionID     string
	SubmissionType   moderation.ContentType
	SubmitterAgentID string
	Domain           string
	Summary          string
	Location         *geo.Point
}

// SelectorService assigns peer validators to submissions that passed the
// automated pipeline.
type SelectorService struct {
	store    database.Store
	queue    messagequeue.Queue
	hub      broadcast.Broadcaster
	notifier notifier.Notifier
	cfg      config.Validation

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSelectorService creates a new SelectorService. A zero shuffle seed in
// cfg means time-seeded shuffling; tests pass a fixed seed for deterministic
// selection.
func NewSelectorService(
	store database.Store,
	queue messagequeue.Queue,
	hub broadcast.Broadcaster,
	n notifier.Notifier,
	cfg config.Validation,
) *SelectorService {
	seed := cfg.ShuffleSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SelectorService{
		store:    store,
		queue:    queue,
		hub:      hub,
		notifier: n,
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Assign selects validators for the submission, persists the pending
// assignments, and dispatches best-effort notifications. It returns
// peerreview.ErrInsufficientValidators when fewer than the quorum of
// eligible candidates exist.
func (s *SelectorService) Assign(ctx context.Context, req AssignmentRequest) (*peerreview.Assignment, error) {
	candidates, err := s.store.ListEligibleValidators(ctx, req.SubmitterAgentID, s.cfg.DailyCap)
	if err != nil {
		return nil, fmt.Errorf("list eligible validators: %w", err)
	}

	excluded, err := s.store.RecentEvaluatorIDs(ctx, req.SubmitterAgentID, s.cfg.AntiCollusionWindow)
	if err != nil {
		return nil, fmt.Errorf("recent evaluator ids: %w", err)
	}

	pool := candidates[:0:0]
	for _, c := range candidates {
		if _, collided := excluded[c.ID]; !collided {
			pool = append(pool, c)
		}
	}

	if len(pool) < s.cfg.QuorumSize {
		return nil, fmt.Errorf("submission %s: %d eligible of %d required: %w",
			req.SubmissionID, len(pool), s.cfg.QuorumSize, peerreview.ErrInsufficientValidators)
	}

	selected, tierFallback := s.selectValidators(pool, req.Location)

	if tierFallback {
		slog.Warn("validator tier fallback: all-apprentice assignment",
			"submission_id", req.SubmissionID,
			"submission_type", req.SubmissionType)
	}

	now := time.Now().UTC()
	expiresAt := now.Add(s.cfg.Expiry)

	evals := make([]peerreview.PeerEvaluation, 0, len(selected))
	for _, v := range selected {
		evals = append(evals, peerreview.PeerEvaluation{
			ID:               uuid.NewString(),
			SubmissionID:     req.SubmissionID,
			SubmissionType:   req.SubmissionType,
			ValidatorID:      v.ID,
			ValidatorAgentID: v.AgentID,
			ValidatorTier:    v.Tier,
			Status:           peerreview.StatusPending,
			AssignedAt:       now,
			ExpiresAt:        expiresAt,
		})
	}

	if err := s.store.CreatePeerEvaluations(ctx, evals); err != nil {
		return nil, fmt.Errorf("create peer evaluations: %w", err)
	}

	s.notify(ctx, req, evals)

	s.hub.BroadcastEvent(ctx, ws.EventValidatorsAssigned, ws.ValidatorsAssignedEvent{
		SubmissionID:   req.SubmissionID,
		SubmissionType: string(req.SubmissionType),
		AssignedCount:  len(evals),
		QuorumRequired: s.cfg.QuorumSize,
		TierFallback:   tierFallback,
		ExpiresAt:      expiresAt,
	})

	ids := make([]string, len(evals))
	for i := range evals {
		ids[i] = evals[i].ValidatorID
	}
	return &peerreview.Assignment{
		AssignedValidatorIDs: ids,
		TierFallback:         tierFallback,
		QuorumRequired:       s.cfg.QuorumSize,
		ExpiresAt:            expiresAt,
	}, nil
}

// selectValidators orders the pool by locality (local first when a location
// is given) and tier (experienced first), shuffles uniformly within each
// bucket, truncates to the over-assign count, and guarantees at least one
// journeyman+ when the pool has any.
func (s *SelectorService) selectValidators(pool []peerreview.ValidatorPoolMember, loc *geo.Point) ([]peerreview.ValidatorPoolMember, bool) {
	local := make([]peerreview.ValidatorPoolMember, 0, len(pool))
	general := make([]peerreview.ValidatorPoolMember, 0, len(pool))
	if loc != nil {
		for _, v := range pool {
			if v.NearAny(*loc, s.cfg.AffinityRadiusKm) {
				local = append(local, v)
			} else {
				general = append(general, v)
			}
		}
	} else {
		general = pool
	}

	ordered := append(s.orderByTier(local), s.orderByTier(general)...)

	n := s.cfg.OverAssign
	if n > len(ordered) {
		n = len(ordered)
	}
	selected := ordered[:n]
	rest := ordered[n:]

	// The local-first ordering can fill the slate with nearby apprentices
	// while experienced reviewers sit in the general partition. Swap one in
	// so every review has a journeyman+ voice whenever the pool has one.
	if !hasJourneyman(selected) {
		for i, v := range rest {
			if v.Tier.Rank() >= peerreview.TierJourneyman.Rank() {
				selected[len(selected)-1] = rest[i]
				break
			}
		}
	}

	return selected, !hasJourneyman(selected)
}

// orderByTier groups members by tier, shuffles uniformly within each tier
// bucket, and concatenates buckets from most to least experienced.
func (s *SelectorService) orderByTier(members []peerreview.ValidatorPoolMember) []peerreview.ValidatorPoolMember {
	buckets := make(map[int][]peerreview.ValidatorPoolMember)
	for _, m := range members {
		buckets[m.Tier.Rank()] = append(buckets[m.Tier.Rank()], m)
	}

	ranks := make([]int, 0, len(buckets))
	for r := range buckets {
		ranks = append(ranks, r)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ranks)))

	ordered := make([]peerreview.ValidatorPoolMember, 0, len(members))
	s.mu.Lock()
	for _, r := range ranks {
		b := buckets[r]
		s.rng.Shuffle(len(b), func(i, j int) { b[i], b[j] = b[j], b[i] })
		ordered = append(ordered, b...)
	}
	s.mu.Unlock()
	return ordered
}

func hasJourneyman(members []peerreview.ValidatorPoolMember) bool {
	for _, m := range members {
		if m.Tier.Rank() >= peerreview.TierJourneyman.Rank() {
			return true
		}
	}
	return false
}

// notify dispatches one assignment notification per validator. Delivery is
// best-effort; failures are logged and swallowed.
func (s *SelectorService) notify(ctx context.Context, req AssignmentRequest, evals []peerreview.PeerEvaluation) {
	if s.notifier == nil {
		return
	}
	for i := range evals {
		e := &evals[i]
		err := s.notifier.Send(ctx, notifier.Assignment{
			EvaluationID:     e.ID,
			ValidatorAgentID: e.ValidatorAgentID,
			SubmissionType:   string(req.SubmissionType),
			Summary:          req.Summary,
			Rubric:           peerreview.Rubric,
			ExpiresAt:        e.ExpiresAt,
		})
		if err != nil {
			slog.Warn("assignment notification failed",
				"validator_agent_id", e.ValidatorAgentID,
				"peer_evaluation_id", e.ID,
				"error", err)
		}
	}
}

// Start consumes completed automated evaluations and assigns validators for
// each. Insufficient-pool failures are retried by the queue runtime; after
// exhaustion the miss is logged for operator attention.
func (s *SelectorService) Start(ctx context.Context) (func(), error) {
	handler := func(ctx context.Context, _ string, data []byte) error {
		var payload messagequeue.EvaluationCompletedPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("unmarshal evaluation.completed: %w", err)
		}

		req := AssignmentRequest{
			SubmissionID:     payload.ContentID,
			SubmissionType:   moderation.ContentType(payload.ContentType),
			SubmitterAgentID: payload.SubmitterAgentID,
			Domain:           payload.AlignedDomain,
			Summary:          payload.Summary,
		}
		if payload.Lat != nil && payload.Lng != nil {
			req.Location = &geo.Point{Lat: *payload.Lat, Lng: *payload.Lng}
		}

		if _, err := s.Assign(ctx, req); err != nil {
			if errors.Is(err, peerreview.ErrInsufficientValidators) {
				slog.Warn("validator assignment deferred",
					"submission_id", req.SubmissionID, "error", err)
			}
			return err
		}
		return nil
	}

	policy := messagequeue.RetryPolicy{
		MaxDeliver: 4,
		Backoff:    30 * time.Second,
		OnDeadLetter: func(_ context.Context, _ string, data []byte) error {
			slog.Error("validator assignment abandoned after retries", "payload", string(data))
			return nil
		},
	}
	return s.queue.SubscribeDurable(ctx, messagequeue.SubjectEvaluationCompleted, handler, policy)
}
