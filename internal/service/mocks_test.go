package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/civicforge/civicforge/internal/domain"
	"github.com/civicforge/civicforge/internal/domain/moderation"
	"github.com/civicforge/civicforge/internal/domain/peerreview"
	"github.com/civicforge/civicforge/internal/port/database"
	"github.com/civicforge/civicforge/internal/port/messagequeue"
	"github.com/civicforge/civicforge/internal/port/notifier"
)

// Hand-rolled fakes shared by the service tests.

type savedEvaluation struct {
	ev            *moderation.GuardrailEvaluation
	contentStatus string
	adminReview   bool
}

type mockStore struct {
	mu sync.Mutex

	profiles   map[string]*moderation.SubmitterProfile
	saved      []savedEvaluation
	saveErr    error
	validators []peerreview.ValidatorPoolMember
	recent     map[string]struct{}
	created    []peerreview.PeerEvaluation

	consensus map[string]*peerreview.ConsensusResult
	completed []peerreview.PeerEvaluation
	earliest  time.Time
	cancelled int
}

func newMockStore() *mockStore {
	return &mockStore{
		profiles:  make(map[string]*moderation.SubmitterProfile),
		recent:    make(map[string]struct{}),
		consensus: make(map[string]*peerreview.ConsensusResult),
	}
}

func consensusKey(id string, ct moderation.ContentType) string {
	return string(ct) + "/" + id
}

func (m *mockStore) WithTx(_ context.Context, fn func(tx database.Store) error) error {
	return fn(m)
}

func (m *mockStore) GetSubmitterProfile(_ context.Context, submitterID string) (*moderation.SubmitterProfile, error) {
	p, ok := m.profiles[submitterID]
	if !ok {
		return nil, fmt.Errorf("submitter %s: %w", submitterID, domain.ErrNotFound)
	}
	return p, nil
}

func (m *mockStore) SaveEvaluation(_ context.Context, ev *moderation.GuardrailEvaluation, contentStatus string, adminReview bool) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, savedEvaluation{ev: ev, contentStatus: contentStatus, adminReview: adminReview})
	return nil
}

func (m *mockStore) GetEvaluation(_ context.Context, evaluationID string) (*moderation.GuardrailEvaluation, error) {
	for _, s := range m.saved {
		if s.ev.EvaluationID == evaluationID {
			return s.ev, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) ListEligibleValidators(_ context.Context, excludeAgentID string, dailyCap int) ([]peerreview.ValidatorPoolMember, error) {
	var out []peerreview.ValidatorPoolMember
	for _, v := range m.validators {
		if v.AgentID == excludeAgentID || !v.Active || v.DailyEvaluationCount >= dailyCap {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (m *mockStore) RecentEvaluatorIDs(_ context.Context, _ string, _ int) (map[string]struct{}, error) {
	return m.recent, nil
}

func (m *mockStore) CreatePeerEvaluations(_ context.Context, evals []peerreview.PeerEvaluation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, evals...)
	return nil
}

func (m *mockStore) GetConsensusResult(_ context.Context, id string, ct moderation.ContentType) (*peerreview.ConsensusResult, error) {
	if r, ok := m.consensus[consensusKey(id, ct)]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("consensus %s/%s: %w", ct, id, domain.ErrNotFound)
}

func (m *mockStore) ListCompletedResponses(_ context.Context, _ string, _ moderation.ContentType) ([]peerreview.PeerEvaluation, error) {
	return m.completed, nil
}

func (m *mockStore) EarliestAssignmentTime(_ context.Context, _ string, _ moderation.ContentType) (time.Time, error) {
	return m.earliest, nil
}

func (m *mockStore) InsertConsensusResult(_ context.Context, r *peerreview.ConsensusResult) (bool, error) {
	key := consensusKey(r.SubmissionID, r.SubmissionType)
	if _, exists := m.consensus[key]; exists {
		return false, nil
	}
	m.consensus[key] = r
	return true, nil
}

func (m *mockStore) CancelPendingEvaluations(_ context.Context, _ string, _ moderation.ContentType) (int, error) {
	m.cancelled++
	return 2, nil
}

type published struct {
	subject string
	data    []byte
}

type mockQueue struct {
	mu        sync.Mutex
	published []published
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	if err := messagequeue.Validate(subject, data); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, published{subject: subject, data: data})
	return nil
}

func (q *mockQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *mockQueue) SubscribeDurable(context.Context, string, messagequeue.Handler, messagequeue.RetryPolicy) (func(), error) {
	return func() {}, nil
}

func (q *mockQueue) Close() error { return nil }

func (q *mockQueue) bySubject(subject string) [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out [][]byte
	for _, p := range q.published {
		if p.subject == subject {
			out = append(out, p.data)
		}
	}
	return out
}

type broadcastEvent struct {
	eventType string
	payload   any
}

type mockHub struct {
	mu     sync.Mutex
	events []broadcastEvent
}

func (h *mockHub) BroadcastEvent(_ context.Context, eventType string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, broadcastEvent{eventType: eventType, payload: payload})
}

type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMockCache() *mockCache {
	return &mockCache{data: make(map[string][]byte)}
}

func (c *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mockCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mockCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

type mockClassifier struct {
	mu     sync.Mutex
	result moderation.LayerBResult
	err    error
	calls  int
}

func (c *mockClassifier) Classify(_ context.Context, _ string) (*moderation.LayerBResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	r := c.result
	return &r, nil
}

func (c *mockClassifier) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type mockLock struct {
	mu       sync.Mutex
	acquires int
	releases int
}

func (l *mockLock) Acquire(_ context.Context, _ string) (func(), error) {
	l.mu.Lock()
	l.acquires++
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		l.releases++
		l.mu.Unlock()
	}, nil
}

type trackerCall struct {
	validatorID    string
	recommendation string
	automated      string
}

type mockTracker struct {
	mu         sync.Mutex
	updates    []trackerCall
	tierChecks []string
	err        error
}

func (t *mockTracker) UpdateMetrics(_ context.Context, validatorID, recommendation, automatedDecision string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.updates = append(t.updates, trackerCall{validatorID, recommendation, automatedDecision})
	return nil
}

func (t *mockTracker) CheckTierChange(_ context.Context, validatorID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.tierChecks = append(t.tierChecks, validatorID)
	return nil
}

type mockNotifier struct {
	mu   sync.Mutex
	sent []notifier.Assignment
	err  error
}

func (n *mockNotifier) Name() string { return "mock" }

func (n *mockNotifier) Capabilities() notifier.Capabilities { return notifier.Capabilities{} }

func (n *mockNotifier) Send(_ context.Context, a notifier.Assignment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, a)
	return nil
}
