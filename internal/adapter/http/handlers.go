package http

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/civicforge/civicforge/internal/domain/moderation"
	"github.com/civicforge/civicforge/internal/port/database"
	"github.com/civicforge/civicforge/internal/port/messagequeue"
	"github.com/civicforge/civicforge/internal/service"
)

const maxSubmissionBody = 1 << 20 // 1 MiB

// Handlers bundles the dependencies of the moderation HTTP API.
type Handlers struct {
	Store   database.Store
	Queue   messagequeue.Queue
	Workers *service.WorkerMetrics

	// QueueConnected reports broker health for /healthz. Optional.
	QueueConnected func() bool
}

type submissionRequest struct {
	ContentID        string   `json:"content_id"`
	ContentType      string   `json:"content_type"`
	RawContent       string   `json:"raw_content"`
	SubmitterID      string   `json:"submitter_id"`
	SubmitterAgentID string   `json:"submitter_agent_id"`
	Lat              *float64 `json:"lat,omitempty"`
	Lng              *float64 `json:"lng,omitempty"`
}

type submissionResponse struct {
	EvaluationID string `json:"evaluation_id"`
	Status       string `json:"status"`
}

// SubmitContent accepts a new submission and enqueues its evaluation job.
// The evaluation itself runs asynchronously on the worker queue.
func (h *Handlers) SubmitContent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[submissionRequest](w, r, maxSubmissionBody)
	if !ok {
		return
	}

	job := moderation.EvaluationJob{
		EvaluationID:     uuid.NewString(),
		ContentID:        req.ContentID,
		ContentType:      moderation.ContentType(req.ContentType),
		RawContent:       req.RawContent,
		SubmitterID:      req.SubmitterID,
		SubmitterAgentID: req.SubmitterAgentID,
		Lat:              req.Lat,
		Lng:              req.Lng,
	}
	if err := job.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	payload := messagequeue.EvaluationRequestedPayload{
		EvaluationID:     job.EvaluationID,
		ContentID:        job.ContentID,
		ContentType:      string(job.ContentType),
		RawContent:       job.RawContent,
		SubmitterID:      job.SubmitterID,
		SubmitterAgentID: job.SubmitterAgentID,
		Lat:              job.Lat,
		Lng:              job.Lng,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if err := h.Queue.Publish(r.Context(), messagequeue.SubjectEvaluationRequested, data); err != nil {
		writeInternalError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, submissionResponse{
		EvaluationID: job.EvaluationID,
		Status:       "queued",
	})
}

// GetEvaluation returns one stored guardrail evaluation.
func (h *Handlers) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if !requireField(w, id, "id") {
		return
	}

	ev, err := h.Store.GetEvaluation(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "evaluation not found")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// GetConsensus returns the stored consensus result for a submission.
func (h *Handlers) GetConsensus(w http.ResponseWriter, r *http.Request) {
	submissionType := moderation.ContentType(urlParam(r, "type"))
	id := urlParam(r, "id")
	if !submissionType.Valid() {
		writeError(w, http.StatusBadRequest, "invalid submission type")
		return
	}
	if !requireField(w, id, "id") {
		return
	}

	res, err := h.Store.GetConsensusResult(r.Context(), id, submissionType)
	if err != nil {
		writeDomainError(w, err, "consensus result not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// WorkerMetrics returns a snapshot of this instance's worker counters.
func (h *Handlers) WorkerMetrics(w http.ResponseWriter, _ *http.Request) {
	if h.Workers == nil {
		writeJSON(w, http.StatusOK, service.MetricsSnapshot{})
		return
	}
	writeJSON(w, http.StatusOK, h.Workers.Snapshot())
}

// Healthz reports process liveness and broker connectivity.
func (h *Handlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	if h.QueueConnected != nil {
		if h.QueueConnected() {
			status["nats"] = "connected"
		} else {
			status["nats"] = "disconnected"
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, status)
}
