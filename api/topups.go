package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tranminhhien3124027717/agile-moe/education"
	"github.com/tranminhhien3124027717/agile-moe/factory"
	"github.com/tranminhhien3124027717/agile-moe/generic"
)

// =============================================================================
// RULE HANDLERS
// =============================================================================
//
// Rule bodies use the factory's JSON schema (factory.RuleJSON), the same
// format rule files are written in.

// ListRules returns every rule.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	if !staffOnly(w, r) {
		return
	}
	rules, err := h.store().Rules.GetAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rules", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rules))
}

// GetRule returns one rule in its JSON schema form.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	if !staffOnly(w, r) {
		return
	}
	rule, err := h.store().Rules.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get rule", err)
		return
	}
	if rule == nil {
		writeEngineError(w, generic.ErrRuleNotFound, nil)
		return
	}
	writeJSON(w, http.StatusOK, RuleDTO{ID: rule.ID, Config: h.Rules.ToJSON(*rule), Rule: *rule})
}

// CreateRule creates a rule from its JSON definition.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.decodeRule(w, r)
	if !ok {
		return
	}
	created, err := h.Engine.CreateRule(r.Context(), sessionFrom(r), rule)
	if err != nil {
		writeEngineError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// UpdateRule replaces a rule's definition.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.decodeRule(w, r)
	if !ok {
		return
	}
	updated, err := h.Engine.UpdateRule(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), rule)
	if err != nil {
		writeEngineError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteRule removes a rule.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeleteRule(r.Context(), sessionFrom(r), chi.URLParam(r, "id")); err != nil {
		writeEngineError(w, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ImportRules creates every rule of a JSON array. The whole array is
// parsed and validated before the first rule is stored.
func (h *Handler) ImportRules(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rules, err := h.Rules.ParseRules(string(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rules", err)
		return
	}

	created := make([]education.TopUpRule, 0, len(rules))
	for _, rule := range rules {
		c, err := h.Engine.CreateRule(r.Context(), sessionFrom(r), rule)
		if err != nil {
			if len(created) == 0 {
				writeEngineError(w, err, nil)
				return
			}
			writeEngineError(w, &generic.ExecutionError{Operation: "rule import", Applied: len(created), Err: err}, created)
			return
		}
		created = append(created, c)
	}
	writeJSON(w, http.StatusCreated, created)
}

// PreviewRule evaluates an unsaved rule against today's accounts.
func (h *Handler) PreviewRule(w http.ResponseWriter, r *http.Request) {
	if !staffOnly(w, r) {
		return
	}
	rule, ok := h.decodeRule(w, r)
	if !ok {
		return
	}
	preview, err := h.Engine.PreviewRule(r.Context(), rule)
	if err != nil {
		writeEngineError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// GetRuleEligible evaluates a stored rule against today's accounts.
func (h *Handler) GetRuleEligible(w http.ResponseWriter, r *http.Request) {
	if !staffOnly(w, r) {
		return
	}
	rule, err := h.store().Rules.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get rule", err)
		return
	}
	if rule == nil {
		writeEngineError(w, generic.ErrRuleNotFound, nil)
		return
	}
	preview, err := h.Engine.PreviewRule(r.Context(), *rule)
	if err != nil {
		writeEngineError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (h *Handler) decodeRule(w http.ResponseWriter, r *http.Request) (education.TopUpRule, bool) {
	var rj factory.RuleJSON
	if !decodeRequest(w, r, &rj) {
		return education.TopUpRule{}, false
	}
	rule, err := h.Rules.FromJSON(rj)
	if err != nil {
		writeEngineError(w, err, nil)
		return education.TopUpRule{}, false
	}
	return rule, true
}

// RuleDTO is a stored rule with its JSON schema form.
type RuleDTO struct {
	ID     string              `json:"id"`
	Config factory.RuleJSON    `json:"config"`
	Rule   education.TopUpRule `json:"rule"`
}

// =============================================================================
// SCHEDULE HANDLERS
// =============================================================================

// ListSchedules returns schedules, optionally filtered by status or type.
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	if !staffOnly(w, r) {
		return
	}
	q := r.URL.Query()
	var (
		schedules []education.TopUpSchedule
		err       error
	)
	switch {
	case q.Get("status") != "":
		schedules, err = h.store().Schedules.GetByField(r.Context(), "status", q.Get("status"))
	case q.Get("type") != "":
		schedules, err = h.store().Schedules.GetByField(r.Context(), "type", q.Get("type"))
	default:
		schedules, err = h.store().Schedules.GetAll(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list schedules", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(schedules))
}

// GetSchedule returns one schedule with the transactions it wrote.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	if !staffOnly(w, r) {
		return
	}
	id := chi.URLParam(r, "id")
	schedule, err := h.store().Schedules.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get schedule", err)
		return
	}
	if schedule == nil {
		writeEngineError(w, generic.ErrScheduleNotFound, nil)
		return
	}
	txs, err := h.store().Ledger.ByReference(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, ScheduleDetailDTO{Schedule: *schedule, Transactions: nonNil(txs)})
}

// ScheduleDetailDTO is a schedule and the ledger entries it produced.
type ScheduleDetailDTO struct {
	Schedule     education.TopUpSchedule `json:"schedule"`
	Transactions []generic.Transaction   `json:"transactions"`
}

// ScheduleBatch creates batch top-ups, one per rule.
func (h *Handler) ScheduleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchScheduleRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	opts := scheduleOptions(req.ScheduledDate, req.ScheduledTime, req.Immediate, req.Remarks)
	results, err := h.Engine.ScheduleBatch(r.Context(), sessionFrom(r), req.RuleIDs, opts)
	if err != nil {
		writeEngineError(w, err, results)
		return
	}
	writeJSON(w, http.StatusCreated, results)
}

// ScheduleIndividual creates a top-up for one account.
func (h *Handler) ScheduleIndividual(w http.ResponseWriter, r *http.Request) {
	var req IndividualScheduleRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	opts := scheduleOptions(req.ScheduledDate, req.ScheduledTime, req.Immediate, req.Remarks)
	result, err := h.Engine.ScheduleIndividual(r.Context(), sessionFrom(r), req.AccountID, req.Amount, opts)
	if err != nil {
		writeEngineError(w, err, result)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// ExecuteSchedule runs a scheduled top-up now.
func (h *Handler) ExecuteSchedule(w http.ResponseWriter, r *http.Request) {
	result, err := h.Engine.Execute(r.Context(), sessionFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CancelSchedule stops a top-up that has not run.
func (h *Handler) CancelSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Engine.Cancel(r.Context(), sessionFrom(r), id); err != nil {
		writeEngineError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(education.ScheduleFailed)})
}

// =============================================================================
// JOB HANDLERS
// =============================================================================

// ListJobRuns returns recorded background job runs, newest first.
func (h *Handler) ListJobRuns(w http.ResponseWriter, r *http.Request) {
	if !staffOnly(w, r) {
		return
	}
	if h.Jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "Scheduler not configured", nil)
		return
	}
	runs, err := h.Jobs.Runs(r.Context(), r.URL.Query().Get("job"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list job runs", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(runs))
}

// RunJob triggers a background job immediately.
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	if !staffOnly(w, r) {
		return
	}
	if h.Jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "Scheduler not configured", nil)
		return
	}
	run, err := h.Jobs.RunNow(r.Context(), chi.URLParam(r, "job"))
	switch {
	case errors.Is(err, ErrUnknownJob):
		writeError(w, http.StatusNotFound, "Unknown job", err)
		return
	case err != nil && run.ID == "":
		writeError(w, http.StatusInternalServerError, "Failed to run job", err)
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, run)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
