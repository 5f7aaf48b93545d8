package api

import (
	"net/http"
)

// =============================================================================
// E-SERVICE HANDLERS
// =============================================================================
//
// The account holder portal. Every route acts on the caller's own account:
// the X-Actor-ID header is the account id and the role defaults to
// account_holder.

const recentTransactions = 5

// GetDashboard returns the holder's balance, courses, dues and latest
// transactions.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := sessionFrom(r)

	acc, err := h.Engine.Account(ctx, sess, sess.ActorID)
	if err != nil {
		writeEngineError(w, err, nil)
		return
	}
	summaries, err := h.Engine.EnrollmentSummaries(ctx, sess, acc.ID)
	if err != nil {
		writeEngineError(w, err, nil)
		return
	}
	unpaid, err := h.Engine.UnpaidCharges(ctx, acc.ID)
	if err != nil {
		writeEngineError(w, err, nil)
		return
	}
	txs, err := h.store().Ledger.ForAccount(ctx, acc.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load transactions", err)
		return
	}
	if len(txs) > recentTransactions {
		txs = txs[:recentTransactions]
	}

	writeJSON(w, http.StatusOK, DashboardDTO{
		Account:        acc,
		Enrollments:    nonNil(summaries),
		UnpaidCharges:  nonNil(unpaid),
		OutstandingDue: totalDue(unpaid),
		Recent:         nonNil(txs),
	})
}

// UpdateProfile lets the holder change their contact details.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req UpdateAccountRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	sess := sessionFrom(r)
	acc, err := h.Engine.UpdateAccount(r.Context(), sess, sess.ActorID, req.toPatch())
	if err != nil {
		writeEngineError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// GetMyEnrollments returns the holder's enrollment summaries.
func (h *Handler) GetMyEnrollments(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	summaries, err := h.Engine.EnrollmentSummaries(r.Context(), sess, sess.ActorID)
	if err != nil {
		writeEngineError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(summaries))
}

// GetMyCharges returns the holder's unpaid charges, oldest due first.
func (h *Handler) GetMyCharges(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if _, err := h.Engine.Account(r.Context(), sess, sess.ActorID); err != nil {
		writeEngineError(w, err, nil)
		return
	}
	unpaid, err := h.Engine.UnpaidCharges(r.Context(), sess.ActorID)
	if err != nil {
		writeEngineError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(unpaid))
}

// GetMyTransactions returns the holder's ledger.
func (h *Handler) GetMyTransactions(w http.ResponseWriter, r *http.Request) {
	h.writeTransactions(w, r, sessionFrom(r).ActorID)
}

// GetMyStatement returns the holder's monthly statement.
func (h *Handler) GetMyStatement(w http.ResponseWriter, r *http.Request) {
	h.writeStatement(w, r, sessionFrom(r).ActorID)
}

// PayAll settles every unpaid charge of the holder with one split.
func (h *Handler) PayAll(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	sess := sessionFrom(r)
	result, err := h.Engine.PayAll(r.Context(), sess, sess.ActorID, req.toSplit())
	if err != nil {
		writeEngineError(w, err, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
