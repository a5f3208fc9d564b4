package api

import (
	"net/http"
	"time"

	"github.com/trackwell/beacon/ledger"
)

func (h *Handler) getOrderLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledgerSvc.OrderLogs(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) getLedgerStats(w http.ResponseWriter, r *http.Request) {
	period := ledger.PeriodAll
	if raw := queryParam(r, "period"); raw != "" {
		switch p := ledger.Period(raw); p {
		case ledger.PeriodToday, ledger.PeriodWeek, ledger.PeriodMonth, ledger.PeriodAll:
			period = p
		default:
			writeError(w, http.StatusBadRequest, "invalid period (use today, week, month, or all)")
			return
		}
	}

	stats, err := h.ledgerSvc.Stats(r.Context(), period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

type purgeRequest struct {
	Before string `json:"before"` // RFC3339
}

func (h *Handler) purgeLedger(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	before, err := time.Parse(time.RFC3339, req.Before)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid 'before' time format (use RFC3339)")
		return
	}

	count, purgeErr := h.ledgerSvc.Purge(r.Context(), before)
	if purgeErr != nil {
		writeError(w, http.StatusInternalServerError, purgeErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"purged": count})
}
