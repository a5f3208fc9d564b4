package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/trackwell/beacon/id"
	"github.com/trackwell/beacon/queue"
)

func (h *Handler) listQueue(w http.ResponseWriter, r *http.Request) {
	opts := queue.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	}
	if raw := queryParam(r, "state"); raw != "" {
		state := queue.State(raw)
		switch state {
		case queue.StatePending, queue.StateProcessing, queue.StateCompleted,
			queue.StateFailed, queue.StateCancelled:
			opts.State = &state
		default:
			writeError(w, http.StatusBadRequest, "invalid state filter")
			return
		}
	}

	items, err := h.queueSvc.List(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) getQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queueSvc.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) getQueueItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := id.ParseItemID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item ID")
		return
	}

	item, err := h.queueSvc.Get(r.Context(), itemID)
	if err != nil {
		if errors.Is(err, queue.ErrItemNotFound) {
			writeError(w, http.StatusNotFound, "queue item not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) retryQueueItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := id.ParseItemID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item ID")
		return
	}

	item, retryErr := h.queueSvc.RetryNow(r.Context(), itemID)
	if retryErr != nil {
		switch {
		case errors.Is(retryErr, queue.ErrItemNotFound):
			writeError(w, http.StatusNotFound, "queue item not found")
		case errors.Is(retryErr, queue.ErrConflict):
			writeError(w, http.StatusConflict, "item is not pending")
		default:
			writeError(w, http.StatusInternalServerError, retryErr.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) cancelQueueItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := id.ParseItemID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item ID")
		return
	}

	item, cancelErr := h.queueSvc.Cancel(r.Context(), itemID)
	if cancelErr != nil {
		switch {
		case errors.Is(cancelErr, queue.ErrItemNotFound):
			writeError(w, http.StatusNotFound, "queue item not found")
		case errors.Is(cancelErr, queue.ErrConflict):
			writeError(w, http.StatusConflict, "item is not pending")
		default:
			writeError(w, http.StatusInternalServerError, cancelErr.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, item)
}

type cleanupRequest struct {
	Retention string `json:"retention"` // Go duration, e.g. "720h"
}

func (h *Handler) cleanupQueue(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	retention, err := time.ParseDuration(req.Retention)
	if err != nil || retention <= 0 {
		writeError(w, http.StatusBadRequest, "invalid 'retention' duration")
		return
	}

	count, cleanErr := h.queueSvc.Cleanup(r.Context(), retention)
	if cleanErr != nil {
		writeError(w, http.StatusInternalServerError, cleanErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"deleted": count})
}

func (h *Handler) getOrderQueue(w http.ResponseWriter, r *http.Request) {
	items, err := h.queueSvc.OrderQueue(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, items)
}
