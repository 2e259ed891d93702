package handlers

import (
	"net/http"

	"github.com/go-chi/chi"
)

func (h *Handlers) DeadLetters(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.Queue.DeadLetters(r.Context())
	if err != nil {
		h.Logger.Error("error listing dead letters", "error", err)
		responsePlain(w, []byte("Error listing dead letters"), http.StatusInternalServerError)
		return
	}
	responseJSON(w, jobs, http.StatusOK)
}

func (h *Handlers) Processed(w http.ResponseWriter, r *http.Request) {
	txid := chi.URLParam(r, "txid")

	rec, err := h.Ledger.GetProcessed(r.Context(), txid)
	if err != nil {
		h.Logger.Error("error getting processed record", "txid", txid, "error", err)
		responsePlain(w, []byte("Error getting processed record"), http.StatusInternalServerError)
		return
	}
	if rec == nil {
		responseJSON(w, &APIResponse{
			Status:  "error",
			Message: "transaction not processed",
		}, http.StatusNotFound)
		return
	}
	responseJSON(w, rec, http.StatusOK)
}
