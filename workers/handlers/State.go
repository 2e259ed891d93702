package handlers

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

// State reports the pipeline settings and queue depth.
func (h *Handlers) State(w http.ResponseWriter, r *http.Request) {
	resp := &APIStateResponse{
		Status:        "ok",
		PayoutEnabled: h.PayoutEnabled,
		Rate:          h.Rate.String(),
		MinDeposit:    h.MinDeposit.String(),
	}
	if h.BridgeAddress != (common.Address{}) {
		resp.BridgeAddress = h.BridgeAddress.Hex()
	}

	stats, err := h.Queue.Stats(r.Context())
	if err != nil {
		h.Logger.Error("error getting queue stats", "error", err)
		resp.Message = "queue unavailable"
	} else {
		resp.Queue = stats
	}
	if !h.PayoutEnabled {
		resp.Message = "payouts disabled, bridge credentials missing"
	}

	responseJSON(w, resp, http.StatusOK)
}
