package handlers

import (
	"net/http"

	"github.com/shopspring/decimal"

	"gorvnbridge/types"
)

func (h *Handlers) BalanceRVN(w http.ResponseWriter, r *http.Request) {
	balance, err := h.RVN.GetBalance(r.Context())
	if err != nil {
		h.Logger.Error("error getting RVN balance", "error", err)
		responsePlain(w, []byte("error"), http.StatusInternalServerError)
		return
	}
	responsePlain(w, []byte(balance.String()), http.StatusOK)
}

func (h *Handlers) BalanceETH(w http.ResponseWriter, r *http.Request) {
	balanceWei, err := h.ETH.BalanceAt(r.Context(), h.BridgeAddress)
	if err != nil {
		h.Logger.Error("error getting ETH balance", "error", err)
		responsePlain(w, []byte("error"), http.StatusInternalServerError)
		return
	}
	balance := types.FromWei(decimal.NewFromBigInt(balanceWei, 0))
	responsePlain(w, []byte(balance.String()), http.StatusOK)
}
