package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	ethav "github.com/KOREAN139/ethereum-address-validator"
	"github.com/ethereum/go-ethereum/common"

	"gorvnbridge/types"
)

type RegisterRequest struct {
	SourceAddress      string `json:"sourceAddress"`
	DestinationAddress string `json:"destinationAddress"`
	// accepted for clients of the previous bridge API
	RVNAddress string `json:"rvnAddress"`
	ETHAddress string `json:"ethAddress"`
}

func (req *RegisterRequest) normalize() {
	if req.SourceAddress == "" {
		req.SourceAddress = req.RVNAddress
	}
	if req.DestinationAddress == "" {
		req.DestinationAddress = req.ETHAddress
	}
	req.SourceAddress = strings.TrimSpace(req.SourceAddress)
	req.DestinationAddress = strings.TrimSpace(req.DestinationAddress)
}

// Register binds a source address to a destination address, last write wins.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.Logger.Warn("error reading request body", "error", err)
		responsePlain(w, []byte("Error reading request body"), http.StatusBadRequest)
		return
	}

	var req RegisterRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.Logger.Warn("error unmarshalling request body", "error", err)
		responsePlain(w, []byte("Cannot unmarshal input JSON"), http.StatusBadRequest)
		return
	}
	req.normalize()

	if req.SourceAddress == "" || req.DestinationAddress == "" {
		responsePlain(w, []byte("sourceAddress and destinationAddress are required"), http.StatusBadRequest)
		return
	}

	if !common.IsHexAddress(req.DestinationAddress) {
		responsePlain(w, []byte("Invalid destination address"), http.StatusBadRequest)
		return
	}
	destination := common.HexToAddress(req.DestinationAddress).Hex()
	if err := ethav.Validate(destination); err != nil {
		h.Logger.Warn("error validating destination address", "address", req.DestinationAddress, "error", err)
		responsePlain(w, []byte("Invalid destination address"), http.StatusBadRequest)
		return
	}

	rec := types.AddressBinding{
		SourceAddress:      req.SourceAddress,
		DestinationAddress: destination,
	}
	if err := h.Directory.UpsertBinding(r.Context(), &rec); err != nil {
		h.Logger.Error("error storing address binding", "source", rec.SourceAddress, "error", err)
		responsePlain(w, []byte("Error registering addresses"), http.StatusInternalServerError)
		return
	}

	h.Logger.Info("registered address binding", "id", rec.ID, "source", rec.SourceAddress, "destination", rec.DestinationAddress)
	responsePlain(w, []byte("Addresses registered"), http.StatusOK)
}
