package handlers

import (
	"gorvnbridge/redis"
)

type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type APIStateResponse struct {
	Status        string            `json:"status"`
	Message       string            `json:"message,omitempty"`
	BridgeAddress string            `json:"bridgeAddress,omitempty"`
	PayoutEnabled bool              `json:"payoutEnabled"`
	Rate          string            `json:"rate"`
	MinDeposit    string            `json:"minDeposit"`
	Queue         *redis.QueueStats `json:"queue,omitempty"`
}
