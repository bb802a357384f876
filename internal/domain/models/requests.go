package models

// Requests for the ops HTTP endpoints. Defined in domain for consistency and reuse.

type ResetAccountRequest struct {
	Capital float64 `json:"capital" default:"1000" validate:"gt=0"`
	Confirm bool    `json:"confirm" validate:"required"`
}

type ClearHaltRequest struct {
	Reason string `json:"reason" validate:"required,min=3"`
}

type PositionsRequest struct {
	Status string `query:"status" json:"status" default:"open" validate:"oneof=open closed all"`
	Limit  int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type FillsRequest struct {
	Limit int `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type HaltRequest struct {
	Reason string `json:"reason" validate:"required,min=3"`
}

type BarsRequest struct {
	TokenID string `query:"token_id" json:"token_id" validate:"required"`
	TF      string `query:"tf" json:"tf"`
	From    string `query:"from" json:"from"` // RFC3339 or unix seconds, default now-24h
	To      string `query:"to" json:"to"`     // RFC3339 or unix seconds, default now
	Limit   int    `query:"limit" json:"limit" default:"500" validate:"gte=1,lte=10000"`
}
