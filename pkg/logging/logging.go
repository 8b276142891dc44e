package logging

import (
	"encoding/json"
	"log"
	"time"
)

type Fields struct {
	Service    string `json:"service"`
	TxID       string `json:"txid,omitempty"`
	Ref        string `json:"ref,omitempty"`
	OrderID    string `json:"order_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	Account    string `json:"account,omitempty"`
	EventID    string `json:"event_id,omitempty"`
	Step       string `json:"step,omitempty"`
	Status     string `json:"status,omitempty"`
	Amount     uint64 `json:"amount,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Message    string `json:"message,omitempty"`
}

func Log(fields Fields) {
	payload := map[string]any{
		"service":   fields.Service,
		"status":    fields.Status,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	// only the fields that are set, so ledger lines stay short
	for k, v := range map[string]string{
		"txid":     fields.TxID,
		"ref":      fields.Ref,
		"order_id": fields.OrderID,
		"item_id":  fields.ItemID,
		"account":  fields.Account,
		"event_id": fields.EventID,
		"step":     fields.Step,
		"message":  fields.Message,
	} {
		if v != "" {
			payload[k] = v
		}
	}
	if fields.Amount != 0 {
		payload["amount"] = fields.Amount
	}
	if fields.DurationMS != 0 {
		payload["duration_ms"] = fields.DurationMS
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("{\"service\":%q,\"status\":\"log_error\",\"error\":%q}", fields.Service, err.Error())
		return
	}
	log.Print(string(data))
}
