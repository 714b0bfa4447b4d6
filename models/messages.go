package models

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	MsgStartAcquisition   MessageType = "START_ACQUISITION"
	MsgTranscriptFetched  MessageType = "TRANSCRIPT_FETCHED"
	MsgTranscriptReady    MessageType = "TRANSCRIPT_READY"
	MsgDeliverToChatGPT   MessageType = "DELIVER_TO_CHATGPT"
	MsgDeliveryDone       MessageType = "DELIVERY_DONE"
	MsgUsageUpdated       MessageType = "USAGE_UPDATED"
	MsgSetTranscriptRange MessageType = "SET_TRANSCRIPT_RANGE"
)

// Envelope is the unit pushed over the event stream.
type Envelope struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func NewEnvelope(t MessageType, requestID string, payload any) (Envelope, error) {
	env := Envelope{Type: t, RequestID: requestID, Timestamp: time.Now()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		env.Payload = raw
	}
	return env, nil
}

func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// TranscriptReady is relayed to the Requester once a result is accepted.
type TranscriptReady struct {
	Result
	TabID string `json:"tab_id"`
}

type DeliveryDone struct {
	ChatTabID string `json:"chat_tab_id"`
	CharCount int    `json:"char_count"`
	Error     string `json:"error,omitempty"`
}

type UsageUpdated struct {
	EstimatedTokenCount int `json:"estimated_token_count"`
}

type SetTranscriptRange struct {
	TabID string    `json:"tab_id"`
	Range TimeRange `json:"range"`
}
