package processor

import "github.com/faultline/faultline/internal/model"

// Ack is the reply to messages that only report success.
type Ack struct {
	OK bool `json:"ok"`
}

// Outcome of a capture message.
type Outcome string

// Ignored means the message was filtered out before reaching the store.
const Ignored Outcome = "ignored"

type CaptureResponse struct {
	OK     bool    `json:"ok"`
	Result Outcome `json:"result"`
}

func Captured(o Outcome) CaptureResponse {
	return CaptureResponse{OK: true, Result: o}
}

type ClearResponse struct {
	OK      bool `json:"ok"`
	Removed int  `json:"removed"`
}

type BadgeResponse struct {
	ContextID model.ContextID `json:"contextId"`
	Count     int             `json:"count"`
}
