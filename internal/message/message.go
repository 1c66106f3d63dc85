// Package message defines the inbound contract of the capture daemon: a
// closed set of message types, each decoded from a JSON envelope
// {"type": ..., "contextId": ..., ...payload}.
package message

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/faultline/faultline/internal/model"
	"github.com/faultline/faultline/internal/sanitizer"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrMalformed   = errors.New("malformed message")
)

type Type string

const (
	TypeUserAction       Type = "user-action"
	TypePageCaptureReady Type = "page-capture-ready"
	TypeConsole          Type = "console"
	TypeNetworkPage      Type = "network-page"
	TypeNetworkObserved  Type = "network-observed"
	TypeClearTabEvents   Type = "clear-tab-events"
	TypeClearEvents      Type = "clear-events"
	TypeGetClosedTabs    Type = "get-closed-tabs"
	TypeGetAllowList     Type = "get-allow-list"
	TypeSetAllowList     Type = "set-allow-list"
	TypeIsAllowedHost    Type = "is-allowed-host"
	TypeContextActivated Type = "context-activated"
	TypeContextUpdated   Type = "context-updated"
	TypeContextRemoved   Type = "context-removed"
	TypeCaptureToggled   Type = "capture-toggled"
	TypeGetEvents        Type = "get-events"
	TypeGetBadge         Type = "get-badge"
)

// Message is implemented only by the types in this package.
type Message interface {
	Type() Type
	Context() model.ContextID
	sealed()
}

// Envelope carries the fields every message shares.
type Envelope struct {
	Kind      Type            `json:"type"`
	ContextID model.ContextID `json:"contextId,omitempty"`
}

func (e Envelope) Type() Type               { return e.Kind }
func (e Envelope) Context() model.ContextID { return e.ContextID }
func (Envelope) sealed()                    {}

// UserAction appends to the sender's action buffer.
type UserAction struct {
	Envelope
	Action model.ActionRecord `json:"action"`
}

// PageCaptureReady suppresses the fallback observer for the sender.
type PageCaptureReady struct {
	Envelope
}

type Console struct {
	Envelope
	Level   string               `json:"level"`
	Message string               `json:"message"`
	Stack   string               `json:"stack,omitempty"`
	Actions []model.ActionRecord `json:"actions,omitempty"`
}

// NetworkPage is a failed request seen by page-level capture.
type NetworkPage struct {
	Envelope
	Status   *model.Status        `json:"status"`
	URL      string               `json:"url"`
	Method   string               `json:"method,omitempty"`
	Detail   string               `json:"detail,omitempty"`
	Request  *Body                `json:"request,omitempty"`
	Response *Body                `json:"response,omitempty"`
	Actions  []model.ActionRecord `json:"actions,omitempty"`
	Time     int64                `json:"time,omitempty"`
}

// NetworkObserved is a completed or failed request seen by the coarse
// network observer.
type NetworkObserved struct {
	Envelope
	Status *model.Status `json:"status"`
	URL    string        `json:"url"`
	Method string        `json:"method,omitempty"`
	Error  string        `json:"error,omitempty"`
	Time   int64         `json:"time,omitempty"`
}

// ClearTabEvents removes the events of ContextID.
type ClearTabEvents struct {
	Envelope
}

// ClearEvents removes the events of the active context: ContextID when set,
// else the context last reported by ContextActivated.
type ClearEvents struct {
	Envelope
}

type GetClosedTabs struct {
	Envelope
}

type GetAllowList struct {
	Envelope
}

type SetAllowList struct {
	Envelope
	AllowList []string `json:"allowList"`
}

type IsAllowedHost struct {
	Envelope
	Host string `json:"host"`
}

// ContextActivated makes ContextID the active context.
type ContextActivated struct {
	Envelope
}

type ContextUpdated struct {
	Envelope
	Status string `json:"status"`
}

type ContextRemoved struct {
	Envelope
}

type CaptureToggled struct {
	Envelope
	Enabled bool `json:"enabled"`
}

// GetEvents reads the log; a zero ContextID means every event.
type GetEvents struct {
	Envelope
}

// GetBadge returns the event count of ContextID, or of the active context
// when it is unset.
type GetBadge struct {
	Envelope
}

// Body is a request or response body as captured in the page.
type Body struct {
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	// Data is a string, a JSON value or absent.
	Data json.RawMessage `json:"body,omitempty"`
	// Shape is "blob" or "stream" when Data could not be captured.
	Shape string `json:"shape,omitempty"`
	Type  string `json:"blobType,omitempty"`
	Size  int64  `json:"blobSize,omitempty"`
}

// Payload converts b into a value the sanitizer understands.
func (b *Body) Payload() any {
	if b == nil {
		return nil
	}
	switch b.Shape {
	case "blob":
		return sanitizer.Blob{Type: b.Type, Size: b.Size}
	case "stream":
		return sanitizer.Stream{}
	}
	if len(b.Data) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(b.Data, &v); err != nil {
		return string(b.Data)
	}
	return v
}

var constructors = map[Type]func() Message{
	TypeUserAction:       func() Message { return &UserAction{} },
	TypePageCaptureReady: func() Message { return &PageCaptureReady{} },
	TypeConsole:          func() Message { return &Console{} },
	TypeNetworkPage:      func() Message { return &NetworkPage{} },
	TypeNetworkObserved:  func() Message { return &NetworkObserved{} },
	TypeClearTabEvents:   func() Message { return &ClearTabEvents{} },
	TypeClearEvents:      func() Message { return &ClearEvents{} },
	TypeGetClosedTabs:    func() Message { return &GetClosedTabs{} },
	TypeGetAllowList:     func() Message { return &GetAllowList{} },
	TypeSetAllowList:     func() Message { return &SetAllowList{} },
	TypeIsAllowedHost:    func() Message { return &IsAllowedHost{} },
	TypeContextActivated: func() Message { return &ContextActivated{} },
	TypeContextUpdated:   func() Message { return &ContextUpdated{} },
	TypeContextRemoved:   func() Message { return &ContextRemoved{} },
	TypeCaptureToggled:   func() Message { return &CaptureToggled{} },
	TypeGetEvents:        func() Message { return &GetEvents{} },
	TypeGetBadge:         func() Message { return &GetBadge{} },
}

// Types lists every known message type.
func Types() []Type {
	out := make([]Type, 0, len(constructors))
	for t := range constructors {
		out = append(out, t)
	}
	return out
}

// Decode parses one envelope into its concrete message.
func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	newMsg, ok := constructors[env.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Kind)
	}
	msg := newMsg()
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, &PayloadError{Kind: env.Kind, Err: err}
	}
	return msg, nil
}

// PayloadError reports a message whose type is known but whose payload does
// not decode. It matches ErrMalformed.
type PayloadError struct {
	Kind Type
	Err  error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrMalformed, e.Kind, e.Err)
}

func (e *PayloadError) Unwrap() error { return e.Err }

func (e *PayloadError) Is(target error) bool { return target == ErrMalformed }

// Capture reports whether the message would have produced a candidate event.
func (e *PayloadError) Capture() bool {
	switch e.Kind {
	case TypeConsole, TypeNetworkPage, TypeNetworkObserved:
		return true
	}
	return false
}
