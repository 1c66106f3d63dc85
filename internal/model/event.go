// Package model holds the captured fault events and the user actions
// correlated with them. These types are what the store persists under the
// "events" and "lastActions" keys.
package model

import (
	"math"
	"strconv"

	"github.com/goccy/go-json"
)

// Kind discriminates the Event union.
type Kind string

const (
	KindNetwork Kind = "network"
	KindConsole Kind = "console"
)

// Source records which capture path produced an event.
type Source string

const (
	// SourcePage is the rich page-level network capture.
	SourcePage Source = "page"
	// SourceObserved is the coarse network-observation fallback.
	SourceObserved Source = "observed"
	SourceConsole  Source = "console"
)

// ContextID identifies a browsing context (a tab). Zero means the event is
// not tied to any context.
type ContextID int64

// NoContext marks a global event.
const NoContext ContextID = 0

func (c ContextID) String() string {
	return strconv.FormatInt(int64(c), 10)
}

// ParseContextID parses the decimal form produced by String.
func ParseContextID(s string) (ContextID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return NoContext, err
	}
	return ContextID(n), nil
}

// Event is a single captured fault.
type Event struct {
	ID        string         `json:"id,omitempty"`
	Kind      Kind           `json:"kind" validate:"oneof=network console"`
	Source    Source         `json:"source,omitempty"`
	Time      int64          `json:"time" validate:"gt=0"`
	ContextID ContextID      `json:"contextId,omitempty"`
	Actions   []ActionRecord `json:"actions" validate:"dive"`

	// network
	Status       *Status      `json:"status,omitempty"`
	URL          string       `json:"url,omitempty" validate:"required_if=Kind network"`
	Method       string       `json:"method,omitempty"`
	Detail       string       `json:"detail,omitempty"`
	Error        string       `json:"error,omitempty"`
	RequestInfo  *RequestInfo `json:"requestInfo,omitempty"`
	ResponseInfo *RequestInfo `json:"responseInfo,omitempty"`

	// console
	Level   string `json:"level,omitempty" validate:"required_if=Kind console"`
	Message string `json:"message,omitempty"`
	Stack   string `json:"stack,omitempty"`

	// enrichment
	Browser string `json:"browser,omitempty"`
	OS      string `json:"os,omitempty"`
	Device  string `json:"device,omitempty"`
}

// IsNetwork reports whether e is a network fault.
func (e *Event) IsNetwork() bool {
	return e != nil && e.Kind == KindNetwork
}

// RequestInfo is the sanitized, bounded view of a request or response body.
// Size is nil when the body could not be measured (an unread stream).
type RequestInfo struct {
	Method      string            `json:"method,omitempty"`
	ContentType string            `json:"contentType,omitempty"`
	Size        *int64            `json:"size"`
	Fields      map[string]string `json:"fields,omitempty"`
	ArrayLength int               `json:"arrayLength,omitempty"`
}

// StatusFail is the wire sentinel for a request that never got a response.
const StatusFail = "FAIL"

// Status is an HTTP status code or the FAIL sentinel. It decodes leniently:
// a value that is neither a number nor "FAIL" yields a Status that reports
// !Valid() so the schema gate, not the decoder, rejects the event.
type Status struct {
	Code int
	Fail bool

	malformed bool
}

// HTTPStatus returns a Status for an HTTP status code.
func HTTPStatus(code int) *Status {
	return &Status{Code: code}
}

// FailStatus returns the FAIL sentinel.
func FailStatus() *Status {
	return &Status{Fail: true}
}

// Valid reports whether s is a positive status code or the FAIL sentinel.
func (s *Status) Valid() bool {
	if s == nil || s.malformed {
		return false
	}
	return s.Fail || s.Code > 0
}

// Equal compares two statuses by value.
func (s *Status) Equal(o *Status) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.Fail == o.Fail && s.Code == o.Code && s.malformed == o.malformed
}

func (s Status) String() string {
	if s.Fail {
		return StatusFail
	}
	return strconv.Itoa(s.Code)
}

// MarshalJSON implements json.Marshaler.
func (s Status) MarshalJSON() ([]byte, error) {
	if s.Fail {
		return json.Marshal(StatusFail)
	}
	return json.Marshal(s.Code)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Status) UnmarshalJSON(data []byte) error {
	*s = Status{}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		s.malformed = true
		return nil
	}
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) || t != math.Trunc(t) {
			s.malformed = true
			return nil
		}
		s.Code = int(t)
	case string:
		if t != StatusFail {
			s.malformed = true
			return nil
		}
		s.Fail = true
	default:
		s.malformed = true
	}
	return nil
}
