// Package sanitizer turns page-supplied request and response bodies into a
// bounded, redacted field map safe to persist. It never fails: anything it
// cannot inspect degrades to "no fields extracted".
package sanitizer

import (
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/faultline/faultline/internal/config"
	"github.com/faultline/faultline/internal/metrics"
	"github.com/faultline/faultline/internal/model"
)

// TruncationMarker is appended to values cut at the length limit.
const TruncationMarker = "...[truncated]"

const (
	contentTypeJSON   = "application/json"
	contentTypeForm   = "application/x-www-form-urlencoded"
	contentTypeText   = "text/plain;charset=UTF-8"
	contentTypeBinary = "application/octet-stream"
)

// nested values are scrubbed down to this depth before being stringified
const maxScrubDepth = 8

// Blob is a binary body whose bytes are not available, only its metadata.
type Blob struct {
	Type string
	Size int64
}

// Stream is a body that has not been read yet; its size is unknown.
type Stream struct{}

type Sanitizer struct {
	policy        *Policy
	maxFields     int
	maxValueLen   int
	maxParseChars int
}

func New(cfg config.SanitizerConfig, policy *Policy) *Sanitizer {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Sanitizer{
		policy:        policy,
		maxFields:     cfg.MaxFieldCount,
		maxValueLen:   cfg.MaxValueLength,
		maxParseChars: cfg.MaxBodyParseChars,
	}
}

// Sanitize inspects body and headers and returns the bounded description
// stored with a network event. Body may be nil, a string, []byte, a decoded
// JSON value (map[string]any, []any, scalars), url.Values, map[string]string,
// Blob, Stream or an io.Reader.
func (s *Sanitizer) Sanitize(method string, body any, headers map[string]string) (info model.RequestInfo) {
	info.Method = strings.ToUpper(method)
	info.ContentType = headerValue(headers, "Content-Type")

	defer func() {
		if r := recover(); r != nil {
			log.Debug().Interface("panic", r).Msg("Sanitizer recovered, no fields extracted")
			info.Fields = nil
			info.ArrayLength = 0
		}
	}()

	switch b := body.(type) {
	case nil:
		info.Size = sizeOf(0)

	case string:
		info.Size = sizeOf(len(b))
		if info.ContentType == "" {
			info.ContentType = sniffText(b)
		}
		s.extractText(&info, b)

	case []byte:
		info.Size = sizeOf(len(b))
		if info.ContentType == "" {
			info.ContentType = contentTypeBinary
		}
		if isTextual(info.ContentType) && utf8.Valid(b) {
			s.extractText(&info, string(b))
		}

	case url.Values:
		encoded := b.Encode()
		info.Size = sizeOf(len(encoded))
		if info.ContentType == "" {
			info.ContentType = contentTypeForm
		}
		if utf8.RuneCountInString(encoded) <= s.maxParseChars {
			s.extractValues(&info, b)
		}

	case map[string]string:
		m := make(map[string]any, len(b))
		for k, v := range b {
			m[k] = v
		}
		s.extractStructured(&info, m)

	case map[string]any:
		s.extractStructured(&info, b)

	case []any:
		s.extractStructured(&info, b)

	case Blob:
		info.Size = sizeOf(int(b.Size))
		if info.ContentType == "" {
			info.ContentType = b.Type
		}
		if info.ContentType == "" {
			info.ContentType = contentTypeBinary
		}

	case *Blob:
		return s.Sanitize(method, *b, headers)

	case Stream, *Stream, io.Reader:
		// unreadable without consuming it; size stays unknown
		if info.ContentType == "" {
			info.ContentType = contentTypeBinary
		}

	case float64, bool, int, int64:
		text := fmt.Sprint(b)
		info.Size = sizeOf(len(text))
		if info.ContentType == "" {
			info.ContentType = contentTypeText
		}

	default:
		if info.ContentType == "" {
			info.ContentType = contentTypeBinary
		}
	}

	return info
}

func (s *Sanitizer) extractText(info *model.RequestInfo, text string) {
	if utf8.RuneCountInString(text) > s.maxParseChars {
		return
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}

	ct := strings.ToLower(info.ContentType)
	if strings.Contains(ct, "json") || looksJSON(trimmed) {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
			return
		}
		switch t := v.(type) {
		case map[string]any:
			s.extractMap(info, t)
		case []any:
			s.extractArray(info, t)
		}
		return
	}

	if strings.Contains(ct, "x-www-form-urlencoded") || looksForm(trimmed) {
		values, err := url.ParseQuery(trimmed)
		if err != nil {
			return
		}
		s.extractValues(info, values)
	}
}

// extractStructured handles bodies handed over already decoded.
func (s *Sanitizer) extractStructured(info *model.RequestInfo, v any) {
	if info.ContentType == "" {
		info.ContentType = contentTypeJSON
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return
	}
	info.Size = sizeOf(len(encoded))
	if utf8.RuneCount(encoded) > s.maxParseChars {
		return
	}
	switch t := v.(type) {
	case map[string]any:
		s.extractMap(info, t)
	case []any:
		s.extractArray(info, t)
	}
}

func (s *Sanitizer) extractMap(info *model.RequestInfo, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > s.maxFields {
		keys = keys[:s.maxFields]
	}

	fields := make(map[string]string, len(keys))
	for _, k := range keys {
		fields[k] = s.field(k, m[k])
	}
	info.Fields = fields
}

func (s *Sanitizer) extractArray(info *model.RequestInfo, items []any) {
	info.ArrayLength = len(items)
	if len(items) > s.maxFields {
		return
	}
	fields := make(map[string]string, len(items))
	for i, item := range items {
		k := strconv.Itoa(i)
		fields[k] = s.field(k, item)
	}
	info.Fields = fields
}

func (s *Sanitizer) extractValues(info *model.RequestInfo, values url.Values) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > s.maxFields {
		keys = keys[:s.maxFields]
	}

	fields := make(map[string]string, len(keys))
	for _, k := range keys {
		fields[k] = s.field(k, strings.Join(values[k], ","))
	}
	info.Fields = fields
}

// field renders one value: redacted by name or shape, then truncated.
func (s *Sanitizer) field(key string, v any) string {
	if r, ok := s.policy.MatchKey(key); ok && r.Action == ActionRedact {
		metrics.Redactions.WithLabelValues(r.Name).Inc()
		return RedactionMarker
	}

	text := s.stringify(v)
	out, rule := s.policy.Apply(key, text)
	if rule != nil {
		metrics.Redactions.WithLabelValues(rule.Name).Inc()
		return out
	}
	return Truncate(out, s.maxValueLen)
}

func (s *Sanitizer) stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		if len(t) > s.maxFields {
			return fmt.Sprintf("[array(%d)]", len(t))
		}
	}
	encoded, err := json.Marshal(s.scrub(v, 0))
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(encoded)
}

// scrub redacts sensitive-named keys inside nested values.
func (s *Sanitizer) scrub(v any, depth int) any {
	if depth > maxScrubDepth {
		return RedactionMarker
	}
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if r, ok := s.policy.MatchKey(k); ok && r.Action == ActionRedact {
				out[k] = RedactionMarker
				continue
			}
			out[k] = s.scrub(val, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = s.scrub(val, depth+1)
		}
		return out
	case string:
		if r, ok := s.policy.MatchValue(t); ok && r.Action == ActionRedact {
			return RedactionMarker
		}
	}
	return v
}

// Truncate cuts s to max characters and appends TruncationMarker.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + TruncationMarker
}

func sizeOf(n int) *int64 {
	size := int64(n)
	return &size
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func sniffText(s string) string {
	trimmed := strings.TrimSpace(s)
	switch {
	case looksJSON(trimmed):
		return contentTypeJSON
	case looksForm(trimmed):
		return contentTypeForm
	}
	return contentTypeText
}

func looksJSON(s string) bool {
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}

func looksForm(s string) bool {
	return strings.Contains(s, "=") && !strings.ContainsAny(s, " \t\r\n")
}

func isTextual(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.HasPrefix(ct, "text/") ||
		strings.Contains(ct, "json") ||
		strings.Contains(ct, "x-www-form-urlencoded")
}
