package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/faultline/faultline/internal/message"
	"github.com/faultline/faultline/internal/metrics"
	"github.com/faultline/faultline/internal/model"
	"github.com/faultline/faultline/internal/processor"
)

const maxMessageBytes = 1 << 20

// MessageHandler processes decoded inbound messages.
type MessageHandler interface {
	Handle(ctx context.Context, msg message.Message, meta processor.Meta) (any, error)
}

type HTTPHandler struct {
	messages MessageHandler
}

func NewHTTPHandler(m MessageHandler) *HTTPHandler {
	return &HTTPHandler{messages: m}
}

// ErrorResponse is written whenever a message could not be processed.
type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// HandleMessage accepts one message envelope. A body that does not decode
// is a 400, except a capture message whose payload is malformed, which is
// answered like any other invalid event. A failure while processing is
// reported in a 200 so capture sources never retry.
func (h *HTTPHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Failed to read body"})
		return
	}
	defer r.Body.Close()

	msg, err := message.Decode(body)
	var payloadErr *message.PayloadError
	if errors.As(err, &payloadErr) && payloadErr.Capture() {
		kind := model.KindNetwork
		if payloadErr.Kind == message.TypeConsole {
			kind = model.KindConsole
		}
		log.Warn().Err(err).Msg("Dropped malformed event")
		metrics.EventsAppended.WithLabelValues(string(kind), metrics.OutcomeInvalid).Inc()
		writeJSON(w, http.StatusOK, processor.Captured(processor.Outcome(metrics.OutcomeInvalid)))
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("Rejected inbound message")
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	reply, err := h.messages.Handle(r.Context(), msg, processor.Meta{UserAgent: r.UserAgent()})
	if err != nil {
		log.Warn().Err(err).Str("type", string(msg.Type())).Msg("Message failed")
		writeJSON(w, http.StatusOK, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// HandleEvents serves GET /v1/events?contextId=N.
func (h *HTTPHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	env := message.Envelope{Kind: message.TypeGetEvents}
	if raw := r.URL.Query().Get("contextId"); raw != "" {
		id, err := model.ParseContextID(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid contextId"})
			return
		}
		env.ContextID = id
	}

	reply, err := h.messages.Handle(r.Context(), &message.GetEvents{Envelope: env}, processor.Meta{UserAgent: r.UserAgent()})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read events")
		writeJSON(w, http.StatusOK, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}
