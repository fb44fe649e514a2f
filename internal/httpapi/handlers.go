package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ivr-tester/internal/audit"
	"ivr-tester/internal/auth"
	"ivr-tester/internal/metrics"
	"ivr-tester/internal/navigator"
	"ivr-tester/internal/telephony"
	"ivr-tester/pkg/logger"
)

// maxCallbackBody bounds webhook payloads; provider batches are small.
const maxCallbackBody = 1 << 20

// Navigator is the part of the navigator the HTTP layer drives.
type Navigator interface {
	Run(ctx context.Context, target string) (navigator.Session, error)
	Submit(ctx context.Context, ev telephony.Event) error
	Snapshot() navigator.Session
}

// Deduper filters redelivered webhook events.
type Deduper interface {
	FirstSeen(ctx context.Context, id string) (bool, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse input, hand off to the navigator, answer.
// Trail reads the recorded navigation of a session.
type Trail interface {
	Trail(ctx context.Context, sessionID string) ([]audit.Event, error)
}

type Handlers struct {
	Navigator Navigator
	Dedup     Deduper
	Trail     Trail
	Metrics   *metrics.Metrics

	// TwilioCallbackURL is where hold TwiML redirects back to.
	TwilioCallbackURL string
}

// --- Webhooks ---

// Callbacks accepts provider events as one JSON object or an array of them.
// The provider only needs an acknowledgement, so every request gets an
// empty 200, whatever happened to its events.
func (h Handlers) Callbacks(c *gin.Context) {
	log := logger.FromGin(c)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		log.Warn("read callback body failed", "err", err)
		h.Metrics.Ignored("unreadable")
		c.Status(http.StatusOK)
		return
	}

	events, err := decodeRawEvents(body)
	if err != nil {
		log.Warn("malformed callback payload", "err", err)
		h.Metrics.Ignored("malformed")
		c.Status(http.StatusOK)
		return
	}

	for _, raw := range events {
		h.dispatch(c.Request.Context(), log, raw)
	}
	c.Status(http.StatusOK)
}

// TwilioCallback accepts Twilio's form-encoded voice callbacks. Twilio
// executes whatever TwiML it gets back, so it always gets the hold loop;
// the navigator replaces it with a call update when it acts.
func (h Handlers) TwilioCallback(c *gin.Context) {
	log := logger.FromGin(c)

	cb, err := telephony.ParseTwilioCallback(c.Request)
	if err != nil {
		log.Warn("malformed twilio callback", "err", err)
		h.Metrics.Ignored("malformed")
	} else {
		h.dispatch(c.Request.Context(), log.With("call_sid", cb.CallSid, "event", cb.Event), cb.ToRawEvent())
	}

	twiml, err := telephony.HoldTwiML(h.TwilioCallbackURL)
	if err != nil {
		log.Error("render hold twiml failed", "err", err)
		c.Status(http.StatusOK)
		return
	}
	c.Data(http.StatusOK, "application/xml", []byte(twiml))
}

func (h Handlers) dispatch(ctx context.Context, log *slog.Logger, raw telephony.RawEvent) {
	ev, ok := telephony.Normalize(raw)
	if !ok {
		log.Info("ignoring callback event", "type", raw.Type)
		h.Metrics.Ignored("unknown_type")
		return
	}

	if h.Dedup != nil && ev.ID != "" {
		first, err := h.Dedup.FirstSeen(ctx, ev.ID)
		switch {
		case err != nil:
			log.Warn("event dedup failed", "event_id", ev.ID, "err", err)
		case !first:
			log.Debug("duplicate callback event", "event_id", ev.ID, "type", raw.Type)
			h.Metrics.Ignored("duplicate")
			return
		}
	}

	if h.Navigator == nil {
		log.Warn("callback before navigator initialized", "type", raw.Type)
		h.Metrics.Ignored("not_initialized")
		return
	}

	log.Debug("callback event", "kind", ev.Kind.String(), "connection_id", ev.ConnectionID)
	if err := h.Navigator.Submit(ctx, ev); err != nil {
		log.Warn("submit event failed", "kind", ev.Kind.String(), "err", err)
	}
}

func decodeRawEvents(body []byte) ([]telephony.RawEvent, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}
	if body[0] == '[' {
		var events []telephony.RawEvent
		if err := json.Unmarshal(body, &events); err != nil {
			return nil, err
		}
		return events, nil
	}
	var ev telephony.RawEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, err
	}
	return []telephony.RawEvent{ev}, nil
}

// --- Calls ---

type startCallRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

// StartCall is the manual trigger for a test call.
func (h Handlers) StartCall(c *gin.Context) {
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.PhoneNumber) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Phone number is required"})
		return
	}

	if h.Navigator == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Call handler not initialized"})
		return
	}

	// The navigator reads the operator from the request context.
	operator, _ := auth.Operator(c.Request.Context())
	logger.FromGin(c).Info("start call requested", "target", req.PhoneNumber, "operator", operator)

	s, err := h.Navigator.Run(c.Request.Context(), req.PhoneNumber)
	switch {
	case errors.Is(err, navigator.ErrSessionActive):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "A call is already in progress"})
		return
	case err != nil:
		logger.FromGin(c).Error("start call failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to initiate call"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Call initiated", "session_id": s.ID})
}

// CallStatus reports the current (or last) session.
func (h Handlers) CallStatus(c *gin.Context) {
	if h.Navigator == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Call handler not initialized"})
		return
	}
	c.JSON(http.StatusOK, h.Navigator.Snapshot())
}

// Transcript returns the navigation trail of a session, the current one
// unless session_id is given.
func (h Handlers) Transcript(c *gin.Context) {
	if h.Trail == nil || h.Navigator == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Transcript not available"})
		return
	}
	sessionID := c.Query("session_id")
	if sessionID == "" {
		sessionID = h.Navigator.Snapshot().ID
	}
	if sessionID == "" {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "No call has been placed yet"})
		return
	}
	events, err := h.Trail.Trail(c.Request.Context(), sessionID)
	if err != nil {
		logger.FromGin(c).Error("read transcript failed", "session_id", sessionID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to read transcript"})
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "events": events})
}
