package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ivr-tester/internal/audit"
	"ivr-tester/internal/auth"
	"ivr-tester/internal/metrics"
	"ivr-tester/internal/navigator"
	"ivr-tester/internal/telephony"
)

type fakeNavigator struct {
	mu      sync.Mutex
	events  []telephony.Event
	targets    []string
	requesters []string
	runErr     error
}

func (f *fakeNavigator) Run(ctx context.Context, target string) (navigator.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	operator, _ := auth.Operator(ctx)
	f.requesters = append(f.requesters, operator)
	if f.runErr != nil {
		return navigator.Session{}, f.runErr
	}
	return navigator.Session{ID: "s1", TargetNumber: target, Status: navigator.StatusDialing, Running: true}, nil
}

func (f *fakeNavigator) Submit(_ context.Context, ev telephony.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeNavigator) Snapshot() navigator.Session {
	return navigator.Session{ID: "s1", Status: navigator.StatusListening, Running: true, Turn: 2}
}

type memDedup map[string]bool

func (m memDedup) FirstSeen(_ context.Context, id string) (bool, error) {
	if m[id] {
		return false, nil
	}
	m[id] = true
	return true, nil
}

const callbackURL = "https://tester.example.com/api/callbacks/twilio"

func newRouter(h Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/callbacks", h.Callbacks)
	r.POST("/api/callbacks/twilio", h.TwilioCallback)
	r.POST("/api/call", h.StartCall)
	r.GET("/api/call/status", h.CallStatus)
	r.GET("/api/call/transcript", h.Transcript)
	return r
}

func do(r http.Handler, method, target, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCallbacksSingleEvent(t *testing.T) {
	nav := &fakeNavigator{}
	r := newRouter(Handlers{Navigator: nav})

	w := do(r, http.MethodPost, "/api/callbacks", "application/json",
		`{"id":"e1","type":"Microsoft.Communication.CallConnected","data":{"callConnectionId":"c1"}}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
	require.Len(t, nav.events, 1)
	assert.Equal(t, telephony.EventCallConnected, nav.events[0].Kind)
	assert.Equal(t, "c1", nav.events[0].ConnectionID)
}

func TestCallbacksBatchInOrder(t *testing.T) {
	nav := &fakeNavigator{}
	r := newRouter(Handlers{Navigator: nav})

	body := `[
		{"type":"Microsoft.Communication.RecognizeCompleted","data":{"callConnectionId":"c1","speechResult":{"speech":"Press 1 for sales"}}},
		{"type":"Microsoft.Communication.ParticipantsUpdated","data":{}},
		{"type":"Microsoft.Communication.SendDtmfTonesCompleted","data":{"callConnectionId":"c1"}}
	]`
	w := do(r, http.MethodPost, "/api/callbacks", "application/json", body)
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, nav.events, 2)
	assert.Equal(t, telephony.EventRecognizeCompleted, nav.events[0].Kind)
	assert.Equal(t, "Press 1 for sales", nav.events[0].Transcription)
	assert.Equal(t, telephony.EventDtmfCompleted, nav.events[1].Kind)
}

func TestCallbacksMalformedStillOK(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	nav := &fakeNavigator{}
	r := newRouter(Handlers{Navigator: nav, Metrics: m})

	for _, body := range []string{"", "not json", `{"type":`} {
		w := do(r, http.MethodPost, "/api/callbacks", "application/json", body)
		assert.Equal(t, http.StatusOK, w.Code, body)
		assert.Empty(t, w.Body.String())
	}
	assert.Empty(t, nav.events)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.IgnoredEvents.WithLabelValues("malformed")))
}

func TestCallbacksWithoutNavigator(t *testing.T) {
	r := newRouter(Handlers{})
	w := do(r, http.MethodPost, "/api/callbacks", "application/json", `{"type":"X.CallConnected"}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCallbacksDedup(t *testing.T) {
	nav := &fakeNavigator{}
	r := newRouter(Handlers{Navigator: nav, Dedup: memDedup{}})

	body := `{"id":"e1","type":"Microsoft.Communication.PlayCompleted","data":{"callConnectionId":"c1"}}`
	do(r, http.MethodPost, "/api/callbacks", "application/json", body)
	do(r, http.MethodPost, "/api/callbacks", "application/json", body)
	assert.Len(t, nav.events, 1)
}

func TestTwilioCallbackBridgesAndHolds(t *testing.T) {
	nav := &fakeNavigator{}
	r := newRouter(Handlers{Navigator: nav, TwilioCallbackURL: callbackURL})

	form := url.Values{"CallSid": {"CA1"}, "CallStatus": {"in-progress"}, "SpeechResult": {"Please say your name"}}
	w := do(r, http.MethodPost, "/api/callbacks/twilio?event=recognized", "application/x-www-form-urlencoded", form.Encode())

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/xml")
	assert.Contains(t, w.Body.String(), "<Pause")
	assert.Contains(t, w.Body.String(), "<Redirect")
	require.Len(t, nav.events, 1)
	assert.Equal(t, telephony.EventRecognizeCompleted, nav.events[0].Kind)
	assert.Equal(t, "CA1", nav.events[0].ConnectionID)
	assert.Equal(t, "Please say your name", nav.events[0].Transcription)
}

func TestTwilioHoldLoopIgnored(t *testing.T) {
	nav := &fakeNavigator{}
	r := newRouter(Handlers{Navigator: nav, TwilioCallbackURL: callbackURL})

	w := do(r, http.MethodPost, "/api/callbacks/twilio?event=hold", "application/x-www-form-urlencoded", "CallSid=CA1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, nav.events)
}

func TestStartCall(t *testing.T) {
	tests := []struct {
		name     string
		nav      *fakeNavigator
		body     string
		wantCode int
		wantBody string
	}{
		{"ok", &fakeNavigator{}, `{"phoneNumber":"+15550001111"}`, http.StatusOK, `{"message":"Call initiated","session_id":"s1"}`},
		{"missing number", &fakeNavigator{}, `{}`, http.StatusBadRequest, `{"error":"Phone number is required"}`},
		{"blank number", &fakeNavigator{}, `{"phoneNumber":"  "}`, http.StatusBadRequest, `{"error":"Phone number is required"}`},
		{"invalid json", &fakeNavigator{}, `{`, http.StatusBadRequest, `{"error":"Phone number is required"}`},
		{"busy", &fakeNavigator{runErr: navigator.ErrSessionActive}, `{"phoneNumber":"+1"}`, http.StatusConflict, `{"error":"A call is already in progress"}`},
		{"start failed", &fakeNavigator{runErr: &telephony.CallStartError{Target: "+1", Err: errors.New("boom")}}, `{"phoneNumber":"+1"}`, http.StatusInternalServerError, `{"error":"Failed to initiate call"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(Handlers{Navigator: tt.nav})
			w := do(r, http.MethodPost, "/api/call", "application/json", tt.body)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestStartCallNotInitialized(t *testing.T) {
	r := newRouter(Handlers{})
	w := do(r, http.MethodPost, "/api/call", "application/json", `{"phoneNumber":"+1"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	// A bad body is reported before the missing navigator.
	w = do(r, http.MethodPost, "/api/call", "application/json", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Phone number is required"}`, w.Body.String())
}

func TestStartCallPassesOperator(t *testing.T) {
	nav := &fakeNavigator{}
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/call", func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithOperator(c.Request.Context(), "alice"))
		c.Next()
	}, Handlers{Navigator: nav}.StartCall)

	w := do(r, http.MethodPost, "/api/call", "application/json", `{"phoneNumber":"+1"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"alice"}, nav.requesters)
}

func TestCallStatus(t *testing.T) {
	r := newRouter(Handlers{Navigator: &fakeNavigator{}})
	w := do(r, http.MethodGet, "/api/call/status", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"listening"`)
	assert.Contains(t, w.Body.String(), `"turn":2`)
}

func TestTranscript(t *testing.T) {
	trail := audit.NewService(audit.NewMemoryRepo(0))
	require.NoError(t, trail.LogPrompt(context.Background(), "s1", 1, "Press 1 for sales"))
	r := newRouter(Handlers{Navigator: &fakeNavigator{}, Trail: trail})

	w := do(r, http.MethodGet, "/api/call/transcript", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"session_id":"s1"`)
	assert.Contains(t, w.Body.String(), `"transcription":"Press 1 for sales"`)

	w = do(r, http.MethodGet, "/api/call/transcript?session_id=other", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"events":[]`)
}

func TestTranscriptNotConfigured(t *testing.T) {
	r := newRouter(Handlers{Navigator: &fakeNavigator{}})
	w := do(r, http.MethodGet, "/api/call/transcript", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
