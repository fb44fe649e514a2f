package navigator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ivr-tester/internal/audit"
	"ivr-tester/internal/auth"
	"ivr-tester/internal/metrics"
	"ivr-tester/internal/policy"
	"ivr-tester/internal/telephony"
	"ivr-tester/pkg/logger"
)

var (
	ErrSessionActive = errors.New("navigator: a session is already running")
	ErrNoTarget      = errors.New("navigator: no target number")
	ErrNotRunning    = errors.New("navigator: event loop is not running")
)

// SessionGuard keeps one session running at a time, possibly across
// processes. Ownership is keyed by session id: Release and Refresh are
// no-ops for a session that no longer holds the slot. A held slot lapses
// unless refreshed.
type SessionGuard interface {
	Acquire(ctx context.Context, sessionID string) (bool, error)
	Refresh(ctx context.Context, sessionID string) (bool, error)
	Release(ctx context.Context, sessionID string) error
}

const DefaultGuardRefresh = 10 * time.Second

type Options struct {
	DefaultTarget string
	SourceNumber  string

	RetryDelay      time.Duration
	DecisionTimeout time.Duration
	CommandTimeout  time.Duration

	Guard SessionGuard
	// GuardRefresh is how often a running session extends its guard slot.
	// It must be well under the guard's TTL.
	GuardRefresh time.Duration

	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// Audit records the navigation trail when set.
	Audit *audit.Service

	// Test hooks.
	Now       func() time.Time
	AfterFunc func(time.Duration, func())
	NewID     func() string
}

func (o Options) withDefaults() Options {
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.DecisionTimeout <= 0 {
		o.DecisionTimeout = 30 * time.Second
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = 10 * time.Second
	}
	if o.GuardRefresh <= 0 {
		o.GuardRefresh = DefaultGuardRefresh
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.AfterFunc == nil {
		o.AfterFunc = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return o
}

type runRequest struct {
	target    string
	requester string
	reply     chan runResult
}

type runResult struct {
	session Session
	err     error
}

type envelope struct {
	input Input
	run   *runRequest
}

// Navigator drives one test call at a time. A single goroutine owns the
// session; webhooks, decisions and timers reach it through one inbox.
type Navigator struct {
	provider telephony.Provider
	policy   policy.Policy
	machine  Machine
	opts     Options
	log      *slog.Logger
	metrics  *metrics.Metrics

	inbox     chan envelope
	done      chan struct{}
	startOnce sync.Once

	// ctx is the loop's context; decisions and commands derive from it.
	ctx context.Context

	// session belongs to the loop goroutine.
	session Session

	mu       sync.RWMutex
	snapshot Session
}

func New(provider telephony.Provider, pol policy.Policy, opts Options) *Navigator {
	opts = opts.withDefaults()
	idle := Session{Status: StatusIdle}
	return &Navigator{
		provider: provider,
		policy:   pol,
		machine:  Machine{RetryDelay: opts.RetryDelay},
		opts:     opts,
		log:      logger.Component(opts.Logger, "navigator"),
		metrics:  opts.Metrics,
		inbox:    make(chan envelope, 64),
		done:     make(chan struct{}),
		ctx:      context.Background(),
		session:  idle,
		snapshot: idle,
	}
}

// Start launches the event loop. It stops when ctx is cancelled, hanging
// up a call that is still running.
func (n *Navigator) Start(ctx context.Context) {
	n.startOnce.Do(func() {
		n.ctx = ctx
		go n.loop(ctx)
	})
}

// Done is closed once the event loop has exited.
func (n *Navigator) Done() <-chan struct{} { return n.done }

// Snapshot returns a copy of the current session.
func (n *Navigator) Snapshot() Session {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.snapshot
}

// Run starts a test call to target, or to the configured default when
// target is blank. It returns once the provider has accepted the call.
// The operator in ctx, if any, is recorded as the requester.
func (n *Navigator) Run(ctx context.Context, target string) (Session, error) {
	if n.stopped() {
		return Session{}, ErrNotRunning
	}
	requester, _ := auth.Operator(ctx)
	req := &runRequest{target: target, requester: requester, reply: make(chan runResult, 1)}
	select {
	case n.inbox <- envelope{run: req}:
	case <-n.done:
		return Session{}, ErrNotRunning
	case <-ctx.Done():
		return Session{}, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res.session, res.err
	case <-n.done:
		return Session{}, ErrNotRunning
	case <-ctx.Done():
		return Session{}, ctx.Err()
	}
}

// Submit hands a normalized provider event to the loop.
func (n *Navigator) Submit(ctx context.Context, ev telephony.Event) error {
	if n.stopped() {
		return ErrNotRunning
	}
	select {
	case n.inbox <- envelope{input: ProviderEvent{Event: ev}}:
		return nil
	case <-n.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Navigator) stopped() bool {
	select {
	case <-n.done:
		return true
	default:
		return false
	}
}

func (n *Navigator) post(in Input) {
	select {
	case n.inbox <- envelope{input: in}:
	case <-n.done:
	}
}

func (n *Navigator) loop(ctx context.Context) {
	defer close(n.done)

	var refresh <-chan time.Time
	if n.opts.Guard != nil {
		t := time.NewTicker(n.opts.GuardRefresh)
		defer t.Stop()
		refresh = t.C
	}

	for {
		select {
		case <-ctx.Done():
			n.shutdown()
			return
		case <-refresh:
			n.refreshGuard()
		case env := <-n.inbox:
			if env.run != nil {
				n.startRun(env.run)
				continue
			}
			n.apply(env.input)
		}
	}
}

func (n *Navigator) startRun(req *runRequest) {
	reply := func(s Session, err error) { req.reply <- runResult{session: s, err: err} }

	if n.session.Running {
		reply(n.session, ErrSessionActive)
		return
	}
	target := strings.TrimSpace(req.target)
	if target == "" {
		target = strings.TrimSpace(n.opts.DefaultTarget)
	}
	if target == "" {
		reply(n.session, ErrNoTarget)
		return
	}

	ctx, cancel := context.WithTimeout(n.ctx, n.opts.CommandTimeout)
	defer cancel()

	id := n.opts.NewID()
	if n.opts.Guard != nil {
		ok, err := n.opts.Guard.Acquire(ctx, id)
		if err != nil {
			reply(n.session, fmt.Errorf("acquire session guard: %w", err))
			return
		}
		if !ok {
			reply(n.session, ErrSessionActive)
			return
		}
	}

	s := Session{
		ID:           id,
		TargetNumber: target,
		SourceNumber: n.opts.SourceNumber,
		RequestedBy:  req.requester,
		Status:       StatusDialing,
		Running:      true,
		StartedAt:    n.opts.Now(),
	}
	n.commit(s)

	log := n.log.With("session_id", s.ID, "target", target)
	log.Info("starting call", "requested_by", s.RequestedBy)

	call, err := n.provider.StartCall(ctx, telephony.CallRequest{Target: target, Source: s.SourceNumber})
	if err != nil {
		s.Running = false
		s.Status = StatusDisconnected
		s.EndedAt = n.opts.Now()
		n.commit(s)
		n.release(s.ID)
		n.metrics.Session("start_failed")
		n.record(audit.Event{SessionID: s.ID, Type: audit.EventTypeStartFailed, Message: err.Error()})
		log.Error("start call failed", "err", err)
		reply(s, err)
		return
	}

	// Events for this call cannot have been applied yet: the loop was busy here.
	s.ConnectionID = call.ConnectionID
	n.commit(s)
	n.metrics.Session("started")
	msg := "calling " + target
	if s.RequestedBy != "" {
		msg += ", requested by " + s.RequestedBy
	}
	n.record(audit.Event{SessionID: s.ID, Type: audit.EventTypeSessionStarted, Message: msg})
	log.Info("call started", "connection_id", call.ConnectionID)
	reply(s, nil)
}

func (n *Navigator) apply(in Input) {
	if ev, ok := in.(ProviderEvent); ok {
		n.metrics.Event(ev.Event.Kind.String())
	}

	prev := n.session
	next, cmds, err := n.machine.Step(prev, in)
	if err != nil {
		if errors.Is(err, ErrStale) {
			n.metrics.Stale(inputName(in))
			n.log.Debug("input dropped", "input", inputName(in), "reason", err)
			return
		}
		n.log.Warn("input rejected", "input", inputName(in), "err", err)
		return
	}

	if d, ok := in.(DecisionReady); ok {
		n.metrics.Action(string(d.Action.Type))
		n.log.Info("action decided", "session_id", next.ID, "turn", d.Turn, "action", d.Action.String())
	}

	if prev.Running && !next.Running {
		next.EndedAt = n.opts.Now()
	}
	n.commit(next)
	n.trail(prev, next, in)
	if prev.Running && !next.Running {
		n.log.Info("session ended", "session_id", next.ID, "turns", next.Turn)
		n.metrics.Session("ended")
	}

	for _, c := range cmds {
		n.execute(next, c)
	}

	if prev.Running && !next.Running {
		n.release(next.ID)
	}
}

func (n *Navigator) execute(s Session, cmd Command) {
	call := s.Call()
	log := n.log.With("session_id", s.ID, "connection_id", call.ConnectionID)

	switch c := cmd.(type) {
	case StartRecognizing:
		ctx, cancel := context.WithTimeout(n.ctx, n.opts.CommandTimeout)
		defer cancel()
		if err := n.provider.StartRecognizing(ctx, call); err != nil {
			log.Error("start recognizing failed", "err", err)
			n.fail(telephony.EventRecognizeFailed, call, err)
		}

	case ScheduleRecognize:
		n.metrics.RecognizeRetry()
		log.Warn("recognition failed, retrying", "delay", c.Delay, "failures", s.RecognizeFailures)
		id := s.ID
		n.opts.AfterFunc(c.Delay, func() { n.post(RetryDue{SessionID: id}) })

	case RequestDecision:
		go n.decide(s.ID, c)

	case SendTones:
		ctx, cancel := context.WithTimeout(n.ctx, n.opts.CommandTimeout)
		defer cancel()
		log.Info("sending dtmf", "tones", telephony.Digits(c.Tones))
		if err := n.provider.SendDtmf(ctx, call, c.Tones); err != nil {
			log.Error("send dtmf failed", "err", err)
			n.fail(telephony.EventDtmfFailed, call, err)
		}

	case PlayText:
		ctx, cancel := context.WithTimeout(n.ctx, n.opts.CommandTimeout)
		defer cancel()
		log.Info("playing text", "text", c.Text)
		if err := n.provider.PlayText(ctx, call, c.Text); err != nil {
			log.Error("play text failed", "err", err)
			n.fail(telephony.EventPlayFailed, call, err)
		}

	case HangUp:
		n.hangUp(call, log)
	}
}

// fail feeds a synchronous provider failure back as the matching event.
func (n *Navigator) fail(kind telephony.EventKind, call telephony.Call, err error) {
	ev := telephony.Event{Kind: kind, ConnectionID: call.ConnectionID, Detail: err.Error()}
	go n.post(ProviderEvent{Event: ev})
}

func (n *Navigator) hangUp(call telephony.Call, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(n.ctx), n.opts.CommandTimeout)
	defer cancel()
	log.Info("hanging up")
	if err := n.provider.HangUp(ctx, call); err != nil {
		log.Error("hang up failed", "err", err)
	}
}

func (n *Navigator) decide(sessionID string, req RequestDecision) {
	start := n.opts.Now()
	action := n.safeDecide(req.Transcription)
	n.metrics.Decision(n.opts.Now().Sub(start))
	n.post(DecisionReady{SessionID: sessionID, Turn: req.Turn, Action: action})
}

func (n *Navigator) safeDecide(transcription string) (action policy.Action) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error("decision policy panicked", "panic", r)
			action = policy.Wait()
		}
	}()
	ctx, cancel := context.WithTimeout(n.ctx, n.opts.DecisionTimeout)
	defer cancel()
	return n.policy.DecideAction(ctx, transcription)
}

func (n *Navigator) release(sessionID string) {
	if n.opts.Guard == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(n.ctx), n.opts.CommandTimeout)
	defer cancel()
	if err := n.opts.Guard.Release(ctx, sessionID); err != nil {
		n.log.Warn("release session guard failed", "session_id", sessionID, "err", err)
	}
}

// refreshGuard keeps the running session's slot from lapsing.
func (n *Navigator) refreshGuard() {
	s := n.session
	if n.opts.Guard == nil || !s.Running {
		return
	}
	ctx, cancel := context.WithTimeout(n.ctx, n.opts.CommandTimeout)
	defer cancel()
	ok, err := n.opts.Guard.Refresh(ctx, s.ID)
	switch {
	case err != nil:
		n.log.Warn("refresh session guard failed", "session_id", s.ID, "err", err)
	case !ok:
		n.log.Warn("session guard lost", "session_id", s.ID)
	}
}

func (n *Navigator) shutdown() {
	s := n.session
	if !s.Running {
		return
	}
	n.log.Info("shutting down with call in progress", "session_id", s.ID)
	s.Running = false
	s.Status = StatusDisconnected
	s.EndedAt = n.opts.Now()
	n.commit(s)
	if s.ConnectionID != "" {
		n.hangUp(s.Call(), n.log.With("session_id", s.ID))
	}
	n.release(s.ID)
	n.metrics.Session("ended")
	n.record(audit.Event{SessionID: s.ID, Type: audit.EventTypeSessionEnded, Turn: s.Turn, Message: "tester shut down"})
}

// trail records the externally interesting part of a transition.
func (n *Navigator) trail(prev, next Session, in Input) {
	if n.opts.Audit == nil {
		return
	}
	ctx := context.WithoutCancel(n.ctx)
	var err error

	switch in := in.(type) {
	case ProviderEvent:
		switch in.Event.Kind {
		case telephony.EventCallConnected:
			err = n.opts.Audit.Append(ctx, audit.Event{SessionID: next.ID, Type: audit.EventTypeCallConnected})
		case telephony.EventRecognizeCompleted:
			if next.Turn > prev.Turn {
				err = n.opts.Audit.LogPrompt(ctx, next.ID, next.Turn, next.LastTranscription)
			}
		case telephony.EventRecognizeFailed:
			err = n.opts.Audit.Append(ctx, audit.Event{
				SessionID: next.ID,
				Type:      audit.EventTypeRecognizeFailed,
				Message:   in.Event.Detail,
			})
		}
	case DecisionReady:
		err = n.opts.Audit.LogAction(ctx, next.ID, in.Turn, string(in.Action.Type), in.Action.Value)
	}
	if err != nil {
		n.log.Warn("audit append failed", "err", err)
	}

	if prev.Running && !next.Running {
		reason := "call disconnected"
		if _, ok := in.(DecisionReady); ok {
			reason = "hung up by tester"
		}
		n.record(audit.Event{SessionID: next.ID, Type: audit.EventTypeSessionEnded, Turn: next.Turn, Message: reason})
	}
}

func (n *Navigator) record(e audit.Event) {
	if n.opts.Audit == nil {
		return
	}
	if err := n.opts.Audit.Append(context.WithoutCancel(n.ctx), e); err != nil {
		n.log.Warn("audit append failed", "type", e.Type, "err", err)
	}
}

func (n *Navigator) commit(s Session) {
	n.session = s
	n.mu.Lock()
	n.snapshot = s
	n.mu.Unlock()
}

func inputName(in Input) string {
	switch in := in.(type) {
	case ProviderEvent:
		return in.Event.Kind.String()
	case DecisionReady:
		return "decision"
	case RetryDue:
		return "retry"
	default:
		return fmt.Sprintf("%T", in)
	}
}
