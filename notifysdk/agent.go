package notifysdk

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/xerrors"

	"cdr.dev/slog"
	"github.com/coder/websocket"

	"github.com/coder/quartz"

	"github.com/Anilsharma012/ekschin/notifysdk/wsjson"
)

// AgentState is the lifecycle of the logical notification channel, which
// spans any number of physical connection attempts.
type AgentState string

const (
	// AgentStateIdle means the agent is not running: never started, stopped
	// by Close, or stopped because the session ended.
	AgentStateIdle AgentState = "idle"
	// AgentStateConnecting covers dialing and the auth handshake.
	AgentStateConnecting AgentState = "connecting"
	// AgentStateOpen means the transport is up.
	AgentStateOpen AgentState = "open"
	// AgentStateClosed means the transport went away and a reconnect is
	// pending.
	AgentStateClosed AgentState = "closed"
	// AgentStateDisabled is terminal: the attempt budget is exhausted and no
	// further reconnects will fire for this agent. The durable notification
	// log remains available over REST, so nothing is lost, only its
	// real-time delivery.
	AgentStateDisabled AgentState = "disabled"
)

// Session supplies the authenticated identity for the channel. The agent
// trusts whatever the session layer hands it; it never validates
// credentials itself.
type Session interface {
	// Identity returns the current user. ok is false when no session is
	// active, in which case the agent stops without scheduling reconnects.
	Identity() (userID, userType string, ok bool)
}

// SessionFunc adapts a function to the Session interface.
type SessionFunc func() (userID, userType string, ok bool)

func (f SessionFunc) Identity() (string, string, bool) {
	return f()
}

// Alerter surfaces a received notification to the local user, e.g. a desktop
// or browser notification. RequestPermission is called once per agent
// lifetime, before the first surface attempt, never once per reconnect.
type Alerter interface {
	RequestPermission(ctx context.Context) bool
	Surface(notif Notification)
}

// AgentPolicy controls reconnect behavior. The two disconnect classes are
// categorically different: a deployment where the endpoint is structurally
// unavailable produces clean goodbyes and refused dials, and hammering it
// helps nobody, while a transient network blip deserves prompt retries with
// growing patience.
type AgentPolicy struct {
	// Constrained marks production-like deployments where the notification
	// endpoint may be structurally absent. Expected disconnects then use the
	// fixed long delay and the low attempt budget.
	Constrained bool

	// ExpectedCloseDelay is the fixed wait after an expected disconnect in a
	// constrained environment.
	ExpectedCloseDelay time.Duration
	// ExpectedCloseLimit is the attempt budget for that policy.
	ExpectedCloseLimit int

	// BackoffBase doubles per attempt for abnormal disconnects, up to
	// BackoffCap, for at most BackoffLimit attempts.
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	BackoffLimit int
}

// DefaultAgentPolicy returns the defensive defaults.
func DefaultAgentPolicy() AgentPolicy {
	return AgentPolicy{
		ExpectedCloseDelay: 30 * time.Second,
		ExpectedCloseLimit: 3,
		BackoffBase:        time.Second,
		BackoffCap:         30 * time.Second,
		BackoffLimit:       10,
	}
}

// DefaultRecentLimit caps the in-memory recent notification list.
const DefaultRecentLimit = 50

type AgentOptions struct {
	// URL is the websocket endpoint, e.g. wss://host/api/v2/notifications/ws.
	URL     string
	Session Session
	Alerter Alerter
	Logger  slog.Logger

	// Clock drives reconnect timers. Defaults to the real clock.
	Clock quartz.Clock
	// Policy defaults to DefaultAgentPolicy with Constrained unset.
	// Environment classification is the caller's decision, injected here,
	// never inferred by the agent.
	Policy AgentPolicy
	// RecentLimit defaults to DefaultRecentLimit.
	RecentLimit int

	// Dial overrides the websocket dial, for tests.
	Dial func(ctx context.Context) (*websocket.Conn, error)
}

// Agent owns the client side of one logical notification channel: it
// connects, authenticates, receives pushes into a bounded recent list, and
// reconnects with policy-classified backoff until its budget runs out.
//
// An agent is single use: once Disabled it stays Disabled, and a new
// session should construct a new agent.
type Agent struct {
	url         string
	session     Session
	alerter     Alerter
	logger      slog.Logger
	clock       quartz.Clock
	policy      AgentPolicy
	recentLimit int
	dialFn      func(ctx context.Context) (*websocket.Conn, error)

	mu                sync.Mutex
	started           bool
	state             AgentState
	recent            []Notification
	permissionChecked bool
	permitted         bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewAgent constructs an agent. Call Connect to start it.
func NewAgent(opts AgentOptions) (*Agent, error) {
	if opts.URL == "" && opts.Dial == nil {
		return nil, xerrors.New("URL is required")
	}
	if opts.Session == nil {
		return nil, xerrors.New("session is required")
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	defaults := DefaultAgentPolicy()
	if opts.Policy.ExpectedCloseDelay == 0 {
		opts.Policy.ExpectedCloseDelay = defaults.ExpectedCloseDelay
	}
	if opts.Policy.ExpectedCloseLimit == 0 {
		opts.Policy.ExpectedCloseLimit = defaults.ExpectedCloseLimit
	}
	if opts.Policy.BackoffBase == 0 {
		opts.Policy.BackoffBase = defaults.BackoffBase
	}
	if opts.Policy.BackoffCap == 0 {
		opts.Policy.BackoffCap = defaults.BackoffCap
	}
	if opts.Policy.BackoffLimit == 0 {
		opts.Policy.BackoffLimit = defaults.BackoffLimit
	}
	if opts.RecentLimit == 0 {
		opts.RecentLimit = DefaultRecentLimit
	}
	return &Agent{
		url:         opts.URL,
		session:     opts.Session,
		alerter:     opts.Alerter,
		logger:      opts.Logger,
		clock:       opts.Clock,
		policy:      opts.Policy,
		recentLimit: opts.RecentLimit,
		dialFn:      opts.Dial,
		state:       AgentStateIdle,
	}, nil
}

// Connect starts the agent's connection loop. It returns immediately; the
// loop runs until the session ends, Close is called, or the reconnect budget
// is exhausted.
func (a *Agent) Connect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == AgentStateDisabled {
		return xerrors.New("agent disabled after exhausting reconnect attempts")
	}
	if a.started {
		return xerrors.New("agent already started")
	}
	a.started = true
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.run(ctx)
	return nil
}

// Close synchronously tears down any open transport and clears any pending
// reconnect timer. No reconnect attempt fires after Close returns.
func (a *Agent) Close() error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	cancel, done := a.cancel, a.done
	a.mu.Unlock()
	cancel()
	<-done
	return nil
}

func (a *Agent) run(ctx context.Context) {
	defer close(a.done)

	// attempts counts physical connections since the last auth_success. A
	// transport that opens but is rejected at the application layer still
	// burns budget; only the server's auth_success resets it.
	attempts := 0
	for {
		userID, userType, ok := a.session.Identity()
		if !ok {
			a.logger.Debug(ctx, "no authenticated session, notification channel idle")
			a.setState(AgentStateIdle)
			return
		}

		a.setState(AgentStateConnecting)
		authed, expected := a.attempt(ctx, userID, userType)
		if ctx.Err() != nil {
			a.setState(AgentStateIdle)
			return
		}
		a.setState(AgentStateClosed)

		if authed {
			attempts = 0
		}
		attempts++

		delay, limit := a.reconnectDelay(attempts, expected)
		if attempts >= limit {
			a.logger.Warn(ctx, "reconnect budget exhausted, disabling live notifications",
				slog.F("attempts", attempts),
				slog.F("expected_disconnect", expected),
			)
			a.setState(AgentStateDisabled)
			return
		}

		a.logger.Debug(ctx, "scheduling reconnect",
			slog.F("attempt", attempts),
			slog.F("delay", delay),
		)
		// This is the only place a reconnect is scheduled, and it runs once
		// per attempt, so at most one timer is ever pending.
		timer := a.clock.NewTimer(delay, "agent", "reconnect")
		select {
		case <-ctx.Done():
			timer.Stop()
			a.setState(AgentStateIdle)
			return
		case <-timer.C:
		}
	}
}

// reconnectDelay picks the delay and attempt budget for the next reconnect.
func (a *Agent) reconnectDelay(attempt int, expected bool) (time.Duration, int) {
	if expected && a.policy.Constrained {
		return a.policy.ExpectedCloseDelay, a.policy.ExpectedCloseLimit
	}
	delay := a.policy.BackoffCap
	if shift := attempt - 1; shift < 63 {
		delay = a.policy.BackoffBase << shift
		if delay > a.policy.BackoffCap || delay <= 0 {
			delay = a.policy.BackoffCap
		}
	}
	return delay, a.policy.BackoffLimit
}

// attempt runs one physical connection to completion. It returns whether the
// server acknowledged auth, and whether the disconnect was classified as
// expected.
func (a *Agent) attempt(ctx context.Context, userID, userType string) (authed, expected bool) {
	conn, err := a.dial(ctx)
	if err != nil {
		// Includes connection refused: an endpoint that is structurally
		// absent in this deployment fails here, the same class as a clean
		// server goodbye.
		a.logger.Warn(ctx, "connect to notification service",
			slog.F("url", a.url),
			slog.Error(err),
		)
		return false, true
	}
	a.setState(AgentStateOpen)

	stream := wsjson.NewStream[ServerMessage, ClientMessage](conn, websocket.MessageText, websocket.MessageText, a.logger)
	err = stream.Send(ClientMessage{
		Type:     MessageTypeAuth,
		UserID:   userID,
		UserType: userType,
	})
	if err != nil {
		a.logger.Warn(ctx, "send auth frame", slog.Error(err))
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return false, false
	}

	msgs := stream.Chan()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "client shutting down")
			for range msgs {
				// drain until the read goroutine observes closure
			}
			return authed, true
		case msg, ok := <-msgs:
			if !ok {
				return authed, a.classifyDisconnect(ctx, stream.Err())
			}
			switch msg.Type {
			case MessageTypeAuthSuccess:
				authed = true
				a.logger.Debug(ctx, "authenticated for push notifications")
			case MessageTypePushNotification:
				var data PushData
				if err := json.Unmarshal(msg.Data, &data); err != nil {
					a.logger.Warn(ctx, "malformed push payload", slog.Error(err))
					continue
				}
				a.deliver(ctx, data.Notification())
			default:
				// Unrecognized server frames are ignored so the server can
				// grow new frame types.
			}
		}
	}
}

func (a *Agent) dial(ctx context.Context) (*websocket.Conn, error) {
	if a.dialFn != nil {
		return a.dialFn(ctx)
	}
	// No explicit dial timer: the transport's own refused/unreachable
	// signaling bounds the attempt.
	conn, res, err := websocket.Dial(ctx, a.url, nil)
	if err != nil {
		if res != nil {
			_ = res.Body.Close()
		}
		return nil, err
	}
	return conn, nil
}

// classifyDisconnect decides which reconnect policy applies to a finished
// connection. err is the terminal read error; raw transport errors
// stringify uselessly, so every field of interest is extracted into the log
// entry explicitly.
func (a *Agent) classifyDisconnect(ctx context.Context, err error) (expected bool) {
	if err == nil {
		return true
	}
	status := websocket.CloseStatus(err)
	a.logger.Warn(ctx, "notification channel disconnected",
		slog.F("close_status", int(status)),
		slog.F("message", err.Error()),
		slog.F("state", string(a.State())),
	)
	switch status {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		// The server said goodbye cleanly.
		return true
	case websocket.StatusAbnormalClosure:
		// The connection never completed or dropped without a close frame,
		// which is how an absent endpoint presents.
		return true
	default:
		return false
	}
}

// deliver records a pushed notification and surfaces it locally.
func (a *Agent) deliver(ctx context.Context, notif Notification) {
	a.mu.Lock()
	a.recent = append([]Notification{notif}, a.recent...)
	if len(a.recent) > a.recentLimit {
		a.recent = a.recent[:a.recentLimit]
	}
	alerter := a.alerter
	a.mu.Unlock()
	if alerter == nil {
		return
	}

	a.mu.Lock()
	if !a.permissionChecked {
		a.permissionChecked = true
		a.mu.Unlock()
		permitted := alerter.RequestPermission(ctx)
		a.mu.Lock()
		a.permitted = permitted
	}
	permitted := a.permitted
	a.mu.Unlock()

	if permitted {
		alerter.Surface(notif)
	}
}

func (a *Agent) setState(state AgentState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = state
}

// State returns the current lifecycle state.
func (a *Agent) State() AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Connected reports whether the transport is currently open.
func (a *Agent) Connected() bool {
	return a.State() == AgentStateOpen
}

// Disabled reports whether the reconnect budget is exhausted. Hosts can use
// this to render "real-time updates unavailable" instead of crashing or
// spinning.
func (a *Agent) Disabled() bool {
	return a.State() == AgentStateDisabled
}

// Recent returns a copy of the bounded recent-notification list, newest
// first.
func (a *Agent) Recent() []Notification {
	a.mu.Lock()
	defer a.mu.Unlock()
	recent := make([]Notification, len(a.recent))
	copy(recent, a.recent)
	return recent
}

// UnreadCount counts unread entries in the recent list.
func (a *Agent) UnreadCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	var count int
	for _, notif := range a.recent {
		if !notif.Read {
			count++
		}
	}
	return count
}

// MarkRecentRead flips the local read flag for a notification in the recent
// list. Pair it with Client.MarkNotificationRead to persist the change.
func (a *Agent) MarkRecentRead(notificationID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, notif := range a.recent {
		if notif.ID == notificationID {
			a.recent[i].Read = true
			return
		}
	}
}
