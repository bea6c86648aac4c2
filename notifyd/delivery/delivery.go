// Package delivery is the single entry point business logic uses to notify
// users. Each notification is persisted to the store and, when the target has
// a live connection, pushed in real time. The two paths are deliberately
// independent: a storage outage must not block pushes and a dead connection
// must not block persistence.
package delivery

import (
	"context"
	"strconv"

	"cdr.dev/slog"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/xerrors"

	"github.com/coder/quartz"

	"github.com/Anilsharma012/ekschin/notifyd/notifstore"
	"github.com/Anilsharma012/ekschin/notifyd/registry"
	"github.com/Anilsharma012/ekschin/notifysdk"
)

// DirectoryUser is the slice of the business user record this service needs.
type DirectoryUser struct {
	ID       string
	UserType string
}

// UserDirectory resolves a user type to its members. It is implemented by
// the business user database, which this service consumes but does not own.
// The user types "all" and "" both mean every user.
type UserDirectory interface {
	UsersByType(ctx context.Context, userType string) ([]DirectoryUser, error)
}

// Result counts per-user outcomes for one send call.
type Result struct {
	Sent   int
	Failed int
}

type Options struct {
	Logger    slog.Logger
	Store     notifstore.Store
	Registry  *registry.Registry
	Directory UserDirectory

	// Clock stamps notification ids and timestamps. Defaults to the real
	// clock.
	Clock quartz.Clock

	// PrometheusRegisterer receives the delivery counters. Defaults to a
	// private registry, which effectively disables scraping.
	PrometheusRegisterer prometheus.Registerer
}

// Engine fans notifications out to the store and to live connections. It
// performs no retries: a failed push for an offline user is expected, and the
// store is the retry-free fallback record.
type Engine struct {
	logger    slog.Logger
	store     notifstore.Store
	registry  *registry.Registry
	directory UserDirectory
	clock     quartz.Clock
	metrics   *metrics
}

type metrics struct {
	sent        prometheus.Counter
	failed      prometheus.Counter
	pushed      prometheus.Counter
	storeErrors prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "notifyd", Subsystem: "delivery", Name: "sent_total",
			Help: "Notifications that reached durable storage or a live connection.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "notifyd", Subsystem: "delivery", Name: "failed_total",
			Help: "Notifications that reached neither storage nor a live connection.",
		}),
		pushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "notifyd", Subsystem: "delivery", Name: "pushed_total",
			Help: "Notifications delivered over a live websocket.",
		}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "notifyd", Subsystem: "delivery", Name: "store_errors_total",
			Help: "Failed notification store appends.",
		}),
	}
	reg.MustRegister(m.sent, m.failed, m.pushed, m.storeErrors)
	return m
}

func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.PrometheusRegisterer == nil {
		opts.PrometheusRegisterer = prometheus.NewRegistry()
	}
	return &Engine{
		logger:    opts.Logger,
		store:     opts.Store,
		registry:  opts.Registry,
		directory: opts.Directory,
		clock:     opts.Clock,
		metrics:   newMetrics(opts.PrometheusRegisterer),
	}
}

// NotifyUsers persists and pushes one notification per target user. A user
// counts as Sent if either the persistence or the live push succeeded: the
// goal is "the user will eventually see this", not "this exact transport
// succeeded". Failed means both paths failed.
func (e *Engine) NotifyUsers(ctx context.Context, userIDs []string, title, message string, kind notifysdk.NotificationKind) Result {
	if !kind.Valid() {
		kind = notifysdk.NotificationKindInfo
	}
	// One stamp per call: ids are "<unix-milli>_<userID>", unique per user
	// within the call and across calls as wall-clock millis advance.
	stamp := e.clock.Now().UTC()
	batch := strconv.FormatInt(stamp.UnixMilli(), 10)

	var res Result
	for _, userID := range userIDs {
		notif := notifysdk.Notification{
			ID:        batch + "_" + userID,
			UserID:    userID,
			Title:     title,
			Message:   message,
			Kind:      kind,
			Timestamp: stamp,
			Read:      false,
		}

		stored := true
		if err := e.store.Append(ctx, notif); err != nil {
			stored = false
			e.metrics.storeErrors.Inc()
			e.logger.Warn(ctx, "store notification",
				slog.F("user_id", userID),
				slog.F("notification_id", notif.ID),
				slog.Error(err),
			)
		}

		pushed := e.push(ctx, notif)
		if pushed {
			e.metrics.pushed.Inc()
		}

		if stored || pushed {
			res.Sent++
			e.metrics.sent.Inc()
		} else {
			res.Failed++
			e.metrics.failed.Inc()
			e.logger.Error(ctx, "notification lost on both paths",
				slog.F("user_id", userID),
				slog.F("notification_id", notif.ID),
			)
		}
	}
	return res
}

// push attempts real-time delivery. A false return is the normal "user
// offline" signal, not an error.
func (e *Engine) push(ctx context.Context, notif notifysdk.Notification) bool {
	msg, err := notifysdk.NewPushMessage(notif)
	if err != nil {
		e.logger.Error(ctx, "build push frame", slog.Error(err))
		return false
	}
	ok := e.registry.Send(ctx, notif.UserID, msg)
	if ok {
		e.logger.Debug(ctx, "pushed notification",
			slog.F("user_id", notif.UserID),
			slog.F("title", notif.Title),
		)
	}
	return ok
}

// NotifyUserType resolves the audience through the user directory and
// delegates to NotifyUsers. The error covers directory resolution only;
// per-user outcomes are in the Result.
func (e *Engine) NotifyUserType(ctx context.Context, userType, title, message string, kind notifysdk.NotificationKind) (Result, error) {
	if e.directory == nil {
		return Result{}, xerrors.New("no user directory configured")
	}
	users, err := e.directory.UsersByType(ctx, userType)
	if err != nil {
		return Result{}, xerrors.Errorf("resolve users by type %q: %w", userType, err)
	}
	userIDs := make([]string, 0, len(users))
	for _, user := range users {
		userIDs = append(userIDs, user.ID)
	}
	return e.NotifyUsers(ctx, userIDs, title, message, kind), nil
}
