// Package notifyd is the real-time notification service for the classifieds
// platform: a websocket connection server with an in-memory per-user
// connection registry, a durable notification log, and a best-effort
// fan-out engine. Everything else (listings, sellers, sessions) lives in
// other services.
package notifyd

import (
	"context"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cdr.dev/slog"

	"github.com/coder/quartz"

	"github.com/Anilsharma012/ekschin/notifyd/delivery"
	"github.com/Anilsharma012/ekschin/notifyd/httpapi"
	"github.com/Anilsharma012/ekschin/notifyd/httpmw"
	"github.com/Anilsharma012/ekschin/notifyd/notifstore"
	"github.com/Anilsharma012/ekschin/notifyd/registry"
	"github.com/Anilsharma012/ekschin/notifysdk"
)

// Options are the required parameters for the notification API to start.
type Options struct {
	Logger    slog.Logger
	Store     notifstore.Store
	Directory delivery.UserDirectory

	// Registry defaults to a fresh empty registry.
	Registry *registry.Registry
	// Clock defaults to the real clock.
	Clock quartz.Clock
	// PrometheusRegistry receives delivery metrics and backs /metrics.
	// Defaults to a private registry.
	PrometheusRegistry *prometheus.Registry
}

// API is the notification service's HTTP surface.
type API struct {
	*Options

	Engine *delivery.Engine

	ctx     context.Context
	cancel  context.CancelFunc
	wsWG    sync.WaitGroup
	handler http.Handler
}

// New constructs the notification API into an HTTP handler. Call Close to
// tear down live websocket connections.
func New(options *Options) *API {
	if options.Registry == nil {
		options.Registry = registry.New()
	}
	if options.Clock == nil {
		options.Clock = quartz.NewReal()
	}
	if options.PrometheusRegistry == nil {
		options.PrometheusRegistry = prometheus.NewRegistry()
	}

	ctx, cancel := context.WithCancel(context.Background())
	api := &API{
		Options: options,
		Engine: delivery.New(delivery.Options{
			Logger:               options.Logger.Named("delivery"),
			Store:                options.Store,
			Registry:             options.Registry,
			Directory:            options.Directory,
			Clock:                options.Clock,
			PrometheusRegisterer: options.PrometheusRegistry,
		}),
		ctx:    ctx,
		cancel: cancel,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		httpapi.Write(r.Context(), rw, http.StatusOK, notifysdk.Response{
			Message: "ok",
		})
	})
	r.Get("/metrics", promhttp.HandlerFor(options.PrometheusRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	r.Route("/api/v2/notifications", func(r chi.Router) {
		r.NotFound(func(rw http.ResponseWriter, r *http.Request) {
			httpapi.Write(r.Context(), rw, http.StatusNotFound, notifysdk.Response{
				Message: "Route not found.",
			})
		})
		// The websocket carries its own auth frame; identity headers are
		// only required on the REST routes.
		r.Get("/ws", api.notificationWebsocket)
		r.Group(func(r chi.Router) {
			r.Use(httpmw.ExtractIdentity())
			r.Get("/", api.listNotifications)
			r.Put("/{id}/read", api.updateNotificationReadStatus)
			r.Post("/send", api.sendNotification)
		})
	})
	api.handler = r
	return api
}

func (api *API) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	api.handler.ServeHTTP(rw, r)
}

// Close stops accepting websocket connections, tears down live ones, and
// waits for their serve loops to exit.
func (api *API) Close() {
	api.cancel()
	api.Registry.Close()
	api.wsWG.Wait()
}
