package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/petermazzocco/particle-monitor/internal/auth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "particle_http_requests_total",
		Help: "HTTP requests served, by route pattern and status code.",
	}, []string{"method", "route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "particle_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// Routes mounts every endpoint. Rate limiting applies per client IP and
// endpoint to the auth and API groups.
func (h *Handler) Routes(requestsPerMinute int) http.Handler {
	r := chi.NewRouter()
	r.Use(instrument)

	limit := httprate.Limit(
		requestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP, httprate.KeyByEndpoint),
	)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Use(limit)
		r.Post("/signup", h.SignUp)
		r.Post("/signin", h.SignIn)
		r.Post("/signout", h.SignOut)
		r.Get("/{provider}", h.BeginOAuth)
		r.Get("/{provider}/callback", h.OAuthCallback)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.UserMiddleware(h.sessions))
		r.Use(limit)

		r.Get("/user", h.GetUser)
		r.Put("/user", h.UpdateUser)

		r.Route("/machines", func(r chi.Router) {
			r.Get("/", h.ListMachines)
			r.Post("/", h.CreateMachine)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetMachine)
				r.Put("/", h.UpdateMachine)
				r.Delete("/", h.DeleteMachine)
				r.Get("/settings", h.GetSettings)
				r.Put("/settings", h.UpdateSettings)
				r.Get("/summary", h.MachineSummary)
				r.Get("/results", h.MachineResults)
			})
		})

		r.Get("/images", h.ListImages)
		r.Get("/images/file/{filename}", h.ImageFile)
		r.Get("/images/{id}", h.GetImage)
		r.Get("/results/summary", h.ResultsSummary)
	})

	return r
}

// instrument records request counts and latency under the matched route
// pattern, so ids in paths do not explode the label space.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
