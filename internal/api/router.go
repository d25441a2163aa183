package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/Harshitk-cp/bnoracle/internal/api/handlers"
	mw "github.com/Harshitk-cp/bnoracle/internal/api/middleware"
	"github.com/Harshitk-cp/bnoracle/internal/bayes"
	"github.com/Harshitk-cp/bnoracle/internal/buildconfig"
	"github.com/Harshitk-cp/bnoracle/internal/config"
	"github.com/Harshitk-cp/bnoracle/internal/lifecycle"
	"github.com/Harshitk-cp/bnoracle/internal/notify"
	"github.com/Harshitk-cp/bnoracle/internal/service"
	"github.com/Harshitk-cp/bnoracle/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// App holds the router and the services the server wires into background
// work.
type App struct {
	Router *chi.Mux

	Actors   *service.ActorService
	Claims   *service.ClaimService
	Evidence *service.EvidenceService
	CPTs     *service.CPTService
	Oracle   *service.OracleService
	Audit    *service.AuditService

	metrics   *mw.Metrics
	startTime time.Time
	stop      chan struct{}
}

// NewApp builds services over set and mounts the HTTP API. Writes notify
// feed, which may be nil.
func NewApp(set *store.Set, net *bayes.Network, feed *notify.Feed, logger *zap.Logger) (*App, error) {
	machine, err := lifecycle.New()
	if err != nil {
		return nil, err
	}

	// Services
	actorSvc := service.NewActorService(set.Actors, logger)
	evidenceSvc := service.NewEvidenceService(set.Evidence, set.Claims, net, logger)
	claimSvc := service.NewClaimService(set.Claims, set.Evidence, net, machine, logger)
	cptSvc := service.NewCPTService(set.CPTs, net, config.CPTTolerance(), logger)
	oracleSvc := service.NewOracleService(claimSvc, set.Claims, set.Evidence, set.CPTs, net, service.OracleConfig{
		Timeout:       config.InferenceTimeout(),
		MaxConcurrent: config.InferenceMaxConcurrent(),
	}, logger)
	auditSvc := service.NewAuditService(set.Claims, set.Evidence, set.CPTs, set.Events, net, logger)

	if feed != nil {
		evidenceSvc.SetNotifier(feed)
		claimSvc.SetNotifier(feed)
		cptSvc.SetNotifier(feed)
		oracleSvc.SetNotifier(feed)
	}

	// Handlers
	actorHandler := handlers.NewActorHandler(actorSvc)
	claimHandler := handlers.NewClaimHandler(claimSvc, evidenceSvc, oracleSvc, auditSvc)
	cptHandler := handlers.NewCPTHandler(cptSvc)
	eventHandler := handlers.NewEventHandler(set.Events, auditSvc)
	networkHandler := handlers.NewNetworkHandler(net)

	r := chi.NewRouter()
	app := &App{
		Router:    r,
		Actors:    actorSvc,
		Claims:    claimSvc,
		Evidence:  evidenceSvc,
		CPTs:      cptSvc,
		Oracle:    oracleSvc,
		Audit:     auditSvc,
		metrics:   &mw.Metrics{},
		startTime: time.Now(),
		stop:      make(chan struct{}),
	}

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(app.metrics.Middleware)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst(), app.stop))

	// No auth
	r.Get("/health", healthHandler(set))
	r.Get("/metrics", app.metricsHandler())
	r.Get("/version", versionHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(actorSvc))

		r.Post("/actors", actorHandler.Create)
		r.Get("/actors/me", actorHandler.Me)

		r.Get("/network", networkHandler.Get)

		r.Route("/claims", func(r chi.Router) {
			r.Post("/", claimHandler.Open)
			r.Get("/", claimHandler.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", claimHandler.Get)
				r.Get("/evidence", claimHandler.ListEvidence)
				r.Post("/evidence", claimHandler.AddEvidence)
				r.Post("/trigger", claimHandler.Trigger)
				r.Post("/resolve", claimHandler.Resolve)
				r.Get("/belief", claimHandler.Belief)
				r.Get("/verify", claimHandler.Verify)
			})
		})

		r.Route("/cpts", func(r chi.Router) {
			r.Get("/", cptHandler.Snapshot)
			r.Route("/{node}", func(r chi.Router) {
				r.Put("/", cptHandler.SetRow)
				r.Put("/table", cptHandler.SetTable)
				r.Get("/revisions/{rev}", cptHandler.Revision)
			})
		})

		r.Get("/events", eventHandler.List)
		r.Get("/events/verify", eventHandler.Verify)
	})

	return app, nil
}

// Close stops the app's background helpers.
func (app *App) Close() {
	close(app.stop)
}

func healthHandler(set *store.Set) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := set.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func versionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, buildconfig.Get())
}

func (app *App) metricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)
		response := map[string]any{
			"uptime_seconds": uptime.Seconds(),
			"uptime_human":   uptime.Round(time.Second).String(),
			"goroutines":     runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb": float64(memStats.Alloc) / 1024 / 1024,
				"sys_mb":   float64(memStats.Sys) / 1024 / 1024,
				"num_gc":   memStats.NumGC,
			},
			"go_version": runtime.Version(),
		}
		for k, v := range app.metrics.Snapshot() {
			response[k] = v
		}
		writeJSON(w, http.StatusOK, response)
	}
}
