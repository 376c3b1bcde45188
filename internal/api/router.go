// Package api exposes the refresh, substitution and scheduler operations
// over a small JSON admin API.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/partwise/pricing-cli/internal/model"
	"github.com/partwise/pricing-cli/internal/refresh"
	"github.com/partwise/pricing-cli/internal/resilience"
	"github.com/partwise/pricing-cli/internal/scheduler"
	"github.com/partwise/pricing-cli/internal/store"
	"github.com/partwise/pricing-cli/internal/substitution"
)

// Service is the refresh surface the API drives (refresh.Service).
type Service interface {
	RefreshItem(ctx context.Context, id string, force bool) refresh.ItemResult
	RefreshTier(ctx context.Context, tier model.Tier) (*refresh.BatchReport, error)
	CheckItem(ctx context.Context, id string) (*refresh.Proposal, error)
	ApplySubstitution(ctx context.Context, id string) (*model.Item, *model.AlternativeCandidate, error)
	RestoreOriginal(ctx context.Context, id string) (*model.Item, error)
	SubstitutionStats(ctx context.Context, filter model.ItemFilter) (*model.SubstitutionStats, error)
}

// Jobs is the scheduler surface the API drives (scheduler.Scheduler).
type Jobs interface {
	Trigger(ctx context.Context, name string) (*scheduler.RunResult, error)
	Status() []scheduler.JobStatus
}

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	// Breakers, when set, are reported by /health.
	Breakers *resilience.ServiceBreakers
}

// tierJobs maps schedulable tiers to their job, so manual tier refreshes
// share the job's single-flight guard.
var tierJobs = map[model.Tier]string{
	model.TierA: scheduler.JobRefreshTierA,
	model.TierB: scheduler.JobRefreshTierB,
}

type handler struct {
	svc  Service
	jobs Jobs
	log  *zap.Logger
}

// NewRouter builds the admin API router.
func NewRouter(svc Service, jobs Jobs, opts Options) chi.Router {
	h := &handler{svc: svc, jobs: jobs, log: zap.L().With(zap.String("component", "api"))}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(h.requestLog)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		body := map[string]any{"status": "ok"}
		if opts.Breakers != nil {
			body["breakers"] = opts.Breakers.States()
		}
		writeJSON(w, http.StatusOK, body)
	})

	r.Route("/items/{id}", func(r chi.Router) {
		r.Post("/refresh", h.refreshItem)
		r.Get("/availability", h.checkItem)
		r.Post("/substitution", h.applySubstitution)
		r.Delete("/substitution", h.restoreOriginal)
	})
	r.Post("/tiers/assign", h.trigger(scheduler.JobAssignTiers))
	r.Post("/tiers/{tier}/refresh", h.refreshTier)
	r.Get("/substitutions/stats", h.substitutionStats)
	r.Get("/scheduler/status", h.schedulerStatus)
	r.Post("/scheduler/jobs/{name}/trigger", h.triggerJob)

	return r
}

func (h *handler) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (h *handler) refreshItem(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	res := h.svc.RefreshItem(r.Context(), chi.URLParam(r, "id"), force)
	status := http.StatusOK
	if res.Outcome == refresh.OutcomeFailed {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, res)
}

func (h *handler) refreshTier(w http.ResponseWriter, r *http.Request) {
	tier, ok := model.ParseTier(chi.URLParam(r, "tier"))
	if !ok {
		writeError(w, http.StatusBadRequest, "tier must be A, B or C")
		return
	}
	if name, scheduled := tierJobs[tier]; scheduled {
		h.trigger(name)(w, r)
		return
	}
	rep, err := h.svc.RefreshTier(r.Context(), tier)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *handler) checkItem(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.CheckItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) applySubstitution(w http.ResponseWriter, r *http.Request) {
	item, cand, err := h.svc.ApplySubstitution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item, "candidate": cand})
}

func (h *handler) restoreOriginal(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.RestoreOriginal(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *handler) substitutionStats(w http.ResponseWriter, r *http.Request) {
	filter := model.ItemFilter{BuildID: r.URL.Query().Get("build")}
	if raw := r.URL.Query().Get("tier"); raw != "" {
		tier, ok := model.ParseTier(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "tier must be A, B or C")
			return
		}
		filter.Tier = tier
	}
	stats, err := h.svc.SubstitutionStats(r.Context(), filter)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handler) schedulerStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": h.jobs.Status()})
}

func (h *handler) triggerJob(w http.ResponseWriter, r *http.Request) {
	h.trigger(chi.URLParam(r, "name"))(w, r)
}

func (h *handler) trigger(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := h.jobs.Trigger(r.Context(), name)
		if err != nil && res == nil {
			h.fail(w, err)
			return
		}
		status := http.StatusOK
		if err != nil {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, res)
	}
}

// fail maps domain errors to HTTP statuses.
func (h *handler) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case eris.Is(err, store.ErrNotFound), eris.Is(err, scheduler.ErrUnknownJob):
		status = http.StatusNotFound
	case eris.Is(err, scheduler.ErrJobRunning),
		eris.Is(err, substitution.ErrNotSubstituted),
		eris.Is(err, substitution.ErrNoOriginal):
		status = http.StatusConflict
	case eris.Is(err, refresh.ErrNoCandidate), eris.Is(err, substitution.ErrCandidateRejected):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
