// Package presenced wires the ledger components behind the HTTP API.
package presenced

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cdr.dev/slog"

	"github.com/coder/quartz"

	"github.com/presenced/presenced/presenced/activity"
	"github.com/presenced/presenced/presenced/dailysweep"
	"github.com/presenced/presenced/presenced/database"
	"github.com/presenced/presenced/presenced/httpapi"
	"github.com/presenced/presenced/presenced/tracking"
	"github.com/presenced/presenced/presencedsdk"
)

// Options contains everything the API needs. Zero fields are defaulted by
// New where a sensible default exists.
type Options struct {
	Logger   slog.Logger
	Database database.Store
	Clock    quartz.Clock
	Location *time.Location

	Registry *tracking.Registry
	Recorder *activity.Recorder
	Reports  *activity.ReportBuilder
	Sweeper  *dailysweep.Sweeper

	// SweepAPIKey authorizes the external sweep trigger. When empty, the
	// trigger endpoint always rejects.
	SweepAPIKey string

	PrometheusRegistry *prometheus.Registry
}

// API is the HTTP surface of the daemon.
type API struct {
	*Options
	Handler chi.Router
}

func New(options *Options) *API {
	if options.Clock == nil {
		options.Clock = quartz.NewReal()
	}
	if options.Location == nil {
		options.Location = activity.DefaultLocation()
	}
	if options.PrometheusRegistry == nil {
		options.PrometheusRegistry = prometheus.NewRegistry()
	}

	api := &API{
		Options: options,
	}

	r := chi.NewRouter()
	r.Get("/healthz", api.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
		options.PrometheusRegistry, promhttp.HandlerOpts{},
	))
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sweep", api.postSweep)
		r.Get("/groups/{group}/subjects/{subject}/report", api.subjectReport)
	})
	api.Handler = r
	return api
}

func (api *API) healthz(rw http.ResponseWriter, r *http.Request) {
	_, err := api.Database.Ping(r.Context())
	if err != nil {
		httpapi.Write(rw, http.StatusServiceUnavailable, httpapi.Response{
			Message: "database unreachable",
			Detail:  err.Error(),
		})
		return
	}
	httpapi.Write(rw, http.StatusOK, httpapi.Response{
		Message: "ok",
	})
}

// postSweep triggers a sweep for the current activity date. It is the
// externally reachable twin of the midnight timer and shares its idempotence:
// a repeat call for the same date reports zero new failures. An unauthorized
// call never touches the ledger.
func (api *API) postSweep(rw http.ResponseWriter, r *http.Request) {
	apiKey := r.URL.Query().Get("api_key")
	if api.SweepAPIKey == "" || subtle.ConstantTimeCompare([]byte(apiKey), []byte(api.SweepAPIKey)) != 1 {
		httpapi.Unauthorized(rw)
		return
	}

	now := api.Clock.Now()
	stats := api.Sweeper.Sweep(now)
	if stats.Error != nil {
		httpapi.InternalServerError(rw, stats.Error)
		return
	}

	failures := make([]presencedsdk.SweepFailure, 0, len(stats.Failed))
	for _, failure := range stats.Failed {
		failures = append(failures, presencedsdk.SweepFailure{
			GroupID:       failure.GroupID,
			SubjectID:     failure.SubjectID,
			Handle:        failure.Handle,
			FailureStreak: failure.FailureStreak,
		})
	}
	httpapi.Write(rw, http.StatusOK, presencedsdk.SweepResponse{
		Timestamp:   now,
		Checked:     stats.Checked,
		NewlyFailed: len(stats.Failed),
		Failures:    failures,
	})
}

func (api *API) subjectReport(rw http.ResponseWriter, r *http.Request) {
	var (
		groupID   = chi.URLParam(r, "group")
		subjectID = chi.URLParam(r, "subject")
	)
	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			httpapi.Write(rw, http.StatusBadRequest, httpapi.Response{
				Message: "days must be a positive integer",
			})
			return
		}
		days = parsed
	}

	report, err := api.Reports.BuildReport(r.Context(), groupID, subjectID, days)
	if errors.Is(err, activity.ErrNoStreakState) {
		httpapi.NotFound(rw, "subject is not tracked in this group")
		return
	}
	if err != nil {
		httpapi.InternalServerError(rw, err)
		return
	}

	history := make([]presencedsdk.ActivityDay, 0, len(report.History))
	for _, day := range report.History {
		converted := presencedsdk.ActivityDay{
			ActivityDate: day.ActivityDate,
			Messaged:     day.Messaged,
		}
		if day.FirstMessageAt.Valid {
			at := day.FirstMessageAt.Time
			converted.FirstMessageAt = &at
		}
		history = append(history, converted)
	}
	httpapi.Write(rw, http.StatusOK, presencedsdk.Report{
		GroupID:       groupID,
		SubjectID:     subjectID,
		SuccessStreak: report.SuccessStreak,
		FailureStreak: report.FailureStreak,
		History:       history,
	})
}
