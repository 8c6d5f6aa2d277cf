package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// routes builds the console router
func (b *Backend) routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", b.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/metrics", b.handleMetrics).Methods(http.MethodGet)

	r.HandleFunc("/login", b.auth.handleLogin).Methods(http.MethodGet)
	r.HandleFunc("/callback", b.auth.handleCallback).Methods(http.MethodGet)
	r.HandleFunc("/logout", b.auth.handleLogout).Methods(http.MethodPost)

	gated := r.NewRoute().Subrouter()
	gated.Use(b.auth.require)

	gated.HandleFunc("/", b.handleIndex).Methods(http.MethodGet)
	gated.HandleFunc("/state", b.handleState).Methods(http.MethodGet)

	gated.HandleFunc("/token/portal", b.action(func(ctx context.Context, id string, r *http.Request) error {
		b.rememberTokenProject(ctx, id, r.PostFormValue("project"))
		return b.RequestPortalToken(ctx, id)
	})).Methods(http.MethodPost)
	gated.HandleFunc("/token/project", b.action(func(ctx context.Context, id string, r *http.Request) error {
		return b.RequestProjectToken(ctx, id, r.PostFormValue("project"))
	})).Methods(http.MethodPost)
	gated.HandleFunc("/token/clear", b.action(func(ctx context.Context, id string, _ *http.Request) error {
		return b.ClearToken(ctx, id)
	})).Methods(http.MethodPost)

	gated.HandleFunc("/portal/describe", b.action(func(ctx context.Context, id string, r *http.Request) error {
		return b.DescribePortal(ctx, id, r.PostFormValue("portal"))
	})).Methods(http.MethodPost)
	gated.HandleFunc("/portal/clear", b.action(func(ctx context.Context, id string, _ *http.Request) error {
		return b.ClearPortal(ctx, id)
	})).Methods(http.MethodPost)

	gated.HandleFunc("/project/describe", b.action(func(ctx context.Context, id string, r *http.Request) error {
		return b.DescribeProject(ctx, id, r.PostFormValue("project"))
	})).Methods(http.MethodPost)
	gated.HandleFunc("/project/clear", b.action(func(ctx context.Context, id string, _ *http.Request) error {
		return b.ClearProject(ctx, id)
	})).Methods(http.MethodPost)

	return otelhttp.NewHandler(r, "gettoken-demo")
}

// action adapts a console operation to a POST handler that redirects back to
// the page.
func (b *Backend) action(fn func(ctx context.Context, sessionID string, r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}

		id := sessionIDFrom(r.Context())
		err := fn(r.Context(), id, r)
		switch {
		case err == nil:
			http.Redirect(w, r, "/", http.StatusSeeOther)
		case errors.Is(err, ErrNoCredentials):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, ErrSessionNotFound):
			http.Error(w, "sign in required", http.StatusUnauthorized)
		default:
			b.Logger().Error("action failed", "path", r.URL.Path, "session", id, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}

// rememberTokenProject keeps the token menu choice when the portal button is used.
func (b *Backend) rememberTokenProject(ctx context.Context, sessionID, projectID string) {
	if projectID == "" {
		return
	}
	_, err := b.sessions.update(ctx, sessionID, func(rec *sessionRecord) error {
		rec.Selections.TokenProject = projectID
		return nil
	})
	if err != nil {
		b.Logger().Warn("failed to store token project selection", "session", sessionID, "error", err)
	}
}

func (b *Backend) handleIndex(w http.ResponseWriter, r *http.Request) {
	rec, err := b.sessions.get(r.Context(), sessionIDFrom(r.Context()))
	if err != nil {
		b.Logger().Error("failed to load session", "error", err)
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := b.renderIndex(w, rec); err != nil {
		b.Logger().Error("failed to render page", "error", err)
	}
}

// stateView is the JSON shape of /state
type stateView struct {
	User       string     `json:"user"`
	Selections selections `json:"selections"`
	HasBundle  bool       `json:"has_bundle"`
	Token      panelState `json:"token"`
	Portal     panelState `json:"portal"`
	Project    panelState `json:"project"`
}

func (b *Backend) handleState(w http.ResponseWriter, r *http.Request) {
	rec, err := b.sessions.get(r.Context(), sessionIDFrom(r.Context()))
	if err != nil {
		b.Logger().Error("failed to load session", "error", err)
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, stateView{
		User:       rec.User,
		Selections: rec.Selections,
		HasBundle:  rec.Bundle != nil,
		Token:      rec.Token,
		Portal:     rec.Portal,
		Project:    rec.Project,
	})
}

// handleHealth reports liveness and the stored configuration
func (b *Backend) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"timestamp":  time.Now().Format(time.RFC3339),
		"version":    Version,
		"commit":     Commit,
		"build_date": BuildDate,
	}
	if b.emitter != nil {
		response["service_name"] = b.emitter.ServiceName()
		response["environment"] = b.emitter.Environment()
		response["uptime_seconds"] = int64(time.Since(b.emitter.GetStartTime()).Seconds())
	}

	config, err := b.getConfig(r.Context(), b.storage)
	if err != nil {
		response["healthy"] = false
		response["error"] = "failed to load configuration"
		response["details"] = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}

	if config == nil {
		response["healthy"] = false
		response["error"] = "backend not configured"
		writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}

	response["healthy"] = true
	response["configuration_status"] = "ok"
	response["config_version"] = config.Version
	response["auth_mode"] = config.AuthMode
	response["region"] = config.Region
	response["telemetry_enabled"] = b.emitter.IsEnabled()

	if ids, err := b.sessions.list(r.Context()); err == nil {
		response["sessions"] = len(ids)
	}

	writeJSON(w, http.StatusOK, response)
}

// handleMetrics returns in-process request statistics
func (b *Backend) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, b.metrics.getStats())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
