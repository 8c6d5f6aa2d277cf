package backend

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/vault/sdk/logical"
	"github.com/sundhar-perumal/sitewise-gettoken-demo/backend/telemetry"
)

// Version information - set via ldflags at build time
var (
	Version   = "v1.0.0"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// BackendConfig carries the dependencies handed to Factory. Only Config is
// required; the rest fall back to production defaults.
type BackendConfig struct {
	Logger        hclog.Logger
	Config        *Config
	Storage       logical.Storage
	ClientFactory ClientFactory
	HTTPClient    *http.Client
	Emitter       *telemetry.Emitter
}

// Backend is the GetToken demo console
type Backend struct {
	logger  hclog.Logger
	config  *Config
	storage logical.Storage

	sessions  *sessionStore
	tokens    *tokenClient
	describer *describer
	auth      *authGate
	pages     *template.Template
	handler   http.Handler

	// Telemetry emitter for traces and metrics
	emitter *telemetry.Emitter
	metrics *metrics

	inflight sync.WaitGroup
}

// Factory returns a new console backend
func Factory(ctx context.Context, conf *BackendConfig) (*Backend, error) {
	if conf == nil || conf.Config == nil {
		return nil, fmt.Errorf("backend config is required")
	}
	if err := conf.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := conf.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	storage := conf.Storage
	if storage == nil {
		storage = &logical.InmemStorage{}
	}

	emitter := conf.Emitter
	if emitter == nil {
		// Initialize telemetry emitter (respects ENV and RUNTIME_LOCAL)
		emitter, _ = telemetry.NewEmitter(ctx, telemetry.EmitterConfig{
			ServiceName:    "gettoken-demo",
			ServiceVersion: Version,
		})
	}

	factory := conf.ClientFactory
	if factory == nil {
		factory = NewAWSClientFactory()
	}

	pages, err := parsePages()
	if err != nil {
		return nil, err
	}

	b := &Backend{
		logger:    logger,
		config:    conf.Config,
		storage:   storage,
		sessions:  newSessionStore(storage),
		tokens:    newTokenClient(conf.Config.TokenEndpoint, conf.HTTPClient),
		describer: &describer{factory: factory, region: conf.Config.Region},
		pages:     pages,
		emitter:   emitter,
		metrics:   newMetrics(),
	}

	b.auth, err = newAuthGate(b, conf.HTTPClient)
	if err != nil {
		return nil, err
	}

	persisted := *conf.Config
	if err := b.saveConfig(ctx, storage, &persisted); err != nil {
		return nil, err
	}

	b.handler = b.routes()

	b.Logger().Info("backend ready",
		"version", Version,
		"auth_mode", conf.Config.AuthMode,
		"region", conf.Config.Region,
		"token_endpoint", conf.Config.TokenEndpoint,
	)

	return b, nil
}

// Logger returns the backend logger
func (b *Backend) Logger() hclog.Logger {
	return b.logger
}

// Handler returns the HTTP handler serving the console
func (b *Backend) Handler() http.Handler {
	return b.handler
}

// Cleanup waits for in-flight calls until ctx is done and then flushes telemetry
func (b *Backend) Cleanup(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		b.Logger().Warn("cleanup deadline reached with calls in flight")
	}

	var err error
	if b.emitter != nil {
		b.emitter.Flush(ctx)
		if err = b.emitter.Close(ctx); err != nil {
			err = fmt.Errorf("telemetry shutdown failed: %w", err)
		}
	}
	b.Logger().Info("backend cleanup complete")
	return err
}

// auditEvent represents an audit log entry
type auditEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	Session   string    `json:"session"`
	Target    string    `json:"target"`
	Success   bool      `json:"success"`
	Duration  int64     `json:"duration_ms"`
	Error     string    `json:"error,omitempty"`
}

// auditLog writes audit events
func (b *Backend) auditLog(event auditEvent) {
	fields := []interface{}{
		"timestamp", event.Timestamp.Format(time.RFC3339),
		"operation", event.Operation,
		"session", event.Session,
		"target", event.Target,
		"success", event.Success,
		"duration_ms", event.Duration,
	}

	if event.Error != "" {
		fields = append(fields, "error", event.Error)
	}

	b.Logger().Info("audit", fields...)
}
