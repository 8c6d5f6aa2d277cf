package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"
	"github.com/sundhar-perumal/sitewise-gettoken-demo/backend"
	"github.com/sundhar-perumal/sitewise-gettoken-demo/backend/telemetry"
)

// Version information - injected via ldflags at build time
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// CLI is the command line of the console. Every flag can also be set from the
// environment, including variables loaded from GETTOKEN_ENV_FILE (default .env).
type CLI struct {
	Listen        string        `default:":8080" env:"GETTOKEN_LISTEN" help:"Address to serve the console on."`
	TokenEndpoint string        `required:"" env:"GETTOKEN_ENDPOINT" help:"GetToken endpoint URL."`
	Region        string        `default:"us-west-2" env:"GETTOKEN_REGION" help:"IoT SiteWise region."`
	ShutdownGrace time.Duration `default:"15s" env:"GETTOKEN_SHUTDOWN_GRACE" help:"How long to wait for in-flight calls on shutdown."`

	PortalID          string `default:"${portal_id}" env:"GETTOKEN_PORTAL_ID" help:"Portal the token is scoped to."`
	ProjectID         string `default:"${project_id}" env:"GETTOKEN_PROJECT_ID" help:"Project offered with access."`
	NoAccessPortalID  string `default:"${no_access_portal_id}" env:"GETTOKEN_NO_ACCESS_PORTAL_ID" help:"Portal offered without access."`
	NoAccessProjectID string `default:"${no_access_project_id}" env:"GETTOKEN_NO_ACCESS_PROJECT_ID" help:"Project offered without access."`

	AuthMode          string   `default:"hosted-ui" enum:"hosted-ui,disabled" env:"GETTOKEN_AUTH_MODE" help:"Sign-in mode (hosted-ui, disabled)."`
	OAuthClientID     string   `name:"oauth-client-id" env:"GETTOKEN_OAUTH_CLIENT_ID" help:"Hosted UI app client id."`
	OAuthClientSecret string   `name:"oauth-client-secret" env:"GETTOKEN_OAUTH_CLIENT_SECRET" help:"Hosted UI app client secret."`
	OAuthAuthURL      string   `name:"oauth-auth-url" env:"GETTOKEN_OAUTH_AUTH_URL" help:"Hosted UI authorize endpoint."`
	OAuthTokenURL     string   `name:"oauth-token-url" env:"GETTOKEN_OAUTH_TOKEN_URL" help:"Hosted UI token endpoint."`
	OAuthRedirectURL  string   `name:"oauth-redirect-url" env:"GETTOKEN_OAUTH_REDIRECT_URL" help:"Callback URL registered with the hosted UI."`
	OAuthScopes       []string `name:"oauth-scopes" default:"openid,email,profile" env:"GETTOKEN_OAUTH_SCOPES" help:"Scopes requested at sign-in."`
	LogoutURL         string   `env:"GETTOKEN_LOGOUT_URL" help:"Where to send the browser after sign out."`
	SessionKey        string   `env:"GETTOKEN_SESSION_KEY" help:"Cookie signing key, at least 32 bytes. Random when empty."`
	SecureCookie      bool     `env:"GETTOKEN_SECURE_COOKIE" help:"Mark the session cookie Secure."`
	LocalIDToken      string   `name:"local-id-token" env:"GETTOKEN_LOCAL_ID_TOKEN" help:"ID token forwarded for the local user when auth is disabled."`

	LogLevel string `default:"info" enum:"trace,debug,info,warn,error" env:"GETTOKEN_LOG_LEVEL" help:"Log level."`
	LogJSON  bool   `name:"log-json" env:"GETTOKEN_LOG_JSON" help:"Log in JSON."`
	Env      string `env:"ENV" help:"Deployment environment for telemetry (local exports to a collector on localhost)."`
}

func (c *CLI) backendConfig() *backend.Config {
	cfg := backend.DefaultConfig()
	cfg.TokenEndpoint = c.TokenEndpoint
	cfg.Region = c.Region
	cfg.PortalID = c.PortalID
	cfg.ProjectID = c.ProjectID
	cfg.NoAccessPortalID = c.NoAccessPortalID
	cfg.NoAccessProjectID = c.NoAccessProjectID
	cfg.AuthMode = c.AuthMode
	cfg.OAuth = backend.OAuthConfig{
		ClientID:     c.OAuthClientID,
		ClientSecret: c.OAuthClientSecret,
		AuthURL:      c.OAuthAuthURL,
		TokenURL:     c.OAuthTokenURL,
		RedirectURL:  c.OAuthRedirectURL,
		Scopes:       c.OAuthScopes,
		LogoutURL:    c.LogoutURL,
	}
	if c.SessionKey != "" {
		cfg.SessionKey = []byte(c.SessionKey)
	}
	cfg.SecureCookie = c.SecureCookie
	cfg.LocalIDToken = c.LocalIDToken
	return cfg
}

func main() {
	// Wire version information to backend package
	backend.Version = Version
	backend.Commit = Commit
	backend.BuildDate = BuildDate

	envFile := os.Getenv("GETTOKEN_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			hclog.Default().Warn("failed to load env file", "path", envFile, "error", err)
		}
	}

	var cli CLI
	kong.Parse(&cli,
		kong.Name("gettoken-demo"),
		kong.Description("Web console for the SiteWise GetToken API."),
		kong.Vars{
			"portal_id":            backend.DefaultPortalID,
			"project_id":           backend.DefaultProjectID,
			"no_access_portal_id":  backend.DefaultNoAccessPortalID,
			"no_access_project_id": backend.DefaultNoAccessProjectID,
		},
	)

	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "gettoken-demo",
		Level:      hclog.LevelFromString(cli.LogLevel),
		JSONFormat: cli.LogJSON,
	})
	hclog.SetDefault(logger)

	if err := run(&cli, logger); err != nil {
		logger.Error("console shutting down", "error", err)
		os.Exit(1)
	}
}

func run(cli *CLI, logger hclog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	emitter, err := telemetry.NewEmitter(ctx, telemetry.EmitterConfig{
		ServiceVersion: Version,
		Environment:    cli.Env,
	})
	if err != nil {
		return err
	}

	b, err := backend.Factory(ctx, &backend.BackendConfig{
		Logger:  logger,
		Config:  cli.backendConfig(),
		Emitter: emitter,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cli.Listen,
		Handler:           b.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logger.Named("http").StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true}),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cli.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cli.ShutdownGrace)
	defer cancel()

	shutdownErr := srv.Shutdown(shutdownCtx)
	return errors.Join(shutdownErr, b.Cleanup(shutdownCtx))
}
