package backend

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/vault/sdk/logical"
)

const (
	AuthModeHostedUI = "hosted-ui"
	AuthModeDisabled = "disabled"

	configStorageKey = "config"
)

// Demo resource ids the console offers in its menus.
const (
	DefaultRegion            = "us-west-2"
	DefaultPortalID          = "55309920-59d5-4cc1-a8c9-9340b7fae247"
	DefaultProjectID         = "9372dc1a-3f01-4fa4-a196-781544441862"
	DefaultNoAccessPortalID  = "bea83406-c5ef-4b33-b7a3-0decd94f17a3"
	DefaultNoAccessProjectID = "173dd79a-a739-4aef-afda-1bab2a7fe88e"

	badPortalID  = "bad-portal-id"
	badProjectID = "bad-project-id"
)

// OAuthConfig describes the hosted sign-in UI.
type OAuthConfig struct {
	ClientID     string   `json:"client_id,omitempty"`
	ClientSecret string   `json:"-"`
	AuthURL      string   `json:"auth_url,omitempty"`
	TokenURL     string   `json:"token_url,omitempty"`
	RedirectURL  string   `json:"redirect_url,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
	LogoutURL    string   `json:"logout_url,omitempty"`
}

// Config is the console configuration
type Config struct {
	// Token exchange endpoint
	TokenEndpoint string `json:"token_endpoint"`

	// SiteWise targets
	Region            string `json:"region"`
	PortalID          string `json:"portal_id"`
	ProjectID         string `json:"project_id"`
	NoAccessPortalID  string `json:"no_access_portal_id,omitempty"`
	NoAccessProjectID string `json:"no_access_project_id,omitempty"`

	// Sign-in
	AuthMode     string      `json:"auth_mode"`
	OAuth        OAuthConfig `json:"oauth"`
	SessionKey   []byte      `json:"-"`
	SecureCookie bool        `json:"secure_cookie"`

	// LocalIDToken is forwarded for the local user when auth_mode is disabled
	LocalIDToken string `json:"-"`

	// Metadata
	Version     int       `json:"version"`
	LastUpdated time.Time `json:"last_updated"`
}

// DefaultConfig returns a config with the demo defaults
func DefaultConfig() *Config {
	return &Config{
		Region:            DefaultRegion,
		PortalID:          DefaultPortalID,
		ProjectID:         DefaultProjectID,
		NoAccessPortalID:  DefaultNoAccessPortalID,
		NoAccessProjectID: DefaultNoAccessProjectID,
		AuthMode:          AuthModeHostedUI,
		OAuth: OAuthConfig{
			Scopes: []string{"openid", "email", "profile"},
		},
		Version:     1,
		LastUpdated: time.Now(),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.TokenEndpoint == "" {
		return fmt.Errorf("token_endpoint is required")
	}
	if err := requireHTTPURL("token_endpoint", c.TokenEndpoint); err != nil {
		return err
	}

	if strings.TrimSpace(c.Region) == "" {
		return fmt.Errorf("region is required")
	}

	if c.PortalID == "" || c.ProjectID == "" {
		return fmt.Errorf("portal_id and project_id are required")
	}

	switch c.AuthMode {
	case AuthModeDisabled:
	case AuthModeHostedUI:
		if c.OAuth.ClientID == "" {
			return fmt.Errorf("oauth client_id is required for auth_mode %q", AuthModeHostedUI)
		}
		for _, u := range []struct{ name, value string }{
			{"oauth auth_url", c.OAuth.AuthURL},
			{"oauth token_url", c.OAuth.TokenURL},
			{"oauth redirect_url", c.OAuth.RedirectURL},
		} {
			if u.value == "" {
				return fmt.Errorf("%s is required for auth_mode %q", u.name, AuthModeHostedUI)
			}
			if err := requireHTTPURL(u.name, u.value); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("auth_mode must be %q or %q", AuthModeHostedUI, AuthModeDisabled)
	}

	if len(c.SessionKey) != 0 && len(c.SessionKey) < 32 {
		return fmt.Errorf("session key must be at least 32 bytes")
	}

	return nil
}

func requireHTTPURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL", name)
	}
	return nil
}

// getConfig retrieves the effective configuration from storage
func (b *Backend) getConfig(ctx context.Context, s logical.Storage) (*Config, error) {
	entry, err := s.Get(ctx, configStorageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}

	if entry == nil {
		return nil, nil
	}

	config := &Config{}
	if err := entry.DecodeJSON(config); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	return config, nil
}

// saveConfig stores the configuration, bumping its version when one already exists
func (b *Backend) saveConfig(ctx context.Context, s logical.Storage, config *Config) error {
	existing, err := b.getConfig(ctx, s)
	if err != nil {
		return err
	}
	if existing != nil {
		config.Version = existing.Version + 1
	}
	config.LastUpdated = time.Now()

	entry, err := logical.StorageEntryJSON(configStorageKey, config)
	if err != nil {
		return fmt.Errorf("failed to create storage entry: %w", err)
	}

	if err := s.Put(ctx, entry); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	return nil
}
