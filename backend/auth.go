package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/hashicorp/go-hclog"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"golang.org/x/oauth2"
)

const (
	cookieName    = "gettoken-demo"
	cookieSession = "sid"
	cookieState   = "oauth_state"

	localUser = "local-user"
)

type sessionIDKey struct{}

// authGate guards the console behind a signed-in session.
type authGate struct {
	b      *Backend
	mode   string
	cookie *sessions.CookieStore
	oauth  *oauth2.Config
	client *http.Client
	logger hclog.Logger
}

func newAuthGate(b *Backend, client *http.Client) (*authGate, error) {
	c := b.config

	key := c.SessionKey
	if len(key) == 0 {
		key = securecookie.GenerateRandomKey(32)
		if key == nil {
			return nil, fmt.Errorf("failed to generate session key")
		}
	}

	store := sessions.NewCookieStore(key)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		Secure:   c.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	}

	g := &authGate{
		b:      b,
		mode:   c.AuthMode,
		cookie: store,
		client: client,
		logger: b.Logger().Named("auth"),
	}

	if c.AuthMode == AuthModeHostedUI {
		g.oauth = &oauth2.Config{
			ClientID:     c.OAuth.ClientID,
			ClientSecret: c.OAuth.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  c.OAuth.AuthURL,
				TokenURL: c.OAuth.TokenURL,
			},
			RedirectURL: c.OAuth.RedirectURL,
			Scopes:      c.OAuth.Scopes,
		}
	}

	return g, nil
}

// sessionIDFrom returns the session id set by require.
func sessionIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}

// require rejects requests without a signed-in session. Page loads are sent to
// /login; everything else gets 401.
func (g *authGate) require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := g.currentSession(r)
		if errors.Is(err, ErrSessionNotFound) && g.mode == AuthModeDisabled {
			id, err = g.signIn(w, r, localUser, g.b.config.LocalIDToken)
		}
		if err != nil {
			if !errors.Is(err, ErrSessionNotFound) {
				g.logger.Error("session lookup failed", "error", err)
				http.Error(w, "session unavailable", http.StatusInternalServerError)
				return
			}
			if r.Method == http.MethodGet && r.URL.Path == "/" {
				http.Redirect(w, r, "/login", http.StatusFound)
				return
			}
			http.Error(w, "sign in required", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), sessionIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// currentSession resolves the cookie to a stored session id.
func (g *authGate) currentSession(r *http.Request) (string, error) {
	sess, err := g.cookie.Get(r, cookieName)
	if err != nil {
		// A cookie signed with another key decodes to a fresh session.
		g.logger.Debug("discarding unreadable cookie", "error", err)
	}

	id, _ := sess.Values[cookieSession].(string)
	if id == "" {
		return "", ErrSessionNotFound
	}

	if _, err := g.b.sessions.get(r.Context(), id); err != nil {
		return "", err
	}
	return id, nil
}

// signIn creates a session record and binds it to the cookie.
func (g *authGate) signIn(w http.ResponseWriter, r *http.Request, user, idToken string) (string, error) {
	id := uuid.NewString()
	if err := g.b.sessions.put(r.Context(), newSessionRecord(id, user, idToken, g.b.config)); err != nil {
		return "", err
	}

	sess, _ := g.cookie.Get(r, cookieName)
	sess.Values[cookieSession] = id
	delete(sess.Values, cookieState)
	if err := sess.Save(r, w); err != nil {
		return "", fmt.Errorf("failed to save session cookie: %w", err)
	}

	g.b.emitter.EmitSignIn(r.Context(), user)
	g.logger.Info("signed in", "session", id, "user", user)
	return id, nil
}

// handleLogin starts the hosted UI sign-in.
func (g *authGate) handleLogin(w http.ResponseWriter, r *http.Request) {
	if _, err := g.currentSession(r); err == nil {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	if g.mode == AuthModeDisabled {
		if _, err := g.signIn(w, r, localUser, g.b.config.LocalIDToken); err != nil {
			g.logger.Error("sign in failed", "error", err)
			http.Error(w, "sign in failed", http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	state := uuid.NewString()
	sess, _ := g.cookie.Get(r, cookieName)
	sess.Values[cookieState] = state
	if err := sess.Save(r, w); err != nil {
		g.logger.Error("failed to save state cookie", "error", err)
		http.Error(w, "sign in failed", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, g.oauth.AuthCodeURL(state), http.StatusFound)
}

// handleCallback completes the hosted UI sign-in.
func (g *authGate) handleCallback(w http.ResponseWriter, r *http.Request) {
	if g.mode != AuthModeHostedUI {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		g.logger.Warn("hosted UI returned an error", "error", e, "description", q.Get("error_description"))
		http.Error(w, "sign in failed: "+e, http.StatusUnauthorized)
		return
	}

	sess, _ := g.cookie.Get(r, cookieName)
	want, _ := sess.Values[cookieState].(string)
	if want == "" || q.Get("state") != want {
		http.Error(w, "invalid sign in state", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if g.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)
	}

	tok, err := g.oauth.Exchange(ctx, q.Get("code"))
	if err != nil {
		g.logger.Warn("code exchange failed", "error", err)
		http.Error(w, "sign in failed", http.StatusUnauthorized)
		return
	}

	idToken, _ := tok.Extra("id_token").(string)
	user, err := userFromIDToken(idToken)
	if err != nil {
		g.logger.Warn("unusable id token", "error", err)
		http.Error(w, "sign in failed", http.StatusUnauthorized)
		return
	}

	if _, err := g.signIn(w, r, user, idToken); err != nil {
		g.logger.Error("sign in failed", "error", err)
		http.Error(w, "sign in failed", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/", http.StatusFound)
}

// handleLogout drops the session state and the cookie.
func (g *authGate) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, _ := g.cookie.Get(r, cookieName)
	id, _ := sess.Values[cookieSession].(string)

	if id != "" {
		user := ""
		if rec, err := g.b.sessions.get(r.Context(), id); err == nil {
			user = rec.User
		}
		if err := g.b.sessions.delete(r.Context(), id); err != nil {
			g.logger.Error("failed to delete session", "session", id, "error", err)
		}
		g.b.emitter.EmitSignOut(r.Context(), user)
		g.logger.Info("signed out", "session", id, "user", user)
	}

	sess.Options.MaxAge = -1
	if err := sess.Save(r, w); err != nil {
		g.logger.Warn("failed to expire cookie", "error", err)
	}

	target := "/"
	if g.mode == AuthModeHostedUI && g.b.config.OAuth.LogoutURL != "" {
		target = g.b.config.OAuth.LogoutURL
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// userFromIDToken reads the display name from id token claims. The token came
// straight from the token endpoint over TLS, so the signature is not checked.
func userFromIDToken(idToken string) (string, error) {
	if idToken == "" {
		return "", fmt.Errorf("token response has no id_token")
	}

	tok, err := jwt.ParseInsecure([]byte(idToken))
	if err != nil {
		return "", fmt.Errorf("failed to parse id_token: %w", err)
	}

	for _, claim := range []string{"email", "cognito:username", "preferred_username"} {
		if v, ok := tok.Get(claim); ok {
			if s, ok := v.(string); ok && s != "" {
				return s, nil
			}
		}
	}

	if sub := tok.Subject(); sub != "" {
		return sub, nil
	}
	return "", fmt.Errorf("id_token has no subject")
}
