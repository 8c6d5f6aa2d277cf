package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestActions_PortalToken(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	id := env.newSession(t)

	if err := env.b.RequestPortalToken(ctx, id); err != nil {
		t.Fatalf("failed to start token request: %v", err)
	}
	env.wait()

	rec := env.session(t, id)
	if rec.Token.Status != StatusSuccess {
		t.Fatalf("expected status %s, got %s (%s)", StatusSuccess, rec.Token.Status, rec.Token.Payload)
	}
	if rec.Bundle == nil || rec.Bundle.SessionToken != testSession {
		t.Fatalf("expected the credential bundle to be kept, got %+v", rec.Bundle)
	}

	req := env.tokens.lastRequest(t)
	if got := req.URL.Query().Get("portal"); got != DefaultPortalID {
		t.Errorf("expected portal %s, got %s", DefaultPortalID, got)
	}
	if req.URL.Query().Has("project") {
		t.Error("portal token must not send a project")
	}
	if got := req.Header.Get("Authorization"); got != "id-token-123" {
		t.Errorf("expected the session id token, got %q", got)
	}
}

func TestActions_ProjectToken(t *testing.T) {
	tests := []struct {
		name        string
		projectID   string
		wantProject string
		wantStatus  Status
		wantBundle  bool
	}{
		{
			name:        "Project with access",
			projectID:   DefaultProjectID,
			wantProject: DefaultProjectID,
			wantStatus:  StatusSuccess,
			wantBundle:  true,
		},
		{
			name:        "Empty selection uses the configured project",
			wantProject: DefaultProjectID,
			wantStatus:  StatusSuccess,
			wantBundle:  true,
		},
		{
			name:        "Rejected project",
			projectID:   badProjectID,
			wantProject: badProjectID,
			wantStatus:  StatusError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			env := newTestEnv(t, nil)
			id := env.newSession(t)

			if err := env.b.RequestProjectToken(ctx, id, tt.projectID); err != nil {
				t.Fatalf("failed to start token request: %v", err)
			}
			env.wait()

			if got := env.tokens.lastRequest(t).URL.Query().Get("project"); got != tt.wantProject {
				t.Errorf("expected project %s, got %s", tt.wantProject, got)
			}

			rec := env.session(t, id)
			if rec.Token.Status != tt.wantStatus {
				t.Errorf("expected status %s, got %s", tt.wantStatus, rec.Token.Status)
			}
			if (rec.Bundle != nil) != tt.wantBundle {
				t.Errorf("expected bundle=%v, got %+v", tt.wantBundle, rec.Bundle)
			}
			if rec.Selections.TokenProject != tt.wantProject {
				t.Errorf("expected token project selection %s, got %s", tt.wantProject, rec.Selections.TokenProject)
			}
		})
	}
}

func TestActions_TokenFailurePayload(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	id := env.newSession(t)

	if err := env.b.RequestProjectToken(ctx, id, badProjectID); err != nil {
		t.Fatalf("failed to start token request: %v", err)
	}
	env.wait()

	want := map[string]interface{}{
		"name":    "TokenRequestError",
		"message": "request failed with status code 403",
		"status":  float64(403),
		"body":    map[string]interface{}{"message": "project is not accessible"},
	}
	if diff := cmp.Diff(want, decodePayload(t, env.session(t, id).Token.Payload)); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}

	stats := kindStatsOf(t, env.b.metrics.getStats(), kindProjectToken)
	if stats["errors"].(uint64) != 1 {
		t.Errorf("expected 1 project token error, got %v", stats["errors"])
	}
}

func TestActions_FailedTokenDropsPreviousBundle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	id := env.newSession(t)

	if err := env.b.RequestPortalToken(ctx, id); err != nil {
		t.Fatalf("failed to start token request: %v", err)
	}
	env.wait()
	if env.session(t, id).Bundle == nil {
		t.Fatal("expected a bundle after the portal token")
	}

	if err := env.b.RequestProjectToken(ctx, id, badProjectID); err != nil {
		t.Fatalf("failed to start token request: %v", err)
	}
	env.wait()

	if rec := env.session(t, id); rec.Bundle != nil {
		t.Errorf("expected the bundle to be dropped, got %+v", rec.Bundle)
	}
}

func TestActions_ClearTokenDiscardsLateResult(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	id := env.newSession(t)
	release := env.tokens.hold()
	defer release()

	if err := env.b.RequestPortalToken(ctx, id); err != nil {
		t.Fatalf("failed to start token request: %v", err)
	}
	if got := env.session(t, id).Token.Status; got != StatusLoading {
		t.Fatalf("expected status %s while in flight, got %s", StatusLoading, got)
	}

	if err := env.b.ClearToken(ctx, id); err != nil {
		t.Fatalf("failed to clear token: %v", err)
	}

	release()
	env.wait()

	rec := env.session(t, id)
	if rec.Token.Status != StatusUnset {
		t.Errorf("expected status %s, got %s", StatusUnset, rec.Token.Status)
	}
	if rec.Token.Payload != nil {
		t.Errorf("expected no payload, got %s", rec.Token.Payload)
	}
	if rec.Bundle != nil {
		t.Errorf("expected no bundle, got %+v", rec.Bundle)
	}
}

func TestActions_DescribeRequiresBundle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	id := env.newSession(t)

	tests := []struct {
		name string
		call func() error
	}{
		{"portal", func() error { return env.b.DescribePortal(ctx, id, DefaultPortalID) }},
		{"project", func() error { return env.b.DescribeProject(ctx, id, DefaultProjectID) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := env.session(t, id)

			if err := tt.call(); !errors.Is(err, ErrNoCredentials) {
				t.Fatalf("expected ErrNoCredentials, got %v", err)
			}

			if diff := cmp.Diff(before, env.session(t, id)); diff != "" {
				t.Errorf("session changed (-before +after):\n%s", diff)
			}
		})
	}

	if len(env.factory.bundles) != 0 {
		t.Error("no client should be built without a bundle")
	}
}

func TestActions_Describe(t *testing.T) {
	tests := []struct {
		name       string
		describe   func(b *Backend, ctx context.Context, id string) error
		panel      func(rec *sessionRecord) panelState
		wantStatus Status
		wantField  string
		wantKind   string
	}{
		{
			name: "Portal with access",
			describe: func(b *Backend, ctx context.Context, id string) error {
				return b.DescribePortal(ctx, id, DefaultPortalID)
			},
			panel:      func(rec *sessionRecord) panelState { return rec.Portal },
			wantStatus: StatusSuccess,
			wantField:  "PortalId",
			wantKind:   kindDescribePortal,
		},
		{
			name: "Portal without access",
			describe: func(b *Backend, ctx context.Context, id string) error {
				return b.DescribePortal(ctx, id, DefaultNoAccessPortalID)
			},
			panel:      func(rec *sessionRecord) panelState { return rec.Portal },
			wantStatus: StatusError,
			wantField:  "$fault",
			wantKind:   kindDescribePortal,
		},
		{
			name: "Project with access",
			describe: func(b *Backend, ctx context.Context, id string) error {
				return b.DescribeProject(ctx, id, DefaultProjectID)
			},
			panel:      func(rec *sessionRecord) panelState { return rec.Project },
			wantStatus: StatusSuccess,
			wantField:  "ProjectId",
			wantKind:   kindDescribeProject,
		},
		{
			name: "Bad project",
			describe: func(b *Backend, ctx context.Context, id string) error {
				return b.DescribeProject(ctx, id, badProjectID)
			},
			panel:      func(rec *sessionRecord) panelState { return rec.Project },
			wantStatus: StatusError,
			wantField:  "$metadata",
			wantKind:   kindDescribeProject,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			env := newTestEnv(t, nil)
			id := env.newSession(t)

			if err := env.b.RequestPortalToken(ctx, id); err != nil {
				t.Fatalf("failed to start token request: %v", err)
			}
			env.wait()

			if err := tt.describe(env.b, ctx, id); err != nil {
				t.Fatalf("failed to start describe: %v", err)
			}
			env.wait()

			rec := env.session(t, id)
			p := tt.panel(rec)
			if p.Status != tt.wantStatus {
				t.Fatalf("expected status %s, got %s (%s)", tt.wantStatus, p.Status, p.Payload)
			}
			if _, ok := decodePayload(t, p.Payload)[tt.wantField]; !ok {
				t.Errorf("expected %s in payload %s", tt.wantField, p.Payload)
			}

			if rec.Token.Status != StatusSuccess || rec.Bundle == nil {
				t.Error("describe must not touch the token panel")
			}

			if len(env.factory.bundles) != 1 || env.factory.bundles[0].AccessKeyID != testAccessKey {
				t.Error("expected the client to use the session bundle")
			}

			stats := kindStatsOf(t, env.b.metrics.getStats(), tt.wantKind)
			if stats["requests"].(uint64) != 1 {
				t.Errorf("expected 1 %s request, got %v", tt.wantKind, stats["requests"])
			}
		})
	}
}

func TestActions_DescribeRemembersSelection(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	id := env.newSession(t)

	if err := env.b.RequestPortalToken(ctx, id); err != nil {
		t.Fatalf("failed to start token request: %v", err)
	}
	env.wait()

	if err := env.b.DescribePortal(ctx, id, badPortalID); err != nil {
		t.Fatalf("failed to start describe: %v", err)
	}
	if err := env.b.DescribeProject(ctx, id, DefaultNoAccessProjectID); err != nil {
		t.Fatalf("failed to start describe: %v", err)
	}
	env.wait()

	want := selections{
		TokenProject: DefaultProjectID,
		Portal:       badPortalID,
		Project:      DefaultNoAccessProjectID,
	}
	if diff := cmp.Diff(want, env.session(t, id).Selections); diff != "" {
		t.Errorf("selections mismatch (-want +got):\n%s", diff)
	}
}

func TestActions_ClearPanels(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	id := env.newSession(t)

	if err := env.b.RequestPortalToken(ctx, id); err != nil {
		t.Fatalf("failed to start token request: %v", err)
	}
	env.wait()
	if err := env.b.DescribePortal(ctx, id, ""); err != nil {
		t.Fatalf("failed to start describe: %v", err)
	}
	if err := env.b.DescribeProject(ctx, id, ""); err != nil {
		t.Fatalf("failed to start describe: %v", err)
	}
	env.wait()

	if err := env.b.ClearPortal(ctx, id); err != nil {
		t.Fatalf("failed to clear portal: %v", err)
	}

	rec := env.session(t, id)
	if !rec.Portal.isUnset() || rec.Portal.Payload != nil {
		t.Errorf("expected a cleared portal panel, got %+v", rec.Portal)
	}
	if rec.Project.Status != StatusSuccess {
		t.Errorf("clearing the portal must not touch the project panel, got %s", rec.Project.Status)
	}
	if rec.Bundle == nil {
		t.Error("clearing the portal must keep the bundle")
	}

	if err := env.b.ClearProject(ctx, id); err != nil {
		t.Fatalf("failed to clear project: %v", err)
	}
	if err := env.b.ClearToken(ctx, id); err != nil {
		t.Fatalf("failed to clear token: %v", err)
	}

	rec = env.session(t, id)
	for name, p := range map[string]panelState{"token": rec.Token, "portal": rec.Portal, "project": rec.Project} {
		if !p.isUnset() {
			t.Errorf("expected %s panel unset, got %s", name, p.Status)
		}
	}
	if rec.Bundle != nil {
		t.Error("clearing the token must drop the bundle")
	}

	if err := env.b.DescribePortal(ctx, id, ""); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("expected ErrNoCredentials after clearing the token, got %v", err)
	}
}

func TestActions_UnknownSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		call func() error
	}{
		{"portal token", func() error { return env.b.RequestPortalToken(ctx, "missing") }},
		{"project token", func() error { return env.b.RequestProjectToken(ctx, "missing", "") }},
		{"clear token", func() error { return env.b.ClearToken(ctx, "missing") }},
		{"describe portal", func() error { return env.b.DescribePortal(ctx, "missing", "") }},
		{"clear project", func() error { return env.b.ClearProject(ctx, "missing") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, ErrSessionNotFound) {
				t.Errorf("expected ErrSessionNotFound, got %v", err)
			}
		})
	}
}

func TestActions_SignOutWhileInFlight(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	id := env.newSession(t)
	release := env.tokens.hold()
	defer release()

	if err := env.b.RequestPortalToken(ctx, id); err != nil {
		t.Fatalf("failed to start token request: %v", err)
	}
	if err := env.b.sessions.delete(ctx, id); err != nil {
		t.Fatalf("failed to delete session: %v", err)
	}

	release()
	env.wait()

	if _, err := env.b.sessions.get(ctx, id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("a late result must not recreate the session, got %v", err)
	}
}

func TestErrorPayload(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want map[string]interface{}
	}{
		{
			name: "Marshaler",
			err:  &TokenRequestError{Status: 500},
			want: map[string]interface{}{
				"name":    "TokenRequestError",
				"message": "request failed with status code 500",
				"status":  float64(500),
			},
		},
		{
			name: "Plain error",
			err:  errTestError,
			want: map[string]interface{}{"name": "Error", "message": "test error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, decodePayload(t, errorPayload(tt.err))); diff != "" {
				t.Errorf("payload mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
