package backend

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// RequestPortalToken starts a portal-scoped token request for the session.
func (b *Backend) RequestPortalToken(ctx context.Context, sessionID string) error {
	return b.startToken(ctx, sessionID, scopePortal, "")
}

// RequestProjectToken starts a project-scoped token request for the session.
// An empty projectID falls back to the configured project.
func (b *Backend) RequestProjectToken(ctx context.Context, sessionID, projectID string) error {
	projectID = selectionOr(projectID, b.config.ProjectID)
	return b.startToken(ctx, sessionID, scopeProject, projectID)
}

// ClearToken resets the token panel and discards the credential bundle.
func (b *Backend) ClearToken(ctx context.Context, sessionID string) error {
	_, err := b.sessions.update(ctx, sessionID, func(rec *sessionRecord) error {
		rec.Token.clear()
		rec.Bundle = nil
		return nil
	})
	return err
}

// DescribePortal starts a DescribePortal call with the session's bundle.
func (b *Backend) DescribePortal(ctx context.Context, sessionID, portalID string) error {
	portalID = selectionOr(portalID, b.config.PortalID)
	return b.startDescribe(ctx, sessionID, resourcePortal, portalID)
}

// DescribeProject starts a DescribeProject call with the session's bundle.
func (b *Backend) DescribeProject(ctx context.Context, sessionID, projectID string) error {
	projectID = selectionOr(projectID, b.config.ProjectID)
	return b.startDescribe(ctx, sessionID, resourceProject, projectID)
}

// ClearPortal resets the portal panel.
func (b *Backend) ClearPortal(ctx context.Context, sessionID string) error {
	return b.clearDescribe(ctx, sessionID, resourcePortal)
}

// ClearProject resets the project panel.
func (b *Backend) ClearProject(ctx context.Context, sessionID string) error {
	return b.clearDescribe(ctx, sessionID, resourceProject)
}

func (b *Backend) startToken(ctx context.Context, sessionID, scope, projectID string) error {
	var (
		epoch   uint64
		idToken string
	)

	_, err := b.sessions.update(ctx, sessionID, func(rec *sessionRecord) error {
		if scope == scopeProject {
			rec.Selections.TokenProject = projectID
		}
		epoch = rec.Token.start()
		rec.Bundle = nil
		idToken = rec.IDToken
		return nil
	})
	if err != nil {
		return err
	}

	// Detached from the HTTP request; navigating away never cancels the call.
	ctx = context.WithoutCancel(ctx)
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		b.runToken(ctx, sessionID, scope, projectID, idToken, epoch)
	}()

	return nil
}

func (b *Backend) runToken(ctx context.Context, sessionID, scope, projectID, idToken string, epoch uint64) {
	start := time.Now()

	ctx = b.emitter.EmitTokenRequest(ctx, scope, b.config.PortalID, projectID)
	defer b.emitter.EndSpan(ctx)

	result, tokenErr := b.tokens.request(ctx, b.config.PortalID, projectID, idToken)
	duration := time.Since(start)

	var (
		payload json.RawMessage
		bundle  *CredentialBundle
	)
	if tokenErr != nil {
		payload = errorPayload(tokenErr)
		b.emitter.EmitTokenFailure(ctx, scope, tokenErr, duration)
	} else {
		payload, bundle = result.Payload, result.Bundle
		b.emitter.EmitTokenSuccess(ctx, scope, duration)
	}

	kind := kindPortalToken
	if scope == scopeProject {
		kind = kindProjectToken
	}
	b.metrics.record(kind, duration, tokenErr)

	applied := b.settle(ctx, sessionID, func(rec *sessionRecord) bool {
		if !rec.Token.settle(epoch, payload, tokenErr != nil) {
			return false
		}
		rec.Bundle = bundle
		return true
	})

	target := b.config.PortalID
	if projectID != "" {
		target = projectID
	}
	event := auditEvent{
		Timestamp: time.Now(),
		Operation: "token_" + scope,
		Session:   sessionID,
		Target:    target,
		Success:   tokenErr == nil,
		Duration:  duration.Milliseconds(),
	}
	if tokenErr != nil {
		event.Error = tokenErr.Error()
	}
	b.auditLog(event)

	if !applied {
		b.Logger().Debug("token result discarded", "session", sessionID, "scope", scope)
	}
}

func (b *Backend) startDescribe(ctx context.Context, sessionID, resource, id string) error {
	var (
		epoch  uint64
		bundle *CredentialBundle
	)

	_, err := b.sessions.update(ctx, sessionID, func(rec *sessionRecord) error {
		if rec.Bundle == nil {
			return ErrNoCredentials
		}
		if resource == resourceProject {
			rec.Selections.Project = id
		} else {
			rec.Selections.Portal = id
		}
		epoch = rec.panel(resource).start()
		bundle = rec.Bundle
		return nil
	})
	if err != nil {
		return err
	}

	ctx = context.WithoutCancel(ctx)
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		b.runDescribe(ctx, sessionID, resource, id, bundle, epoch)
	}()

	return nil
}

func (b *Backend) runDescribe(ctx context.Context, sessionID, resource, id string, bundle *CredentialBundle, epoch uint64) {
	start := time.Now()

	ctx = b.emitter.EmitDescribeRequest(ctx, resource, id)
	defer b.emitter.EndSpan(ctx)

	payload, describeErr := b.describer.describe(ctx, resource, id, bundle)
	duration := time.Since(start)

	if describeErr != nil {
		payload = describeErrorPayload(describeErr)
	}
	b.emitter.EmitDescribeResult(ctx, resource, id, describeErr, duration)

	kind := kindDescribePortal
	if resource == resourceProject {
		kind = kindDescribeProject
	}
	b.metrics.record(kind, duration, describeErr)

	applied := b.settle(ctx, sessionID, func(rec *sessionRecord) bool {
		return rec.panel(resource).settle(epoch, payload, describeErr != nil)
	})

	event := auditEvent{
		Timestamp: time.Now(),
		Operation: "describe_" + resource,
		Session:   sessionID,
		Target:    id,
		Success:   describeErr == nil,
		Duration:  duration.Milliseconds(),
	}
	if describeErr != nil {
		event.Error = describeErr.Error()
	}
	b.auditLog(event)

	if !applied {
		b.Logger().Debug("describe result discarded", "session", sessionID, "resource", resource)
	}
}

func (b *Backend) clearDescribe(ctx context.Context, sessionID, resource string) error {
	_, err := b.sessions.update(ctx, sessionID, func(rec *sessionRecord) error {
		rec.panel(resource).clear()
		return nil
	})
	return err
}

// errDiscarded skips the write when a settled call no longer applies.
var errDiscarded = errors.New("result discarded")

// settle applies a settled call to the session. It reports whether the
// session still existed and accepted the result.
func (b *Backend) settle(ctx context.Context, sessionID string, apply func(*sessionRecord) bool) bool {
	_, err := b.sessions.update(ctx, sessionID, func(rec *sessionRecord) error {
		if !apply(rec) {
			return errDiscarded
		}
		return nil
	})

	switch {
	case err == nil:
		return true
	case errors.Is(err, errDiscarded), errors.Is(err, ErrSessionNotFound):
		return false
	default:
		b.Logger().Error("failed to store result", "session", sessionID, "error", err)
		b.emitter.EmitError(ctx, "settle", err, "error")
		return false
	}
}

// errorPayload renders an error as the JSON shown in a panel.
func errorPayload(err error) json.RawMessage {
	if m, ok := err.(json.Marshaler); ok {
		if encoded, mErr := m.MarshalJSON(); mErr == nil {
			return encoded
		}
	}

	encoded, _ := json.Marshal(map[string]string{
		"name":    "Error",
		"message": err.Error(),
	})
	return encoded
}
