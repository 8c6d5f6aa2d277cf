package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-cleanhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	scopePortal  = "portal"
	scopeProject = "project"

	// maxTokenBody bounds how much of a token response is kept for display.
	maxTokenBody = 1 << 20
)

// ErrTokenResponseTooLarge is returned when a 2xx token response exceeds maxTokenBody.
var ErrTokenResponseTooLarge = errors.New("token response too large")

// TokenRequestError is a failed call to the token endpoint. Status is zero
// when no response was received.
type TokenRequestError struct {
	Status int
	Body   []byte
	Err    error
}

func (e *TokenRequestError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("request failed with status code %d", e.Status)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "token request failed"
}

func (e *TokenRequestError) Unwrap() error {
	return e.Err
}

// MarshalJSON renders the error the way the console displays it
func (e *TokenRequestError) MarshalJSON() ([]byte, error) {
	payload := struct {
		Name    string          `json:"name"`
		Message string          `json:"message"`
		Status  int             `json:"status,omitempty"`
		Body    json.RawMessage `json:"body,omitempty"`
	}{
		Name:    "TokenRequestError",
		Message: e.Error(),
		Status:  e.Status,
	}
	if len(e.Body) > 0 {
		payload.Body = rawJSON(e.Body)
	}
	return json.Marshal(payload)
}

// tokenResult is a 2xx response from the token endpoint.
type tokenResult struct {
	Payload json.RawMessage
	Bundle  *CredentialBundle
}

// tokenClient calls the GetToken endpoint.
type tokenClient struct {
	endpoint string
	client   *http.Client
}

// newTokenHTTPClient returns a pooled client whose transport emits client spans.
func newTokenHTTPClient() *http.Client {
	client := cleanhttp.DefaultPooledClient()
	client.Transport = otelhttp.NewTransport(client.Transport)
	return client
}

func newTokenClient(endpoint string, client *http.Client) *tokenClient {
	if client == nil {
		client = newTokenHTTPClient()
	}
	return &tokenClient{endpoint: endpoint, client: client}
}

// requestURL builds the endpoint URL. An empty projectID requests portal scope.
func (c *tokenClient) requestURL(portalID, projectID string) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid token endpoint: %w", err)
	}

	q := u.Query()
	q.Set("portal", portalID)
	if projectID != "" {
		q.Set("project", projectID)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// request performs one GET against the token endpoint. idToken, when set, is
// forwarded as the Authorization header.
func (c *tokenClient) request(ctx context.Context, portalID, projectID, idToken string) (*tokenResult, error) {
	target, err := c.requestURL(portalID, projectID)
	if err != nil {
		return nil, &TokenRequestError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &TokenRequestError{Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if idToken != "" {
		req.Header.Set("Authorization", idToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TokenRequestError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenBody+1))
	if err != nil {
		return nil, &TokenRequestError{Err: fmt.Errorf("failed to read token response: %w", err)}
	}
	truncated := len(body) > maxTokenBody
	if truncated {
		body = body[:maxTokenBody]
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TokenRequestError{Status: resp.StatusCode, Body: body}
	}
	if truncated {
		return nil, &TokenRequestError{Err: fmt.Errorf("%w: limit is %d bytes", ErrTokenResponseTooLarge, maxTokenBody)}
	}

	return &tokenResult{
		Payload: rawJSON(body),
		Bundle:  bundleFromBody(body),
	}, nil
}

// rawJSON returns body unchanged when it is valid JSON and as a JSON string otherwise.
func rawJSON(body []byte) json.RawMessage {
	if len(body) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}
