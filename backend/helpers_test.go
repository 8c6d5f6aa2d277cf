package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/iotsitewise"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/vault/sdk/logical"
	"github.com/sundhar-perumal/sitewise-gettoken-demo/backend/telemetry"
)

const (
	testAccessKey = "ASIATESTACCESSKEY"
	testSecretKey = "test-secret-key"
	testSession   = "test-session-token"
	testExpiry    = "2030-01-02T03:04:05Z"
)

// tokenServer is a fake GetToken endpoint. Requests for bad-project-id are
// rejected with 403; everything else returns a credential bundle.
type tokenServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []*http.Request
	gate     chan struct{}
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()

	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		ts.requests = append(ts.requests, r.Clone(context.Background()))
		gate := ts.gate
		ts.mu.Unlock()

		if gate != nil {
			<-gate
		}

		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("project") == badProjectID {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message":"project is not accessible"}`))
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"Credentials": map[string]interface{}{
					"AccessKeyId":     testAccessKey,
					"SecretAccessKey": testSecretKey,
					"SessionToken":    testSession,
					"Expiration":      testExpiry,
				},
			},
		})
	}))
	t.Cleanup(ts.Close)

	return ts
}

// hold makes the server block every request until release is called.
func (ts *tokenServer) hold() (release func()) {
	gate := make(chan struct{})
	ts.mu.Lock()
	ts.gate = gate
	ts.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			ts.mu.Lock()
			ts.gate = nil
			ts.mu.Unlock()
			close(gate)
		})
	}
}

func (ts *tokenServer) lastRequest(t *testing.T) *http.Request {
	t.Helper()

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.requests) == 0 {
		t.Fatal("token endpoint was not called")
	}
	return ts.requests[len(ts.requests)-1]
}

// fakeSiteWise authorizes only the ids in allowed.
type fakeSiteWise struct {
	allowed map[string]bool
}

func accessDenied(op, id string) error {
	return &smithy.OperationError{
		ServiceID:     "IoTSiteWise",
		OperationName: op,
		Err: &awshttp.ResponseError{
			ResponseError: &smithyhttp.ResponseError{
				Response: &smithyhttp.Response{Response: &http.Response{StatusCode: http.StatusForbidden}},
				Err: &smithy.GenericAPIError{
					Code:    "AccessDeniedException",
					Message: "User is not authorized to access " + id,
					Fault:   smithy.FaultClient,
				},
			},
			RequestID: "req-" + id,
		},
	}
}

func (f *fakeSiteWise) DescribePortal(ctx context.Context, in *iotsitewise.DescribePortalInput, _ ...func(*iotsitewise.Options)) (*iotsitewise.DescribePortalOutput, error) {
	id := aws.ToString(in.PortalId)
	if !f.allowed[id] {
		return nil, accessDenied("DescribePortal", id)
	}
	return &iotsitewise.DescribePortalOutput{
		PortalId:   aws.String(id),
		PortalName: aws.String("demo portal"),
	}, nil
}

func (f *fakeSiteWise) DescribeProject(ctx context.Context, in *iotsitewise.DescribeProjectInput, _ ...func(*iotsitewise.Options)) (*iotsitewise.DescribeProjectOutput, error) {
	id := aws.ToString(in.ProjectId)
	if !f.allowed[id] {
		return nil, accessDenied("DescribeProject", id)
	}
	return &iotsitewise.DescribeProjectOutput{
		ProjectId:   aws.String(id),
		ProjectName: aws.String("demo project"),
		PortalId:    aws.String(DefaultPortalID),
	}, nil
}

// fakeFactory hands out fakeSiteWise clients and remembers the bundles it saw.
type fakeFactory struct {
	client *fakeSiteWise
	err    error

	mu      sync.Mutex
	bundles []*CredentialBundle
	regions []string
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		client: &fakeSiteWise{allowed: map[string]bool{
			DefaultPortalID:  true,
			DefaultProjectID: true,
		}},
	}
}

func (f *fakeFactory) NewSiteWise(_ context.Context, bundle *CredentialBundle, region string) (SiteWiseAPI, error) {
	f.mu.Lock()
	f.bundles = append(f.bundles, bundle)
	f.regions = append(f.regions, region)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

var errFactory = errors.New("factory unavailable")

type testEnv struct {
	b       *Backend
	tokens  *tokenServer
	factory *fakeFactory
	storage *logical.InmemStorage
}

func testConfig(endpoint string) *Config {
	cfg := DefaultConfig()
	cfg.TokenEndpoint = endpoint
	cfg.AuthMode = AuthModeDisabled
	return cfg
}

func disabledEmitter(t *testing.T) *telemetry.Emitter {
	t.Helper()

	emitter, err := telemetry.NewEmitter(context.Background(), telemetry.EmitterConfig{
		Config: &telemetry.Config{Enabled: false, ServiceName: "test"},
	})
	if err != nil {
		t.Fatalf("unable to create emitter: %v", err)
	}
	return emitter
}

// newTestEnv builds a backend wired to fakes. mutate may adjust the config.
func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	env := &testEnv{
		tokens:  newTokenServer(t),
		factory: newFakeFactory(),
		storage: &logical.InmemStorage{},
	}

	cfg := testConfig(env.tokens.URL + "/gettoken")
	if mutate != nil {
		mutate(cfg)
	}

	b, err := Factory(context.Background(), &BackendConfig{
		Logger:        hclog.NewNullLogger(),
		Config:        cfg,
		Storage:       env.storage,
		ClientFactory: env.factory,
		HTTPClient:    env.tokens.Client(),
		Emitter:       disabledEmitter(t),
	})
	if err != nil {
		t.Fatalf("unable to create backend: %v", err)
	}
	env.b = b

	t.Cleanup(func() { env.b.inflight.Wait() })
	return env
}

// newSession stores a signed-in session and returns its id.
func (env *testEnv) newSession(t *testing.T) string {
	t.Helper()

	rec := newSessionRecord(uuid.NewString(), "tester", "id-token-123", env.b.config)
	if err := env.b.sessions.put(context.Background(), rec); err != nil {
		t.Fatalf("failed to store session: %v", err)
	}
	return rec.ID
}

// wait blocks until every started call has settled.
func (env *testEnv) wait() {
	env.b.inflight.Wait()
}

func (env *testEnv) session(t *testing.T, id string) *sessionRecord {
	t.Helper()

	rec, err := env.b.sessions.get(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to load session: %v", err)
	}
	return rec
}

func decodePayload(t *testing.T, raw json.RawMessage) map[string]interface{} {
	t.Helper()

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("payload is not a JSON object: %v (%s)", err, raw)
	}
	return m
}
