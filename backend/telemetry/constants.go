package telemetry

import "go.opentelemetry.io/otel/attribute"

// TracerName is the instrumentation name for this service
const TracerName = "github.com/sundhar-perumal/sitewise-gettoken-demo"

// ============================================================================
// Span Names
// ============================================================================

const (
	SpanTokenRequest    = "GetTokenDemo.Token.Request"
	SpanDescribePortal  = "GetTokenDemo.Describe.Portal"
	SpanDescribeProject = "GetTokenDemo.Describe.Project"
	SpanSessionSignIn   = "GetTokenDemo.Session.SignIn"
	SpanSessionSignOut  = "GetTokenDemo.Session.SignOut"
)

// ============================================================================
// Event Names
// ============================================================================

const (
	EventTokenIssued    = "token.issued"
	EventTokenFailed    = "token.failed"
	EventDescribeOK     = "describe.success"
	EventDescribeFailed = "describe.failed"
	EventError          = "error"
)

// ============================================================================
// Attribute Keys
// ============================================================================

var (
	AttrScope      = attribute.Key("gettoken.scope")
	AttrProject    = attribute.Key("sitewise.project_id")
	AttrPortal     = attribute.Key("sitewise.portal_id")
	AttrResource   = attribute.Key("sitewise.resource")
	AttrResourceID = attribute.Key("sitewise.resource_id")
	AttrUser       = attribute.Key("session.user")

	AttrErrorOperation = attribute.Key("error.operation")
	AttrErrorSeverity  = attribute.Key("error.severity")

	AttrDurationMs = attribute.Key("duration_ms")
	AttrSuccess    = attribute.Key("success")
)
