package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/iotsitewise"
	"github.com/aws/smithy-go"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

const (
	resourcePortal  = "portal"
	resourceProject = "project"
)

// SiteWiseAPI is the subset of the IoT SiteWise client the console calls.
type SiteWiseAPI interface {
	DescribePortal(ctx context.Context, params *iotsitewise.DescribePortalInput, optFns ...func(*iotsitewise.Options)) (*iotsitewise.DescribePortalOutput, error)
	DescribeProject(ctx context.Context, params *iotsitewise.DescribeProjectInput, optFns ...func(*iotsitewise.Options)) (*iotsitewise.DescribeProjectOutput, error)
}

// ClientFactory builds a SiteWise client scoped to one credential bundle.
type ClientFactory interface {
	NewSiteWise(ctx context.Context, bundle *CredentialBundle, region string) (SiteWiseAPI, error)
}

// awsClientFactory is the production ClientFactory.
type awsClientFactory struct{}

// NewAWSClientFactory returns a ClientFactory backed by aws-sdk-go-v2.
func NewAWSClientFactory() ClientFactory {
	return awsClientFactory{}
}

func (awsClientFactory) NewSiteWise(ctx context.Context, bundle *CredentialBundle, region string) (SiteWiseAPI, error) {
	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(bundle.provider()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return iotsitewise.NewFromConfig(cfg, func(o *iotsitewise.Options) {
		o.RetryMaxAttempts = 1
	}), nil
}

// describer issues one describe call per invocation against a fresh client.
type describer struct {
	factory ClientFactory
	region  string
}

func (d *describer) describe(ctx context.Context, resource, id string, bundle *CredentialBundle) (json.RawMessage, error) {
	client, err := d.factory.NewSiteWise(ctx, bundle, d.region)
	if err != nil {
		return nil, err
	}

	var (
		out  interface{}
		meta middleware.Metadata
	)

	switch resource {
	case resourcePortal:
		resp, err := client.DescribePortal(ctx, &iotsitewise.DescribePortalInput{PortalId: aws.String(id)})
		if err != nil {
			return nil, err
		}
		out, meta = resp, resp.ResultMetadata
	case resourceProject:
		resp, err := client.DescribeProject(ctx, &iotsitewise.DescribeProjectInput{ProjectId: aws.String(id)})
		if err != nil {
			return nil, err
		}
		out, meta = resp, resp.ResultMetadata
	default:
		return nil, fmt.Errorf("unknown resource %q", resource)
	}

	return describePayload(out, meta)
}

// describePayload renders an SDK output with a $metadata block.
func describePayload(out interface{}, meta middleware.Metadata) (json.RawMessage, error) {
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	delete(fields, "ResultMetadata")

	metadata := map[string]interface{}{}
	if resp, ok := awsmiddleware.GetRawResponse(meta).(*smithyhttp.Response); ok && resp != nil {
		metadata["httpStatusCode"] = resp.StatusCode
	}
	if requestID, ok := awsmiddleware.GetRequestIDMetadata(meta); ok {
		metadata["requestId"] = requestID
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response metadata: %w", err)
	}
	fields["$metadata"] = encoded

	return json.Marshal(fields)
}

// describeErrorPayload renders a describe failure the way the console displays it
func describeErrorPayload(err error) json.RawMessage {
	payload := map[string]interface{}{
		"name":    "Error",
		"message": err.Error(),
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		payload["name"] = apiErr.ErrorCode()
		if msg := apiErr.ErrorMessage(); msg != "" {
			payload["message"] = msg
		}
		payload["$fault"] = apiErr.ErrorFault().String()
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		payload["$metadata"] = map[string]interface{}{
			"httpStatusCode": respErr.HTTPStatusCode(),
			"requestId":      respErr.ServiceRequestID(),
		}
	}

	encoded, mErr := json.Marshal(payload)
	if mErr != nil {
		return json.RawMessage(`{"name":"Error","message":"unencodable error"}`)
	}
	return encoded
}
