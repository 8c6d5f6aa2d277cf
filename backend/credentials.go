package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

const credentialSource = "GetTokenDemo"

// CredentialBundle is the temporary credential set returned by the token endpoint.
type CredentialBundle struct {
	AccessKeyID     string     `json:"AccessKeyId"`
	SecretAccessKey string     `json:"SecretAccessKey"`
	SessionToken    string     `json:"SessionToken"`
	Expiration      Expiration `json:"Expiration"`
}

// Expiration accepts RFC 3339 strings and epoch seconds or milliseconds.
type Expiration struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler
func (e *Expiration) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		e.Time = time.Time{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		// Unknown layouts leave the bundle usable without an expiry.
		e.Time = time.Time{}
		for _, layout := range []string{time.RFC3339, time.RFC1123, time.RFC1123Z} {
			if t, err := time.Parse(layout, s); err == nil {
				e.Time = t
				break
			}
		}
		return nil
	}

	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid expiration %s: %w", data, err)
	}
	// Millisecond timestamps are beyond year 33658 when read as seconds.
	if n > 1e12 {
		e.Time = time.UnixMilli(int64(n)).UTC()
	} else {
		e.Time = time.Unix(int64(n), 0).UTC()
	}
	return nil
}

// MarshalJSON implements json.Marshaler
func (e Expiration) MarshalJSON() ([]byte, error) {
	if e.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(e.UTC().Format(time.RFC3339))
}

func (c *CredentialBundle) complete() bool {
	return c != nil && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// provider returns a static provider for the bundle. Expiry is reported but
// never refreshed; calls with an expired bundle fail at the service.
func (c *CredentialBundle) provider() aws.CredentialsProvider {
	return credentials.StaticCredentialsProvider{
		Value: aws.Credentials{
			AccessKeyID:     c.AccessKeyID,
			SecretAccessKey: c.SecretAccessKey,
			SessionToken:    c.SessionToken,
			Source:          credentialSource,
			CanExpire:       !c.Expiration.IsZero(),
			Expires:         c.Expiration.Time,
		},
	}
}

// tokenResponse is the part of the token endpoint body the console reads.
type tokenResponse struct {
	Data struct {
		Credentials *CredentialBundle `json:"Credentials"`
	} `json:"data"`
}

// bundleFromBody extracts data.Credentials. A body without a usable bundle
// yields nil and no error.
func bundleFromBody(body []byte) *CredentialBundle {
	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil
	}
	if !resp.Data.Credentials.complete() {
		return nil
	}
	return resp.Data.Credentials
}
