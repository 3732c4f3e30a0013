package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/aussiebroadwan/loginkit/pkg/autherr"
)

// ApplicationIDHeader scopes a request to a sub-application of the tenant.
const ApplicationIDHeader = "X-Application-ID"

// url builds a complete URL by appending the path to the base URL.
func (c *SDKClient) url(path string) string {
	return c.BaseURL + path
}

// newRequest encodes body as JSON and sets the standard headers. An empty
// token sends no Authorization header.
func (c *SDKClient) newRequest(
	ctx context.Context,
	method, path string,
	body any,
	token string,
) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Origin", c.BaseURL)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if c.ApplicationID != "" {
		req.Header.Set(ApplicationIDHeader, c.ApplicationID)
	}

	return req, nil
}

// send performs the request and returns the body of a 2xx response. Non-2xx
// responses become *OAuth2Error or *MFARequiredError.
func (c *SDKClient) send(
	ctx context.Context,
	op, method, path string,
	body any,
	token string,
) ([]byte, error) {
	if c.BaseURL == "" {
		return nil, autherr.Configuration(op, "base url is not set")
	}

	req, err := c.newRequest(ctx, method, path, body, token)
	if err != nil {
		return nil, autherr.New(autherr.KindUnknown, op, err)
	}

	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, autherr.Network(op, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	// Read body once for both error parsing and success decoding
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, autherr.Network(op, fmt.Errorf("failed to read response body: %w", err))
	}

	if err := parseErrorResponse(resp, bodyBytes); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return bodyBytes, nil
}

// do is send followed by decoding the body into target. A nil target
// discards the body.
func (c *SDKClient) do(
	ctx context.Context,
	op, method, path string,
	body any,
	token string,
	target any,
) error {
	bodyBytes, err := c.send(ctx, op, method, path, body, token)
	if err != nil {
		return err
	}

	if target == nil {
		return nil
	}

	if err := json.Unmarshal(bodyBytes, target); err != nil {
		return autherr.Decoding(op, fmt.Errorf("failed to decode response: %w", err))
	}

	return nil
}
