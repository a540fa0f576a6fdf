package tiko

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Vendor endpoints selectable at configuration time.
const (
	// EndpointFR is the French consumer portal and the default endpoint.
	EndpointFR = "https://particuliers-tiko.fr/api/v3/graphql/"

	// EndpointCH is the Swiss Engie portal.
	EndpointCH = "https://portal-engie.tiko.ch/api/v3/graphql/"
)

// Endpoints maps preset names to GraphQL endpoint URLs.
var Endpoints = map[string]string{
	"tiko.fr": EndpointFR,
	"tiko.ch": EndpointCH,
}

// ResolveEndpoint returns the endpoint URL for a preset name or an explicit
// http(s) URL. An empty value selects EndpointFR.
func ResolveEndpoint(nameOrURL string) (string, error) {
	if nameOrURL == "" {
		return EndpointFR, nil
	}
	if u, ok := Endpoints[strings.ToLower(nameOrURL)]; ok {
		return u, nil
	}
	parsed, err := url.Parse(nameOrURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", fmt.Errorf("tiko: unknown endpoint %q", nameOrURL)
	}
	return nameOrURL, nil
}

// Cookie names carrying session continuity.
const (
	cookieCSRF          = "csrftoken"
	cookieMemberSession = "USER_SESSION_member_space"
)

// userAgent is the WebView user agent sent by the vendor's Android app.
const userAgent = "Mozilla/5.0 (Linux; Android 13; Pixel 4a Build/T1B3.221003.003; wv) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Version/4.0 Chrome/106.0.5249.126 Mobile Safari/537.36"

// Transport limits.
const (
	// defaultRequestTimeout is the HTTP client timeout when no client is supplied.
	defaultRequestTimeout = 10 * time.Second

	// maxResponseBody caps how much of a response is read.
	maxResponseBody = 1 << 20
)

// GraphQLError is one entry of a GraphQL "errors" list.
type GraphQLError struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

// Response is a decoded GraphQL envelope plus the session delta extracted
// from the HTTP response.
type Response struct {
	Data   json.RawMessage
	Errors []GraphQLError
	Delta  TokenDelta
}

// HasErrors reports whether the vendor returned a non-empty errors list.
func (r *Response) HasErrors() bool {
	return len(r.Errors) > 0
}

// Client sends GraphQL documents to one vendor endpoint.
//
// It holds no session state: tokens are supplied per call and the token
// delta is handed back to the caller.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     Logger
	now        func() time.Time
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// Endpoint is a preset name ("tiko.fr", "tiko.ch") or a GraphQL URL.
	Endpoint string

	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client

	// Logger is optional.
	Logger Logger

	// Now overrides the clock used to stamp snapshots.
	Now func() time.Time
}

// NewClient creates a transport client.
//
// Parameters:
//   - opts: Endpoint and optional HTTP client/logger
//
// Returns:
//   - *Client: Ready to send requests
//   - error: If the endpoint is neither a preset nor an http(s) URL
func NewClient(opts ClientOptions) (*Client, error) {
	endpoint, err := ResolveEndpoint(opts.Endpoint)
	if err != nil {
		return nil, err
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		endpoint:   endpoint,
		httpClient: httpClient,
		logger:     opts.Logger,
		now:        now,
	}, nil
}

// Endpoint returns the resolved GraphQL endpoint URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Send issues one POST carrying document and variables.
//
// Parameters:
//   - ctx: Bounds the request; cancellation yields a network TransportError
//   - document: GraphQL query or mutation
//   - variables: Query variables; nil is sent as {}
//   - tokens: Session tokens to attach; the zero value sends no auth headers
//
// Returns:
//   - *Response: Decoded envelope and token delta (2xx only)
//   - error: *TransportError for network, status or decode failures
func (c *Client) Send(ctx context.Context, document string, variables map[string]any, tokens SessionTokens) (*Response, error) {
	if variables == nil {
		variables = map[string]any{}
	}

	body, err := json.Marshal(map[string]any{
		"query":     document,
		"variables": variables,
	})
	if err != nil {
		return nil, &TransportError{Kind: TransportNetwork, Err: fmt.Errorf("encoding request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Kind: TransportNetwork, Err: fmt.Errorf("building request: %w", err)}
	}
	setHeaders(req, tokens)

	op := operationName(document)
	c.logDebug("sending graphql request",
		"operation", op,
		"token", maskToken(tokens.AuthToken),
		"cookies", tokens.hasCookies())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Kind: TransportNetwork, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &TransportError{Kind: TransportNetwork, Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logWarn("graphql request rejected",
			"operation", op,
			"status", resp.StatusCode,
			"body", truncate(string(raw), maxErrorBody))
		return nil, &TransportError{Kind: TransportStatus, StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []GraphQLError  `json:"errors"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &TransportError{Kind: TransportDecode, StatusCode: resp.StatusCode, Body: string(raw), Err: err}
	}

	return &Response{
		Data:   envelope.Data,
		Errors: envelope.Errors,
		Delta:  extractDelta(resp.Cookies()),
	}, nil
}

// setHeaders attaches the fixed headers and whatever session material is known.
func setHeaders(req *http.Request, tokens SessionTokens) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	if tokens.AuthToken != "" {
		req.Header.Set("Authorization", "Token "+tokens.AuthToken)
	}
	if tokens.hasCookies() {
		req.Header.Set("Cookie", cookieCSRF+"="+tokens.CSRFToken+"; "+cookieMemberSession+"="+tokens.SessionCookie)
	}
}

// extractDelta picks the vendor session cookies out of a response.
func extractDelta(cookies []*http.Cookie) TokenDelta {
	var delta TokenDelta
	for _, ck := range cookies {
		if ck.Value == "" {
			continue
		}
		switch ck.Name {
		case cookieCSRF:
			delta.CSRFToken = ck.Value
		case cookieMemberSession:
			delta.SessionCookie = ck.Value
		}
	}
	return delta
}

// operationName returns the GraphQL operation name for logging.
func operationName(document string) string {
	fields := strings.Fields(document)
	if len(fields) < 2 {
		return "anonymous"
	}
	name := fields[1]
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = name[:i]
	}
	return name
}

// maskToken keeps a short prefix of a secret for correlation in logs.
func maskToken(token string) string {
	const visible = 4
	if token == "" {
		return ""
	}
	if len(token) <= visible {
		return "****"
	}
	return token[:visible] + "****"
}

func (c *Client) logDebug(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, keysAndValues...)
	}
}

func (c *Client) logWarn(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, keysAndValues...)
	}
}
