package apic

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/openfroyo/fabricupgrade/pkg/engine"
	"github.com/openfroyo/fabricupgrade/pkg/telemetry"
)

const cookieName = "APIC-cookie"

// Client logs in to the controller. It implements engine.SessionFactory;
// every call to NewSession is a single login attempt.
type Client struct {
	config  *Config
	http    *http.Client
	limiter *rate.Limiter
	clock   clock.PassiveClock
	logger  *telemetry.Logger
}

type clientOptions struct {
	tracerProvider trace.TracerProvider
	clock          clock.PassiveClock
	logger         *telemetry.Logger
	baseTransport  http.RoundTripper
}

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

// WithTracerProvider instruments requests with the given tracer provider.
func WithTracerProvider(tp trace.TracerProvider) ClientOption {
	return func(o *clientOptions) {
		o.tracerProvider = tp
	}
}

// WithClock sets the clock used for token refresh and session expiry.
func WithClock(c clock.PassiveClock) ClientOption {
	return func(o *clientOptions) {
		o.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *telemetry.Logger) ClientOption {
	return func(o *clientOptions) {
		o.logger = l
	}
}

// WithBaseTransport replaces the underlying round tripper. TLS settings of
// the config are not applied to it.
func WithBaseTransport(rt http.RoundTripper) ClientOption {
	return func(o *clientOptions) {
		o.baseTransport = rt
	}
}

// NewClient creates a controller client.
func NewClient(cfg *Config, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := clientOptions{clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = telemetry.NewNopLogger()
	}

	base := o.baseTransport
	if base == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: !cfg.VerifyTLS} //nolint:gosec // controllers ship self-signed certificates
		base = t
	}

	var otelOpts []otelhttp.Option
	if o.tracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(o.tracerProvider))
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	return &Client{
		config: cfg,
		http: &http.Client{
			Transport: otelhttp.NewTransport(base, otelOpts...),
			Timeout:   cfg.RequestTimeout,
		},
		limiter: rate.NewLimiter(limit, cfg.Burst),
		clock:   o.clock,
		logger:  o.logger.NewComponentLogger("apic"),
	}, nil
}

// NewSession logs in once and returns the new session.
func (c *Client) NewSession(ctx context.Context) (engine.Session, error) {
	s, err := c.Login(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Login posts the credentials to /api/aaaLogin.
func (c *Client) Login(ctx context.Context) (*Session, error) {
	const op = "login"

	body := map[string]interface{}{
		"aaaUser": map[string]interface{}{
			"attributes": map[string]string{"name": c.config.User, "pwd": c.config.Password},
		},
	}
	resp, terr := c.do(ctx, op, http.MethodPost, c.config.URL("/api/aaaLogin"), "", body)
	if terr != nil {
		return nil, classify(terr)
	}

	token, terr := tokenFrom(op, resp)
	if terr != nil {
		return nil, classify(terr)
	}

	now := c.clock.Now()
	s := &Session{
		client:      c,
		id:          uuid.New().String(),
		issuedAt:    now,
		token:       token,
		lastRefresh: now,
	}
	if c.config.SessionLifetime > 0 {
		s.expiresAt = now.Add(c.config.SessionLifetime)
	}
	c.logger.WithField("session", s.id).Debug("Logged in")
	return s, nil
}

// response is a decoded controller reply.
type response struct {
	status  int
	imdata  []map[string]managedObject
	cookies []*http.Cookie
}

type managedObject struct {
	Attributes map[string]interface{} `json:"attributes"`
}

type envelope struct {
	Imdata []map[string]managedObject `json:"imdata"`
}

// attributes flattens the attributes of the object of the given class in a row.
func (r *response) attributes(class string) []engine.Attributes {
	out := make([]engine.Attributes, 0, len(r.imdata))
	for _, row := range r.imdata {
		mo, ok := row[class]
		if !ok || mo.Attributes == nil {
			continue
		}
		out = append(out, toAttributes(mo.Attributes))
	}
	return out
}

// errorText returns the text of an imdata error record, if there is one.
func (r *response) errorText() (string, bool) {
	for _, row := range r.imdata {
		if mo, ok := row["error"]; ok {
			text, _ := mo.Attributes["text"].(string)
			if text == "" {
				text = "controller returned an error"
			}
			return text, true
		}
	}
	return "", false
}

func toAttributes(m map[string]interface{}) engine.Attributes {
	a := make(engine.Attributes, len(m))
	for k, v := range m {
		switch tv := v.(type) {
		case string:
			a[k] = tv
		case nil:
			a[k] = ""
		default:
			a[k] = fmt.Sprint(tv)
		}
	}
	return a
}

// do sends one request and decodes the reply envelope. Non-2xx replies are
// returned as responses, not errors, except for authentication failures.
func (c *Client) do(ctx context.Context, op, method, rawURL, token string, body interface{}) (*response, *TransportError) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Op: op, Err: err, IsTemporary: true}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, &TransportError{Op: op, Err: fmt.Errorf("failed to encode request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.AddCookie(&http.Cookie{Name: cookieName, Value: token})
	}

	c.logger.WithField("url", rawURL).Debug(method)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err, IsTemporary: true}
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err, StatusCode: res.StatusCode, IsTemporary: true}
	}

	resp := &response{status: res.StatusCode, cookies: res.Cookies()}
	var env envelope
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &env); err != nil && res.StatusCode == http.StatusOK {
			return nil, &TransportError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err), StatusCode: res.StatusCode}
		}
	}
	resp.imdata = env.Imdata

	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		text, _ := resp.errorText()
		return nil, statusError(op, res.StatusCode, text)
	}
	return resp, nil
}

// tokenFrom extracts the session token from a login or refresh reply.
func tokenFrom(op string, resp *response) (string, *TransportError) {
	if resp.status != http.StatusOK {
		text, _ := resp.errorText()
		return "", statusError(op, resp.status, text)
	}
	if text, ok := resp.errorText(); ok {
		return "", &TransportError{Op: op, Err: fmt.Errorf("authentication error: %s", text), StatusCode: resp.status, IsAuthError: true}
	}
	for _, row := range resp.imdata {
		if mo, ok := row["aaaLogin"]; ok {
			if token, _ := mo.Attributes["token"].(string); token != "" {
				return token, nil
			}
		}
	}
	for _, ck := range resp.cookies {
		if ck.Name == cookieName && ck.Value != "" {
			return ck.Value, nil
		}
	}
	return "", &TransportError{Op: op, Err: fmt.Errorf("no session token in reply")}
}

func withQuery(rawURL string, q *engine.Query) string {
	params := encodeQuery(q)
	if len(params) == 0 {
		return rawURL
	}
	return rawURL + "?" + params.Encode()
}

var _ engine.SessionFactory = (*Client)(nil)
