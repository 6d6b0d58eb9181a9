package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/yndnr/farmsync-go/internal/core/domain"
	"github.com/yndnr/farmsync-go/internal/core/service"
	"github.com/yndnr/farmsync-go/internal/infra/buildinfo"
	"github.com/yndnr/farmsync-go/internal/infra/tlsroots"
)

// maxBodyBytes caps a decoded response body.
const maxBodyBytes = 8 << 20

// Client talks to the remote API.
type Client struct {
	baseURL      *url.URL
	apiKey       string
	timeout      time.Duration
	probeTimeout time.Duration
	http         *http.Client
	limiter      *rate.Limiter
	keyPair      *tlsroots.KeyPair
	logger       *slog.Logger
}

var (
	_ service.RemoteAuthAPI     = (*Client)(nil)
	_ service.RemoteDataAPI     = (*Client)(nil)
	_ service.ConnectivityProbe = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient replaces the underlying HTTP client. The TLS settings of
// Config are ignored in that case.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// New creates a client from cfg.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Verify(); err != nil {
		return nil, err
	}
	base, _ := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))

	c := &Client{
		baseURL:      base,
		apiKey:       cfg.APIKey,
		timeout:      cfg.Timeout,
		probeTimeout: cfg.ProbeTimeout,
		logger:       slog.Default(),
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.http == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		tlsOpts := tlsroots.ClientOptions{
			CAFile:          cfg.TLS.CAFile,
			CADir:           cfg.TLS.CADir,
			SkipSystemRoots: cfg.TLS.SkipSystemRoots,
			CertFile:        cfg.TLS.CertFile,
			KeyFile:         cfg.TLS.KeyFile,
			ServerName:      cfg.TLS.ServerName,
		}
		if tlsOpts.Enabled() {
			tlsCfg, kp, err := tlsroots.ClientConfig(tlsOpts, tlsroots.WithLogger(c.logger))
			if err != nil {
				return nil, fmt.Errorf("remote tls: %w", err)
			}
			transport.TLSClientConfig = tlsCfg
			c.keyPair = kp
		}
		c.http = &http.Client{Transport: transport}
	}

	return c, nil
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// WatchClientCert reloads the mutual TLS certificate when its files change.
// It returns immediately when no client certificate is configured and
// otherwise blocks until ctx is done.
func (c *Client) WatchClientCert(ctx context.Context) error {
	if c.keyPair == nil {
		return nil
	}
	return c.keyPair.Watch(ctx)
}

// ============================================================================
// RemoteAuthAPI
// ============================================================================

// LookupCredential fetches the credential record of (tenantID, mobile).
func (c *Client) LookupCredential(ctx context.Context, tenantID, mobile string) (*service.RemoteCredential, error) {
	q := url.Values{"mobile": {mobile}}
	var cred service.RemoteCredential
	if err := c.do(ctx, http.MethodGet, c.path("v1", "tenants", tenantID, "credentials"), q, nil, nil, &cred); err != nil {
		return nil, err
	}
	if cred.FarmerID == "" || cred.PINHash == "" {
		return nil, domain.ErrRemoteProtocol.WithDetails("credential without farmer_id or pin_hash")
	}
	if cred.TenantID == "" {
		cred.TenantID = tenantID
	}
	if cred.MobileNumber == "" {
		cred.MobileNumber = mobile
	}
	return &cred, nil
}

type loginBody struct {
	At time.Time `json:"at"`
}

// RecordLogin reports a successful online login.
func (c *Client) RecordLogin(ctx context.Context, tenantID, farmerID string, at time.Time) error {
	return c.do(ctx, http.MethodPost, c.path("v1", "tenants", tenantID, "farmers", farmerID, "logins"),
		nil, nil, loginBody{At: at.UTC()}, nil)
}

// ============================================================================
// RemoteDataAPI
// ============================================================================

// pushBody is the wire form of a pushed record.
type pushBody struct {
	Payload       json.RawMessage `json:"payload,omitempty"`
	SchemaVersion int             `json:"schema_version"`
	LocalVersion  uint64          `json:"local_version"`
	BaseVersion   uint64          `json:"base_version,omitempty"`
	Deleted       bool            `json:"deleted"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// PushRecord upserts or deletes one record.
func (c *Client) PushRecord(ctx context.Context, req *service.PushRequest) (*service.PushResult, error) {
	rec := req.Record
	body := pushBody{
		SchemaVersion: rec.SchemaVersion,
		LocalVersion:  rec.LocalVersion,
		BaseVersion:   rec.RemoteVersion,
		Deleted:       rec.DeletedTombstone,
		UpdatedAt:     rec.UpdatedAt.UTC(),
	}
	if !rec.DeletedTombstone {
		body.Payload = rec.Payload
	}

	header := http.Header{}
	if req.IdempotencyKey != "" {
		header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	var res service.PushResult
	p := c.path("v1", "tenants", rec.TenantID, "owners", rec.OwnerFarmerID, "records", string(rec.EntityType), rec.EntityID)
	if err := c.do(ctx, http.MethodPut, p, nil, header, body, &res); err != nil {
		return nil, err
	}
	if res.Version == 0 {
		return nil, domain.ErrRemoteProtocol.WithDetails("push acknowledged without version")
	}
	return &res, nil
}

// ChangesSince fetches one page of changes.
func (c *Client) ChangesSince(ctx context.Context, req *service.ChangesRequest) (*service.ChangesPage, error) {
	q := url.Values{"entity_type": {string(req.EntityType)}}
	if !req.Since.IsZero() {
		q.Set("since", req.Since.UTC().Format(time.RFC3339Nano))
	}
	if req.Cursor != "" {
		q.Set("cursor", req.Cursor)
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}

	var page service.ChangesPage
	p := c.path("v1", "tenants", req.TenantID, "owners", req.OwnerFarmerID, "changes")
	if err := c.do(ctx, http.MethodGet, p, q, nil, nil, &page); err != nil {
		return nil, err
	}
	for i, r := range page.Records {
		if r == nil || r.EntityID == "" {
			return nil, domain.ErrRemoteProtocol.WithDetails(fmt.Sprintf("change %d has no entity_id", i))
		}
	}
	return &page, nil
}

// ============================================================================
// ConnectivityProbe
// ============================================================================

// IsOnline reports whether GET /healthz answers 2xx within the probe timeout.
// It bypasses the rate limiter.
func (c *Client) IsOnline(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve("/healthz", nil), nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("connectivity probe failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// ============================================================================
// Transport
// ============================================================================

// path joins escaped segments into an absolute path.
func (c *Client) path(segments ...string) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

func (c *Client) resolve(p string, q url.Values) string {
	u := *c.baseURL
	u.RawPath = ""
	u.Path = strings.TrimRight(u.Path, "/")
	raw := u.String() + p
	if len(q) > 0 {
		raw += "?" + q.Encode()
	}
	return raw
}

// errorBody is the error envelope returned by the remote API.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, p string, q url.Values, header http.Header, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return domain.ErrTransportUnavailable.WithDetails("rate limiter").WithCause(err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(p, q), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("remote request failed", "method", method, "path", p, "error", err)
		return domain.ErrTransportUnavailable.WithDetails(method + " " + p).WithCause(err)
	}
	defer resp.Body.Close()

	c.logger.Debug("remote request",
		"method", method,
		"path", p,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode >= 300 {
		return statusError(method, p, resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() || errors.Is(err, context.DeadlineExceeded) {
			return domain.ErrTransportUnavailable.WithDetails(method + " " + p).WithCause(err)
		}
		return domain.ErrRemoteProtocol.WithDetails(method + " " + p).WithCause(err)
	}
	return nil
}

// statusError maps a non-2xx response to a domain transport error.
func statusError(method, p string, resp *http.Response) error {
	var eb errorBody
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(data, &eb)

	details := fmt.Sprintf("%s %s: HTTP %d", method, p, resp.StatusCode)
	if eb.Message != "" {
		details += ": " + eb.Message
	}
	if eb.Code != "" {
		details += " (" + eb.Code + ")"
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return domain.ErrRemoteRejected.WithDetails(details)
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrRemoteNotFound.WithDetails(details)
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode >= 500:
		return domain.ErrTransportUnavailable.WithDetails(details)
	default:
		return domain.ErrRemoteProtocol.WithDetails(details)
	}
}
