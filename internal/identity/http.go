package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/yndnr/sessionguard/internal/core/domain"
	"github.com/yndnr/sessionguard/internal/infra/buildinfo"
	"github.com/yndnr/sessionguard/internal/infra/tlsroots"
	"github.com/yndnr/sessionguard/internal/telemetry/logger"
)

// maxResponseBytes caps the introspection response body.
const maxResponseBytes = 1 << 20

// HTTPConfig configures HTTPAuthority.
type HTTPConfig struct {
	Endpoint     string
	ClientID     string
	ClientSecret string

	// Timeout bounds one HTTP exchange. The caller's context may be shorter.
	Timeout time.Duration

	// RateLimit is the outbound request rate per second. Zero disables it.
	RateLimit float64
	Burst     int

	TLSCAFile string
}

// HTTPAuthority verifies credentials against an introspection endpoint.
type HTTPAuthority struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
	log     logger.Logger
}

// HTTPOption configures an HTTPAuthority.
type HTTPOption func(*HTTPAuthority)

// WithHTTPClient replaces the HTTP client. TLSCAFile is ignored then.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(a *HTTPAuthority) { a.client = c }
}

// WithHTTPLogger sets the logger.
func WithHTTPLogger(l logger.Logger) HTTPOption {
	return func(a *HTTPAuthority) { a.log = l }
}

// NewHTTPAuthority creates an authority client for cfg.Endpoint.
func NewHTTPAuthority(cfg HTTPConfig, opts ...HTTPOption) (*HTTPAuthority, error) {
	if _, err := url.ParseRequestURI(cfg.Endpoint); err != nil {
		return nil, domain.ErrInvalidArgument.WithDetails("identity endpoint").WithCause(err)
	}
	a := &HTTPAuthority{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	a.log = logger.OrDefault(a.log).With("component", "identity.http")

	if a.client == nil {
		tlsCfg, err := tlsroots.ClientConfig(cfg.TLSCAFile)
		if err != nil {
			return nil, err
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = tlsCfg
		a.client = &http.Client{Transport: transport, Timeout: cfg.Timeout}
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return a, nil
}

// VerifyCredential implements service.IdentityAuthority.
func (a *HTTPAuthority) VerifyCredential(ctx context.Context, credential domain.Credential) (*domain.Identity, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			// Wait fails early when the deadline leaves no room for a token.
			return nil, domain.ErrIdentityRateLimited.WithDetails("local limiter").WithCause(err)
		}
	}

	form := url.Values{}
	form.Set("token", credential.Raw())
	form.Set("token_type_hint", "access_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, domain.ErrInternal.WithCause(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "sessionguard/"+buildinfo.Version)
	if a.cfg.ClientID != "" {
		req.SetBasicAuth(url.QueryEscape(a.cfg.ClientID), url.QueryEscape(a.cfg.ClientSecret))
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			return nil, domain.ErrIdentityTimeout.WithCause(err)
		}
		return nil, domain.ErrIdentityUnavailable.WithCause(err)
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		a.log.Debug("introspection rejected", "status", resp.StatusCode, "credential_fp", credential.Fingerprint())
		return nil, err
	}

	claims, err := decodeClaims(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, domain.ErrIdentityUnavailable.WithDetails("decode introspection response").WithCause(err)
	}
	return identityFromClaims(claims, time.Now())
}

// statusError maps a non-200 introspection status to a domain error.
func statusError(code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusBadRequest, code == http.StatusUnauthorized:
		return domain.ErrCredentialInvalid.WithDetails("status " + strconv.Itoa(code))
	case code == http.StatusForbidden:
		return domain.ErrPermissionDenied
	case code == http.StatusRequestTimeout:
		return domain.ErrIdentityTimeout.WithDetails("status 408")
	case code == http.StatusTooManyRequests:
		return domain.ErrIdentityRateLimited
	case code >= 500:
		return domain.ErrIdentityUnavailable.WithDetails("status " + strconv.Itoa(code))
	default:
		return domain.ErrInternal.WithDetails("unexpected introspection status " + strconv.Itoa(code))
	}
}

func decodeClaims(r io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var claims map[string]any
	if err := dec.Decode(&claims); err != nil {
		return nil, err
	}
	if claims == nil {
		return nil, errors.New("empty introspection response")
	}
	return claims, nil
}

// identityFromClaims interprets a decoded introspection response.
func identityFromClaims(claims map[string]any, now time.Time) (*domain.Identity, error) {
	active, _ := claims["active"].(bool)
	if !active {
		if isRevoked(claims) {
			return nil, domain.ErrCredentialRevoked
		}
		if exp := domain.ExpiryFromClaims(claims); !exp.IsZero() && !now.Before(exp) {
			return nil, domain.ErrCredentialExpired
		}
		return nil, domain.ErrCredentialInvalid.WithDetails("inactive")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		sub, _ = claims["username"].(string)
	}
	if sub == "" {
		return nil, domain.ErrInternal.WithDetails("active introspection response without subject")
	}
	if exp := domain.ExpiryFromClaims(claims); !exp.IsZero() && !now.Before(exp) {
		return nil, domain.ErrCredentialExpired
	}
	delete(claims, "active")
	return &domain.Identity{SubjectID: sub, Claims: claims}, nil
}

func isRevoked(claims map[string]any) bool {
	if v, ok := claims["revoked"].(bool); ok && v {
		return true
	}
	if v, ok := claims["status"].(string); ok && strings.EqualFold(v, "revoked") {
		return true
	}
	return false
}
