package oidc

import (
	"context"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/marcjazz/authkestra/auth"
)

// DefaultDiscoveryTimeout bounds the discovery round trip.
const DefaultDiscoveryTimeout = 10 * time.Second

type discoverConfig struct {
	client  *http.Client
	timeout time.Duration
}

// DiscoverOption configures Discover.
type DiscoverOption func(*discoverConfig)

// WithHTTPClient sets the client used to fetch the discovery document.
func WithHTTPClient(client *http.Client) DiscoverOption {
	return func(c *discoverConfig) { c.client = client }
}

// WithDiscoveryTimeout overrides DefaultDiscoveryTimeout.
func WithDiscoveryTimeout(d time.Duration) DiscoverOption {
	return func(c *discoverConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Discover fetches {issuer}/.well-known/openid-configuration. The document
// must name the same issuer and carry the authorization, token and jwks
// endpoints. Every failure resolves to auth.ErrDiscoveryFailed.
func Discover(ctx context.Context, issuer string, opts ...DiscoverOption) (*Metadata, error) {
	cfg := discoverConfig{client: http.DefaultClient, timeout: DefaultDiscoveryTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "oidc.Discover")
	defer span.End()
	span.SetAttributes(attribute.String("oidc.issuer", issuer))

	meta, err := discover(ctx, issuer, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "discovery failed")
		return nil, err
	}
	return meta, nil
}

func discover(ctx context.Context, issuer string, cfg discoverConfig) (*Metadata, error) {
	if strings.TrimSpace(issuer) == "" {
		return nil, auth.Errorf(auth.KindDiscoveryFailed, "issuer is empty")
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	p, err := gooidc.NewProvider(gooidc.ClientContext(ctx, cfg.client), issuer)
	if err != nil {
		return nil, auth.Wrap(auth.KindDiscoveryFailed, err)
	}

	var meta Metadata
	if err := p.Claims(&meta); err != nil {
		return nil, auth.Wrap(auth.KindDiscoveryFailed, err)
	}
	if field := meta.missing(); field != "" {
		return nil, auth.Errorf(auth.KindDiscoveryFailed, "discovery document missing %s", field)
	}
	return &meta, nil
}
