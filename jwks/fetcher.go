package jwks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/marcjazz/authkestra/auth"
)

const maxDocumentBytes = 1 << 20

// Fetcher retrieves the current key set.
type Fetcher interface {
	Fetch(ctx context.Context) (*jose.JSONWebKeySet, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) (*jose.JSONWebKeySet, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context) (*jose.JSONWebKeySet, error) { return f(ctx) }

// HTTPFetcher downloads a JWKS document from a jwks_uri.
type HTTPFetcher struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

// DefaultFetchTimeout bounds one JWKS download unless HTTPFetcher.Timeout is set.
const DefaultFetchTimeout = 10 * time.Second

// NewHTTPFetcher returns a fetcher for url using client (http.DefaultClient when nil).
func NewHTTPFetcher(url string, client *http.Client) *HTTPFetcher {
	return &HTTPFetcher{URL: url, Client: client, Timeout: DefaultFetchTimeout}
}

// Fetch performs one GET against the jwks_uri.
//
// Transport failures and 5xx responses map to ProviderUnavailable; other
// non-200 responses and undecodable documents map to ProviderRejected.
func (f *HTTPFetcher) Fetch(ctx context.Context) (*jose.JSONWebKeySet, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "jwks.Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("jwks.uri", f.URL))

	set, err := f.fetch(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, auth.KindOf(err).String())
		return nil, err
	}
	span.SetAttributes(attribute.Int("jwks.keys", len(set.Keys)))
	return set, nil
}

func (f *HTTPFetcher) fetch(ctx context.Context) (*jose.JSONWebKeySet, error) {
	if f.URL == "" {
		return nil, auth.Errorf(auth.KindProviderRejected, "jwks uri is empty")
	}
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, auth.Wrap(auth.KindProviderRejected, err)
	}
	req.Header.Set("Accept", "application/json")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, auth.Wrap(auth.KindProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, auth.Errorf(auth.KindProviderUnavailable, "jwks endpoint returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, auth.Errorf(auth.KindProviderRejected, "jwks endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, auth.Wrap(auth.KindProviderUnavailable, err)
	}
	set, err := Parse(body)
	if err != nil {
		return nil, err
	}
	return set, nil
}

// Parse decodes a JWKS document.
func Parse(body []byte) (*jose.JSONWebKeySet, error) {
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, auth.Wrap(auth.KindProviderRejected, fmt.Errorf("decode jwks: %w", err))
	}
	if len(set.Keys) == 0 {
		return nil, auth.Wrap(auth.KindProviderRejected, errors.New("jwks contains no keys"))
	}
	return &set, nil
}
