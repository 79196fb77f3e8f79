// Package uriresolver evaluates the scheme:path#fragment sublanguage
// against the upstream data-model API: scalar literals resolve locally,
// api: URIs fetch a remote model. Grounded on
// original_source/worker/src/api.py's resolve/scalar/model helpers for
// the resolution semantics, and on the teacher's bounded fan-out idiom
// in internal/service/task_processor.go for context_entry(list)'s
// concurrent-but-order-preserving fetch.
package uriresolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/carpentries/amy-email-worker/internal/domain"
)

// Resolver implements domain.URIResolver over HTTP, authenticated via a
// shared token cache.
type Resolver struct {
	httpClient domain.HTTPClient
	tokens     domain.TokenCache
	apiBaseURL string
}

// New builds a Resolver.
func New(httpClient domain.HTTPClient, tokens domain.TokenCache, apiBaseURL string) *Resolver {
	return &Resolver{
		httpClient: httpClient,
		tokens:     tokens,
		apiBaseURL: strings.TrimRight(apiBaseURL, "/"),
	}
}

// Scalar implements domain.URIResolver.
func (r *Resolver) Scalar(ctx context.Context, uri string) (interface{}, error) {
	parsed, err := domain.ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme != domain.SchemeValue {
		return nil, &domain.UnsupportedURIError{URI: uri}
	}
	return parsed.Scalar()
}

// Model implements domain.URIResolver.
func (r *Resolver) Model(ctx context.Context, uri string) (map[string]interface{}, error) {
	parsed, err := domain.ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme != domain.SchemeAPI {
		return nil, &domain.UnsupportedURIError{URI: uri}
	}
	return r.fetchModel(ctx, parsed.Model, parsed.ID)
}

// ModelField implements domain.URIResolver.
func (r *Resolver) ModelField(ctx context.Context, uri, property string) (string, error) {
	parsed, err := domain.ParseURI(uri)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != domain.SchemeAPI {
		return "", &domain.UnsupportedURIError{URI: uri}
	}

	obj, err := r.fetchModel(ctx, parsed.Model, parsed.ID)
	if err != nil {
		return "", err
	}

	value, ok := obj[property]
	if !ok {
		return "", &domain.MissingFieldError{Model: parsed.Model, ID: parsed.ID, Property: property}
	}
	return stringify(value), nil
}

// ContextEntry implements domain.URIResolver. A list of URIs is fetched
// as models concurrently, one goroutine per element, writing into an
// index-addressed slice so the returned order always matches the input
// order regardless of completion interleaving (spec §5, invariant 3).
func (r *Resolver) ContextEntry(ctx context.Context, value domain.ContextValue) (interface{}, error) {
	if value.IsList {
		results := make([]interface{}, len(value.List))
		errs := make([]error, len(value.List))

		var wg sync.WaitGroup
		for i, uri := range value.List {
			wg.Add(1)
			go func(i int, uri string) {
				defer wg.Done()
				model, err := r.Model(ctx, uri)
				if err != nil {
					errs[i] = wrapUnsupportedForContext(err)
					return
				}
				results[i] = model
			}(i, uri)
		}
		wg.Wait()

		for _, err := range errs {
			if err != nil {
				return nil, err
			}
		}
		return results, nil
	}

	parsed, err := domain.ParseURI(value.Single)
	if err != nil {
		return nil, wrapUnsupportedForContext(err)
	}

	switch parsed.Scheme {
	case domain.SchemeValue:
		return parsed.Scalar()
	case domain.SchemeAPI:
		return r.fetchModel(ctx, parsed.Model, parsed.ID)
	default:
		return nil, &domain.UnsupportedURIError{URI: value.Single, Context: "context generation"}
	}
}

// wrapUnsupportedForContext attaches the "for context generation" suffix
// (spec scenario S3) to an *domain.UnsupportedURIError raised while
// parsing a context entry; other error kinds pass through unchanged.
func wrapUnsupportedForContext(err error) error {
	if unsupported, ok := err.(*domain.UnsupportedURIError); ok {
		unsupported.Context = "context generation"
		return unsupported
	}
	return err
}

func (r *Resolver) fetchModel(ctx context.Context, model, id string) (map[string]interface{}, error) {
	tok, err := r.tokens.GetToken(ctx)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v2/%s/%s", r.apiBaseURL, model, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request to %s: %w", url, err)
	}
	req.Header.Set("Authorization", "Token "+tok.Token)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", url, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.HTTPStatusError{URL: url, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("failed to decode model %s#%s: %w", model, id, err)
	}
	return obj, nil
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}

var _ domain.URIResolver = (*Resolver)(nil)
