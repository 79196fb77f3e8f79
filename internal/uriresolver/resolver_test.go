package uriresolver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carpentries/amy-email-worker/internal/domain"
)

type fakeTokens struct{}

func (fakeTokens) GetToken(ctx context.Context) (domain.AuthToken, error) {
	return domain.AuthToken{Token: "tok", Expiry: time.Now().Add(time.Hour)}, nil
}

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func TestScalar_ValueURIs(t *testing.T) {
	r := New(roundTripFunc(nil), fakeTokens{}, "https://api.example.org")

	v, err := r.Scalar(context.Background(), "value:str#hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	v, err = r.Scalar(context.Background(), "value:int#42")
	require.NoError(t, err)
	assert.EqualValues(t, 42, v)

	v, err = r.Scalar(context.Background(), "value:bool#TRUE")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = r.Scalar(context.Background(), "value:bool#no")
	require.NoError(t, err)
	assert.Equal(t, false, v)

	v, err = r.Scalar(context.Background(), "value:none#anything")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestScalar_RejectsNonValueScheme(t *testing.T) {
	r := New(roundTripFunc(nil), fakeTokens{}, "https://api.example.org")
	_, err := r.Scalar(context.Background(), "api:person#1")
	require.Error(t, err)
	var unsupported *domain.UnsupportedURIError
	require.ErrorAs(t, err, &unsupported)
}

func TestModel_FetchesAndDecodesObject(t *testing.T) {
	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "https://api.example.org/v2/person/1", req.URL.String())
		assert.Equal(t, "Token tok", req.Header.Get("Authorization"))
		body, _ := json.Marshal(map[string]interface{}{"email": "a@x.org"})
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(string(body)))}, nil
	})

	r := New(client, fakeTokens{}, "https://api.example.org")
	obj, err := r.Model(context.Background(), "api:person#1")
	require.NoError(t, err)
	assert.Equal(t, "a@x.org", obj["email"])
}

func TestModelField_MissingFieldError(t *testing.T) {
	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		body, _ := json.Marshal(map[string]interface{}{"name": "Alice"})
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(string(body)))}, nil
	})

	r := New(client, fakeTokens{}, "https://api.example.org")
	_, err := r.ModelField(context.Background(), "api:person#1", "email")
	require.Error(t, err)
	var missing *domain.MissingFieldError
	require.ErrorAs(t, err, &missing)
}

func TestContextEntry_SingleValueURIDelegatesToScalar(t *testing.T) {
	r := New(roundTripFunc(nil), fakeTokens{}, "https://api.example.org")
	v, err := r.ContextEntry(context.Background(), domain.ContextValue{Single: "value:str#Alice"})
	require.NoError(t, err)
	assert.Equal(t, "Alice", v)
}

func TestContextEntry_UnsupportedSchemeWrapsWithContextSuffix(t *testing.T) {
	r := New(roundTripFunc(nil), fakeTokens{}, "https://api.example.org")
	_, err := r.ContextEntry(context.Background(), domain.ContextValue{Single: "unsupported#X"})
	require.Error(t, err)
	assert.Equal(t, "Unsupported URI 'unsupported#X' for context generation.", err.Error())
}

func TestContextEntry_ListPreservesOrderUnderConcurrentFetch(t *testing.T) {
	var calls int32
	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		n := atomic.AddInt32(&calls, 1)
		// Stagger responses so completion order differs from request order.
		delay := time.Duration(10-n%10) * time.Millisecond
		time.Sleep(delay)
		id := req.URL.Path[strings.LastIndex(req.URL.Path, "/")+1:]
		body, _ := json.Marshal(map[string]interface{}{"id": id})
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(string(body)))}, nil
	})

	r := New(client, fakeTokens{}, "https://api.example.org")
	uris := []string{"api:person#1", "api:person#2", "api:person#3", "api:person#4", "api:person#5"}

	v, err := r.ContextEntry(context.Background(), domain.ContextValue{List: uris, IsList: true})
	require.NoError(t, err)

	results, ok := v.([]interface{})
	require.True(t, ok)
	require.Len(t, results, 5)
	for i, expected := range []string{"1", "2", "3", "4", "5"} {
		obj := results[i].(map[string]interface{})
		assert.Equal(t, expected, obj["id"])
	}
}

func TestContextEntry_APIURIDelegatesToModel(t *testing.T) {
	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		body, _ := json.Marshal(map[string]interface{}{"email": "a@x.org"})
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(string(body)))}, nil
	})

	r := New(client, fakeTokens{}, "https://api.example.org")
	v, err := r.ContextEntry(context.Background(), domain.ContextValue{Single: "api:person#1"})
	require.NoError(t, err)
	obj := v.(map[string]interface{})
	assert.Equal(t, "a@x.org", obj["email"])
}
