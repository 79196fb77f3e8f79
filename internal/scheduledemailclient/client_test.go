package scheduledemailclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
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

func jsonResponse(status int, v interface{}) *http.Response {
	b, _ := json.Marshal(v)
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(string(b)))}
}

func TestListDue_PaginatesUntilNon200(t *testing.T) {
	calls := 0
	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		calls++
		assert.Equal(t, "Token tok", req.Header.Get("Authorization"))
		if calls <= 2 {
			return jsonResponse(http.StatusOK, listDuePage{Results: []domain.ScheduledEmail{{ID: uuid.New()}}}), nil
		}
		return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader(""))}, nil
	})

	c := New(client, fakeTokens{}, "https://api.example.org", 10)
	emails, err := c.ListDue(context.Background())
	require.NoError(t, err)
	assert.Len(t, emails, 2)
	assert.Equal(t, 3, calls)
}

func TestListDue_RespectsMaxPagesCap(t *testing.T) {
	calls := 0
	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(http.StatusOK, listDuePage{Results: []domain.ScheduledEmail{{ID: uuid.New()}}}), nil
	})

	c := New(client, fakeTokens{}, "https://api.example.org", 6)
	emails, err := c.ListDue(context.Background())
	require.NoError(t, err)
	assert.Len(t, emails, 6)
	assert.Equal(t, 6, calls)
}

func TestListDue_SubstitutesPagePlaceholderSequentially(t *testing.T) {
	var seenPages []string
	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		seenPages = append(seenPages, req.URL.Query().Get("page"))
		if len(seenPages) >= 3 {
			return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader(""))}, nil
		}
		return jsonResponse(http.StatusOK, listDuePage{Results: nil}), nil
	})

	c := New(client, fakeTokens{}, "https://api.example.org", 10)
	_, err := c.ListDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, seenPages)
}

func TestLock_WrapsFailureAsLockError(t *testing.T) {
	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusConflict, Body: io.NopCloser(strings.NewReader("locked by other worker"))}, nil
	})

	c := New(client, fakeTokens{}, "https://api.example.org", 10)
	_, err := c.Lock(context.Background(), uuid.New())
	require.Error(t, err)

	var lockErr *domain.LockError
	require.ErrorAs(t, err, &lockErr)
}

func TestFail_SendsDetailsBody(t *testing.T) {
	var capturedBody []byte
	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		capturedBody, _ = io.ReadAll(req.Body)
		return jsonResponse(http.StatusOK, domain.ScheduledEmail{}), nil
	})

	c := New(client, fakeTokens{}, "https://api.example.org", 10)
	_, err := c.Fail(context.Background(), uuid.New(), "Issue when generating context: boom")
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(capturedBody, &decoded))
	assert.Equal(t, "Issue when generating context: boom", decoded["details"])
}

func TestSucceed_OnHTTPStatusErrorPropagates(t *testing.T) {
	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusInternalServerError, Body: io.NopCloser(strings.NewReader("boom"))}, nil
	})

	c := New(client, fakeTokens{}, "https://api.example.org", 10)
	_, err := c.Succeed(context.Background(), uuid.New(), "ok")
	require.Error(t, err)

	var statusErr *domain.HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
}
