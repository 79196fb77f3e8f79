package token

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carpentries/amy-email-worker/internal/domain"
)

type fakeHTTPClient struct {
	calls  int32
	delay  time.Duration
	expiry time.Time
	status int
}

func (f *fakeHTTPClient) Do(req *http.Request) (*http.Response, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	status := f.status
	if status == 0 {
		status = http.StatusOK
	}

	body, _ := json.Marshal(domain.AuthToken{Token: "tok-1", Expiry: f.expiry})
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(string(body))),
	}, nil
}

func TestCache_GetToken_ReturnsCachedTokenWhenFresh(t *testing.T) {
	client := &fakeHTTPClient{expiry: time.Now().Add(time.Hour)}
	c := New(client, "https://api.example.org", "user", "pass", 0)

	tok1, err := c.GetToken(context.Background())
	require.NoError(t, err)
	tok2, err := c.GetToken(context.Background())
	require.NoError(t, err)

	assert.Equal(t, tok1, tok2)
	assert.EqualValues(t, 1, atomic.LoadInt32(&client.calls))
}

func TestCache_GetToken_RefreshesWhenExpired(t *testing.T) {
	client := &fakeHTTPClient{expiry: time.Now().Add(-time.Minute)}
	c := New(client, "https://api.example.org", "user", "pass", 0)

	_, err := c.GetToken(context.Background())
	require.NoError(t, err)
	_, err = c.GetToken(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 2, atomic.LoadInt32(&client.calls))
}

func TestCache_GetToken_SingleFlightsConcurrentRefreshes(t *testing.T) {
	client := &fakeHTTPClient{expiry: time.Now().Add(time.Hour), delay: 50 * time.Millisecond}
	c := New(client, "https://api.example.org", "user", "pass", 0)

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := c.GetToken(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&client.calls))
}

func TestCache_GetToken_WrapsNonSuccessStatus(t *testing.T) {
	client := &fakeHTTPClient{status: http.StatusUnauthorized}
	c := New(client, "https://api.example.org", "user", "pass", 0)

	_, err := c.GetToken(context.Background())
	require.Error(t, err)

	var refreshErr *domain.TokenRefreshError
	require.ErrorAs(t, err, &refreshErr)
}
