// Package scheduledemailclient is the typed client over the upstream
// API's ScheduledEmail endpoints: list-due (with transparent
// pagination), fetch-by-id, lock, fail, succeed. Grounded on the
// teacher's HTTP client wrapping style in internal/service/mailgun_service.go
// (request construction, status-code handling) and on
// original_source/worker/src/api.py for the endpoint shapes and the
// page-placeholder pagination contract.
package scheduledemailclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/carpentries/amy-email-worker/internal/domain"
)

const (
	defaultMaxPages = 10
	pagePlaceholder = "{}"
)

// Client implements domain.ScheduledEmailClient over HTTP.
type Client struct {
	httpClient domain.HTTPClient
	tokens     domain.TokenCache
	apiBaseURL string
	maxPages   int
}

// New builds a Client. maxPages <= 0 falls back to the spec default of 10.
func New(httpClient domain.HTTPClient, tokens domain.TokenCache, apiBaseURL string, maxPages int) *Client {
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	return &Client{
		httpClient: httpClient,
		tokens:     tokens,
		apiBaseURL: strings.TrimRight(apiBaseURL, "/"),
		maxPages:   maxPages,
	}
}

type listDuePage struct {
	Results []domain.ScheduledEmail `json:"results"`
}

// ListDue implements domain.ScheduledEmailClient. Pagination is strictly
// sequential: page N completes before N+1 is requested. A 200 status
// means "keep going"; any other status (including 404) ends the walk
// without error. The max_pages safety cap bounds the loop regardless of server
// behavior.
func (c *Client) ListDue(ctx context.Context) ([]domain.ScheduledEmail, error) {
	urlTemplate := c.apiBaseURL + "/v2/scheduledemail/scheduled_to_run?page=" + pagePlaceholder

	var all []domain.ScheduledEmail
	for page := 1; page <= c.maxPages; page++ {
		url := strings.Replace(urlTemplate, pagePlaceholder, strconv.Itoa(page), 1)

		status, body, err := c.get(ctx, url)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			// Non-200 (404 included) is end-of-data, not an error.
			break
		}

		var parsed listDuePage
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("failed to decode page %d of scheduled_to_run: %w", page, err)
		}
		all = append(all, parsed.Results...)
	}

	return all, nil
}

// GetByID implements domain.ScheduledEmailClient.
func (c *Client) GetByID(ctx context.Context, id uuid.UUID) (domain.ScheduledEmail, error) {
	url := fmt.Sprintf("%s/v2/scheduledemail/%s", c.apiBaseURL, id)
	return c.fetchOne(ctx, http.MethodGet, url, nil)
}

// Lock implements domain.ScheduledEmailClient, wrapping failures as
// *domain.LockError per spec §4.8 step 1.
func (c *Client) Lock(ctx context.Context, id uuid.UUID) (domain.ScheduledEmail, error) {
	url := fmt.Sprintf("%s/v2/scheduledemail/%s/lock", c.apiBaseURL, id)
	email, err := c.fetchOne(ctx, http.MethodPost, url, nil)
	if err != nil {
		return domain.ScheduledEmail{}, &domain.LockError{ID: id.String(), Err: err}
	}
	return email, nil
}

// Fail implements domain.ScheduledEmailClient.
func (c *Client) Fail(ctx context.Context, id uuid.UUID, details string) (domain.ScheduledEmail, error) {
	url := fmt.Sprintf("%s/v2/scheduledemail/%s/fail", c.apiBaseURL, id)
	return c.fetchOne(ctx, http.MethodPost, url, detailsBody(details))
}

// Succeed implements domain.ScheduledEmailClient.
func (c *Client) Succeed(ctx context.Context, id uuid.UUID, details string) (domain.ScheduledEmail, error) {
	url := fmt.Sprintf("%s/v2/scheduledemail/%s/succeed", c.apiBaseURL, id)
	return c.fetchOne(ctx, http.MethodPost, url, detailsBody(details))
}

func detailsBody(details string) []byte {
	b, _ := json.Marshal(map[string]string{"details": details})
	return b
}

func (c *Client) fetchOne(ctx context.Context, method, url string, body []byte) (domain.ScheduledEmail, error) {
	status, respBody, err := c.do(ctx, method, url, body)
	if err != nil {
		return domain.ScheduledEmail{}, err
	}
	if status < 200 || status >= 300 {
		return domain.ScheduledEmail{}, &domain.HTTPStatusError{URL: url, StatusCode: status, Body: string(respBody)}
	}

	var email domain.ScheduledEmail
	if err := json.Unmarshal(respBody, &email); err != nil {
		return domain.ScheduledEmail{}, fmt.Errorf("failed to decode scheduled email from %s: %w", url, err)
	}
	return email, nil
}

func (c *Client) get(ctx context.Context, url string) (int, []byte, error) {
	return c.do(ctx, http.MethodGet, url, nil)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) (int, []byte, error) {
	tok, err := c.tokens.GetToken(ctx)
	if err != nil {
		return 0, nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request to %s: %w", url, err)
	}
	req.Header.Set("Authorization", "Token "+tok.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response from %s: %w", url, err)
	}

	return resp.StatusCode, respBody, nil
}

var _ domain.ScheduledEmailClient = (*Client)(nil)
