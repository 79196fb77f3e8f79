// Package mailer dispatches rendered emails through a Mailgun-shaped
// mail transfer API: form-encoded POST when there are no attachments,
// multipart/form-data when there are. Grounded closely on the teacher's
// internal/service/mailgun_service.go split between sendEmailSimple and
// sendEmailWithAttachments.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/carpentries/amy-email-worker/internal/domain"
)

// Dispatcher implements domain.MailDispatcher over a Mailgun-shaped API.
type Dispatcher struct {
	httpClient    domain.HTTPClient
	apiBaseURL    string
	apiKey        string
	senderDomain  string
	overrideEmail string
}

// New builds a Dispatcher. overrideEmail, when non-empty, replaces all
// outbound recipients with itself and empties cc/bcc (spec §4.7
// recipient override — the test/staging safety valve).
func New(httpClient domain.HTTPClient, apiBaseURL, apiKey, senderDomain, overrideEmail string) *Dispatcher {
	return &Dispatcher{
		httpClient:    httpClient,
		apiBaseURL:    strings.TrimRight(apiBaseURL, "/"),
		apiKey:        apiKey,
		senderDomain:  senderDomain,
		overrideEmail: overrideEmail,
	}
}

// Send implements domain.MailDispatcher.
func (d *Dispatcher) Send(ctx context.Context, email domain.RenderedEmail) (string, error) {
	to, cc, bcc := email.ToHeaderRendered, email.CcHeader, email.BccHeader
	if d.overrideEmail != "" {
		to = []string{d.overrideEmail}
		cc = nil
		bcc = nil
	}

	apiURL := fmt.Sprintf("%s/v3/%s/messages", d.apiBaseURL, d.senderDomain)

	var req *http.Request
	var err error
	if len(email.AttachmentsWithContent) > 0 {
		req, err = d.buildMultipartRequest(ctx, apiURL, email, to, cc, bcc)
	} else {
		req, err = d.buildFormRequest(ctx, apiURL, email, to, cc, bcc)
	}
	if err != nil {
		return "", &domain.MailTransferError{Err: err}
	}

	req.SetBasicAuth("api", d.apiKey)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", &domain.MailTransferError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &domain.MailTransferError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &domain.MailTransferError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return string(body), nil
}

func (d *Dispatcher) buildFormRequest(ctx context.Context, apiURL string, email domain.RenderedEmail, to, cc, bcc []string) (*http.Request, error) {
	form := url.Values{}
	form.Add("from", email.FromHeader)
	for _, addr := range to {
		form.Add("to", addr)
	}
	for _, addr := range cc {
		if addr != "" {
			form.Add("cc", addr)
		}
	}
	for _, addr := range bcc {
		if addr != "" {
			form.Add("bcc", addr)
		}
	}
	form.Add("subject", email.SubjectRendered)
	form.Add("html", email.BodyRendered)
	if email.ReplyToHeader != "" {
		form.Add("h:Reply-To", email.ReplyToHeader)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

func (d *Dispatcher) buildMultipartRequest(ctx context.Context, apiURL string, email domain.RenderedEmail, to, cc, bcc []string) (*http.Request, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	write := func(field, value string) error {
		return writer.WriteField(field, value)
	}

	if err := write("from", email.FromHeader); err != nil {
		return nil, fmt.Errorf("failed to write from field: %w", err)
	}
	for _, addr := range to {
		if err := write("to", addr); err != nil {
			return nil, fmt.Errorf("failed to write to field: %w", err)
		}
	}
	for _, addr := range cc {
		if addr == "" {
			continue
		}
		if err := write("cc", addr); err != nil {
			return nil, fmt.Errorf("failed to write cc field: %w", err)
		}
	}
	for _, addr := range bcc {
		if addr == "" {
			continue
		}
		if err := write("bcc", addr); err != nil {
			return nil, fmt.Errorf("failed to write bcc field: %w", err)
		}
	}
	if err := write("subject", email.SubjectRendered); err != nil {
		return nil, fmt.Errorf("failed to write subject field: %w", err)
	}
	if err := write("html", email.BodyRendered); err != nil {
		return nil, fmt.Errorf("failed to write html field: %w", err)
	}
	if email.ReplyToHeader != "" {
		if err := write("h:Reply-To", email.ReplyToHeader); err != nil {
			return nil, fmt.Errorf("failed to write reply-to field: %w", err)
		}
	}

	for i, att := range email.AttachmentsWithContent {
		part, err := writer.CreateFormFile("attachment", att.Filename)
		if err != nil {
			return nil, fmt.Errorf("attachment %d: failed to create form file: %w", i, err)
		}
		if _, err := part.Write(att.Bytes); err != nil {
			return nil, fmt.Errorf("attachment %d: failed to write content: %w", i, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to build mail request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req, nil
}

var _ domain.MailDispatcher = (*Dispatcher)(nil)
