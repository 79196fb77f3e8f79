package domain

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// HTTPClient is the narrow contract every HTTP-backed component depends
// on, so a single *http.Client can be shared across the run (spec §5)
// and swapped for a fake in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// SecretStore reads a single named parameter, returning ok=false (never an
// error) when the parameter doesn't exist (spec §4.1).
type SecretStore interface {
	GetParameter(ctx context.Context, name string) (value string, ok bool, err error)
}

// TokenCache hands out a cached bearer token, single-flighting concurrent
// refreshes (spec §4.2).
type TokenCache interface {
	GetToken(ctx context.Context) (AuthToken, error)
}

// ScheduledEmailClient is the typed client over the upstream API's
// ScheduledEmail endpoints (spec §4.3).
type ScheduledEmailClient interface {
	ListDue(ctx context.Context) ([]ScheduledEmail, error)
	GetByID(ctx context.Context, id uuid.UUID) (ScheduledEmail, error)
	Lock(ctx context.Context, id uuid.UUID) (ScheduledEmail, error)
	Fail(ctx context.Context, id uuid.UUID, details string) (ScheduledEmail, error)
	Succeed(ctx context.Context, id uuid.UUID, details string) (ScheduledEmail, error)
}

// URIResolver evaluates the scheme:path#fragment sublanguage (spec §4.4).
type URIResolver interface {
	Scalar(ctx context.Context, uri string) (interface{}, error)
	Model(ctx context.Context, uri string) (map[string]interface{}, error)
	ModelField(ctx context.Context, uri, property string) (string, error)
	ContextEntry(ctx context.Context, value ContextValue) (interface{}, error)
}

// TemplateRenderer renders an email's subject/body against a resolved
// context (spec §4.5).
type TemplateRenderer interface {
	RenderEmail(email ScheduledEmail, context map[string]interface{}, recipients []string) (RenderedEmail, error)
}

// AttachmentFetcher downloads attachment bytes from the blob store
// (spec §4.6).
type AttachmentFetcher interface {
	Fetch(ctx context.Context, attachments []Attachment) ([]AttachmentWithContent, error)
}

// MailDispatcher delivers a fully-rendered message via the mail transfer
// API (spec §4.7). Returns the provider's raw response body for
// traceability in the succeed() details string.
type MailDispatcher interface {
	Send(ctx context.Context, email RenderedEmail) (responseBody string, err error)
}
