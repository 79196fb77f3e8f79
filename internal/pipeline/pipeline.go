// Package pipeline orchestrates the nine-step per-email sequence: lock,
// parse embedded JSON, obtain a token, resolve context, resolve
// recipients, render, fetch attachments, send, succeed-or-fail. Every
// failure after a successful lock is converted into a fail() call with
// fixed-wording details; only a lock failure propagates to the caller
// unconverted (spec §4.8, §7). Grounded on the teacher's
// internal/service/broadcast/message_sender.go for the
// step-then-isolate-failure shape, and its errors.go for the wrapped
// typed-error convention adapted below as Error.
package pipeline

import (
	"context"
	"fmt"

	"github.com/carpentries/amy-email-worker/internal/domain"
	"github.com/carpentries/amy-email-worker/internal/logger"
)

// Error is the pipeline's own error wrapper, reported to the driver for
// logging. It never gates a fail() decision — Run always converts a
// post-lock failure into a fail() call before returning — but carries
// enough context for an operator to trace a crash-level failure (e.g. a
// LockError) back to its email.
type Error struct {
	EmailID string
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pipeline for email %s: %s: %v", e.EmailID, e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Pipeline wires the six collaborating components 4.2–4.7 together.
type Pipeline struct {
	emails      domain.ScheduledEmailClient
	tokens      domain.TokenCache
	resolver    domain.URIResolver
	renderer    domain.TemplateRenderer
	attachments domain.AttachmentFetcher
	mailer      domain.MailDispatcher
	log         logger.Logger
}

// New builds a Pipeline.
func New(
	emails domain.ScheduledEmailClient,
	tokens domain.TokenCache,
	resolver domain.URIResolver,
	renderer domain.TemplateRenderer,
	attachments domain.AttachmentFetcher,
	mailer domain.MailDispatcher,
	log logger.Logger,
) *Pipeline {
	return &Pipeline{
		emails:      emails,
		tokens:      tokens,
		resolver:    resolver,
		renderer:    renderer,
		attachments: attachments,
		mailer:      mailer,
		log:         log,
	}
}

// Run executes the pipeline for one already-listed email and returns the
// batch entry for it. A non-nil error is returned ONLY for a lock
// failure — every other failure is recorded upstream via fail() and
// reported as a successful (terminal_status=failed) BatchResult.
func (p *Pipeline) Run(ctx context.Context, email domain.ScheduledEmail) (domain.BatchResult, error) {
	locked, err := p.emails.Lock(ctx, email.ID)
	if err != nil {
		return domain.BatchResult{}, &Error{EmailID: email.ID.String(), Message: "lock failed", Err: err}
	}

	recipients, contextValues, err := p.parseEmbedded(locked)
	if err != nil {
		violation, _ := err.(*domain.SchemaViolationError)
		if violation != nil {
			return p.fail(ctx, locked, fmt.Sprintf("Failed to read email %s %s", violation.Reason, locked.ID))
		}
		return p.fail(ctx, locked, err.Error())
	}

	if _, err := p.tokens.GetToken(ctx); err != nil {
		return p.fail(ctx, locked, fmt.Sprintf("Failed to obtain auth token for email %s. Error: %v", locked.ID, err))
	}

	resolvedContext, err := p.resolveContext(ctx, contextValues)
	if err != nil {
		return p.fail(ctx, locked, fmt.Sprintf("Issue when generating context: %v", err))
	}

	resolvedRecipients, err := p.resolveRecipients(ctx, recipients)
	if err != nil {
		return p.fail(ctx, locked, fmt.Sprintf("Issue when generating email %s recipients: %v", locked.ID, err))
	}

	rendered, err := p.renderer.RenderEmail(locked, resolvedContext, resolvedRecipients)
	if err != nil {
		return p.fail(ctx, locked, fmt.Sprintf("Failed to render email %s. Error: %v", locked.ID, err))
	}

	withAttachments, err := p.attachments.Fetch(ctx, locked.Attachments)
	if err != nil {
		return p.fail(ctx, locked, fmt.Sprintf("Failed to fetch attachments for email %s. Error: %v", locked.ID, err))
	}
	rendered.AttachmentsWithContent = withAttachments

	responseBody, err := p.mailer.Send(ctx, rendered)
	if err != nil {
		return p.fail(ctx, locked, fmt.Sprintf("Failed to send email %s. Error: %v", locked.ID, err))
	}

	succeeded, err := p.emails.Succeed(ctx, locked.ID, fmt.Sprintf("Sent email %s. Provider response: %s", locked.ID, responseBody))
	if err != nil {
		// The send already happened; a failed succeed() call must not be
		// reinterpreted as a failed send. Log and report success anyway —
		// the upstream record may be out of sync, but at-most-once
		// delivery has already occurred.
		p.log.WithField("email_id", locked.ID.String()).Error(fmt.Sprintf("failed to record success upstream: %v", err))
		return domain.BatchResult{EmailSnapshot: locked, TerminalStatus: domain.StatusSucceeded}, nil
	}

	return domain.BatchResult{EmailSnapshot: succeeded, TerminalStatus: domain.StatusSucceeded}, nil
}

// fail issues the upstream fail() call and converts any failure into a
// terminal BatchResult. It never returns a non-nil error — step 9's
// "never raise after lock" rule (spec §7) lives here.
func (p *Pipeline) fail(ctx context.Context, email domain.ScheduledEmail, details string) (domain.BatchResult, error) {
	failed, err := p.emails.Fail(ctx, email.ID, details)
	if err != nil {
		p.log.WithField("email_id", email.ID.String()).Error(fmt.Sprintf("failed to record failure upstream: %v", err))
		return domain.BatchResult{EmailSnapshot: email, TerminalStatus: domain.StatusFailed}, nil
	}
	return domain.BatchResult{EmailSnapshot: failed, TerminalStatus: domain.StatusFailed}, nil
}

// parseEmbedded validates context and to_header_context against their
// schemas (spec §4.8 step 2), returning the parsed recipient links in
// locked's declared order and the parsed context values keyed by name.
func (p *Pipeline) parseEmbedded(email domain.ScheduledEmail) ([]domain.RecipientLink, map[string]domain.ContextValue, error) {
	recipients := make([]domain.RecipientLink, 0, len(email.ToHeaderContext))
	for _, raw := range email.ToHeaderContext {
		link, err := domain.ParseRecipientLink(raw)
		if err != nil {
			return nil, nil, err
		}
		recipients = append(recipients, link)
	}

	contextValues := make(map[string]domain.ContextValue, len(email.Context))
	for key, raw := range email.Context {
		value, err := domain.ParseContextValue(raw)
		if err != nil {
			return nil, nil, err
		}
		contextValues[key] = value
	}

	return recipients, contextValues, nil
}

func (p *Pipeline) resolveContext(ctx context.Context, values map[string]domain.ContextValue) (map[string]interface{}, error) {
	resolved := make(map[string]interface{}, len(values))
	for key, value := range values {
		entry, err := p.resolver.ContextEntry(ctx, value)
		if err != nil {
			return nil, err
		}
		resolved[key] = entry
	}
	return resolved, nil
}

func (p *Pipeline) resolveRecipients(ctx context.Context, links []domain.RecipientLink) ([]string, error) {
	resolved := make([]string, len(links))
	for i, link := range links {
		switch l := link.(type) {
		case domain.SingleValueLink:
			value, err := p.resolver.Scalar(ctx, l.ValueURI)
			if err != nil {
				return nil, err
			}
			resolved[i] = fmt.Sprintf("%v", value)
		case domain.SinglePropertyLink:
			value, err := p.resolver.ModelField(ctx, l.APIURI, l.Property)
			if err != nil {
				return nil, err
			}
			resolved[i] = value
		default:
			return nil, fmt.Errorf("unrecognized recipient link type %T", link)
		}
	}
	return resolved, nil
}
