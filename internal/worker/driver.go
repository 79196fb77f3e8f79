// Package worker implements the Batch Driver: the per-run lifecycle
// that reads credentials, lists due emails, fans out one pipeline per
// email bounded by a weighted semaphore, and gathers results into an
// order-preserving batch summary. Grounded on the teacher's
// internal/service/task_processor.go for the semaphore.Weighted +
// sync.WaitGroup bounded fan-out idiom.
package worker

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/sync/semaphore"

	"github.com/carpentries/amy-email-worker/internal/attachment"
	"github.com/carpentries/amy-email-worker/internal/config"
	"github.com/carpentries/amy-email-worker/internal/domain"
	"github.com/carpentries/amy-email-worker/internal/logger"
	"github.com/carpentries/amy-email-worker/internal/mailer"
	"github.com/carpentries/amy-email-worker/internal/pipeline"
	"github.com/carpentries/amy-email-worker/internal/render"
	"github.com/carpentries/amy-email-worker/internal/scheduledemailclient"
	"github.com/carpentries/amy-email-worker/internal/token"
	"github.com/carpentries/amy-email-worker/internal/uriresolver"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	secretMailgunKey    = "mailgun_key"
	secretSenderDomain  = "mailgun_sender_domain"
	secretTokenUsername = "token_username"
	secretTokenPassword = "token_password"
	secretS3Bucket      = "s3_bucket"
)

// Result is the Driver's per-run output.
type Result struct {
	Emails []domain.BatchResult `json:"emails"`
}

// pipelineRunner is the narrow contract fanOut depends on, satisfied by
// *pipeline.Pipeline, narrowed so tests can substitute a stub.
type pipelineRunner interface {
	Run(ctx context.Context, email domain.ScheduledEmail) (domain.BatchResult, error)
}

// Driver owns one run's lifecycle (spec §4.9).
type Driver struct {
	settings config.Settings
	secrets  domain.SecretStore
	log      logger.Logger
}

// New builds a Driver.
func New(settings config.Settings, secrets domain.SecretStore, log logger.Logger) *Driver {
	return &Driver{settings: settings, secrets: secrets, log: log}
}

// Run executes one batch: read secrets, build the shared collaborators,
// list due emails, fan out a pipeline per email bounded by
// MaxConcurrentPipelines, and gather results preserving list_due order
// (spec §4.9, invariant 2).
func (d *Driver) Run(ctx context.Context) (Result, error) {
	mailgunKey, err := d.requireSecret(ctx, secretMailgunKey)
	if err != nil {
		return Result{}, err
	}
	senderDomain, err := d.requireSecret(ctx, secretSenderDomain)
	if err != nil {
		return Result{}, err
	}
	tokenUsername, err := d.requireSecret(ctx, secretTokenUsername)
	if err != nil {
		return Result{}, err
	}
	tokenPassword, err := d.requireSecret(ctx, secretTokenPassword)
	if err != nil {
		return Result{}, err
	}
	bucket, err := d.requireSecret(ctx, secretS3Bucket)
	if err != nil {
		return Result{}, err
	}

	httpClient := &http.Client{Timeout: d.settings.HTTPTimeout}

	tokenCache := token.New(httpClient, d.settings.APIBaseURL, tokenUsername, tokenPassword, d.settings.TokenStaleness)
	emailClient := scheduledemailclient.New(httpClient, tokenCache, d.settings.APIBaseURL, d.settings.MaxPages)
	resolver := uriresolver.New(httpClient, tokenCache, d.settings.APIBaseURL)
	renderer := render.New()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	attachments := attachment.New(s3.NewFromConfig(awsCfg), bucket)

	dispatcher := mailer.New(httpClient, d.settings.MailAPIBaseURL, mailgunKey, senderDomain, d.settings.OverwriteOutgoingEmails)

	p := pipeline.New(emailClient, tokenCache, resolver, renderer, attachments, dispatcher, d.log)

	due, err := emailClient.ListDue(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list due emails: %w", err)
	}

	results := d.fanOut(ctx, p, due)
	return Result{Emails: results}, nil
}

// fanOut runs one pipeline per email, bounded by MaxConcurrentPipelines,
// writing into an index-addressed slice so the returned order always
// matches list_due's order regardless of completion interleaving
// (invariant 2). A panic or a LockError from any single pipeline is
// converted to a {partial snapshot, failed} entry rather than killing
// the run (spec §4.9).
func (d *Driver) fanOut(ctx context.Context, p pipelineRunner, due []domain.ScheduledEmail) []domain.BatchResult {
	results := make([]domain.BatchResult, len(due))
	sem := semaphore.NewWeighted(d.settings.MaxConcurrentPipelines)

	doneCh := make(chan struct{}, len(due))
	for i, email := range due {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = domain.BatchResult{EmailSnapshot: email, TerminalStatus: domain.StatusFailed}
			doneCh <- struct{}{}
			continue
		}

		go func(i int, email domain.ScheduledEmail) {
			defer sem.Release(1)
			defer func() {
				if r := recover(); r != nil {
					d.log.WithField("email_id", email.ID.String()).Error(fmt.Sprintf("pipeline panicked: %v", r))
					results[i] = domain.BatchResult{EmailSnapshot: email, TerminalStatus: domain.StatusFailed}
				}
				doneCh <- struct{}{}
			}()

			result, err := p.Run(ctx, email)
			if err != nil {
				d.log.WithField("email_id", email.ID.String()).Error(fmt.Sprintf("pipeline error: %v", err))
				results[i] = domain.BatchResult{EmailSnapshot: email, TerminalStatus: domain.StatusFailed}
				return
			}
			results[i] = result
		}(i, email)
	}

	for range due {
		<-doneCh
	}

	return results
}

func (d *Driver) requireSecret(ctx context.Context, name string) (string, error) {
	value, ok, err := d.secrets.GetParameter(ctx, d.settings.SecretPath(name))
	if err != nil {
		return "", fmt.Errorf("failed to read secret %q: %w", name, err)
	}
	if !ok {
		return "", fmt.Errorf("required secret %q is not set", name)
	}
	return value, nil
}
