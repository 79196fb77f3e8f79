// Command worker is the Lambda entrypoint for the batch email dispatch
// worker: on each invocation it builds settings, credentials, and the
// Batch Driver, runs one batch, and returns the run's summary. Exit
// status is success for any completed run, regardless of per-email
// outcomes (spec §6). Grounded on original_source/worker/main.py's
// handler(event, context) shape, translated to the Go Lambda runtime's
// equivalent (github.com/aws/aws-lambda-go/lambda), since the upstream
// secret store (AWS SSM) and blob store (AWS S3) this worker depends on
// confirm an AWS Lambda deployment target.
package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/carpentries/amy-email-worker/internal/config"
	"github.com/carpentries/amy-email-worker/internal/logger"
	"github.com/carpentries/amy-email-worker/internal/secretstore"
	"github.com/carpentries/amy-email-worker/internal/worker"
)

// invocationEvent is the opaque invocation envelope: its fields are
// logged but never interpreted (spec §6).
type invocationEvent map[string]interface{}

func handle(ctx context.Context, event invocationEvent) (worker.Result, error) {
	settings, err := config.Load()
	if err != nil {
		return worker.Result{}, fmt.Errorf("failed to load settings: %w", err)
	}

	log := logger.New(settings.LogLevel)
	eventJSON, _ := json.Marshal(event)
	log.WithField("event", string(eventJSON)).Info("starting email worker run")

	secrets, err := secretstore.New(ctx)
	if err != nil {
		return worker.Result{}, fmt.Errorf("failed to build secret store: %w", err)
	}

	driver := worker.New(settings, secrets, log)
	result, err := driver.Run(ctx)
	if err != nil {
		return worker.Result{}, fmt.Errorf("batch run failed: %w", err)
	}

	log.WithField("email_count", len(result.Emails)).Info("completed email worker run")
	return result, nil
}

func main() {
	lambda.Start(handle)
}
