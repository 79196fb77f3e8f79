// Package domain holds the data model and component contracts shared
// across the worker: the ScheduledEmail state machine, the URI
// sublanguage's parsed representation, and the interfaces each pipeline
// step depends on.
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ScheduledEmailStatus is the closed set of states an upstream
// ScheduledEmail record can be in.
type ScheduledEmailStatus string

const (
	StatusScheduled ScheduledEmailStatus = "scheduled"
	StatusLocked    ScheduledEmailStatus = "locked"
	StatusRunning   ScheduledEmailStatus = "running"
	StatusSucceeded ScheduledEmailStatus = "succeeded"
	StatusFailed    ScheduledEmailStatus = "failed"
	StatusCancelled ScheduledEmailStatus = "cancelled"
)

// IsTerminal reports whether the status is one of the terminal states
// (succeeded, failed, cancelled). A failed record is still eligible for
// dispatch by a later run; see IsEligibleForDispatch.
func (s ScheduledEmailStatus) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsEligibleForDispatch reports whether list_due would surface a record in
// this state.
func (s ScheduledEmailStatus) IsEligibleForDispatch() bool {
	return s == StatusScheduled || s == StatusFailed
}

// Attachment is an upstream-declared blob reference.
type Attachment struct {
	Filename string `json:"filename"`
	BlobKey  string `json:"blob_key"`
	// PresignedURL fields are part of the upstream contract but ignored
	// by this worker; it always fetches by key.
	PresignedURL string `json:"presigned_url,omitempty"`
}

// ScheduledEmail is the immutable per-fetch snapshot of an upstream record.
type ScheduledEmail struct {
	ID            uuid.UUID            `json:"id"`
	CreatedAt     time.Time            `json:"created_at"`
	LastUpdatedAt *time.Time           `json:"last_updated_at,omitempty"`
	ScheduledFor  time.Time            `json:"scheduled_for"`
	State         ScheduledEmailStatus `json:"state"`

	ToHeader      []string `json:"to_header"`
	CcHeader      []string `json:"cc_header"`
	BccHeader     []string `json:"bcc_header"`
	FromHeader    string   `json:"from_header"`
	ReplyToHeader string   `json:"reply_to_header"`
	Subject       string   `json:"subject"`
	Body          string   `json:"body"`

	// ToHeaderContext and Context arrive from the API as raw JSON and are
	// validated/parsed by the pipeline before use (spec §4.8 step 2).
	ToHeaderContext []json.RawMessage          `json:"to_header_context"`
	Context         map[string]json.RawMessage `json:"context"`

	Attachments []Attachment `json:"attachments"`
	Template    string       `json:"template,omitempty"`
}

// RenderedEmail is the pipeline-local, fully-resolved email ready to send.
type RenderedEmail struct {
	ScheduledEmail

	SubjectRendered        string
	BodyRendered           string
	ToHeaderRendered       []string
	AttachmentsWithContent []AttachmentWithContent
}

// AttachmentWithContent pairs a declared attachment with its downloaded bytes.
type AttachmentWithContent struct {
	Filename string
	Bytes    []byte
}

// BatchResult is one entry of the driver's per-run summary.
type BatchResult struct {
	EmailSnapshot  ScheduledEmail
	TerminalStatus ScheduledEmailStatus
}
