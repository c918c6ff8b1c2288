// Package notify delivers approval events to the people who need to act on
// them or hear about them.
//
// Delivery is fire-and-forget from the engine's point of view: callers log
// and count failures but never roll back the state change that produced
// the notification.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Type identifies the event a notification reports.
type Type string

const (
	// TypeBatchReady tells an approver a batch awaits bulk action.
	TypeBatchReady Type = "batch_ready"
	// TypeInspectionSubmitted tells an approver an inspection awaits a vote.
	TypeInspectionSubmitted Type = "inspection_submitted"
	// TypeInspectionResolved tells a submitter the inspection was finalized.
	TypeInspectionResolved Type = "inspection_resolved"
)

// String returns the string representation of the type.
func (t Type) String() string {
	return string(t)
}

// Notification is the payload handed to a Notifier. Exactly one of
// InspectionID or BatchID is set.
type Notification struct {
	Type           Type      `json:"type"`
	OrganizationID uuid.UUID `json:"organization_id"`
	InspectionID   uuid.UUID `json:"inspection_id"`
	BatchID        string    `json:"batch_id,omitempty"`
	Count          int       `json:"count"`
	WorkflowName   string    `json:"workflow_name"`
	Category       string    `json:"category,omitempty"`
	Status         string    `json:"status,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Subject returns the identifier the notification is about.
func (n Notification) Subject() string {
	if n.BatchID != "" {
		return n.BatchID
	}
	return n.InspectionID.String()
}

// Message renders a one-line human-readable summary.
func (n Notification) Message() string {
	title := cases.Title(language.English)
	label := n.WorkflowName
	if n.Category != "" {
		label = fmt.Sprintf("%s (%s)", n.WorkflowName, title.String(strings.ReplaceAll(n.Category, "_", " ")))
	}

	switch n.Type {
	case TypeBatchReady:
		noun := "inspections"
		if n.Count == 1 {
			noun = "inspection"
		}
		return fmt.Sprintf("%d %s of %s ready for bulk approval", n.Count, noun, label)
	case TypeInspectionSubmitted:
		return fmt.Sprintf("New %s inspection awaiting your approval", label)
	case TypeInspectionResolved:
		return fmt.Sprintf("Your %s inspection was %s", label, n.Status)
	default:
		return fmt.Sprintf("%s: %s", n.Type, label)
	}
}

// Notifier delivers one notification to one recipient.
type Notifier interface {
	Notify(ctx context.Context, recipientID uuid.UUID, n Notification) error
}

// Multi fans a notification out to every notifier, returning the joined
// errors of those that failed.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, recipientID uuid.UUID, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, recipientID, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every notification.
type Discard struct{}

// Notify implements Notifier.
func (Discard) Notify(context.Context, uuid.UUID, Notification) error { return nil }
