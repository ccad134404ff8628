package senders

import (
	"fmt"
	"math"
	"strings"
	"time"

	"tenderwatch/internal/types"
)

// RenderedMessage is the channel-agnostic output of a renderer.
type RenderedMessage struct {
	Subject string
	Text    string
}

// Renderer produces the message content for one job type.
type Renderer interface {
	Render(job *types.NotificationJob, user *types.UserProfile, contract *types.ContractSummary, now time.Time) (RenderedMessage, error)
}

// RendererRegistry maps the closed JobType set to renderers. Adding a
// notification type means registering a renderer here; a job whose type has
// no renderer fails permanently with an unsupported-type error.
type RendererRegistry struct {
	renderers map[types.JobType]Renderer
}

// NewRendererRegistry returns a registry with the built-in renderers
// registered.
func NewRendererRegistry() *RendererRegistry {
	return &RendererRegistry{
		renderers: map[types.JobType]Renderer{
			types.JobTypeContractMatch:    contractMatchRenderer{},
			types.JobTypeDeadlineReminder: deadlineReminderRenderer{},
		},
	}
}

// Register adds or replaces the renderer for a job type.
func (r *RendererRegistry) Register(t types.JobType, renderer Renderer) {
	r.renderers[t] = renderer
}

// Get returns the renderer for a job type, or false when none is registered.
func (r *RendererRegistry) Get(t types.JobType) (Renderer, bool) {
	renderer, ok := r.renderers[t]
	return renderer, ok
}

// contractMatchRenderer announces a newly matched contract opportunity.
type contractMatchRenderer struct{}

func (contractMatchRenderer) Render(job *types.NotificationJob, user *types.UserProfile, contract *types.ContractSummary, _ time.Time) (RenderedMessage, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", displayName(user))
	fmt.Fprintf(&b, "A new government contract matching your profile was just published:\n\n")
	fmt.Fprintf(&b, "  %s\n", contract.Title)
	fmt.Fprintf(&b, "  Agency: %s\n", contract.Agency)
	if contract.Category != "" {
		fmt.Fprintf(&b, "  Category: %s\n", contract.Category)
	}
	if contract.EstimatedValue != "" {
		fmt.Fprintf(&b, "  Estimated value: %s\n", contract.EstimatedValue)
	}
	if contract.SubmissionDeadline != nil {
		fmt.Fprintf(&b, "  Submission deadline: %s\n", contract.SubmissionDeadline.Format("2 January 2006"))
	}

	return RenderedMessage{
		Subject: "New contract opportunity: " + contract.Title,
		Text:    b.String(),
	}, nil
}

// deadlineReminderRenderer nudges a subscriber ahead of a submission
// deadline.
type deadlineReminderRenderer struct{}

func (deadlineReminderRenderer) Render(job *types.NotificationJob, user *types.UserProfile, contract *types.ContractSummary, now time.Time) (RenderedMessage, error) {
	if contract.SubmissionDeadline == nil {
		return RenderedMessage{}, fmt.Errorf("contract %s has no submission deadline", contract.ID)
	}

	days := daysUntil(now, *contract.SubmissionDeadline)

	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", displayName(user))
	switch days {
	case 0:
		fmt.Fprintf(&b, "The submission deadline for %q is today.\n", contract.Title)
	case 1:
		fmt.Fprintf(&b, "The submission deadline for %q is tomorrow.\n", contract.Title)
	default:
		fmt.Fprintf(&b, "The submission deadline for %q is in %d days.\n", contract.Title, days)
	}
	fmt.Fprintf(&b, "\n  Agency: %s\n", contract.Agency)
	fmt.Fprintf(&b, "  Deadline: %s\n", contract.SubmissionDeadline.Format("2 January 2006"))

	return RenderedMessage{
		Subject: fmt.Sprintf("Deadline reminder: %s", contract.Title),
		Text:    b.String(),
	}, nil
}

// daysUntil returns the whole days remaining before the deadline, rounding
// partial days up and clamping at zero for past deadlines.
func daysUntil(now, deadline time.Time) int {
	diff := deadline.Sub(now)
	if diff <= 0 {
		return 0
	}
	return int(math.Ceil(diff.Hours() / 24))
}

func displayName(user *types.UserProfile) string {
	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if name == "" {
		return "there"
	}
	return name
}
