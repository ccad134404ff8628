package senders

import (
	"context"
	"errors"

	"tenderwatch/internal/dispatch"
	"tenderwatch/internal/types"
)

// CatalogReader resolves the display data needed to render a message.
type CatalogReader interface {
	GetUserProfile(ctx context.Context, userID string) (*types.UserProfile, error)
	GetContract(ctx context.Context, contractID string) (*types.ContractSummary, error)
}

// Compile-time assertion that EmailSender implements dispatch.Sender.
var _ dispatch.Sender = (*EmailSender)(nil)

// EmailSender is the production Sender: it resolves the job's user and
// contract from the catalog, renders the message for the job's type, and
// delivers via the configured EmailProvider.
//
// Error classification drives the retry policy: a vanished user or contract
// and an unregistered job type are permanent failures, while catalog or
// provider outages are transient.
type EmailSender struct {
	catalog  CatalogReader
	provider EmailProvider
	registry *RendererRegistry
	from     EmailAddress
	clock    types.Clock
	logger   types.Logger
}

// NewEmailSender creates an EmailSender.
func NewEmailSender(catalog CatalogReader, provider EmailProvider, registry *RendererRegistry, from EmailAddress, clock types.Clock, logger types.Logger) *EmailSender {
	return &EmailSender{
		catalog:  catalog,
		provider: provider,
		registry: registry,
		from:     from,
		clock:    clock,
		logger:   logger,
	}
}

// Send renders and delivers one job. Returns the provider receipt on success.
func (s *EmailSender) Send(ctx context.Context, job *types.NotificationJob) (dispatch.SendResult, error) {
	renderer, ok := s.registry.Get(job.Type)
	if !ok {
		return dispatch.SendResult{}, types.NewAppError(
			types.ErrCodeSendUnsupportedType,
			"no renderer registered for job type "+string(job.Type),
			nil,
		)
	}

	user, err := s.catalog.GetUserProfile(ctx, job.TargetUserID)
	if err != nil {
		return dispatch.SendResult{}, classifyLookupError(err, "user lookup failed")
	}

	contract, err := s.catalog.GetContract(ctx, job.SubjectID)
	if err != nil {
		return dispatch.SendResult{}, classifyLookupError(err, "contract lookup failed")
	}

	rendered, err := renderer.Render(job, user, contract, s.clock.Now())
	if err != nil {
		// Rendering failures do not self-resolve.
		return dispatch.SendResult{}, types.NewAppError(
			types.ErrCodeSendRenderFailed,
			"failed to render message: "+err.Error(),
			err,
		)
	}

	result, err := s.provider.SendEmail(ctx, EmailMessage{
		To:          EmailAddress{Address: user.Email, Name: displayName(user)},
		From:        s.from,
		Subject:     rendered.Subject,
		Text:        rendered.Text,
		ReferenceID: job.ID,
	})
	if err != nil {
		return dispatch.SendResult{}, types.NewAppError(
			types.ErrCodeSendTransient,
			"provider send failed",
			err,
		)
	}

	return dispatch.SendResult{ReceiptID: result.MessageID}, nil
}

// classifyLookupError maps catalog errors onto send outcomes: missing rows
// are permanent, everything else (store outage) is transient.
func classifyLookupError(err error, msg string) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case types.ErrCodeNotFoundUser, types.ErrCodeNotFoundContract:
			return types.NewAppError(types.ErrCodeSendTargetNotFound, msg+": "+appErr.Message, err)
		}
	}
	return types.NewAppError(types.ErrCodeSendTransient, msg, err)
}
