// Package jobs contains the background job handlers run by the worker.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/DukeRupert/formwell/internal/domain"
	"github.com/DukeRupert/formwell/internal/email"
	"github.com/DukeRupert/formwell/internal/service"
	"github.com/DukeRupert/formwell/internal/worker"
	"github.com/google/uuid"
)

// UserGetter loads the recipient of a notification.
// *postgres.UserStore satisfies it.
type UserGetter interface {
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// QuotaThresholdHandler emails a user when a usage dimension reaches 80% or
// 100% of its plan limit.
type QuotaThresholdHandler struct {
	users        UserGetter
	emailService email.EmailService
	logger       *slog.Logger
}

// NewQuotaThresholdHandler creates a new handler for quota_threshold jobs.
func NewQuotaThresholdHandler(users UserGetter, emailService email.EmailService, logger *slog.Logger) *QuotaThresholdHandler {
	return &QuotaThresholdHandler{
		users:        users,
		emailService: emailService,
		logger:       logger,
	}
}

// Type returns the job type identifier.
func (h *QuotaThresholdHandler) Type() string {
	return worker.JobTypeQuotaThreshold
}

// Handle sends the threshold email. Malformed payloads and deleted users fail
// permanently; delivery errors are retried.
func (h *QuotaThresholdHandler) Handle(ctx context.Context, payload []byte) error {
	var p worker.QuotaThresholdPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return worker.Permanentf("invalid payload: %w", err)
	}

	event, err := p.Event()
	if err != nil {
		return worker.NewPermanentError(err)
	}

	user, err := h.users.GetUser(ctx, p.UserID)
	if err != nil {
		var derr *domain.Error
		if errors.As(err, &derr) && derr.Code == domain.ENOTFOUND {
			return worker.Permanentf("user not found: %s", p.UserID)
		}
		return fmt.Errorf("fetch user: %w", err)
	}

	notice := email.ThresholdNotice{
		PlanName:  event.PlanName,
		Dimension: event.Dimension.Unit(),
		Threshold: int(event.Threshold),
		Usage:     event.Usage,
		Limit:     event.Limit,
		Month:     p.Month,
		Message:   service.ThresholdMessage(event),
	}

	if err := h.emailService.SendThresholdEmail(ctx, user.Email, user.Name, notice); err != nil {
		return fmt.Errorf("send threshold email: %w", err)
	}

	h.logger.Info("Sent usage threshold email",
		"user_id", p.UserID,
		"dimension", p.Dimension,
		"threshold", p.Threshold,
		"month", p.Month,
	)
	return nil
}

var _ worker.JobHandler = (*QuotaThresholdHandler)(nil)
