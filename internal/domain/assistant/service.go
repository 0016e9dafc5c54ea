// Package assistant turns a user's AI-thread message into a persisted reply
// from the fixed assistant identity. It gathers a small patient context,
// builds the prompt, calls the completion service, and records the result as
// a regular message so every read path treats it like any other row.
package assistant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/companion/companion/internal/domain/health"
	"github.com/companion/companion/internal/domain/identity"
	"github.com/companion/companion/internal/domain/messaging"
	"github.com/companion/companion/internal/platform/completion"
)

// PatientReader resolves the patient profile behind a user account.
type PatientReader interface {
	PatientByUserID(ctx context.Context, userID uuid.UUID) (*identity.Patient, error)
}

// HealthReader supplies the readings and complaints folded into the prompt.
type HealthReader interface {
	LatestMeasurements(ctx context.Context, patientID uuid.UUID) ([]*health.Measurement, error)
	ActiveComplaints(ctx context.Context, patientID uuid.UUID) ([]*health.Complaint, error)
}

// Pusher delivers a push notification about the new reply. Optional.
type Pusher interface {
	NotifyUser(ctx context.Context, userID uuid.UUID, title, body string, data map[string]string) error
}

// Service generates and persists assistant replies.
type Service struct {
	completer completion.Completer
	patients  PatientReader
	health    HealthReader
	messages  *messaging.Service
	sessions  *messaging.SessionManager
	pusher    Pusher
	logger    zerolog.Logger
}

func NewService(completer completion.Completer, patients PatientReader, healthReader HealthReader, messages *messaging.Service, sessions *messaging.SessionManager, pusher Pusher, logger zerolog.Logger) *Service {
	return &Service{
		completer: completer,
		patients:  patients,
		health:    healthReader,
		messages:  messages,
		sessions:  sessions,
		pusher:    pusher,
		logger:    logger.With().Str("component", "assistant").Logger(),
	}
}

// Respond generates the assistant's answer to userText and stores it as a
// message to the user. Patient context is best-effort: a failed profile or
// measurement lookup degrades the prompt, it does not block the reply.
func (s *Service) Respond(ctx context.Context, userID uuid.UUID, userText string) error {
	pctx := s.collectContext(ctx, userID)

	prompt := BuildPrompt(pctx, userText)
	reply, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		return fmt.Errorf("generate reply: %w", err)
	}

	if _, err := s.messages.RecordAssistantReply(ctx, userID, reply); err != nil {
		return fmt.Errorf("store reply: %w", err)
	}

	s.sessions.RefreshUser(ctx, userID)

	if s.pusher != nil {
		if err := s.pusher.NotifyUser(ctx, userID, messaging.AIDisplayName, truncate(reply, 120), map[string]string{"thread": "ai"}); err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("push reply notification")
		}
	}

	s.logger.Info().Str("user_id", userID.String()).Msg("assistant reply stored")
	return nil
}

// collectContext gathers whatever patient data is available.
func (s *Service) collectContext(ctx context.Context, userID uuid.UUID) *PatientContext {
	pctx := &PatientContext{}

	p, err := s.patients.PatientByUserID(ctx, userID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("patient profile unavailable for prompt")
		return pctx
	}

	pctx.Name = p.FullName()
	pctx.Age = p.Age(nowFunc())
	if p.Gender != nil {
		pctx.Gender = *p.Gender
	}
	if p.PatientNote != nil {
		pctx.Note = *p.PatientNote
	}

	if readings, err := s.health.LatestMeasurements(ctx, p.ID); err == nil {
		pctx.Measurements = readings
	} else {
		s.logger.Warn().Err(err).Msg("measurements unavailable for prompt")
	}

	if complaints, err := s.health.ActiveComplaints(ctx, p.ID); err == nil {
		pctx.Complaints = complaints
	} else {
		s.logger.Warn().Err(err).Msg("complaints unavailable for prompt")
	}

	return pctx
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
