package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ticket-scanner/internal/status"
	"ticket-scanner/models"
	"ticket-scanner/monitoring"
)

// VerificationService classifies scanned payloads against the store and
// performs the single consequential write: marking a valid ticket used.
type VerificationService struct {
	codec  *PayloadCodec
	store  TicketStore
	notify *NotifyService
}

func NewVerificationService(codec *PayloadCodec, store TicketStore, notify *NotifyService) *VerificationService {
	return &VerificationService{
		codec:  codec,
		store:  store,
		notify: notify,
	}
}

// Verify is a pure read-path decision over the store's current state.
// Codec and structural failures map to the invalid status; store
// failures propagate as errors so callers can answer with a retryable
// infrastructure fault instead of declaring the ticket fraudulent.
func (s *VerificationService) Verify(ctx context.Context, encrypted string) (*models.VerifyResult, error) {
	started := time.Now()
	result, err := s.verify(ctx, encrypted)
	if err != nil {
		monitoring.TrackScan(string(models.StatusError), time.Since(started))
		return nil, err
	}

	monitoring.TrackScan(string(result.Status), time.Since(started))
	s.notify.PublishScan(result.Status, result.Ticket)
	return result, nil
}

func (s *VerificationService) verify(ctx context.Context, encrypted string) (*models.VerifyResult, error) {
	payload, err := s.codec.DecodePayload(encrypted)
	if err != nil {
		if errors.Is(err, status.ErrInvalidPayload) {
			return &models.VerifyResult{
				Status:  models.StatusInvalid,
				Message: "Invalid QR code format",
			}, nil
		}
		return &models.VerifyResult{
			Status:  models.StatusInvalid,
			Message: "Invalid QR code - decryption failed",
		}, nil
	}

	ticketID := payload.TicketID
	email := payload.Email

	ticket, err := s.store.FindByTicketID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, status.ErrTicketNotFound) {
			return &models.VerifyResult{
				Status:  models.StatusInvalid,
				Message: "Ticket not found - Invalid ticket",
			}, nil
		}
		return nil, fmt.Errorf("verify %s: %w", ticketID, err)
	}

	if ticket.Email != email {
		slog.Warn("ticket payload email mismatch", "ticket_id", ticketID)
		return &models.VerifyResult{
			Status:  models.StatusInvalid,
			Message: "Ticket data mismatch - Invalid ticket",
		}, nil
	}

	if ticket.Used {
		return &models.VerifyResult{
			Status:  models.StatusUsed,
			Message: "This ticket has already been used",
			Ticket:  ticket,
		}, nil
	}

	return &models.VerifyResult{
		Status:  models.StatusValid,
		Message: "Valid ticket - Entry allowed",
		Ticket:  ticket,
	}, nil
}

// MarkUsed redeems a ticket at most once. ticketKey is canonically a
// ticket_id; a key matching no ticket is re-resolved as a payment_id,
// but the conditional update always runs against the resolved record's
// ticket_id. A failed compare-and-set is conclusive and never retried.
func (s *VerificationService) MarkUsed(ctx context.Context, ticketKey, scannedBy string) (*models.TicketRecord, error) {
	ticketID := ticketKey

	if _, err := s.store.FindByTicketID(ctx, ticketKey); err != nil {
		if !errors.Is(err, status.ErrTicketNotFound) {
			return nil, fmt.Errorf("resolve ticket key: %w", err)
		}
		byPayment, perr := s.store.FindByPaymentID(ctx, ticketKey)
		if perr != nil {
			if errors.Is(perr, status.ErrTicketNotFound) {
				monitoring.TrackRedemption("not_found")
				return nil, status.ErrTicketNotFound
			}
			return nil, fmt.Errorf("resolve ticket key: %w", perr)
		}
		ticketID = byPayment.TicketID
	}

	ticket, err := s.store.MarkUsed(ctx, ticketID, scannedBy)
	if err != nil {
		switch {
		case errors.Is(err, status.ErrTicketUsed):
			monitoring.TrackRedemption("already_used")
		case errors.Is(err, status.ErrTicketNotFound):
			monitoring.TrackRedemption("not_found")
		default:
			monitoring.TrackRedemption("error")
		}
		return nil, err
	}

	monitoring.TrackRedemption("success")
	s.notify.PublishRedemption(ticket)
	return ticket, nil
}
