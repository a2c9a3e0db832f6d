package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"ticket-scanner/internal/status"
	"ticket-scanner/models"
	"ticket-scanner/utils"
)

// ImportService loads ticket records out of payment exports. Both paths
// are additive: a record that already exists is skipped or has its
// holder details refreshed, but its redemption state is never touched.
type ImportService struct {
	store TicketStore
}

func NewImportService(store TicketStore) *ImportService {
	return &ImportService{store: store}
}

// SheetRow is one line of the lighter sheet export, where payment_id is
// the only stable identity.
type SheetRow struct {
	PaymentID string `json:"payment_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Type      string `json:"type"`
}

// ImportRaw bulk-inserts full records. Duplicates by ticket_id or
// payment_id are skipped, never overwritten; rows missing required
// fields are skipped with a detail line. Records arriving without a
// ticket id get a random one.
func (s *ImportService) ImportRaw(ctx context.Context, tickets []*models.TicketRecord) *models.BulkInsertResponse {
	resp := &models.BulkInsertResponse{Success: true, Details: []string{}}

	for _, ticket := range tickets {
		if ticket.TicketID == "" && ticket.PaymentID != "" {
			if code, err := utils.GenerateCode(6); err == nil {
				ticket.TicketID = "TKT-" + code
			}
		}
		if ticket.TicketID == "" || ticket.PaymentID == "" || ticket.Email == "" || ticket.Name == "" {
			resp.Skipped++
			resp.Details = append(resp.Details, fmt.Sprintf("Skipped %s (missing required fields)", ticket.PaymentID))
			continue
		}

		inserted, err := s.store.InsertIfAbsent(ctx, ticket)
		if err != nil {
			// A duplicate that slipped past the pre-check and hit the
			// unique index is still just a duplicate.
			if errors.Is(err, status.ErrDuplicateTicket) {
				resp.Skipped++
				resp.Details = append(resp.Details, fmt.Sprintf("Skipped %s (already exists)", ticket.PaymentID))
				continue
			}
			resp.Skipped++
			resp.Details = append(resp.Details, fmt.Sprintf("Error with %s: %v", ticket.PaymentID, err))
			log.Printf("Error inserting ticket %s: %v", ticket.PaymentID, err)
			continue
		}
		if !inserted {
			resp.Skipped++
			resp.Details = append(resp.Details, fmt.Sprintf("Skipped %s (already exists)", ticket.PaymentID))
			continue
		}

		resp.Inserted++
		resp.Details = append(resp.Details, fmt.Sprintf("Inserted %s", ticket.PaymentID))
	}

	resp.Message = fmt.Sprintf("Inserted %d tickets, skipped %d", resp.Inserted, resp.Skipped)
	return resp
}

// ImportSheet upserts rows keyed by payment_id. New rows get the
// derived ticket id; existing rows only have name, email and type
// refreshed.
func (s *ImportService) ImportSheet(ctx context.Context, rows []SheetRow) (inserted, updated int) {
	for _, row := range rows {
		if row.PaymentID == "" {
			continue
		}

		wasInsert, err := s.store.UpsertByPaymentID(ctx, &models.TicketRecord{
			PaymentID:  row.PaymentID,
			Name:       row.Name,
			Email:      row.Email,
			TicketType: row.Type,
		})
		if err != nil {
			log.Printf("Error upserting ticket %s: %v", row.PaymentID, err)
			continue
		}
		if wasInsert {
			inserted++
		} else {
			updated++
		}
	}
	return inserted, updated
}
