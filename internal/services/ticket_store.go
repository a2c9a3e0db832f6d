package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/shopspring/decimal"

	"ticket-scanner/internal/status"
	"ticket-scanner/models"
)

// TicketStore is the single shared mutable resource of the scanner. It
// must be safe for unbounded concurrent readers and writers; MarkUsed
// is the only mutation on the scan path and must be atomic at the
// storage layer.
type TicketStore interface {
	FindByTicketID(ctx context.Context, ticketID string) (*models.TicketRecord, error)
	FindByPaymentID(ctx context.Context, paymentID string) (*models.TicketRecord, error)
	InsertIfAbsent(ctx context.Context, ticket *models.TicketRecord) (bool, error)
	UpsertByPaymentID(ctx context.Context, ticket *models.TicketRecord) (bool, error)
	MarkUsed(ctx context.Context, ticketID, scannedBy string) (*models.TicketRecord, error)
	ListAll(ctx context.Context) ([]*models.TicketRecord, error)
	Counts(ctx context.Context) (total int64, used int64, err error)
}

// IssuanceTracker records batch delivery completion per payment_id.
// Only the issuance batch reads or writes it.
type IssuanceTracker interface {
	IssuedPaymentIDs(ctx context.Context) (map[string]struct{}, error)
	MarkIssued(ctx context.Context, st models.IssuanceStatus) error
}

const (
	ticketsCollection  = "tickets"
	issuanceCollection = "issuance"
)

// PBTicketStore keeps tickets in the embedded PocketBase database.
type PBTicketStore struct {
	app core.App
}

func NewPBTicketStore(app core.App) *PBTicketStore {
	return &PBTicketStore{app: app}
}

func (s *PBTicketStore) FindByTicketID(ctx context.Context, ticketID string) (*models.TicketRecord, error) {
	return s.findByField("ticket_id", ticketID)
}

func (s *PBTicketStore) FindByPaymentID(ctx context.Context, paymentID string) (*models.TicketRecord, error) {
	return s.findByField("payment_id", paymentID)
}

func (s *PBTicketStore) findByField(field, value string) (*models.TicketRecord, error) {
	record, err := s.app.FindFirstRecordByFilter(
		ticketsCollection,
		fmt.Sprintf("%s = {:value}", field),
		dbx.Params{"value": value},
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, status.ErrTicketNotFound
		}
		return nil, fmt.Errorf("find ticket by %s: %w", field, err)
	}
	return recordToTicket(record), nil
}

// InsertIfAbsent writes the ticket only if neither ticket_id nor
// payment_id exists yet. Returns false without writing on a duplicate.
func (s *PBTicketStore) InsertIfAbsent(ctx context.Context, ticket *models.TicketRecord) (bool, error) {
	_, err := s.app.FindFirstRecordByFilter(
		ticketsCollection,
		"ticket_id = {:tid} || payment_id = {:pid}",
		dbx.Params{"tid": ticket.TicketID, "pid": ticket.PaymentID},
	)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("check duplicate: %w", err)
	}

	collection, err := s.app.FindCollectionByNameOrId(ticketsCollection)
	if err != nil {
		return false, fmt.Errorf("find tickets collection: %w", err)
	}

	record := core.NewRecord(collection)
	applyTicket(record, ticket)
	record.Set("used", false)

	if err := s.app.Save(record); err != nil {
		// Unique indexes on ticket_id/payment_id close the race between
		// the duplicate check and the save.
		if isUniqueViolation(err) {
			return false, fmt.Errorf("%w: %s", status.ErrDuplicateTicket, ticket.TicketID)
		}
		return false, fmt.Errorf("insert ticket %s: %w", ticket.TicketID, err)
	}
	return true, nil
}

// isUniqueViolation reports whether err is a unique index rejecting the
// row, as opposed to an infrastructure fault. SQLite reports the former
// as "UNIQUE constraint failed"; PocketBase field validation reports it
// as validation_not_unique.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "validation_not_unique")
}

// UpsertByPaymentID serves the sheet import path where payment_id is
// the only stable identity. New rows get a derived ticket id; existing
// rows keep used/used_at/created untouched.
func (s *PBTicketStore) UpsertByPaymentID(ctx context.Context, ticket *models.TicketRecord) (bool, error) {
	record, err := s.app.FindFirstRecordByFilter(
		ticketsCollection,
		"payment_id = {:pid}",
		dbx.Params{"pid": ticket.PaymentID},
	)
	if err == nil {
		record.Set("name", ticket.Name)
		record.Set("email", ticket.Email)
		if ticket.TicketType != "" {
			record.Set("ticket_type", ticket.TicketType)
		}
		if err := s.app.Save(record); err != nil {
			return false, fmt.Errorf("update ticket %s: %w", ticket.PaymentID, err)
		}
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("find ticket %s: %w", ticket.PaymentID, err)
	}

	collection, err := s.app.FindCollectionByNameOrId(ticketsCollection)
	if err != nil {
		return false, fmt.Errorf("find tickets collection: %w", err)
	}

	if ticket.TicketID == "" {
		ticket.TicketID = DeriveTicketID(ticket.PaymentID)
	}

	record = core.NewRecord(collection)
	applyTicket(record, ticket)
	record.Set("used", false)

	if err := s.app.Save(record); err != nil {
		return false, fmt.Errorf("insert ticket %s: %w", ticket.PaymentID, err)
	}
	return true, nil
}

// MarkUsed flips used false->true as one conditional UPDATE executed by
// SQLite itself. Concurrent attempts on the same ticket are totally
// ordered by the storage engine: exactly one sees rows affected = 1.
func (s *PBTicketStore) MarkUsed(ctx context.Context, ticketID, scannedBy string) (*models.TicketRecord, error) {
	now := types.NowDateTime()

	res, err := s.app.NonconcurrentDB().
		NewQuery(`UPDATE tickets
			SET used = TRUE, used_at = {:usedAt}, scanned_by = {:scannedBy}
			WHERE ticket_id = {:ticketId} AND used = FALSE`).
		Bind(dbx.Params{
			"usedAt":    now.String(),
			"scannedBy": scannedBy,
			"ticketId":  ticketID,
		}).
		WithContext(ctx).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("mark used %s: %w", ticketID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("mark used %s: %w", ticketID, err)
	}
	if affected == 0 {
		// A failed conditional update is conclusive: either the ticket
		// does not exist or another scanner already redeemed it.
		if _, ferr := s.FindByTicketID(ctx, ticketID); ferr != nil {
			return nil, status.ErrTicketNotFound
		}
		return nil, status.ErrTicketUsed
	}

	return s.FindByTicketID(ctx, ticketID)
}

func (s *PBTicketStore) ListAll(ctx context.Context) ([]*models.TicketRecord, error) {
	records, err := s.app.FindAllRecords(ticketsCollection)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}

	tickets := make([]*models.TicketRecord, 0, len(records))
	for _, record := range records {
		tickets = append(tickets, recordToTicket(record))
	}
	return tickets, nil
}

func (s *PBTicketStore) Counts(ctx context.Context) (int64, int64, error) {
	total, err := s.app.CountRecords(ticketsCollection)
	if err != nil {
		return 0, 0, fmt.Errorf("count tickets: %w", err)
	}
	used, err := s.app.CountRecords(ticketsCollection, dbx.HashExp{"used": true})
	if err != nil {
		return 0, 0, fmt.Errorf("count used tickets: %w", err)
	}
	return total, used, nil
}

// DeriveTicketID builds the deterministic ticket id used by the sheet
// import path.
func DeriveTicketID(paymentID string) string {
	return "TKT-" + paymentID
}

func applyTicket(record *core.Record, t *models.TicketRecord) {
	record.Set("ticket_id", t.TicketID)
	record.Set("payment_id", t.PaymentID)
	record.Set("email", t.Email)
	record.Set("name", t.Name)
	record.Set("phone", t.Phone)
	record.Set("event_name", t.EventName)
	record.Set("event_date", t.EventDate)
	record.Set("ticket_type", t.TicketType)
	record.Set("price", t.Price.InexactFloat64())
}

func recordToTicket(record *core.Record) *models.TicketRecord {
	ticket := &models.TicketRecord{
		ID:         record.Id,
		TicketID:   record.GetString("ticket_id"),
		PaymentID:  record.GetString("payment_id"),
		Email:      record.GetString("email"),
		Name:       record.GetString("name"),
		Phone:      record.GetString("phone"),
		EventName:  record.GetString("event_name"),
		EventDate:  record.GetString("event_date"),
		TicketType: record.GetString("ticket_type"),
		Price:      decimal.NewFromFloat(record.GetFloat("price")),
		Used:       record.GetBool("used"),
		CreatedAt:  record.GetDateTime("created").Time(),
		ScannedBy:  record.GetString("scanned_by"),
	}

	if usedAt := record.GetDateTime("used_at"); !usedAt.IsZero() {
		t := usedAt.Time()
		ticket.UsedAt = &t
	}

	return ticket
}

// PBIssuanceTracker keeps issuance completion in its own collection,
// keyed by payment_id.
type PBIssuanceTracker struct {
	app core.App
}

func NewPBIssuanceTracker(app core.App) *PBIssuanceTracker {
	return &PBIssuanceTracker{app: app}
}

func (t *PBIssuanceTracker) IssuedPaymentIDs(ctx context.Context) (map[string]struct{}, error) {
	records, err := t.app.FindAllRecords(issuanceCollection)
	if err != nil {
		return nil, fmt.Errorf("list issuance records: %w", err)
	}

	issued := make(map[string]struct{}, len(records))
	for _, record := range records {
		if record.GetBool("qr_generated") && record.GetBool("email_sent") {
			issued[record.GetString("payment_id")] = struct{}{}
		}
	}
	return issued, nil
}

func (t *PBIssuanceTracker) MarkIssued(ctx context.Context, st models.IssuanceStatus) error {
	record, err := t.app.FindFirstRecordByFilter(
		issuanceCollection,
		"payment_id = {:pid}",
		dbx.Params{"pid": st.PaymentID},
	)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("find issuance record %s: %w", st.PaymentID, err)
		}
		collection, cerr := t.app.FindCollectionByNameOrId(issuanceCollection)
		if cerr != nil {
			return fmt.Errorf("find issuance collection: %w", cerr)
		}
		record = core.NewRecord(collection)
		record.Set("payment_id", st.PaymentID)
	}

	record.Set("ticket_id", st.TicketID)
	record.Set("email", st.Email)
	record.Set("qr_generated", st.QRGenerated)
	record.Set("email_sent", st.EmailSent)
	record.Set("sent_at", types.NowDateTime())

	if err := t.app.Save(record); err != nil {
		return fmt.Errorf("save issuance record %s: %w", st.PaymentID, err)
	}
	return nil
}
