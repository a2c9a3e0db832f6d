package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"
	"log"
	"net/mail"
	"time"

	"github.com/pocketbase/pocketbase/tools/mailer"
	"github.com/redis/go-redis/v9"
	qrcode "github.com/skip2/go-qrcode"

	"ticket-scanner/config"
	"ticket-scanner/internal/status"
	"ticket-scanner/models"
	"ticket-scanner/monitoring"
	"ticket-scanner/utils"
)

const (
	issuanceLockKey = "issuance:lock"
	qrImageSize     = 400
)

// unlockScript deletes the lock only when it still holds this run's
// token, so a run that outlived the TTL cannot release a successor's
// lock.
const unlockScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

// QRRenderer turns an encoded payload string into a PNG image.
type QRRenderer func(content string, size int) ([]byte, error)

func defaultQRRenderer(content string, size int) ([]byte, error) {
	return qrcode.Encode(content, qrcode.Highest, size)
}

// IssuanceService generates encrypted QR codes for tickets that have
// not been fully issued yet and emails them to their holders. Runs are
// idempotent: completion is tracked per payment_id, a ticket is only
// marked issued after its mail went out, and a re-run with nothing
// pending delivers nothing.
type IssuanceService struct {
	store     TicketStore
	tracker   IssuanceTracker
	codec     *PayloadCodec
	mailer    mailer.Mailer
	renderQR  QRRenderer
	redis     *redis.Client
	breaker   *utils.CircuitBreaker
	cfg       *config.Config
	lockToken func() (string, error)
}

func NewIssuanceService(
	store TicketStore,
	tracker IssuanceTracker,
	codec *PayloadCodec,
	mailClient mailer.Mailer,
	redisClient *redis.Client,
	cfg *config.Config,
) *IssuanceService {
	return &IssuanceService{
		store:     store,
		tracker:   tracker,
		codec:     codec,
		mailer:    mailClient,
		renderQR:  defaultQRRenderer,
		redis:     redisClient,
		breaker:   utils.NewCircuitBreaker("mailer"),
		cfg:       cfg,
		lockToken: func() (string, error) { return utils.GenerateCode(16) },
	}
}

// Run processes every pending ticket. A per-ticket failure is logged
// and skipped so one bad address never aborts the batch; the failed
// ticket stays unissued and is retried on the next run.
func (s *IssuanceService) Run(ctx context.Context) (*models.IssuanceReport, error) {
	token, err := s.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	defer s.releaseLock(token)

	tickets, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("issuance: %w", err)
	}

	issued, err := s.tracker.IssuedPaymentIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("issuance: %w", err)
	}

	pending := make([]*models.TicketRecord, 0, len(tickets))
	for _, ticket := range tickets {
		if _, done := issued[ticket.PaymentID]; !done {
			pending = append(pending, ticket)
		}
	}

	report := &models.IssuanceReport{Total: len(pending)}
	if len(pending) == 0 {
		log.Println("Issuance: no pending tickets")
		return report, nil
	}

	for i, ticket := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if err := s.issueOne(ctx, ticket); err != nil {
			log.Printf("Issuance: failed for %s: %v", ticket.PaymentID, err)
			monitoring.TrackIssuance("failure")
			report.Failures = append(report.Failures, ticket.PaymentID)
			continue
		}

		monitoring.TrackIssuance("success")
		report.Processed++
		log.Printf("Issuance: sent QR code to %s (%s)", ticket.Email, ticket.PaymentID)

		// Small delay between sends to stay under provider rate limits.
		if i < len(pending)-1 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(s.cfg.SendDelay):
			}
		}
	}

	return report, nil
}

func (s *IssuanceService) issueOne(ctx context.Context, ticket *models.TicketRecord) error {
	payload := NewPayload(ticket.TicketID, ticket.Email)

	encrypted, err := s.codec.Encode(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	png, err := s.renderQR(encrypted, qrImageSize)
	if err != nil {
		return fmt.Errorf("render qr: %w", err)
	}

	if err := s.sendTicketMail(ctx, ticket, png); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}

	// Only after the mail went out; a crash before this point leaves the
	// ticket pending for the next run.
	if err := s.tracker.MarkIssued(ctx, models.IssuanceStatus{
		PaymentID:   ticket.PaymentID,
		TicketID:    ticket.TicketID,
		Email:       ticket.Email,
		QRGenerated: true,
		EmailSent:   true,
	}); err != nil {
		return fmt.Errorf("mark issued: %w", err)
	}

	return nil
}

func (s *IssuanceService) sendTicketMail(ctx context.Context, ticket *models.TicketRecord, png []byte) error {
	body, err := renderTicketEmail(ticket)
	if err != nil {
		return err
	}

	subject := "Your Event Ticket QR Code"
	if ticket.TicketType != "" {
		subject = fmt.Sprintf("Your %s Ticket QR Code", ticket.TicketType)
	}

	message := &mailer.Message{
		From:    mail.Address{Name: s.cfg.SenderName, Address: s.cfg.SenderAddress},
		To:      []mail.Address{{Address: ticket.Email}},
		Subject: subject,
		HTML:    body,
		InlineAttachments: map[string]io.Reader{
			"qrcode.png": bytes.NewReader(png),
		},
		Attachments: map[string]io.Reader{
			fmt.Sprintf("ticket-%s.png", ticket.PaymentID): bytes.NewReader(png),
		},
	}

	// SMTP outages trip the breaker instead of timing out per ticket.
	_, err = s.breaker.Execute(ctx, func() (any, error) {
		return nil, s.mailer.Send(message)
	})
	return err
}

func (s *IssuanceService) acquireLock(ctx context.Context) (string, error) {
	if s.redis == nil {
		return "", nil
	}

	token, err := s.lockToken()
	if err != nil {
		return "", fmt.Errorf("issuance lock token: %w", err)
	}

	ok, err := s.redis.SetNX(ctx, issuanceLockKey, token, s.cfg.IssuanceLock).Result()
	if err != nil {
		return "", fmt.Errorf("issuance lock: %w", err)
	}
	if !ok {
		return "", status.ErrIssuanceRunning
	}
	return token, nil
}

func (s *IssuanceService) releaseLock(token string) {
	if s.redis == nil || token == "" {
		return
	}
	err := s.redis.Eval(context.Background(), unlockScript, []string{issuanceLockKey}, token).Err()
	if err != nil {
		log.Printf("Error releasing issuance lock: %v", err)
	}
}

var ticketEmailTemplate = template.Must(template.New("ticket").Parse(`
<div style="font-family: sans-serif; max-width: 480px; margin: 0 auto;">
	<h2>Your ticket is ready</h2>
	<p>Hi {{.Name}},</p>
	<p>Present this QR code at the entrance. It is valid for one entry only.</p>
	<p style="text-align: center;"><img src="cid:qrcode.png" alt="Ticket QR code" width="300"/></p>
	<table>
		{{if .EventName}}<tr><td><b>Event</b></td><td>{{.EventName}}</td></tr>{{end}}
		{{if .EventDate}}<tr><td><b>Date</b></td><td>{{.EventDate}}</td></tr>{{end}}
		{{if .TicketType}}<tr><td><b>Ticket</b></td><td>{{.TicketType}}</td></tr>{{end}}
		<tr><td><b>Reference</b></td><td>{{.PaymentID}}</td></tr>
	</table>
	<p>The code is also attached to this email in case images are blocked.</p>
</div>
`))

func renderTicketEmail(ticket *models.TicketRecord) (string, error) {
	var buf bytes.Buffer
	if err := ticketEmailTemplate.Execute(&buf, ticket); err != nil {
		return "", fmt.Errorf("render email: %w", err)
	}
	return buf.String(), nil
}
