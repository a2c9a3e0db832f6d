package services

import (
	"log"

	pubnub "github.com/pubnub/go"

	"ticket-scanner/models"
)

// NotifyService broadcasts scan outcomes to every connected scanner
// device and the door dashboard. Publishing is fire-and-forget: the
// feed is informational and never affects a verification or redemption
// result.
type NotifyService struct {
	pubnub  *pubnub.PubNub
	channel string
}

func NewNotifyService(pn *pubnub.PubNub, channel string) *NotifyService {
	return &NotifyService{pubnub: pn, channel: channel}
}

func (s *NotifyService) PublishScan(status models.ScanStatus, ticket *models.TicketRecord) {
	message := map[string]interface{}{
		"type":   "scan",
		"status": string(status),
	}
	if ticket != nil {
		message["ticket_id"] = ticket.TicketID
		message["name"] = ticket.Name
	}
	s.publish(message)
}

func (s *NotifyService) PublishRedemption(ticket *models.TicketRecord) {
	s.publish(map[string]interface{}{
		"type":       "redemption",
		"ticket_id":  ticket.TicketID,
		"name":       ticket.Name,
		"scanned_by": ticket.ScannedBy,
	})
}

func (s *NotifyService) publish(message map[string]interface{}) {
	if s == nil || s.pubnub == nil {
		return
	}

	go func() {
		_, _, err := s.pubnub.Publish().
			Channel(s.channel).
			Message(message).
			Execute()
		if err != nil {
			log.Printf("Error publishing scan feed message: %v", err)
		}
	}()
}
