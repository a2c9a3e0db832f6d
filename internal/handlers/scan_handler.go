package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ticket-scanner/internal/services"
	"ticket-scanner/internal/status"
	"ticket-scanner/models"
)

type ScanHandler struct {
	app     *pocketbase.PocketBase
	service *services.VerificationService
}

func NewScanHandler(app *pocketbase.PocketBase, service *services.VerificationService) *ScanHandler {
	return &ScanHandler{app: app, service: service}
}

// VerifyQR classifies a scanned code. An invalid or used ticket is an
// authoritative business answer (success path, distinct status); only
// infrastructure faults answer with status "error".
func (h *ScanHandler) VerifyQR(e *core.RequestEvent) error {
	var req struct {
		EncryptedData string `json:"encryptedData"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}
	if req.EncryptedData == "" {
		return e.JSON(http.StatusBadRequest, models.VerifyResponse{
			Success: false,
			Status:  models.StatusError,
			Message: "Missing or invalid encrypted data",
		})
	}

	result, err := h.service.Verify(e.Request.Context(), req.EncryptedData)
	if err != nil {
		log.Printf("Error verifying QR code: %v", err)
		return e.JSON(http.StatusInternalServerError, models.VerifyResponse{
			Success: false,
			Status:  models.StatusError,
			Message: "Internal server error",
		})
	}

	httpStatus := http.StatusOK
	if result.Status == models.StatusInvalid {
		httpStatus = http.StatusBadRequest
	}

	return e.JSON(httpStatus, models.VerifyResponse{
		Success: result.Status == models.StatusValid || result.Status == models.StatusUsed,
		Status:  result.Status,
		Message: result.Message,
		Ticket:  result.Ticket,
	})
}

// MarkUsed confirms redemption after the operator saw a valid scan.
func (h *ScanHandler) MarkUsed(e *core.RequestEvent) error {
	var req struct {
		TicketKey string `json:"ticketKey"`
		ScannedBy string `json:"scannedBy"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}
	if req.TicketKey == "" {
		return e.JSON(http.StatusBadRequest, models.MarkUsedResponse{
			Success: false,
			Message: "Missing or invalid ticketKey",
		})
	}

	ticket, err := h.service.MarkUsed(e.Request.Context(), req.TicketKey, req.ScannedBy)
	if err != nil {
		switch {
		case errors.Is(err, status.ErrTicketNotFound):
			return e.JSON(http.StatusNotFound, models.MarkUsedResponse{
				Success: false,
				Message: "Ticket not found",
			})
		case errors.Is(err, status.ErrTicketUsed):
			return e.JSON(http.StatusConflict, models.MarkUsedResponse{
				Success: false,
				Message: "Ticket already marked as used",
			})
		default:
			log.Printf("Error marking ticket as used: %v", err)
			return e.JSON(http.StatusInternalServerError, models.MarkUsedResponse{
				Success: false,
				Message: "Internal server error",
			})
		}
	}

	return e.JSON(http.StatusOK, models.MarkUsedResponse{
		Success: true,
		Message: "Entry marked successfully",
		Ticket:  ticket,
	})
}
