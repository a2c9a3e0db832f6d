package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"ticket-scanner/config"
	"ticket-scanner/internal/services"
	"ticket-scanner/internal/status"
	"ticket-scanner/models"
	"ticket-scanner/security"
)

type AdminHandler struct {
	app      *pocketbase.PocketBase
	store    services.TicketStore
	importer *services.ImportService
	issuance *services.IssuanceService
	cfg      *config.Config
}

func NewAdminHandler(app *pocketbase.PocketBase, store services.TicketStore, issuance *services.IssuanceService, cfg *config.Config) *AdminHandler {
	return &AdminHandler{
		app:      app,
		store:    store,
		importer: services.NewImportService(store),
		issuance: issuance,
		cfg:      cfg,
	}
}

// VerifyAdmin checks the operator password for scanner admin access.
func (h *AdminHandler) VerifyAdmin(e *core.RequestEvent) error {
	var req struct {
		Password string `json:"password"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}

	if h.cfg.AdminPasswordHash == "" {
		log.Println("ADMIN_PASSWORD_HASH not set in environment")
		return e.JSON(http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "Server configuration error",
		})
	}

	if !security.VerifyAdminPassword(h.cfg.AdminPasswordHash, req.Password) {
		return e.JSON(http.StatusUnauthorized, map[string]any{
			"success": false,
			"message": "Invalid password",
		})
	}

	return e.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "Access granted",
	})
}

// UploadRawData bulk-inserts imported payment records. Duplicates (by
// ticket_id or payment_id) are skipped, never overwritten.
func (h *AdminHandler) UploadRawData(e *core.RequestEvent) error {
	var req struct {
		Tickets []*models.TicketRecord `json:"tickets"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}
	if len(req.Tickets) == 0 {
		return apis.NewBadRequestError("Invalid or empty ticket data", nil)
	}

	resp := h.importer.ImportRaw(e.Request.Context(), req.Tickets)
	return e.JSON(http.StatusOK, resp)
}

// UploadSheet imports the lighter sheet export where payment_id is the
// only identity; ticket ids are derived deterministically.
func (h *AdminHandler) UploadSheet(e *core.RequestEvent) error {
	var req struct {
		Tickets []services.SheetRow `json:"tickets"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}
	if len(req.Tickets) == 0 {
		return apis.NewBadRequestError("Invalid request: tickets array is required", nil)
	}

	insertedCount, updatedCount := h.importer.ImportSheet(e.Request.Context(), req.Tickets)

	return e.JSON(http.StatusOK, map[string]any{
		"success":  true,
		"inserted": insertedCount,
		"updated":  updatedCount,
		"message":  fmt.Sprintf("Processed %d tickets: %d inserted, %d updated", len(req.Tickets), insertedCount, updatedCount),
	})
}

// GenerateAndSend triggers the issuance batch.
func (h *AdminHandler) GenerateAndSend(e *core.RequestEvent) error {
	report, err := h.issuance.Run(e.Request.Context())
	if err != nil {
		if errors.Is(err, status.ErrIssuanceRunning) {
			return e.JSON(http.StatusConflict, map[string]any{
				"success": false,
				"message": "Issuance batch already running",
			})
		}
		log.Printf("Error running issuance batch: %v", err)
		return e.JSON(http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "Failed to generate and send QR codes",
		})
	}

	return e.JSON(http.StatusOK, map[string]any{
		"success":   true,
		"processed": report.Processed,
		"total":     report.Total,
		"failures":  report.Failures,
		"message":   fmt.Sprintf("Successfully processed %d out of %d entries", report.Processed, report.Total),
	})
}

// Stats reports ticket totals for the admin dashboard.
func (h *AdminHandler) Stats(e *core.RequestEvent) error {
	total, used, err := h.store.Counts(e.Request.Context())
	if err != nil {
		log.Printf("Error counting tickets: %v", err)
		return apis.NewApiError(http.StatusInternalServerError, "Failed to load stats", nil)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"total":     total,
		"used":      used,
		"remaining": total - used,
	})
}
