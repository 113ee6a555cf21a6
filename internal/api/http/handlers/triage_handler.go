package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk/internal/api/dto"
	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/service"
	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

// TriageHandler manages approval and triage endpoints.
type TriageHandler struct {
	service *service.TicketService
}

// NewTriageHandler constructs handler.
func NewTriageHandler(ticketService *service.TicketService) *TriageHandler {
	return &TriageHandler{service: ticketService}
}

// Approve POST /triage/tickets/:id/approve.
func (h *TriageHandler) Approve(c *fiber.Ctx) error {
	user, ok := auth.UserFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	id, err := parseTicketID(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.Approve(c.Context(), user, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromTicket(ticket)})
}

// Reject POST /triage/tickets/:id/reject.
func (h *TriageHandler) Reject(c *fiber.Ctx) error {
	user, ok := auth.UserFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	id, err := parseTicketID(c)
	if err != nil {
		return err
	}
	var req dto.RejectRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.service.Reject(c.Context(), user, id, req.Remark)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromTicket(ticket)})
}

// UpdateStatus PATCH /triage/tickets/:id/status.
func (h *TriageHandler) UpdateStatus(c *fiber.Ctx) error {
	user, ok := auth.UserFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	id, err := parseTicketID(c)
	if err != nil {
		return err
	}
	var req dto.UpdateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Status == "" {
		return apperrors.NewValidationError("status required", nil)
	}
	ticket, err := h.service.UpdateStatus(c.Context(), user, id, req.Status, req.AssignedTo, req.Remark)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromTicket(ticket)})
}

// AddRemark POST /triage/tickets/:id/remark.
func (h *TriageHandler) AddRemark(c *fiber.Ctx) error {
	user, ok := auth.UserFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	id, err := parseTicketID(c)
	if err != nil {
		return err
	}
	var req dto.AddRemarkRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.service.AddRemark(c.Context(), user, id, req.Remark, req.Status)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.FromTicket(ticket)})
}
