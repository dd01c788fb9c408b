package handlers

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/guild-tickets/internal/api/dto"
	"github.com/spec-kit/guild-tickets/internal/auth"
	"github.com/spec-kit/guild-tickets/internal/service"
	"github.com/spec-kit/guild-tickets/internal/store"
	"github.com/spec-kit/guild-tickets/internal/timeparse"
	apperrors "github.com/spec-kit/guild-tickets/pkg/util"
)

// TicketsHandler exposes read-only ticket data plus a force-close escape
// hatch for operators.
type TicketsHandler struct {
	tickets *store.Store
	service *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(tickets *store.Store, ticketService *service.TicketService) *TicketsHandler {
	return &TicketsHandler{tickets: tickets, service: ticketService}
}

// ListActive GET /guilds/:guildID/tickets.
func (h *TicketsHandler) ListActive(c *fiber.Ctx) error {
	guildID := c.Params("guildID")
	active, err := h.tickets.ListActive(c.UserContext(), guildID)
	if err != nil {
		return err
	}
	total, err := h.tickets.TicketCounter(c.UserContext(), guildID)
	if err != nil {
		return err
	}
	items := make([]dto.TicketSummary, 0, len(active))
	for i := range active {
		items = append(items, dto.FromMetadata(&active[i].Metadata))
	}
	return c.JSON(fiber.Map{"data": items, "total_opened": total})
}

// ForceClose POST /guilds/:guildID/tickets/:threadID/close. Closes on behalf
// of the calling service with the auto-close semantics (no owner/moderator
// guard; the token is the authority).
func (h *TicketsHandler) ForceClose(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("service token required")
	}
	var req dto.CloseTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewInvalidInput("invalid payload", nil)
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "closed by " + principal.ServiceName
	}
	if err := h.service.AutoClose(c.UserContext(), c.Params("guildID"), c.Params("threadID"), reason); err != nil {
		return err
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"status": "closed"})
}

// CooldownChoices GET /cooldown/choices returns the picker values offered to
// guild admins when configuring role time limits.
func (h *TicketsHandler) CooldownChoices(c *fiber.Ctx) error {
	choices := timeparse.Choices()
	items := make([]dto.CooldownChoice, 0, len(choices))
	for _, d := range choices {
		items = append(items, dto.CooldownChoice{
			Label:   timeparse.Format(d),
			Seconds: int64(d.Seconds()),
		})
	}
	return c.JSON(fiber.Map{"data": items})
}
