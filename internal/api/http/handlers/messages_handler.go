package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/learnhub/messaging-service/internal/api/dto"
	"github.com/learnhub/messaging-service/internal/service"
	apperrors "github.com/learnhub/messaging-service/pkg/util"
)

// MessagesHandler manages a thread's message log.
type MessagesHandler struct {
	service *service.MessagingService
}

// NewMessagesHandler constructs handler.
func NewMessagesHandler(messagingService *service.MessagingService) *MessagesHandler {
	return &MessagesHandler{service: messagingService}
}

// ListMessages GET /threads/:id/messages.
func (h *MessagesHandler) ListMessages(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	msgs, err := h.service.ListMessages(c.UserContext(), principal.UserID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewMessageListResponse(msgs)})
}

// AppendMessage POST /threads/:id/messages.
func (h *MessagesHandler) AppendMessage(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.AppendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	attachments := make([]service.AttachmentInput, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		attachments = append(attachments, service.AttachmentInput{
			ID:         a.ID,
			StorageKey: a.StorageKey,
			FileName:   a.FileName,
			MimeType:   a.MimeType,
			SizeBytes:  a.SizeBytes,
		})
	}

	msg, err := h.service.AppendMessage(c.UserContext(), service.AppendMessageInput{
		ThreadID:    c.Params("id"),
		FromID:      principal.UserID,
		Text:        req.Text,
		Attachments: attachments,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewMessageResponse(msg)})
}
