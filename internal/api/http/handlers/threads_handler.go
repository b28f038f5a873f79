package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/learnhub/messaging-service/internal/api/dto"
	"github.com/learnhub/messaging-service/internal/auth"
	"github.com/learnhub/messaging-service/internal/service"
	apperrors "github.com/learnhub/messaging-service/pkg/util"
)

// ThreadsHandler manages thread and inbox endpoints.
type ThreadsHandler struct {
	service *service.MessagingService
}

// NewThreadsHandler constructs handler.
func NewThreadsHandler(messagingService *service.MessagingService) *ThreadsHandler {
	return &ThreadsHandler{service: messagingService}
}

// StartThread POST /threads.
func (h *ThreadsHandler) StartThread(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.StartThreadRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	thread, created, err := h.service.StartThread(c.UserContext(), principal.UserID, service.StartThreadInput{
		TeacherID:   req.TeacherID,
		TeacherName: req.TeacherName,
		StudentID:   req.StudentID,
		StudentName: req.StudentName,
		CourseID:    req.CourseID,
		CourseTitle: req.CourseTitle,
	})
	if err != nil {
		return err
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{"data": dto.NewThreadResponse(thread, principal.UserID)})
}

// ListThreads GET /threads.
func (h *ThreadsHandler) ListThreads(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	threads, err := h.service.ListInbox(c.UserContext(), principal.UserID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewInboxResponse(threads, principal.UserID)})
}

// GetThread GET /threads/:id.
func (h *ThreadsHandler) GetThread(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	thread, err := h.service.GetThread(c.UserContext(), principal.UserID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewThreadResponse(thread, principal.UserID)})
}

// MarkRead POST /threads/:id/read.
func (h *ThreadsHandler) MarkRead(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.MarkReadRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}

	advanced, err := h.service.MarkRead(c.UserContext(), c.Params("id"), principal.UserID, req.AtMs)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"advanced": advanced}})
}

func requirePrincipal(c *fiber.Ctx) (*auth.Principal, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	return principal, nil
}
