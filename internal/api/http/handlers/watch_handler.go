package handlers

import (
	"context"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/learnhub/messaging-service/internal/api/dto"
	"github.com/learnhub/messaging-service/internal/auth"
	"github.com/learnhub/messaging-service/internal/domain"
	"github.com/learnhub/messaging-service/internal/service"
	apperrors "github.com/learnhub/messaging-service/pkg/util"
)

// WatchHandler streams live inbox and message snapshots over websockets.
type WatchHandler struct {
	service *service.MessagingService
	logger  *zap.Logger
}

// NewWatchHandler constructs handler.
func NewWatchHandler(messagingService *service.MessagingService, logger *zap.Logger) *WatchHandler {
	return &WatchHandler{service: messagingService, logger: logger}
}

// UpgradeRequired rejects plain HTTP requests on websocket routes.
func UpgradeRequired(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// AuthorizeThread checks thread membership before the upgrade so outsiders
// get a plain HTTP error.
func (h *WatchHandler) AuthorizeThread(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	if _, err := h.service.GetThread(c.UserContext(), principal.UserID, c.Params("id")); err != nil {
		return err
	}
	return c.Next()
}

// Inbox GET /ws/inbox.
func (h *WatchHandler) Inbox(conn *websocket.Conn) {
	principal, ok := auth.PrincipalFromLocals(conn.Locals(auth.PrincipalKey))
	if !ok {
		h.closeWithError(conn, apperrors.NewUnauthorized("authentication required"))
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := h.service.WatchInbox(ctx, principal.UserID)
	if err != nil {
		h.closeWithError(conn, err)
		return
	}
	stream(ctx, cancel, conn, w, h, func(threads []domain.Thread) interface{} {
		return fiber.Map{"type": "inbox", "data": dto.NewInboxResponse(threads, principal.UserID)}
	})
}

// Messages GET /ws/threads/:id/messages.
func (h *WatchHandler) Messages(conn *websocket.Conn) {
	principal, ok := auth.PrincipalFromLocals(conn.Locals(auth.PrincipalKey))
	if !ok {
		h.closeWithError(conn, apperrors.NewUnauthorized("authentication required"))
		return
	}
	threadID := conn.Params("id")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := h.service.WatchMessages(ctx, principal.UserID, threadID)
	if err != nil {
		h.closeWithError(conn, err)
		return
	}
	stream(ctx, cancel, conn, w, h, func(msgs []domain.Message) interface{} {
		return fiber.Map{"type": "messages", "thread_id": threadID, "data": dto.NewMessageListResponse(msgs)}
	})
}

// stream writes every snapshot of w to conn until the client goes away or
// the watch stops.
func stream[T any](ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, w *service.Watch[T], h *WatchHandler, render func(T) interface{}) {
	defer w.Close()

	// Client frames are ignored; a read error means the peer is gone.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for snapshot := range w.Updates() {
		if err := conn.WriteJSON(render(snapshot)); err != nil {
			h.logger.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	if err := w.Err(); err != nil {
		h.closeWithError(conn, err)
	}
}

func (h *WatchHandler) closeWithError(conn *websocket.Conn, err error) {
	domainErr := apperrors.ToDomainError(err)
	_ = conn.WriteJSON(fiber.Map{"type": "error", "error": fiber.Map{
		"code":    domainErr.Code,
		"message": domainErr.Message,
	}})
	code := websocket.CloseInternalServerErr
	if domainErr.HTTPStatus < 500 {
		code = websocket.ClosePolicyViolation
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, domainErr.Code))
}
