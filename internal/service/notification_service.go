package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/learnhub/messaging-service/internal/config"
	"github.com/learnhub/messaging-service/internal/events"
)

// EventExporter forwards domain events to an external system.
type EventExporter interface {
	Export(ctx context.Context, event events.Event) error
}

// NotificationService handles emitting notifications for domain events.
type NotificationService struct {
	dispatcher events.Dispatcher
	exporter   EventExporter
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service. exporter may be nil.
func NewNotificationService(dispatcher events.Dispatcher, exporter EventExporter, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		exporter:   exporter,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventThreadStarted, n.handleThreadStarted)
	n.dispatcher.Subscribe(events.EventMessageAppended, n.handleMessageAppended)
	n.dispatcher.Subscribe(events.EventThreadRead, n.handleThreadRead)
}

func (n *NotificationService) handleThreadStarted(ctx context.Context, event events.Event) error {
	n.logger.Info("ThreadStarted", zap.String("thread_id", event.ThreadID), zap.Any("payload", event.Payload))
	return n.export(ctx, event)
}

func (n *NotificationService) handleMessageAppended(ctx context.Context, event events.Event) error {
	n.logger.Info("MessageAppended", zap.String("thread_id", event.ThreadID), zap.String("actor", event.Actor))
	n.sendWebhookNotificationStub(ctx, event)
	return n.export(ctx, event)
}

func (n *NotificationService) handleThreadRead(ctx context.Context, event events.Event) error {
	n.logger.Debug("ThreadRead", zap.String("thread_id", event.ThreadID), zap.String("actor", event.Actor))
	return n.export(ctx, event)
}

func (n *NotificationService) export(ctx context.Context, event events.Event) error {
	if n.exporter == nil {
		return nil
	}
	return n.exporter.Export(ctx, event)
}

func (n *NotificationService) sendWebhookNotificationStub(ctx context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return
	}
	for _, p := range event.Participants {
		if p == event.Actor {
			continue
		}
		n.logger.Debug("sendWebhookNotificationStub",
			zap.String("url", n.cfg.WebhookURL),
			zap.String("recipient_id", p),
			zap.String("thread_id", event.ThreadID),
			zap.String("event_type", string(event.Type)))
	}
}
