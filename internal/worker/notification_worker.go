package worker

import (
	"github.com/learnhub/messaging-service/internal/events"
	"github.com/learnhub/messaging-service/internal/service"
)

// StartNotificationWorker registers notification handlers.
func StartNotificationWorker(notificationService *service.NotificationService) {
	if notificationService == nil {
		return
	}
	notificationService.RegisterHandlers()
}

// StartFeedRelay wires domain events to the change feed that drives watches.
func StartFeedRelay(dispatcher events.Dispatcher, feed events.Feed) {
	if dispatcher == nil || feed == nil {
		return
	}
	events.NewFeedRelay(feed).Register(dispatcher)
}
