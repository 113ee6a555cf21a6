package worker

import (
	"github.com/spec-kit/helpdesk/internal/service"
)

// StartNotificationWorker subscribes the notification coordinator to
// lifecycle events.
func StartNotificationWorker(notifications *service.NotificationService) {
	if notifications == nil {
		return
	}
	notifications.RegisterHandlers()
}
