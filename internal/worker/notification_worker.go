package worker

import (
	"github.com/spec-kit/ticket-realtime/internal/service"
)

// StartNotificationWorker registers notification handlers on the dispatcher.
// Handlers run inline with the publishing request.
func StartNotificationWorker(notificationService *service.NotificationService) {
	if notificationService == nil {
		return
	}
	notificationService.RegisterHandlers()
}
