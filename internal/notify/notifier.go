// Package notify holds the delivery side of the notification contract. The
// engine only produces NotificationIntents; implementations here (or a real
// mail/SMS gateway behind the same interface) carry them the rest of the
// way.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/merakihealth/hospital-scheduling/internal/scheduling"
)

// LogNotifier writes each intent to the structured log instead of an
// external channel. It is the default wiring for dev environments and a
// template for real transports.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Send(_ context.Context, intent scheduling.NotificationIntent) error {
	n.log.Info("notification",
		zap.Int64("intent_id", intent.ID),
		zap.String("patient_id", intent.PatientID.String()),
		zap.String("appointment_id", intent.AppointmentID.String()),
		zap.String("kind", string(intent.Kind)),
		zap.ByteString("payload", intent.Payload))
	return nil
}
