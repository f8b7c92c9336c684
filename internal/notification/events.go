package notification

import (
	"wallbox-bridge/internal/model"
	"wallbox-bridge/internal/parse"
	"wallbox-bridge/internal/store"
)

const (
	finishedPath        = "charging.finished"
	updateAvailablePath = "info.software.updateAvailable"
)

// Event maps an acknowledged state change to a notification. Only a
// transition to true on a previously stored value counts.
func Event(c store.Change) (topic, message string, ok bool) {
	if !c.Ack || !c.HadPrevious {
		return "", "", false
	}
	now, isBool := parse.Bool(c.Value)
	if !isBool || !now {
		return "", "", false
	}
	if before, _ := parse.Bool(c.Previous); before {
		return "", "", false
	}

	switch c.Path {
	case finishedPath:
		return model.TopicChargingFinished, "Charging session finished", true
	case updateAvailablePath:
		return model.TopicUpdateAvailable, "A charger software update is available", true
	}
	return "", "", false
}

// HandleChange is a store subscriber that queues notifications for events.
func (wp *WorkerPool) HandleChange(c store.Change) {
	if topic, message, ok := Event(c); ok {
		wp.Notify(topic, message)
	}
}
