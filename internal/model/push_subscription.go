package model

import "time"

// PushSubscription holds the information for a browser push subscription.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`

	// Associations
	Topics []*NotificationTopic `gorm:"many2many:subscription_topic_mapping;"`
}

// NotificationTopic is an event class a subscription can register for.
type NotificationTopic struct {
	Name string `gorm:"primaryKey;size:64"`
}

// Notification topics.
const (
	TopicChargingFinished = "charging_finished"
	TopicCommandRejected  = "command_rejected"
	TopicUpdateAvailable  = "update_available"
)

// Topics lists every known notification topic.
var Topics = []string{TopicChargingFinished, TopicCommandRejected, TopicUpdateAvailable}
