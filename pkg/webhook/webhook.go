// Package webhook delivers signed JSON event payloads over HTTP.
package webhook

import (
	"time"
)

// Event is the payload posted to a callback URL.
type Event struct {
	Type    string         `json:"type"`
	Source  string         `json:"source"`
	Subject string         `json:"subject"`
	ID      string         `json:"id"`
	Time    time.Time      `json:"time"`
	Data    map[string]any `json:"data"`
}

// New creates an event stamped with the current time.
func New(eventType, source, subject, id string, data map[string]any) *Event {
	return &Event{
		Type:    eventType,
		Source:  source,
		Subject: subject,
		ID:      id,
		Time:    time.Now().UTC(),
		Data:    data,
	}
}
