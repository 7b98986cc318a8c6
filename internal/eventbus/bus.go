// Package eventbus broadcasts job lifecycle events (domain.Event) to
// external subscribers over Redis pub/sub: publish writes a message to a
// channel, StartForwarder subscribes and hands each received message to a
// callback.
package eventbus

import "context"

// Bus publishes domain events and forwards externally-received ones to a
// local callback. A job's engine process publishes after every FSM
// transition; any other process (a UI, a CLI `events --follow`) can
// subscribe via StartForwarder to watch the same stream.
type Bus interface {
	Publish(ctx context.Context, evt Message) error
	StartForwarder(ctx context.Context, onMsg func(m Message)) error
	Close() error
}

// Message is the wire payload published on the event channel. It mirrors
// domain.Event's fields rather than embedding the GORM model directly, so
// the bus has no storage-layer dependency.
type Message struct {
	JobID     string `json:"job_id"`
	TaskName  string `json:"task_name,omitempty"`
	EventType string `json:"event_type"`
	OldState  string `json:"old_state"`
	NewState  string `json:"new_state"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt string `json:"created_at"`
}
