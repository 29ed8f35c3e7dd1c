// Package event defines the progress events pushed to a live client during a
// streamed conversation turn, and the sinks that carry them.
//
// Every [Event] serialises to a flat JSON object whose "eventType" key is one
// of the stable [Type] strings, followed by the type-specific payload and the
// "sessionId":
//
//	{"eventType":"status","content":"processing","sessionId":"s-1"}
//	{"eventType":"message","contentType":"assistant","content":"hi ","sessionId":"s-1"}
//	{"eventType":"ui_component","component":"entity-detail","data":{...},"sessionId":"s-1"}
//	{"eventType":"error","message":"response timed out","sessionId":"s-1"}
//	{"eventType":"completed","sessionId":"s-1"}
package event

import (
	"encoding/json"
	"fmt"
)

// Type is the wire discriminator of an [Event].
type Type string

const (
	TypeStatus      Type = "status"
	TypeMessage     Type = "message"
	TypeUIComponent Type = "ui_component"
	TypeError       Type = "error"
	TypeCompleted   Type = "completed"
)

// IsValid reports whether t is a known event type.
func (t Type) IsValid() bool {
	switch t {
	case TypeStatus, TypeMessage, TypeUIComponent, TypeError, TypeCompleted:
		return true
	}
	return false
}

// Content types carried by [TypeMessage] events.
const (
	ContentUser      = "user"
	ContentAssistant = "assistant"
)

// Event is a single stream event. Only the fields relevant to Type are
// serialised.
type Event struct {
	Type      Type
	SessionID string

	// Content is the status text (status) or message text (message).
	Content string

	// ContentType is "user" or "assistant" for message events.
	ContentType string

	// Component and Data describe a ui_component event.
	Component string
	Data      map[string]any

	// Message is the user-safe error text of an error event.
	Message string
}

// Status returns a status event such as "processing" or "thinking".
func Status(sessionID, content string) Event {
	return Event{Type: TypeStatus, SessionID: sessionID, Content: content}
}

// Message returns a message event.
func Message(sessionID, contentType, content string) Event {
	return Event{Type: TypeMessage, SessionID: sessionID, ContentType: contentType, Content: content}
}

// UIComponent returns a ui_component event.
func UIComponent(sessionID, component string, data map[string]any) Event {
	return Event{Type: TypeUIComponent, SessionID: sessionID, Component: component, Data: data}
}

// Error returns an error event carrying a user-safe message.
func Error(sessionID, message string) Event {
	return Event{Type: TypeError, SessionID: sessionID, Message: message}
}

// Completed returns the terminal completed event.
func Completed(sessionID string) Event {
	return Event{Type: TypeCompleted, SessionID: sessionID}
}

// wire is the flat JSON shape shared by all event types.
type wire struct {
	EventType   Type           `json:"eventType"`
	Content     *string        `json:"content,omitempty"`
	ContentType string         `json:"contentType,omitempty"`
	Component   string         `json:"component,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Message     string         `json:"message,omitempty"`
	SessionID   string         `json:"sessionId"`
}

// MarshalJSON implements [json.Marshaler].
func (e Event) MarshalJSON() ([]byte, error) {
	w := wire{EventType: e.Type, SessionID: e.SessionID}
	switch e.Type {
	case TypeStatus:
		w.Content = &e.Content
	case TypeMessage:
		w.ContentType = e.ContentType
		w.Content = &e.Content
	case TypeUIComponent:
		w.Component = e.Component
		w.Data = e.Data
		if w.Data == nil {
			w.Data = map[string]any{}
		}
	case TypeError:
		w.Message = e.Message
	case TypeCompleted:
	default:
		return nil, fmt.Errorf("event: unknown event type %q", e.Type)
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements [json.Unmarshaler].
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if !w.EventType.IsValid() {
		return fmt.Errorf("event: unknown event type %q", w.EventType)
	}
	*e = Event{
		Type:        w.EventType,
		SessionID:   w.SessionID,
		ContentType: w.ContentType,
		Component:   w.Component,
		Data:        w.Data,
		Message:     w.Message,
	}
	if w.Content != nil {
		e.Content = *w.Content
	}
	return nil
}
