package backend

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// Event statuses accepted by UpdateEventStatus.
const (
	EventStatusApproved  = "approved"
	EventStatusPending   = "pending"
	EventStatusCancelled = "cancelled"
)

// Ticket statuses accepted by UpdateTicketStatus.
const (
	TicketStatusConfirmed = "confirmed"
	TicketStatusPending   = "pending"
	TicketStatusCancelled = "cancelled"
)

var (
	// ErrMissingIdentifier rejects an operation on a record without a usable id.
	ErrMissingIdentifier = errors.New("backend.missing_identifier")
	// ErrInvalidStatus rejects a status outside the accepted set.
	ErrInvalidStatus = errors.New("backend.invalid_status")
)

// Envelope is the result shape shared by every backend operation.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// flexString decodes a JSON string, number, or null into text.
type flexString string

func (value *flexString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*value = ""
		return nil
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*value = flexString(text)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err != nil {
		return err
	}
	*value = flexString(number.String())
	return nil
}

// Creator is the user that submitted an event.
type Creator struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

// Event is an event record as returned by the backend. Fields the dashboard
// does not read are preserved and re-emitted unchanged.
type Event struct {
	ID          string
	Title       string
	Description string
	Location    string
	Date        string
	Time        string
	TicketPrice string
	Status      string
	CreatedBy   *Creator

	raw json.RawMessage
}

type eventWire struct {
	UnderscoreID flexString `json:"_id"`
	ID           flexString `json:"id"`
	EventID      flexString `json:"eventId"`
	SnakeEventID flexString `json:"event_id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Location     string     `json:"location"`
	Date         string     `json:"date"`
	Time         string     `json:"time"`
	TicketPrice  flexString `json:"ticketPrice"`
	Status       string     `json:"status"`
	CreatedBy    *Creator   `json:"createdBy"`
}

// UnmarshalJSON resolves the event id from the first non-empty of _id, id,
// eventId and event_id.
func (event *Event) UnmarshalJSON(data []byte) error {
	var wire eventWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*event = Event{
		ID:          firstNonEmpty(string(wire.UnderscoreID), string(wire.ID), string(wire.EventID), string(wire.SnakeEventID)),
		Title:       wire.Title,
		Description: wire.Description,
		Location:    wire.Location,
		Date:        wire.Date,
		Time:        wire.Time,
		TicketPrice: string(wire.TicketPrice),
		Status:      wire.Status,
		CreatedBy:   wire.CreatedBy,
		raw:         append(json.RawMessage(nil), data...),
	}
	return nil
}

// MarshalJSON re-emits the backend record, or a minimal record for events
// built in code.
func (event Event) MarshalJSON() ([]byte, error) {
	if len(event.raw) > 0 {
		return event.raw, nil
	}
	return json.Marshal(struct {
		ID          string   `json:"_id,omitempty"`
		Title       string   `json:"title"`
		Description string   `json:"description,omitempty"`
		Location    string   `json:"location,omitempty"`
		Date        string   `json:"date,omitempty"`
		Time        string   `json:"time,omitempty"`
		TicketPrice string   `json:"ticketPrice,omitempty"`
		Status      string   `json:"status,omitempty"`
		CreatedBy   *Creator `json:"createdBy,omitempty"`
	}{event.ID, event.Title, event.Description, event.Location, event.Date, event.Time, event.TicketPrice, event.Status, event.CreatedBy})
}

// User is a platform account.
type User struct {
	ID          string
	DisplayName string
	Email       string
	Role        string

	raw json.RawMessage
}

type userWire struct {
	ID           flexString `json:"id"`
	UnderscoreID flexString `json:"_id"`
	FullName     string     `json:"fullName"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Role         string     `json:"role"`
}

func (user *User) UnmarshalJSON(data []byte) error {
	var wire userWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*user = User{
		ID:          firstNonEmpty(string(wire.ID), string(wire.UnderscoreID)),
		DisplayName: firstNonEmpty(wire.FullName, wire.Name),
		Email:       wire.Email,
		Role:        wire.Role,
		raw:         append(json.RawMessage(nil), data...),
	}
	return nil
}

func (user User) MarshalJSON() ([]byte, error) {
	if len(user.raw) > 0 {
		return user.raw, nil
	}
	return json.Marshal(struct {
		ID       string `json:"id,omitempty"`
		FullName string `json:"fullName,omitempty"`
		Email    string `json:"email,omitempty"`
		Role     string `json:"role,omitempty"`
	}{user.ID, user.DisplayName, user.Email, user.Role})
}

// Ticket is a ticket purchase.
type Ticket struct {
	ID     string
	Status string

	raw json.RawMessage
}

func (ticket *Ticket) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID           flexString `json:"id"`
		UnderscoreID flexString `json:"_id"`
		Status       string     `json:"status"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*ticket = Ticket{
		ID:     firstNonEmpty(string(wire.ID), string(wire.UnderscoreID)),
		Status: wire.Status,
		raw:    append(json.RawMessage(nil), data...),
	}
	return nil
}

func (ticket Ticket) MarshalJSON() ([]byte, error) {
	if len(ticket.raw) > 0 {
		return ticket.raw, nil
	}
	return json.Marshal(struct {
		ID     string `json:"id,omitempty"`
		Status string `json:"status,omitempty"`
	}{ticket.ID, ticket.Status})
}

// ValidIdentifier reports whether id can address a record.
func ValidIdentifier(id string) bool {
	trimmed := strings.TrimSpace(id)
	return trimmed != "" && trimmed != "undefined" && trimmed != "null"
}

// ValidEventStatus reports whether status is an accepted event status.
func ValidEventStatus(status string) bool {
	switch status {
	case EventStatusApproved, EventStatusPending, EventStatusCancelled:
		return true
	default:
		return false
	}
}

// ValidTicketStatus reports whether status is an accepted ticket status.
func ValidTicketStatus(status string) bool {
	switch status {
	case TicketStatusConfirmed, TicketStatusPending, TicketStatusCancelled:
		return true
	default:
		return false
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

