package backend

import (
	"strings"
	"time"
)

const displayDateLayout = "1/2/2006"

var eventDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// FilterEvents returns the events matching query as a case-insensitive
// substring of any searchable field. A blank query returns events unchanged.
func FilterEvents(events []Event, query string) []Event {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return events
	}
	matched := make([]Event, 0, len(events))
	for _, event := range events {
		for _, field := range searchableFields(event) {
			if strings.Contains(strings.ToLower(field), needle) {
				matched = append(matched, event)
				break
			}
		}
	}
	return matched
}

func searchableFields(event Event) []string {
	fields := []string{
		event.Title,
		event.Description,
		event.Location,
		FormatEventDate(event.Date),
		event.Time,
		event.TicketPrice,
	}
	if event.CreatedBy != nil {
		fields = append(fields,
			firstNonEmpty(event.CreatedBy.FullName, event.CreatedBy.Email),
			event.CreatedBy.Email)
	}
	return fields
}

// FormatEventDate renders a backend date as month/day/year, or "" when the
// value cannot be parsed.
func FormatEventDate(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	for _, layout := range eventDateLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed.Format(displayDateLayout)
		}
	}
	return ""
}
