package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Event is one calendar entry.
type Event struct {
	Summary     string `json:"summary"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
	AllDay      bool   `json:"all_day,omitempty"`
}

// EventStore is a JSON-file backed calendar. It stands in for the
// CalDAV sync the desktop side owns; the agent only needs briefing
// reads and event appends.
type EventStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewEventStore creates a store backed by the JSON file at path.
func NewEventStore(path string) *EventStore {
	return &EventStore{path: path, now: time.Now}
}

// timeLayouts are accepted event-time formats, tried in order.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseEventTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func localMidnight(t time.Time) time.Time {
	y, m, d := t.In(time.Local).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

// Add appends an event. A missing end time defaults to one hour after
// the start.
func (s *EventStore) Add(e Event) (Event, error) {
	start, err := parseEventTime(e.Start)
	if err != nil {
		return Event{}, err
	}
	e.Start = start.Format(time.RFC3339)
	if e.End == "" {
		e.End = start.Add(time.Hour).Format(time.RFC3339)
	} else {
		end, err := parseEventTime(e.End)
		if err != nil {
			return Event{}, err
		}
		e.End = end.Format(time.RFC3339)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	events, err := s.load()
	if err != nil {
		return Event{}, err
	}
	events = append(events, e)
	return e, s.save(events)
}

// Briefing returns today's and tomorrow's events, each sorted by
// start time.
func (s *EventStore) Briefing() (today, tomorrow []Event, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events, err := s.load()
	if err != nil {
		return nil, nil, err
	}

	// Bucket by local calendar day. Truncate would cut at UTC
	// boundaries and push morning events into the previous day.
	dayStart := localMidnight(s.now())
	dayNext := dayStart.AddDate(0, 0, 1)
	for _, e := range events {
		start, err := parseEventTime(e.Start)
		if err != nil {
			continue
		}
		switch day := localMidnight(start); {
		case day.Equal(dayStart):
			today = append(today, e)
		case day.Equal(dayNext):
			tomorrow = append(tomorrow, e)
		}
	}
	byStart := func(events []Event) func(i, j int) bool {
		return func(i, j int) bool { return events[i].Start < events[j].Start }
	}
	sort.Slice(today, byStart(today))
	sort.Slice(tomorrow, byStart(tomorrow))
	return today, tomorrow, nil
}

// load reads all events. Caller holds the lock.
func (s *EventStore) load() ([]Event, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("corrupt calendar file: %w", err)
	}
	return events, nil
}

func (s *EventStore) save(events []Event) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

// RegisterCalendarTools registers the briefing and event tools over
// the store.
func RegisterCalendarTools(r *Registry, store *EventStore) {
	r.MustRegister(&Tool{
		Name:        "get_calendar_briefing",
		Description: "오늘/내일 캘린더 일정 조회. NOT for: 날씨, 뉴스, 논문 검색.",
		Category:    CategoryCalendar,
		Schema:      Schema{Required: []string{}, Properties: map[string]Property{}},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			today, tomorrow, err := store.Briefing()
			if err != nil {
				return errorJSON("briefing failed: " + err.Error()), nil
			}
			return okJSON(map[string]any{
				"today":    emptyIfNil(today),
				"tomorrow": emptyIfNil(tomorrow),
			}), nil
		},
	})

	r.MustRegister(&Tool{
		Name:        "add_calendar_event",
		Description: "캘린더에 새 일정 추가.",
		Category:    CategoryCalendar,
		Schema: Schema{
			Required: []string{"summary", "start_time"},
			Properties: map[string]Property{
				"summary":     {Type: "string", Description: "Event title"},
				"start_time":  {Type: "string", Description: "Start time in ISO 8601 format (e.g. '2026-02-08T14:00:00')"},
				"end_time":    {Type: "string", Description: "End time in ISO 8601 format. If omitted, defaults to start_time + 1 hour."},
				"location":    {Type: "string", Description: "Event location (optional)"},
				"description": {Type: "string", Description: "Event description (optional)"},
				"all_day":     {Type: "boolean", Description: "Whether this is an all-day event (default: false)"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			saved, err := store.Add(Event{
				Summary:     StringArg(args, "summary"),
				Start:       StringArg(args, "start_time"),
				End:         StringArg(args, "end_time"),
				Location:    StringArg(args, "location"),
				Description: StringArg(args, "description"),
				AllDay:      BoolArg(args, "all_day", false),
			})
			if err != nil {
				return errorJSON("add event failed: " + err.Error()), nil
			}
			return okJSON(map[string]any{"status": "ok", "event": saved}), nil
		},
	})
}

func emptyIfNil(events []Event) []Event {
	if events == nil {
		return []Event{}
	}
	return events
}
