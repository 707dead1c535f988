package analytics

import (
	"fmt"
	"sort"
	"time"

	"github.com/ipick/shop-analytics/internal/models"
	"github.com/shopspring/decimal"
)

// TimedEvent is a journey event with its parsed timestamp.
type TimedEvent struct {
	models.JourneyEvent
	At time.Time
}

// Session is the time-ordered set of events sharing one session id.
type Session struct {
	ID     string
	Events []TimedEvent
}

// IsBounce reports whether the session holds exactly one event.
func (s *Session) IsBounce() bool {
	return len(s.Events) == 1
}

// Start returns the timestamp of the earliest event.
func (s *Session) Start() time.Time {
	if len(s.Events) == 0 {
		return time.Time{}
	}
	return s.Events[0].At
}

// End returns the timestamp of the latest event.
func (s *Session) End() time.Time {
	if len(s.Events) == 0 {
		return time.Time{}
	}
	return s.Events[len(s.Events)-1].At
}

// Duration is the span between first and last event. The second value is
// false for sessions with fewer than two events.
func (s *Session) Duration() (time.Duration, bool) {
	if len(s.Events) < 2 {
		return 0, false
	}
	return s.End().Sub(s.Start()), true
}

// EntryPage returns the URL of the earliest page view that has one.
func (s *Session) EntryPage() (string, bool) {
	for _, ev := range s.Events {
		if ev.EventType == models.EventPageView && ev.PageURL != "" {
			return ev.PageURL, true
		}
	}
	return "", false
}

// ExitPage returns the URL of the latest page view that has one.
func (s *Session) ExitPage() (string, bool) {
	for i := len(s.Events) - 1; i >= 0; i-- {
		ev := s.Events[i]
		if ev.EventType == models.EventPageView && ev.PageURL != "" {
			return ev.PageURL, true
		}
	}
	return "", false
}

// HasEvent reports whether any event of the given type occurred.
func (s *Session) HasEvent(eventType string) bool {
	for _, ev := range s.Events {
		if ev.EventType == eventType {
			return true
		}
	}
	return false
}

// CartTotal sums the cart values carried by the session's events.
func (s *Session) CartTotal() decimal.Decimal {
	total := decimal.Zero
	for _, ev := range s.Events {
		if ev.CartValue != nil {
			total = total.Add(decimal.NewFromFloat(*ev.CartValue))
		}
	}
	return total
}

// Sessions maps session id to session.
type Sessions map[string]*Session

// IDs returns the session ids in ascending order.
func (ss Sessions) IDs() []string {
	ids := make([]string, 0, len(ss))
	for id := range ss {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AggregateSessions groups events by session id and orders each session by
// timestamp. Events with equal timestamps keep their input order.
//
// A single unparsable timestamp rejects the whole batch: ordering drives
// bounce, duration and entry page, so a misplaced event would corrupt them.
func AggregateSessions(events []models.JourneyEvent) (Sessions, error) {
	sessions := make(Sessions)
	for _, ev := range events {
		at, err := ParseTimestamp(ev.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("journey event %q in session %q: %w", ev.ID, ev.SessionID, err)
		}
		s, ok := sessions[ev.SessionID]
		if !ok {
			s = &Session{ID: ev.SessionID}
			sessions[ev.SessionID] = s
		}
		s.Events = append(s.Events, TimedEvent{JourneyEvent: ev, At: at})
	}

	for _, s := range sessions {
		sort.SliceStable(s.Events, func(i, j int) bool {
			return s.Events[i].At.Before(s.Events[j].At)
		})
	}
	return sessions, nil
}
