package utils

import (
	"strings"
	"sync"
	"time"

	"quote-aggregator/src/logger"
	"quote-aggregator/src/models"

	"github.com/scmhub/calendar"
)

// BusinessCalendar answers whether a carrier's rating desk works on a given day,
// using exchange holiday calendars from scmhub/calendar keyed by MIC.
type BusinessCalendar struct {
	Calendar *calendar.Calendar
	Fallback bool
	Timezone *time.Location
}

// -----------------------------------------------------------------------------

// GetBusinessCalendar loads the calendar for a MIC code (e.g. "xnys", "xlon").
// Unknown codes fall back to a Mon-Fri calendar in UTC.
func GetBusinessCalendar(mic string) *BusinessCalendar {
	mic = strings.ToLower(strings.TrimSpace(mic))

	cal := calendar.GetCalendar(mic)
	if cal == nil {
		return &BusinessCalendar{Fallback: true, Timezone: time.UTC}
	}

	return &BusinessCalendar{Calendar: cal, Fallback: false, Timezone: cal.Loc}
}

// -----------------------------------------------------------------------------

func (bc *BusinessCalendar) IsBusinessDay(date time.Time) bool {
	if bc.Timezone != nil {
		date = date.In(bc.Timezone)
	}

	if bc.Fallback {
		weekday := date.Weekday()
		return weekday != time.Saturday && weekday != time.Sunday
	}
	return bc.Calendar.IsBusinessDay(date)
}

// -----------------------------------------------------------------------------

// AvailabilitySchedule maps providers to their business calendars. Providers
// without a calendar are always available.
type AvailabilitySchedule struct {
	Calendars map[string]*BusinessCalendar
	Logger    *logger.Logger
	mu        sync.RWMutex
}

// -----------------------------------------------------------------------------

func NewAvailabilitySchedule(providers []models.MProviderConfig, l *logger.Logger) *AvailabilitySchedule {
	s := &AvailabilitySchedule{
		Calendars: make(map[string]*BusinessCalendar),
		Logger:    l,
	}
	for _, p := range providers {
		if p.BusinessCalendar != "" {
			s.SetCalendar(p.ID, p.BusinessCalendar)
		}
	}
	return s
}

// -----------------------------------------------------------------------------

// SetCalendar assigns a calendar to a provider; an empty mic removes it.
func (s *AvailabilitySchedule) SetCalendar(providerID, mic string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mic == "" {
		delete(s.Calendars, providerID)
		return
	}
	cal := GetBusinessCalendar(mic)
	if cal.Fallback {
		s.Logger.Warning("No calendar for MIC '%s' (provider %s). Using Mon-Fri fallback.", mic, providerID)
	}
	s.Calendars[providerID] = cal
}

// -----------------------------------------------------------------------------

// IsAvailable reports whether providerID accepts quote requests at t.
func (s *AvailabilitySchedule) IsAvailable(providerID string, t time.Time) bool {
	s.mu.RLock()
	cal, ok := s.Calendars[providerID]
	s.mu.RUnlock()

	if !ok {
		return true
	}
	return cal.IsBusinessDay(t)
}
