package services

import (
	"context"
	"fmt"
	"time"

	"powermon/models"
	"powermon/store"
)

// BuildWeeklySamples assembles the renderer input for one site: seven
// Monday-anchored days around targetDate, 24 hourly samples each. Days of
// the week that haven't happened yet show the previous week's data,
// flagged dimmed. targetDate and now must carry the display timezone.
func BuildWeeklySamples(ctx context.Context, st store.Store, site *models.Site, targetDate, now time.Time) (models.WeeklySamples, error) {
	s := stringsFor(site.AlertLanguage)
	week := models.WeeklySamples{
		SiteName: site.Name,
		Language: site.AlertLanguage,
		Title:    s.DiagramTitle,
	}

	loc := targetDate.Location()
	target := midnight(targetDate)
	monday := target.AddDate(0, 0, -int((target.Weekday()+6)%7))

	for i := 0; i < 7; i++ {
		day := monday.AddDate(0, 0, i)
		dimmed := day.After(target)
		if dimmed {
			// Future weekday slot: show the same weekday of last week.
			day = day.AddDate(0, 0, -7)
		}

		hours, err := daySamples(ctx, st, site, day, target, now.In(loc))
		if err != nil {
			return week, err
		}

		week.Days[i] = models.DaySamples{
			Date:   day,
			Label:  s.Weekdays[i],
			Dimmed: dimmed,
			Hours:  hours,
		}
	}

	return week, nil
}

// daySamples computes the 24 hourly samples for one displayed day.
func daySamples(ctx context.Context, st store.Store, site *models.Site, day, target, now time.Time) ([24]models.SampleStatus, error) {
	var hours [24]models.SampleStatus
	for h := range hours {
		hours[h] = models.SampleNoData
	}

	if site.MonitoringStartedAt == nil {
		return hours, nil
	}
	monitoringStart := midnight(site.MonitoringStartedAt.In(day.Location()))
	if day.Before(monitoringStart) {
		return hours, nil
	}

	dayStart := day
	dayEnd := day.AddDate(0, 0, 1)

	events, err := st.StatusChangeEventsInRange(ctx, site.ID, dayStart, dayEnd)
	if err != nil {
		return hours, fmt.Errorf("samples: events for %s: %w", site.ID, err)
	}

	// Status at the start of the day comes from the last event before it.
	// On the first monitoring day there is no data until the first event.
	initial := models.SampleNoData
	prev, err := st.LatestEventBefore(ctx, site.ID, dayStart)
	if err != nil {
		return hours, fmt.Errorf("samples: previous event for %s: %w", site.ID, err)
	}
	if prev != nil {
		initial = sampleForKind(prev.Kind)
	}

	isToday := day.Equal(midnight(now))

	for h := 0; h < 24; h++ {
		hourStart := dayStart.Add(time.Duration(h) * time.Hour)
		if isToday && !hourStart.Before(now) {
			// The rest of today hasn't happened.
			break
		}

		// Sample at mid-hour; a partial current hour samples at now.
		at := hourStart.Add(30 * time.Minute)
		if isToday && at.After(now) {
			at = now
		}
		hours[h] = statusAt(initial, events, at)
	}

	return hours, nil
}

// statusAt replays the day's events up to t over the initial status.
func statusAt(initial models.SampleStatus, events []*models.StatusChangeEvent, t time.Time) models.SampleStatus {
	current := initial
	for _, ev := range events {
		if ev.OccurredAt.After(t) {
			break
		}
		current = sampleForKind(ev.Kind)
	}
	return current
}

func sampleForKind(kind models.EventKind) models.SampleStatus {
	if kind == models.EventToOff {
		return models.SampleOff
	}
	return models.SampleOn
}

// midnight truncates t to local midnight in t's own location.
func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
