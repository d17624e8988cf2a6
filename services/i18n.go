package services

import (
	"fmt"
	"time"

	"powermon/models"
)

// alertStrings holds the localized pieces of a power status alert.
type alertStrings struct {
	PowerOn      string
	PowerOff     string
	PowerWasOn   string
	PowerWasOff  string
	Unknown      string
	UnitS        string
	UnitM        string
	UnitH        string
	DiagramTitle string
	Weekdays     [7]string // Monday first
}

var alertStringsByLang = map[models.AlertLanguage]alertStrings{
	models.LangEN: {
		PowerOn:      "POWER ON",
		PowerOff:     "POWER OFF",
		PowerWasOn:   "Power was ON for",
		PowerWasOff:  "Power was OFF for",
		Unknown:      "unknown",
		UnitS:        "s",
		UnitM:        "m",
		UnitH:        "h",
		DiagramTitle: "Power outages",
		Weekdays:     [7]string{"MON", "TUE", "WED", "THU", "FRI", "SAT", "SUN"},
	},
	models.LangRU: {
		PowerOn:      "СВЕТ ВЕРНУЛСЯ",
		PowerOff:     "СВЕТ ВЫКЛЮЧИЛСЯ",
		PowerWasOn:   "Свет был",
		PowerWasOff:  "Света не было",
		Unknown:      "неизвестно",
		UnitS:        "с",
		UnitM:        "м",
		UnitH:        "ч",
		DiagramTitle: "Отключения света",
		Weekdays:     [7]string{"ПН", "ВТ", "СР", "ЧТ", "ПТ", "СБ", "ВС"},
	},
	models.LangUK: {
		PowerOn:      "СВІТЛО ПОВЕРНУЛОСЯ",
		PowerOff:     "СВІТЛО ЗНИКЛО",
		PowerWasOn:   "Світло було",
		PowerWasOff:  "Світла не було",
		Unknown:      "невідомо",
		UnitS:        "с",
		UnitM:        "хв",
		UnitH:        "год",
		DiagramTitle: "Відключення світла",
		Weekdays:     [7]string{"ПН", "ВТ", "СР", "ЧТ", "ПТ", "СБ", "НД"},
	},
}

func stringsFor(lang models.AlertLanguage) alertStrings {
	if s, ok := alertStringsByLang[lang]; ok {
		return s
	}
	return alertStringsByLang[models.LangEN]
}

// formatDuration renders a duration as a compact human string ("5h 23m").
// Nil means the prior state length is not known.
func formatDuration(d *time.Duration, s alertStrings) string {
	if d == nil {
		return s.Unknown
	}

	seconds := int(d.Seconds())
	switch {
	case seconds < 60:
		return fmt.Sprintf("%d%s", seconds, s.UnitS)
	case seconds < 3600:
		minutes := seconds / 60
		secs := seconds % 60
		if secs > 0 {
			return fmt.Sprintf("%d%s %d%s", minutes, s.UnitM, secs, s.UnitS)
		}
		return fmt.Sprintf("%d%s", minutes, s.UnitM)
	default:
		hours := seconds / 3600
		minutes := (seconds % 3600) / 60
		if minutes > 0 {
			return fmt.Sprintf("%d%s %d%s", hours, s.UnitH, minutes, s.UnitM)
		}
		return fmt.Sprintf("%d%s", hours, s.UnitH)
	}
}

// formatAlert builds the HTML alert message for a committed transition.
func formatAlert(site *models.Site, ev *models.StatusChangeEvent) string {
	s := stringsFor(site.AlertLanguage)
	duration := formatDuration(ev.PreviousStateDuration, s)

	if ev.Kind == models.EventToOff {
		return fmt.Sprintf("🔴 <b>%s</b> — %s\n\n⚡ %s: <b>%s</b>",
			s.PowerOff, site.Name, s.PowerWasOn, duration)
	}
	return fmt.Sprintf("🟢 <b>%s</b> — %s\n\n⚡ %s: <b>%s</b>",
		s.PowerOn, site.Name, s.PowerWasOff, duration)
}

// diagramCaption builds the photo caption for a timeline message.
func diagramCaption(site *models.Site, date time.Time) string {
	s := stringsFor(site.AlertLanguage)
	return fmt.Sprintf("📊 %s - %s (%s)", s.DiagramTitle, site.Name, date.Format("02.01.2006"))
}
