package models

import "time"

// SampleStatus is one hourly status sample in the weekly timeline.
type SampleStatus string

const (
	SampleOn     SampleStatus = "on"
	SampleOff    SampleStatus = "off"
	SampleNoData SampleStatus = "no_data"
)

// DaySamples holds 24 hourly samples for one displayed day.
type DaySamples struct {
	Date  time.Time // local midnight of the displayed day
	Label string    // localized weekday abbreviation

	// Dimmed marks days filled from the previous week (the Monday-anchored
	// grid shows last week's data for days that haven't happened yet).
	Dimmed bool

	Hours [24]SampleStatus
}

// WeeklySamples is the renderer input: seven Monday-anchored days,
// earliest first.
type WeeklySamples struct {
	SiteName string
	Language AlertLanguage
	Title    string // localized diagram heading
	Days     [7]DaySamples
}
