// Package calendar builds Google Calendar "add event" links for follow-up
// visits and Fletcher APK appointments.
package calendar

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// BaseURL is the Google Calendar render endpoint.
const BaseURL = "https://calendar.google.com/calendar/render"

const (
	allDayLayout = "20060102"
	timedLayout  = "20060102T150400"
)

// Event describes a calendar entry. A zero End means one day for all-day
// events and one hour otherwise.
type Event struct {
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
}

// URL renders e as a Google Calendar template link. Parameters keep a fixed
// order: action, text, details, location, dates.
func URL(e Event) string {
	var b strings.Builder
	b.WriteString(BaseURL)
	b.WriteString("?action=TEMPLATE")
	add := func(k, v string) {
		b.WriteByte('&')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(v))
	}
	add("text", e.Title)
	if e.Description != "" {
		add("details", e.Description)
	}
	if e.Location != "" {
		add("location", e.Location)
	}

	end := e.End
	layout := timedLayout
	if e.AllDay {
		layout = allDayLayout
		if end.IsZero() {
			end = e.Start.AddDate(0, 0, 1)
		}
	} else if end.IsZero() {
		end = e.Start.Add(time.Hour)
	}
	add("dates", e.Start.Format(layout)+"/"+end.Format(layout))
	return b.String()
}

// DefaultStart is used when the caller gives no date: 24 hours from now.
func DefaultStart(now time.Time) time.Time {
	return now.Add(24 * time.Hour)
}

func place(name, city string) string {
	if city == "" {
		return name
	}
	return name + ", " + city
}

// VisitEvent is a one-hour follow-up visit.
func VisitEvent(name, city, address, notes string, start time.Time) string {
	desc := "Geplande visit"
	if notes != "" {
		desc += "\n\nNotities:\n" + notes
	}
	loc := address
	if loc == "" {
		loc = place(name, city)
	}
	return URL(Event{
		Title:       "Visit: " + name,
		Description: desc,
		Location:    loc,
		Start:       start,
		End:         start.Add(time.Hour),
	})
}

// FletcherAPKEvent is a two-hour APK appointment.
func FletcherAPKEvent(name, city string, start time.Time) string {
	return URL(Event{
		Title:       "Fletcher APK: " + name,
		Description: "Fletcher APK Checklist afspraak\n\nLocatie: " + place(name, city),
		Location:    place(name, city),
		Start:       start,
		End:         start.Add(2 * time.Hour),
	})
}

// TodoEvent is an all-day reminder for a single todo.
func TodoEvent(text, name, city string, due time.Time) string {
	e := Event{
		Title:       "TODO: " + text,
		Description: "Fletcher APK Todo\n\n" + text,
		Start:       due,
		AllDay:      true,
	}
	if name != "" {
		e.Location = place(name, city)
	}
	return URL(e)
}

// Todo is the minimal todo shape TodoListEvent needs.
type Todo struct {
	Text string
	Done bool
}

// TodoListEvent is a one-hour event whose description numbers every open todo.
func TodoListEvent(todos []Todo, name, city string, start time.Time) string {
	var list []string
	for _, t := range todos {
		if t.Done {
			continue
		}
		list = append(list, fmt.Sprintf("%d. [ ] %s", len(list)+1, t.Text))
	}
	rule := strings.Repeat("=", 30)
	desc := fmt.Sprintf("Fletcher APK Vervolgacties\n\nLocatie: %s\n\nTAKENLIJST (%d items):\n%s\n%s\n%s\n\n"+
		"TIP: Klik rechts op dit event in Google Calendar en kies \"Convert to task\" om het als afvinkbare taak te gebruiken!",
		place(name, city), len(list), rule, strings.Join(list, "\n"), rule)
	return URL(Event{
		Title:       "Vervolg APK: " + name,
		Description: desc,
		Location:    place(name, city),
		Start:       start,
		End:         start.Add(time.Hour),
	})
}
