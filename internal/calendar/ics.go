package calendar

import (
	"bytes"
	"strings"
	"time"
)

const icsDate = "20060102"

// Item is one all-day calendar entry.
type Item struct {
	UID   string
	Title string
	Desc  string
	Date  time.Time
}

// BuildICS renders items as an RFC 5545 calendar of all-day events.
func BuildICS(name string, items []Item, stamp time.Time) []byte {
	var b bytes.Buffer
	b.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//StudySprint//EN\r\nCALSCALE:GREGORIAN\r\n")
	if name != "" {
		b.WriteString("X-WR-CALNAME:" + escapeICS(name) + "\r\n")
	}
	for _, t := range items {
		b.WriteString("BEGIN:VEVENT\r\n")
		b.WriteString("UID:" + t.UID + "@studysprint\r\n")
		b.WriteString("DTSTAMP:" + stamp.UTC().Format("20060102T150405Z") + "\r\n")
		b.WriteString("DTSTART;VALUE=DATE:" + t.Date.Format(icsDate) + "\r\n")
		b.WriteString("DTEND;VALUE=DATE:" + t.Date.AddDate(0, 0, 1).Format(icsDate) + "\r\n")
		b.WriteString("SUMMARY:" + escapeICS(t.Title) + "\r\n")
		if d := t.Desc; d != "" {
			b.WriteString("DESCRIPTION:" + escapeICS(d) + "\r\n")
		}
		b.WriteString("END:VEVENT\r\n")
	}
	b.WriteString("END:VCALENDAR\r\n")
	return b.Bytes()
}

func escapeICS(s string) string {
	repl := strings.NewReplacer("\\", "\\\\", ";", "\\;", ",", "\\,", "\n", "\\n", "\r", "")
	return repl.Replace(s)
}
