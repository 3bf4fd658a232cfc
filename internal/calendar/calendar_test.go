package calendar

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"studysprint/internal/groups"
	"studysprint/internal/tasks"
)

func TestGroupItems(t *testing.T) {
	req := require.New(t)
	g := groups.Group{ID: 4, Name: "Bio", Subject: "Biology", Goal: "Pass", ExamDate: "2026-06-10"}
	ts := []tasks.Task{
		{ID: 1, Title: "Cells", DueDate: lo.ToPtr("2026-05-01")},
		{ID: 2, Title: "No date"},
		{ID: 3, Title: "Genetics", Completed: true, DueDate: lo.ToPtr("2026-05-20")},
	}

	items := GroupItems(g, ts)

	req.Len(items, 3)
	req.Equal("group-4-exam", items[0].UID)
	req.Equal("Exam: Bio", items[0].Title)
	req.Equal(time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC), items[0].Date)
	req.Equal("task-1", items[1].UID)
	req.Equal("Genetics (done)", items[2].Title)
}

func TestBuildICS(t *testing.T) {
	req := require.New(t)
	stamp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	out := string(BuildICS("Bio; group", []Item{
		{UID: "task-1", Title: "Read, then summarise", Desc: "line1\nline2", Date: time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC)},
	}, stamp))

	req.True(strings.HasPrefix(out, "BEGIN:VCALENDAR\r\n"))
	req.True(strings.HasSuffix(out, "END:VCALENDAR\r\n"))
	req.Contains(out, "X-WR-CALNAME:Bio\\; group\r\n")
	req.Contains(out, "UID:task-1@studysprint\r\n")
	req.Contains(out, "DTSTAMP:20260102T030405Z\r\n")
	req.Contains(out, "DTSTART;VALUE=DATE:20260531\r\n")
	req.Contains(out, "DTEND;VALUE=DATE:20260601\r\n")
	req.Contains(out, "SUMMARY:Read\\, then summarise\r\n")
	req.Contains(out, "DESCRIPTION:line1\\nline2\r\n")
}

func TestEventID(t *testing.T) {
	req := require.New(t)
	base32hex := regexp.MustCompile(`^[0-9a-v]+$`)
	for _, uid := range []string{"group-1-exam", "task-99", "task-1"} {
		id := EventID(uid)
		req.Regexp(base32hex, id)
		req.GreaterOrEqual(len(id), 5)
		req.LessOrEqual(len(id), 1024)
	}
	req.NotEqual(EventID("task-1"), EventID("task-11"))
	req.Equal(EventID("task-7"), EventID("task-7"))
}
