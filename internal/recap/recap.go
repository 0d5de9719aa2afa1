package recap

import (
	"errors"
	"sort"
	"time"

	"classattend/internal/model"
	"classattend/internal/roster"
)

// ErrInvalidRange is returned when the range ends before it starts.
var ErrInvalidRange = errors.New("recap: end date before start date")

// Counts holds the four countable outcome buckets.
type Counts struct {
	Present int `json:"present"`
	Sick    int `json:"sick"`
	Excused int `json:"excused"`
	Absent  int `json:"absent"`
}

// add increments the bucket of status and reports whether status is countable.
func (c *Counts) add(status model.Status) bool {
	switch status {
	case model.StatusPresent:
		c.Present++
	case model.StatusSick:
		c.Sick++
	case model.StatusExcused:
		c.Excused++
	case model.StatusAbsent:
		c.Absent++
	default:
		return false
	}
	return true
}

// Row is the recap of one student.
type Row struct {
	StudentID string `json:"studentId"`
	Name      string `json:"name"`
	NIM       string `json:"nim"`
	Class     string `json:"class"`
	Counts
}

// Range is an inclusive span of calendar days.
type Range struct {
	Start time.Time
	End   time.Time
}

func (r Range) contains(day time.Time) bool {
	return !day.Before(r.Start) && !day.After(r.End)
}

// Aggregate counts, per student of class, the outcomes of every session whose
// representative date (the date of its first entry) falls inside rng. Sessions
// without entries or with an unreadable date are skipped, as are statuses
// outside the four buckets.
func Aggregate(students []model.Student, sessions []model.Session, rng Range, class string) ([]Row, error) {
	start, end := dayOf(rng.Start), dayOf(rng.End)
	if end.Before(start) {
		return nil, ErrInvalidRange
	}
	rng = Range{Start: start, End: end}

	rows := make([]Row, 0, len(students))
	index := make(map[string]int, len(students))
	for _, st := range students {
		if !roster.MatchesClass(st, class) {
			continue
		}
		index[st.ID] = len(rows)
		rows = append(rows, Row{StudentID: st.ID, Name: st.Name, NIM: st.NIM, Class: st.Class})
	}

	resolve := newResolver(students)
	for _, rec := range sessions {
		day, ok := sessionDay(rec)
		if !ok || !rng.contains(day) {
			continue
		}
		for _, e := range rec.Entries {
			id, ok := resolve(e)
			if !ok {
				continue
			}
			if i, ok := index[id]; ok {
				rows[i].add(e.Status)
			}
		}
	}
	return rows, nil
}

// Summarize totals every entry of every session into the four buckets;
// manual presence counts as present.
func Summarize(sessions []model.Session) Counts {
	var c Counts
	for _, rec := range sessions {
		for _, e := range rec.Entries {
			status := e.Status
			if status == model.StatusPresentManual {
				status = model.StatusPresent
			}
			c.add(status)
		}
	}
	return c
}

// HistoryItem is one entry of a student together with its session.
type HistoryItem struct {
	model.Entry
	SessionID string     `json:"sessionId"`
	Mode      model.Mode `json:"mode"`
	Timestamp int64      `json:"timestamp"`
}

// StudentHistory lists every entry of st across sessions, newest first.
func StudentHistory(st model.Student, students []model.Student, sessions []model.Session) []HistoryItem {
	resolve := newResolver(students)
	items := []HistoryItem{}
	for _, rec := range sessions {
		for _, e := range rec.Entries {
			if id, ok := resolve(e); ok && id == st.ID {
				items = append(items, HistoryItem{Entry: e, SessionID: rec.ID, Mode: rec.Mode, Timestamp: rec.Timestamp})
			}
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Timestamp > items[j].Timestamp })
	return items
}

// newResolver maps an entry to a student id. Entries carry the id; older
// entries without one resolve by name, and only when the name is unique.
func newResolver(students []model.Student) func(model.Entry) (string, bool) {
	byName := make(map[string]string, len(students))
	dup := make(map[string]bool)
	for _, st := range students {
		if _, ok := byName[st.Name]; ok {
			dup[st.Name] = true
		}
		byName[st.Name] = st.ID
	}
	return func(e model.Entry) (string, bool) {
		if e.StudentID != "" {
			return e.StudentID, true
		}
		if dup[e.Name] {
			return "", false
		}
		id, ok := byName[e.Name]
		return id, ok
	}
}

func sessionDay(rec model.Session) (time.Time, bool) {
	if len(rec.Entries) == 0 {
		return time.Time{}, false
	}
	day, err := time.Parse(model.DateLayout, rec.Entries[0].Date)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

// dayOf drops the clock and zone, keeping the calendar day as UTC midnight so
// it compares with parsed entry dates.
func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
