package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"classattend/internal/messaging"
	"classattend/internal/metrics"
	"classattend/internal/model"
)

// scanMark is the first successful match of a student in the open session.
type scanMark struct {
	date string
	time string
}

// ScanResult describes an accepted scan.
type ScanResult struct {
	UID            string        `json:"uid"`
	Student        model.Student `json:"student"`
	AlreadyPresent bool          `json:"alreadyPresent"`
	Date           string        `json:"date"`
	Time           string        `json:"time"`
}

// BoardRow is one roster member on the live board.
type BoardRow struct {
	Student model.Student `json:"student"`
	Status  model.Status  `json:"status"`
	Date    string        `json:"date"`
	Time    string        `json:"time"`
}

// Board is a snapshot of the open automatic session.
type Board struct {
	Connected bool       `json:"connected"`
	Present   int        `json:"present"`
	Total     int        `json:"total"`
	Rows      []BoardRow `json:"rows"`
}

// Live reconciles tag scans against the roster for the open automatic
// session. Presence is session-scoped: the working set only ever grows until
// Finalize, which records the session and starts an empty one.
type Live struct {
	roster  Roster
	history Sessions
	link    Link
	clock   clock
	log     *slog.Logger

	mu      sync.Mutex
	present map[string]scanMark // by student id
}

// NewLive creates a reconciler with an empty working set.
func NewLive(roster Roster, history Sessions, link Link, loc *time.Location, logger *slog.Logger) *Live {
	if logger == nil {
		logger = slog.Default()
	}
	return &Live{
		roster:  roster,
		history: history,
		link:    link,
		clock:   newClock(loc),
		log:     logger.With("component", "live"),
		present: make(map[string]scanMark),
	}
}

// Scan applies one raw payload. The payload must be a JSON object with a
// non-empty string uid; anything else is ErrMalformedScan. A uid that matches
// no student is ErrUnknownTag. Neither changes state.
func (l *Live) Scan(payload string) (ScanResult, error) {
	uid, err := decodeScan(payload)
	if err != nil {
		metrics.Scans.WithLabelValues("malformed").Inc()
		return ScanResult{}, err
	}

	st, ok := l.roster.FindByTag(uid)
	if !ok {
		metrics.Scans.WithLabelValues("unknown_tag").Inc()
		return ScanResult{UID: uid}, fmt.Errorf("%w: %s", ErrUnknownTag, uid)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if mark, seen := l.present[st.ID]; seen {
		metrics.Scans.WithLabelValues("duplicate").Inc()
		return ScanResult{UID: uid, Student: st, AlreadyPresent: true, Date: mark.date, Time: mark.time}, nil
	}
	date, clk := model.Stamp(l.clock.Now())
	l.present[st.ID] = scanMark{date: date, time: clk}
	metrics.Scans.WithLabelValues("matched").Inc()
	return ScanResult{UID: uid, Student: st, Date: date, Time: clk}, nil
}

// HandleMessage is the feed handler: it applies the payload and logs the
// outcome.
func (l *Live) HandleMessage(_ context.Context, msg messaging.Message) {
	res, err := l.Scan(msg.Payload)
	switch {
	case errors.Is(err, ErrMalformedScan):
		l.log.Warn("ignoring malformed scan", "payload", msg.Payload)
	case errors.Is(err, ErrUnknownTag):
		l.log.Warn("scanned tag not in roster", "uid", res.UID)
	case err != nil:
		l.log.Error("scan failed", "error", err)
	case res.AlreadyPresent:
		l.log.Info("student already present", "student", res.Student.Name, "since", res.Time)
	default:
		l.log.Info("student marked present", "student", res.Student.Name, "time", res.Time)
	}
}

// Board returns every roster member, sorted by name, with live status.
func (l *Live) Board() Board {
	students := l.roster.List()
	date, clk := model.Stamp(l.clock.Now())

	l.mu.Lock()
	rows := make([]BoardRow, 0, len(students))
	present := 0
	for _, st := range students {
		row := BoardRow{Student: st, Status: model.StatusUnexcused, Date: date, Time: clk}
		if mark, ok := l.present[st.ID]; ok {
			row.Status, row.Date, row.Time = model.StatusPresent, mark.date, mark.time
			present++
		}
		rows = append(rows, row)
	}
	l.mu.Unlock()

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Student.Name < rows[j].Student.Name })
	return Board{Connected: l.link.Connected(), Present: present, Total: len(students), Rows: rows}
}

// Finalize records one entry per current roster member, in roster order:
// present with the first-scan stamp, or absent with the finalize-time stamp.
// The working set is cleared afterwards.
func (l *Live) Finalize(ctx context.Context) (model.Session, error) {
	students := l.roster.List()
	if len(students) == 0 {
		return model.Session{}, ErrEmptyRoster
	}
	if !l.link.Connected() {
		return model.Session{}, ErrNotConnected
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	date, clk := model.Stamp(l.clock.Now())
	entries := make([]model.Entry, 0, len(students))
	for _, st := range students {
		e := model.Entry{StudentID: st.ID, Name: st.Name}
		if mark, ok := l.present[st.ID]; ok {
			e.Status, e.Date, e.Time = model.StatusPresent, mark.date, mark.time
		} else {
			e.Status, e.Date, e.Time, e.Note = model.StatusAbsent, date, clk, AutoAbsentNote
		}
		entries = append(entries, e)
	}

	rec := l.history.Add(ctx, model.ModeAutomatic, entries)
	l.present = make(map[string]scanMark)
	return rec, nil
}

func decodeScan(payload string) (string, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedScan, err)
	}
	uid, _ := data["uid"].(string)
	if uid == "" {
		return "", fmt.Errorf("%w: missing uid", ErrMalformedScan)
	}
	return uid, nil
}
