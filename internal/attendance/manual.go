package attendance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"classattend/internal/metrics"
	"classattend/internal/model"
)

// Mark is the daily-form choice for one student.
type Mark struct {
	Status model.Status `json:"status"`
	Note   string       `json:"note"`
}

// dailyStatuses are the choices offered by the daily form.
var dailyStatuses = map[model.Status]bool{
	model.StatusPresent: true,
	model.StatusSick:    true,
	model.StatusExcused: true,
	model.StatusAbsent:  true,
}

// DeriveChecklist maps a checklist to one entry per student: present-manual
// when checked, absent otherwise. The entry date is date (today when zero) and
// the time is now.
func DeriveChecklist(students []model.Student, checked map[string]bool, date, now time.Time) []model.Entry {
	day, clk := stamps(date, now)
	entries := make([]model.Entry, 0, len(students))
	for _, st := range students {
		status := model.StatusAbsent
		if checked[st.ID] {
			status = model.StatusPresentManual
		}
		entries = append(entries, model.Entry{StudentID: st.ID, Name: st.Name, Status: status, Date: day, Time: clk})
	}
	return entries
}

// DeriveDaily maps the per-student daily form to entries. Students without a
// mark are absent; statuses other than present, sick, excused and absent are
// rejected.
func DeriveDaily(students []model.Student, marks map[string]Mark, date, now time.Time) ([]model.Entry, error) {
	day, clk := stamps(date, now)
	entries := make([]model.Entry, 0, len(students))
	for _, st := range students {
		mark, ok := marks[st.ID]
		if !ok {
			mark = Mark{Status: model.StatusAbsent}
		}
		if !dailyStatuses[mark.Status] {
			return nil, fmt.Errorf("%w: %q for %s", ErrInvalidStatus, mark.Status, st.Name)
		}
		entries = append(entries, model.Entry{
			StudentID: st.ID,
			Name:      st.Name,
			Status:    mark.Status,
			Date:      day,
			Time:      clk,
			Note:      mark.Note,
		})
	}
	return entries, nil
}

func stamps(date, now time.Time) (string, string) {
	if date.IsZero() {
		date = now
	}
	return date.Format(model.DateLayout), now.Format(model.TimeLayout)
}

// broadcastEntry is the wire shape of a manual session on the broadcast topic.
type broadcastEntry struct {
	Name   string       `json:"name"`
	Status model.Status `json:"status"`
	Date   string       `json:"date"`
	Time   string       `json:"time"`
}

// Result is a recorded manual session and whether it reached the broadcast
// topic.
type Result struct {
	Session     model.Session `json:"session"`
	Broadcasted bool          `json:"broadcasted"`
}

// Recorder records manual sessions and announces them on the broadcast topic.
type Recorder struct {
	roster    Roster
	history   Sessions
	broadcast Publisher
	clock     clock
	log       *slog.Logger
}

// NewRecorder creates a manual-mode recorder. broadcast may be nil.
func NewRecorder(roster Roster, history Sessions, broadcast Publisher, loc *time.Location, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		roster:    roster,
		history:   history,
		broadcast: broadcast,
		clock:     newClock(loc),
		log:       logger.With("component", "manual"),
	}
}

// RecordChecklist records a checklist session for date.
func (r *Recorder) RecordChecklist(ctx context.Context, checked map[string]bool, date time.Time) (Result, error) {
	students := r.roster.List()
	if len(students) == 0 {
		return Result{}, ErrEmptyRoster
	}
	return r.record(ctx, DeriveChecklist(students, checked, date, r.clock.Now())), nil
}

// RecordDaily records a daily-form session for date.
func (r *Recorder) RecordDaily(ctx context.Context, marks map[string]Mark, date time.Time) (Result, error) {
	students := r.roster.List()
	if len(students) == 0 {
		return Result{}, ErrEmptyRoster
	}
	entries, err := DeriveDaily(students, marks, date, r.clock.Now())
	if err != nil {
		return Result{}, err
	}
	return r.record(ctx, entries), nil
}

func (r *Recorder) record(ctx context.Context, entries []model.Entry) Result {
	rec := r.history.Add(ctx, model.ModeManual, entries)
	return Result{Session: rec, Broadcasted: r.announce(ctx, entries)}
}

// announce publishes the entries; failures are logged and never undo the
// recorded session.
func (r *Recorder) announce(ctx context.Context, entries []model.Entry) bool {
	if r.broadcast == nil {
		return false
	}
	if !r.broadcast.Connected() {
		metrics.BroadcastFailures.Inc()
		r.log.Warn("broadcast skipped, not connected")
		return false
	}

	out := make([]broadcastEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, broadcastEntry{Name: e.Name, Status: e.Status, Date: e.Date, Time: e.Time})
	}
	payload, err := json.Marshal(out)
	if err != nil {
		metrics.BroadcastFailures.Inc()
		r.log.Error("encode broadcast", "error", err)
		return false
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.broadcast.Publish(pubCtx, payload); err != nil {
		metrics.BroadcastFailures.Inc()
		r.log.Warn("broadcast failed", "error", err)
		return false
	}
	return true
}
