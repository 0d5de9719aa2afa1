package attendance

import (
	"context"
	"errors"
	"time"

	"classattend/internal/model"
)

// AutoAbsentNote annotates students an automatic session never saw.
const AutoAbsentNote = "Otomatis Alpha"

var (
	ErrEmptyRoster   = errors.New("no students to record")
	ErrNotConnected  = errors.New("scan feed is not connected")
	ErrMalformedScan = errors.New("malformed scan payload")
	ErrUnknownTag    = errors.New("tag not registered to any student")
	ErrInvalidStatus = errors.New("invalid attendance status")
)

// Roster is the read side of the student roster.
type Roster interface {
	List() []model.Student
	FindByTag(uid string) (model.Student, bool)
}

// Sessions appends finalized sessions to history.
type Sessions interface {
	Add(ctx context.Context, mode model.Mode, entries []model.Entry) model.Session
}

// Link is a connection to the messaging transport.
type Link interface {
	Connected() bool
}

// Publisher is a Link that can publish on its topic.
type Publisher interface {
	Link
	Publish(ctx context.Context, payload []byte) error
}

// clock returns the current time in loc.
type clock struct {
	now func() time.Time
	loc *time.Location
}

func newClock(loc *time.Location) clock {
	if loc == nil {
		loc = time.Local
	}
	return clock{now: time.Now, loc: loc}
}

func (c clock) Now() time.Time { return c.now().In(c.loc) }
