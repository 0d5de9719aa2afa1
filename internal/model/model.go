package model

import (
	"fmt"
	"time"
)

// Wire formats of the date and time strings carried by every entry.
const (
	DateLayout = "02/01/2006"
	TimeLayout = "15:04:05"
)

// Student represents a roster member.
type Student struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	NIM     string `json:"nim"`
	Class   string `json:"class"`
	RFIDUID string `json:"rfidUid"`
}

// Status is the outcome category of one student within one session.
type Status string

const (
	StatusPresent       Status = "Hadir"
	StatusPresentManual Status = "Hadir Manual"
	StatusAbsent        Status = "Alpha"
	StatusSick          Status = "Sakit"
	StatusExcused       Status = "Izin"
	StatusUnexcused     Status = "Tidak Hadir"
)

// ParseStatus accepts any of the known outcome strings.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPresent, StatusPresentManual, StatusAbsent, StatusSick, StatusExcused, StatusUnexcused:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Mode tells how a session was recorded.
type Mode string

const (
	ModeAutomatic Mode = "Automatic"
	ModeManual    Mode = "Manual"
)

// Entry is the outcome of one student in a finalized session.
type Entry struct {
	StudentID string `json:"studentId,omitempty"` // empty on rows written before ids were recorded
	Name      string `json:"name"`
	Status    Status `json:"status"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	Note      string `json:"note,omitempty"`
}

// Session is one finalized attendance-taking event.
type Session struct {
	ID        string  `json:"id"`
	Timestamp int64   `json:"timestamp"` // unix milliseconds
	Mode      Mode    `json:"mode"`
	Entries   []Entry `json:"entries"`
}

// CreatedAt returns the session timestamp as a time.
func (s Session) CreatedAt() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// Stamp formats t as the date and time strings of an entry.
func Stamp(t time.Time) (date, clock string) {
	return t.Format(DateLayout), t.Format(TimeLayout)
}
