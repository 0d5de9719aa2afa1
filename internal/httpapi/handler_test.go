package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classattend/internal/attendance"
	"classattend/internal/history"
	"classattend/internal/messaging"
	"classattend/internal/model"
	"classattend/internal/recap"
	"classattend/internal/roster"
	"classattend/internal/store"
)

type fakeLink struct{ up bool }

func (f *fakeLink) Connected() bool { return f.up }

type env struct {
	router  *gin.Engine
	broker  *messaging.InMemory
	manual  *messaging.Feed
	link    *fakeLink
	history *history.Store
}

func classroom() []model.Student {
	return []model.Student{
		{ID: "1", Name: "Ana", NIM: "4.32.23.001", Class: "A", RFIDUID: "A1"},
		{ID: "2", Name: "Budi", NIM: "4.32.23.002", Class: "B", RFIDUID: "B2"},
	}
}

func newEnv(t *testing.T, students []model.Student) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	kv := store.NewMemory()
	e := &env{
		broker: messaging.NewInMemory(8),
		link:   &fakeLink{up: true},
	}
	t.Cleanup(func() { _ = e.broker.Close() })

	rs := roster.Load(ctx, kv, students, nil)
	e.history = history.Load(ctx, kv, nil)
	e.manual = messaging.NewFeed(e.broker, "1/2", nil)

	h := New(Deps{
		Roster:   rs,
		History:  e.history,
		Live:     attendance.NewLive(rs, e.history, e.link, time.UTC, nil),
		Recorder: attendance.NewRecorder(rs, e.history, e.manual, time.UTC, nil),
		Feeds:    []*messaging.Feed{e.manual, messaging.NewFeed(e.broker, "1/0", nil)},
		Store:    kv,
		Broker:   e.broker,
		Location: time.UTC,
	})
	e.router = gin.New()
	h.Register(e.router)
	return e
}

func (e *env) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	e := newEnv(t, classroom())

	w := e.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, w)["status"])

	require.NoError(t, e.broker.Close())
	w = e.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, false, body["broker"])
	assert.Equal(t, true, body["store"])
}

func TestStudentsCRUD(t *testing.T) {
	e := newEnv(t, classroom())

	type listResp struct {
		Students []model.Student `json:"students"`
		Total    int             `json:"total"`
	}
	list := decode[listResp](t, e.do(http.MethodGet, "/api/students?q=ANA", nil))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "1", list.Students[0].ID)

	list = decode[listResp](t, e.do(http.MethodGet, "/api/students?class=B", nil))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "Budi", list.Students[0].Name)

	w := e.do(http.MethodPost, "/api/students", model.Student{Name: "Citra"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode[map[string]string](t, w)["error"], "nim required")

	w = e.do(http.MethodPost, "/api/students", model.Student{Name: "Citra", NIM: "4.32.23.003", Class: "A", RFIDUID: "C3"})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[model.Student](t, w)
	assert.NotEmpty(t, created.ID)

	w = e.do(http.MethodPut, "/api/students/"+created.ID, model.Student{Name: "Citra Dewi", NIM: "4.32.23.003", Class: "C"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Citra Dewi", decode[model.Student](t, e.do(http.MethodGet, "/api/students/"+created.ID, nil)).Name)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodPut, "/api/students/nope", model.Student{Name: "X", NIM: "1"}).Code)
	assert.Equal(t, http.StatusNoContent, e.do(http.MethodDelete, "/api/students/"+created.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/students/"+created.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodDelete, "/api/students/"+created.ID, nil).Code)
}

func TestAutomaticFlow(t *testing.T) {
	e := newEnv(t, classroom())

	w := e.do(http.MethodPost, "/api/attendance/automatic/scans", `{"uid":"A1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[attendance.ScanResult](t, w)
	assert.Equal(t, "Ana", res.Student.Name)
	assert.False(t, res.AlreadyPresent)

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/api/attendance/automatic/scans", `not json`).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodPost, "/api/attendance/automatic/scans", `{"uid":"ZZ"}`).Code)

	board := decode[attendance.Board](t, e.do(http.MethodGet, "/api/attendance/automatic", nil))
	assert.Equal(t, 1, board.Present)
	assert.Equal(t, 2, board.Total)
	assert.True(t, board.Connected)

	w = e.do(http.MethodPost, "/api/attendance/automatic/finalize", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	rec := decode[model.Session](t, w)
	assert.Equal(t, model.ModeAutomatic, rec.Mode)
	require.Len(t, rec.Entries, 2)
	assert.Equal(t, model.StatusPresent, rec.Entries[0].Status)
	assert.Equal(t, model.StatusAbsent, rec.Entries[1].Status)
	assert.Equal(t, attendance.AutoAbsentNote, rec.Entries[1].Note)

	board = decode[attendance.Board](t, e.do(http.MethodGet, "/api/attendance/automatic", nil))
	assert.Zero(t, board.Present)

	got := decode[model.Session](t, e.do(http.MethodGet, "/api/sessions/"+rec.ID, nil))
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/sessions/missing", nil).Code)

	e.link.up = false
	w = e.do(http.MethodPost, "/api/attendance/automatic/finalize", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Len(t, e.history.List(), 1)
}

func TestEmptyRosterConflicts(t *testing.T) {
	e := newEnv(t, nil)

	assert.Equal(t, http.StatusConflict, e.do(http.MethodPost, "/api/attendance/automatic/finalize", nil).Code)
	assert.Equal(t, http.StatusConflict, e.do(http.MethodPost, "/api/attendance/manual", map[string]any{}).Code)
	assert.Equal(t, http.StatusConflict, e.do(http.MethodPost, "/api/attendance/daily", map[string]any{}).Code)
	assert.Empty(t, e.history.List())
}

func TestManualChecklistBroadcasts(t *testing.T) {
	e := newEnv(t, classroom())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := e.broker.Subscribe(ctx, "1/2")
	require.NoError(t, err)

	w := e.do(http.MethodPost, "/api/attendance/manual", map[string]any{
		"date":    "2026-10-19",
		"present": map[string]bool{"1": true},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	res := decode[attendance.Result](t, w)
	assert.True(t, res.Broadcasted)
	assert.Equal(t, model.ModeManual, res.Session.Mode)
	require.Len(t, res.Session.Entries, 2)
	assert.Equal(t, model.StatusPresentManual, res.Session.Entries[0].Status)
	assert.Equal(t, "19/10/2026", res.Session.Entries[0].Date)
	assert.Equal(t, model.StatusAbsent, res.Session.Entries[1].Status)

	select {
	case msg := <-sub:
		var payload []map[string]string
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &payload))
		require.Len(t, payload, 2)
		assert.Equal(t, "Ana", payload[0]["name"])
		assert.Equal(t, "Hadir Manual", payload[0]["status"])
	case <-time.After(time.Second):
		t.Fatal("no broadcast received")
	}

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/api/attendance/manual", map[string]any{"date": "tomorrow"}).Code)
}

func TestDailyRecapAndSummary(t *testing.T) {
	e := newEnv(t, classroom())

	w := e.do(http.MethodPost, "/api/attendance/daily", map[string]any{
		"date":  "19/10/2026",
		"marks": map[string]attendance.Mark{"1": {Status: model.StatusSick, Note: "demam"}},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	res := decode[attendance.Result](t, w)
	assert.Equal(t, "demam", res.Session.Entries[0].Note)

	w = e.do(http.MethodPost, "/api/attendance/daily", map[string]any{
		"marks": map[string]attendance.Mark{"2": {Status: model.StatusUnexcused}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	type recapResp struct {
		Rows []recap.Row `json:"rows"`
	}
	rows := decode[recapResp](t, e.do(http.MethodGet, "/api/recap?start=2026-10-01&end=2026-10-31", nil)).Rows
	require.Len(t, rows, 2)
	assert.Equal(t, recap.Counts{Sick: 1}, rows[0].Counts)
	assert.Equal(t, recap.Counts{Absent: 1}, rows[1].Counts)

	rows = decode[recapResp](t, e.do(http.MethodGet, "/api/recap?start=01/10/2026&end=31/10/2026&class=B", nil)).Rows
	require.Len(t, rows, 1)
	assert.Equal(t, "Budi", rows[0].Name)

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/recap?start=2026-10-31&end=2026-10-01", nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/recap?end=2026-10-01", nil).Code)

	type summaryResp struct {
		Students int          `json:"students"`
		Sessions int          `json:"sessions"`
		Totals   recap.Counts `json:"totals"`
	}
	sum := decode[summaryResp](t, e.do(http.MethodGet, "/api/summary", nil))
	assert.Equal(t, 2, sum.Students)
	assert.Equal(t, 1, sum.Sessions)
	assert.Equal(t, recap.Counts{Sick: 1, Absent: 1}, sum.Totals)

	type historyResp struct {
		Entries []recap.HistoryItem `json:"entries"`
	}
	items := decode[historyResp](t, e.do(http.MethodGet, "/api/history/students/1", nil)).Entries
	require.Len(t, items, 1)
	assert.Equal(t, model.StatusSick, items[0].Status)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/history/students/9", nil).Code)

	assert.Equal(t, http.StatusNoContent, e.do(http.MethodDelete, "/api/history", nil).Code)
	type listResp struct {
		Total int `json:"total"`
	}
	assert.Zero(t, decode[listResp](t, e.do(http.MethodGet, "/api/history", nil)).Total)
}

func TestMessages(t *testing.T) {
	e := newEnv(t, classroom())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.manual.Run(ctx, nil) }()

	require.Eventually(t, func() bool {
		_ = e.broker.Publish(ctx, "1/2", []byte(`[]`))
		return len(e.manual.Recent()) > 0
	}, time.Second, 10*time.Millisecond)

	w := e.do(http.MethodGet, "/api/messages?topic=1%2F2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	type messagesResp struct {
		Topic     string              `json:"topic"`
		Connected bool                `json:"connected"`
		Messages  []messaging.Message `json:"messages"`
	}
	resp := decode[messagesResp](t, w)
	assert.Equal(t, "1/2", resp.Topic)
	assert.True(t, resp.Connected)
	assert.Equal(t, "[]", resp.Messages[0].Payload)

	w = e.do(http.MethodGet, "/api/messages?topic=1%2F0", nil)
	require.Equal(t, http.StatusOK, w.Code)
	monitor := decode[messagesResp](t, w)
	assert.Equal(t, "1/0", monitor.Topic)
	assert.Empty(t, monitor.Messages)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/messages?topic=other", nil).Code)
}
