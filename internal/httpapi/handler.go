package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"classattend/internal/attendance"
	"classattend/internal/history"
	"classattend/internal/messaging"
	"classattend/internal/model"
	"classattend/internal/recap"
	"classattend/internal/roster"
	"classattend/internal/store"
)

// dateLayouts are the accepted date forms in requests: the HTML date input
// and the entry format.
var dateLayouts = []string{"2006-01-02", model.DateLayout}

var errBadRequest = errors.New("bad request")

// Deps are the components served over HTTP.
type Deps struct {
	Roster   *roster.Store
	History  *history.Store
	Live     *attendance.Live
	Recorder *attendance.Recorder
	Feeds    []*messaging.Feed
	Store    store.KV
	Broker   attendance.Link
	Location *time.Location
}

type Handler struct {
	roster   *roster.Store
	history  *history.Store
	live     *attendance.Live
	recorder *attendance.Recorder
	feeds    map[string]*messaging.Feed
	kv       store.KV
	broker   attendance.Link
	loc      *time.Location
}

func New(d Deps) *Handler {
	loc := d.Location
	if loc == nil {
		loc = time.Local
	}
	feeds := make(map[string]*messaging.Feed, len(d.Feeds))
	for _, f := range d.Feeds {
		feeds[f.Topic()] = f
	}
	return &Handler{
		roster:   d.Roster,
		history:  d.History,
		live:     d.Live,
		recorder: d.Recorder,
		feeds:    feeds,
		kv:       d.Store,
		broker:   d.Broker,
		loc:      loc,
	}
}

// Register mounts the health probe on r and the API under /api.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.GET("/students", h.ListStudents)
		api.POST("/students", h.CreateStudent)
		api.GET("/students/:id", h.GetStudent)
		api.PUT("/students/:id", h.UpdateStudent)
		api.DELETE("/students/:id", h.DeleteStudent)

		api.GET("/attendance/automatic", h.LiveBoard)
		api.POST("/attendance/automatic/scans", h.InjectScan)
		api.POST("/attendance/automatic/finalize", h.FinalizeAutomatic)
		api.POST("/attendance/manual", h.RecordChecklist)
		api.POST("/attendance/daily", h.RecordDaily)

		api.GET("/history", h.ListHistory)
		api.DELETE("/history", h.ClearHistory)
		api.GET("/history/students/:id", h.StudentHistory)
		api.GET("/sessions/:id", h.GetSession)

		api.GET("/recap", h.Recap)
		api.GET("/summary", h.Summary)
		api.GET("/messages", h.Messages)
	}
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	storeHealthy := h.kv == nil || h.kv.Ping(c.Request.Context()) == nil
	brokerHealthy := h.broker == nil || h.broker.Connected()
	code, status := http.StatusOK, "ok"
	if !storeHealthy || !brokerHealthy {
		code, status = http.StatusServiceUnavailable, "degraded"
	}
	c.JSON(code, gin.H{"status": status, "store": storeHealthy, "broker": brokerHealthy})
}

// ---------- Roster ----------

func (h *Handler) ListStudents(c *gin.Context) {
	students := h.roster.Filter(c.Query("q"), c.Query("class"))
	c.JSON(http.StatusOK, gin.H{"students": students, "total": len(students)})
}

func (h *Handler) CreateStudent(c *gin.Context) {
	var req model.Student
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := h.roster.Add(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

func (h *Handler) GetStudent(c *gin.Context) {
	st, err := h.roster.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) UpdateStudent(c *gin.Context) {
	var req model.Student
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.ID = c.Param("id")
	st, err := h.roster.Update(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) DeleteStudent(c *gin.Context) {
	if err := h.roster.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ---------- Automatic mode ----------

func (h *Handler) LiveBoard(c *gin.Context) {
	c.JSON(http.StatusOK, h.live.Board())
}

// InjectScan applies a raw scan payload as if it arrived on the scan topic.
func (h *Handler) InjectScan(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.live.Scan(string(body))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) FinalizeAutomatic(c *gin.Context) {
	rec, err := h.live.Finalize(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// ---------- Manual mode ----------

type checklistRequest struct {
	Date    string          `json:"date"`
	Present map[string]bool `json:"present"`
}

func (h *Handler) RecordChecklist(c *gin.Context) {
	var req checklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	date, err := h.optionalDate(req.Date)
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := h.recorder.RecordChecklist(c.Request.Context(), req.Present, date)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

type dailyRequest struct {
	Date  string                     `json:"date"`
	Marks map[string]attendance.Mark `json:"marks"`
}

func (h *Handler) RecordDaily(c *gin.Context) {
	var req dailyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	date, err := h.optionalDate(req.Date)
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := h.recorder.RecordDaily(c.Request.Context(), req.Marks, date)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// ---------- History & reports ----------

func (h *Handler) ListHistory(c *gin.Context) {
	sessions := h.history.List()
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "total": len(sessions)})
}

func (h *Handler) ClearHistory(c *gin.Context) {
	h.history.Clear(c.Request.Context())
	c.Status(http.StatusNoContent)
}

func (h *Handler) GetSession(c *gin.Context) {
	rec, ok := h.history.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) StudentHistory(c *gin.Context) {
	st, err := h.roster.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	items := recap.StudentHistory(st, h.roster.List(), h.history.List())
	c.JSON(http.StatusOK, gin.H{"student": st, "entries": items})
}

func (h *Handler) Recap(c *gin.Context) {
	start, err := h.requiredDate("start", c.Query("start"))
	if err != nil {
		writeError(c, err)
		return
	}
	end, err := h.requiredDate("end", c.Query("end"))
	if err != nil {
		writeError(c, err)
		return
	}
	class := c.Query("class")
	rows, err := recap.Aggregate(h.roster.List(), h.history.List(), recap.Range{Start: start, End: end}, class)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"start": start.Format(model.DateLayout),
		"end":   end.Format(model.DateLayout),
		"class": class,
		"rows":  rows,
	})
}

func (h *Handler) Summary(c *gin.Context) {
	sessions := h.history.List()
	c.JSON(http.StatusOK, gin.H{
		"students": h.roster.Len(),
		"sessions": len(sessions),
		"totals":   recap.Summarize(sessions),
	})
}

// Messages returns the recent messages of a subscribed topic.
func (h *Handler) Messages(c *gin.Context) {
	topic := c.Query("topic")
	feed, ok := h.feeds[topic]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("topic %q is not subscribed", topic)})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"topic":     topic,
		"connected": feed.Connected(),
		"messages":  feed.Recent(),
	})
}

// ---------- helpers ----------

func (h *Handler) optionalDate(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, nil
	}
	return h.parseDate("date", raw)
}

func (h *Handler) requiredDate(field, raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", errBadRequest, field)
	}
	return h.parseDate(field, raw)
}

func (h *Handler) parseDate(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, raw, h.loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD or DD/MM/YYYY", errBadRequest, field)
}

// writeError maps domain errors onto status codes with the {"error": ...} body.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, roster.ErrNotFound), errors.Is(err, attendance.ErrUnknownTag):
		status = http.StatusNotFound
	case errors.Is(err, attendance.ErrEmptyRoster), errors.Is(err, attendance.ErrNotConnected):
		status = http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, roster.ErrInvalid),
		errors.Is(err, attendance.ErrInvalidStatus),
		errors.Is(err, attendance.ErrMalformedScan),
		errors.Is(err, recap.ErrInvalidRange):
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
