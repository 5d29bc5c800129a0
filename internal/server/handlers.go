package server

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"psycho/internal/async"
	"psycho/internal/knowledge"
	"psycho/internal/proactive"
	"psycho/internal/storage"
)

const apiVersion = "0.1.0"

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": apiVersion,
		"uptime":  time.Since(s.started).String(),
	})
}

type chatRequest struct {
	Message string `json:"message" binding:"required"`
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	turn := s.agent.ChatTurn(c.Request.Context(), req.Message)

	actions := []string{}
	if turn.DomainResult != nil {
		actions = turn.DomainResult.ActionsTaken
	}
	c.JSON(http.StatusOK, gin.H{
		"response":      turn.AgentResponse,
		"domain":        turn.Domain,
		"session_id":    turn.SessionID,
		"actions_taken": actions,
	})
}

func (s *Server) handleHistory(c *gin.Context) {
	limit := intQuery(c, "limit", 20)
	items, err := s.agent.Memory().RecentHistory(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": items, "count": len(items)})
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.agent.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleSessions(c *gin.Context) {
	limit := intQuery(c, "limit", 30)
	sessions, err := s.agent.DB().ListSessions(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) handleSessionMessages(c *gin.Context) {
	sessionID := c.Param("id")
	messages, err := s.agent.DB().SessionInteractions(c.Request.Context(), sessionID, 500)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "session_id": sessionID})
}

type ingestRequest struct {
	Text       string `json:"text" binding:"required"`
	SourceName string `json:"source_name"`
	Domain     string `json:"domain"`
}

func (s *Server) handleIngestText(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.SourceName == "" {
		req.SourceName = "api_ingest"
	}
	result := s.agent.IngestText(c.Request.Context(), req.Text, req.SourceName, req.Domain)
	c.JSON(http.StatusOK, result)
}

// handleUpload accepts a multipart file, copies it to a temp path, and
// ingests it in the background so large PDFs don't stall the request.
func (s *Server) handleUpload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field"})
		return
	}
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !knowledge.SupportedExtension(ext) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "unsupported file type: " + ext,
			"supported": knowledge.SupportedExtensions(),
		})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "psycho-upload-*"+ext)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	tmp.Close()

	tmpPath := tmp.Name()
	a := s.agent
	async.Go(s.logger, "upload-ingest", func() {
		defer os.Remove(tmpPath)
		result := a.IngestFile(context.Background(), tmpPath)
		if len(result.Errors) > 0 {
			s.logger.Warn("background ingest of %s: %v", file.Filename, result.Errors)
		}
	})

	c.JSON(http.StatusOK, gin.H{
		"filename": file.Filename,
		"status":   "processing",
	})
}

// ── Knowledge graph ──────────────────────────────────────────────────────

func (s *Server) handleGraph(c *gin.Context) {
	limit := intQuery(c, "limit", 200)
	nodes, edges := s.agent.Graph().Snapshot()

	type graphNode struct {
		ID         string  `json:"id"`
		Label      string  `json:"label"`
		Type       string  `json:"type"`
		Confidence float64 `json:"confidence"`
		Domain     string  `json:"domain"`
	}
	type graphLink struct {
		Source     string  `json:"source"`
		Target     string  `json:"target"`
		Type       string  `json:"type"`
		Confidence float64 `json:"confidence"`
	}

	outNodes := make([]graphNode, 0, limit)
	kept := map[string]bool{}
	for _, n := range nodes {
		if n.Deprecated || len(outNodes) >= limit {
			continue
		}
		label := n.DisplayLabel
		if len(label) > 40 {
			label = label[:40]
		}
		outNodes = append(outNodes, graphNode{
			ID:         n.ID,
			Label:      label,
			Type:       string(n.Type),
			Confidence: n.Confidence,
			Domain:     n.Domain,
		})
		kept[n.ID] = true
	}

	outLinks := make([]graphLink, 0, len(edges))
	for _, e := range edges {
		if !kept[e.SourceID] || !kept[e.TargetID] {
			continue
		}
		outLinks = append(outLinks, graphLink{
			Source:     e.SourceID,
			Target:     e.TargetID,
			Type:       string(e.Type),
			Confidence: e.Confidence,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"nodes": outNodes,
		"links": outLinks,
		"stats": s.agent.Graph().GetStats(),
	})
}

func (s *Server) handleGraphNode(c *gin.Context) {
	id := c.Param("id")
	g := s.agent.Graph()
	node := g.PeekNode(id)
	if node == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "node not found"})
		return
	}

	type edgeInfo struct {
		Direction  string  `json:"direction"`
		NodeID     string  `json:"node_id"`
		NodeLabel  string  `json:"node_label"`
		EdgeType   string  `json:"edge_type"`
		Confidence float64 `json:"confidence"`
	}
	edges := []edgeInfo{}
	for _, nb := range g.EdgesFrom(id) {
		edges = append(edges, edgeInfo{"out", nb.Node.ID, nb.Node.DisplayLabel, string(nb.Edge.Type), nb.Edge.Confidence})
	}
	for _, nb := range g.EdgesTo(id) {
		edges = append(edges, edgeInfo{"in", nb.Node.ID, nb.Node.DisplayLabel, string(nb.Edge.Type), nb.Edge.Confidence})
	}

	c.JSON(http.StatusOK, gin.H{
		"id":         node.ID,
		"label":      node.DisplayLabel,
		"type":       string(node.Type),
		"domain":     node.Domain,
		"confidence": node.Confidence,
		"deprecated": node.Deprecated,
		"sources":    node.Sources,
		"properties": node.Properties,
		"edges":      edges,
		"edge_count": len(edges),
	})
}

func (s *Server) handleDeleteGraphNode(c *gin.Context) {
	id := c.Param("id")
	g := s.agent.Graph()
	node := g.PeekNode(id)
	if node == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "node not found"})
		return
	}
	label := node.DisplayLabel
	g.DeprecateNode(id, "Deleted by user via graph explorer")
	if err := g.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "deleted": label, "node_id": id})
}

// ── Tasks ────────────────────────────────────────────────────────────────

func (s *Server) handleListTasks(c *gin.Context) {
	status := c.DefaultQuery("status", storage.TaskStatusPending)
	tasks, err := s.agent.DB().ListTasks(c.Request.Context(), status, intQuery(c, "limit", 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

type taskCreateRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	DueDate     string `json:"due_date"`
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var req taskCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	task := &storage.Task{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		DueDate:     req.DueDate,
		SessionID:   s.agent.SessionID(),
	}
	if err := s.agent.Tasks().Create(c.Request.Context(), task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleCompleteTask(c *gin.Context) {
	id := c.Param("id")
	if err := s.agent.Tasks().Complete(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": storage.TaskStatusDone, "id": id})
}

// ── Health metrics ───────────────────────────────────────────────────────

func (s *Server) handleHealthMetrics(c *gin.Context) {
	days := intQuery(c, "days", 30)
	summary, err := s.agent.Health().Summary(c.Request.Context(), days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary, "days": days})
}

type healthMetricRequest struct {
	MetricType string  `json:"metric_type" binding:"required"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit"`
	Notes      string  `json:"notes"`
}

func (s *Server) handleLogHealthMetric(c *gin.Context) {
	var req healthMetricRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	metric := &storage.HealthMetric{
		MetricType: req.MetricType,
		Value:      req.Value,
		Unit:       req.Unit,
		Notes:      req.Notes,
		SessionID:  s.agent.SessionID(),
	}
	if err := s.agent.Health().Log(c.Request.Context(), metric); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": metric.ID, "logged": true})
}

// ── Personality ──────────────────────────────────────────────────────────

func (s *Server) handleGetPersonality(c *gin.Context) {
	adapter := s.agent.Personality()
	c.JSON(http.StatusOK, gin.H{
		"traits":      adapter.Traits().Map(),
		"status_line": adapter.StatusLine(),
	})
}

func (s *Server) handleUpdatePersonality(c *gin.Context) {
	var updates map[string]float64
	if err := c.ShouldBindJSON(&updates); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	traits := s.agent.Personality().Traits()

	changed := []string{}
	for trait, value := range updates {
		if value < 0 || value > 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "value for " + trait + " must be within 0.0-1.0"})
			return
		}
		if traits.Set(trait, value) {
			changed = append(changed, trait+": "+strconv.Itoa(int(value*100))+"%")
		}
	}
	if len(changed) > 0 {
		if err := s.agent.Personality().Save(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"updated": changed, "traits": traits.Map()})
}

type traitRequest struct {
	Trait string  `json:"trait" binding:"required"`
	Value float64 `json:"value"`
}

func (s *Server) handleSetTrait(c *gin.Context) {
	var req traitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Value < 0 || req.Value > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "value must be within 0.0-1.0"})
		return
	}
	if err := s.agent.SetPersonalityTrait(req.Trait, req.Value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trait":  req.Trait,
		"value":  req.Value,
		"traits": s.agent.Personality().Traits().Map(),
	})
}

// ── Notifications ────────────────────────────────────────────────────────

func (s *Server) handleNotifications(c *gin.Context) {
	sched := s.agent.Scheduler()
	var notifs []proactive.Notification
	if c.Query("unread_only") == "true" {
		notifs = sched.Unread()
	} else {
		notifs = sched.Recent(intQuery(c, "limit", 20))
	}
	c.JSON(http.StatusOK, gin.H{
		"notifications": notifs,
		"unread_count":  sched.UnreadCount(),
	})
}

func (s *Server) handleMarkNotificationRead(c *gin.Context) {
	sched := s.agent.Scheduler()
	ok := sched.MarkRead(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"success": ok, "unread_count": sched.UnreadCount()})
}

func (s *Server) handleMarkAllNotificationsRead(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"marked_read": s.agent.Scheduler().MarkAllRead()})
}

// ── Reminders ────────────────────────────────────────────────────────────

func (s *Server) handleListReminders(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		reminders []*storage.Reminder
		err       error
	)
	if c.DefaultQuery("pending_only", "true") == "true" {
		reminders, err = s.agent.Reminders().Pending(ctx)
	} else {
		reminders, err = s.agent.DB().ListReminders(ctx, true, 200)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reminders": reminders})
}

type reminderCreateRequest struct {
	Title        string  `json:"title" binding:"required"`
	DueTimestamp float64 `json:"due_timestamp" binding:"required"`
	Notes        string  `json:"notes"`
	Recurrence   string  `json:"recurrence"`
	Priority     string  `json:"priority"`
}

func (s *Server) handleCreateReminder(c *gin.Context) {
	var req reminderCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reminder, err := s.agent.Reminders().Create(c.Request.Context(),
		req.Title, storage.FromTimestamp(req.DueTimestamp),
		req.Notes, req.Recurrence, req.Priority, s.agent.SessionID())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, reminder)
}

func (s *Server) handleCompleteReminder(c *gin.Context) {
	if err := s.agent.Reminders().Complete(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleSnoozeReminder(c *gin.Context) {
	minutes := intQuery(c, "minutes", 15)
	err := s.agent.Reminders().Snooze(c.Request.Context(), c.Param("id"), minutes, time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "snoozed_minutes": minutes})
}

func (s *Server) handleDeleteReminder(c *gin.Context) {
	if err := s.agent.Reminders().Delete(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ── Calendar ─────────────────────────────────────────────────────────────

func (s *Server) handleCalendar(c *gin.Context) {
	days := intQuery(c, "days_ahead", 7)
	events, err := s.agent.Calendar().Upcoming(c.Request.Context(), time.Now(),
		time.Duration(days)*24*time.Hour)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) handleCalendarToday(c *gin.Context) {
	events, err := s.agent.Calendar().Today(c.Request.Context(), time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

type calendarCreateRequest struct {
	Title           string  `json:"title" binding:"required"`
	StartTimestamp  float64 `json:"start_timestamp" binding:"required"`
	EndTimestamp    float64 `json:"end_timestamp"`
	Location        string  `json:"location"`
	Notes           string  `json:"notes"`
	Recurrence      string  `json:"recurrence"`
	AllDay          bool    `json:"all_day"`
	ReminderMinutes int     `json:"reminder_minutes"`
}

func (s *Server) handleCreateCalendarEvent(c *gin.Context) {
	var req calendarCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ReminderMinutes == 0 {
		req.ReminderMinutes = 15
	}
	var end time.Time
	if req.EndTimestamp > 0 {
		end = storage.FromTimestamp(req.EndTimestamp)
	}
	event, err := s.agent.Calendar().AddEvent(c.Request.Context(), proactive.EventRequest{
		Title:           req.Title,
		Start:           storage.FromTimestamp(req.StartTimestamp),
		End:             end,
		Location:        req.Location,
		Notes:           req.Notes,
		Recurrence:      req.Recurrence,
		AllDay:          req.AllDay,
		ReminderMinutes: req.ReminderMinutes,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, event)
}

func (s *Server) handleDeleteCalendarEvent(c *gin.Context) {
	if err := s.agent.Calendar().Delete(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ── Voice ────────────────────────────────────────────────────────────────

// handleVoiceConfig tells the frontend which speech stack to expect so it
// can fall back to the browser's SpeechSynthesis when no provider is set.
func (s *Server) handleVoiceConfig(c *gin.Context) {
	cfg := s.agent.Config()

	provider, voice := "browser", "browser"
	switch {
	case cfg.TTSProvider == "openai" && cfg.OpenAIAPIKey != "":
		provider = "openai"
		voice = cfg.TTSVoice
		if voice == "" {
			voice = "alloy"
		}
	case cfg.TTSProvider == "elevenlabs" && cfg.ElevenLabsAPIKey != "":
		provider = "elevenlabs"
		voice = cfg.ElevenLabsVoiceID
	}
	c.JSON(http.StatusOK, gin.H{
		"provider":     provider,
		"voice":        voice,
		"stt_provider": cfg.STTProvider,
	})
}

// ── Helpers ──────────────────────────────────────────────────────────────

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
