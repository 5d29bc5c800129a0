package agent

import (
	"context"
	"fmt"
	"time"

	"psycho/internal/config"
	"psycho/internal/domains"
	"psycho/internal/knowledge"
	"psycho/internal/learning"
	"psycho/internal/llm"
	"psycho/internal/logging"
	"psycho/internal/memory"
	"psycho/internal/metrics"
	"psycho/internal/personality"
	"psycho/internal/proactive"
	"psycho/internal/storage"
	"psycho/internal/vector"
	"psycho/internal/websearch"
)

// Agent owns every subsystem for one session: storage, memory tiers, the
// knowledge graph, learning, personality, domains, and the proactive
// layer. Construct with New, converse with Chat or StreamChat, and always
// Stop to flush state.
type Agent struct {
	cfg    *config.Config
	logger logging.Logger

	db      *storage.DB
	vectors *vector.Store
	client  llm.Client
	memory  *memory.Manager

	graph     *knowledge.Graph
	evolver   *knowledge.Evolver
	extractor *knowledge.Extractor
	reasoner  *knowledge.Reasoner
	ingestor  *knowledge.Ingestor

	mistakes   *learning.MistakeTracker
	insights   *learning.InsightGenerator
	journal    *learning.Journal
	reflection *ReflectionEngine

	router      *domains.Router
	handlers    map[string]domains.Handler
	personality *personality.Adapter

	reminders *proactive.ReminderManager
	calendar  *proactive.CalendarManager
	checkin   *proactive.CheckinEngine
	scheduler *proactive.Scheduler

	collector *metrics.Collector
	loop      *Loop

	session   *storage.Session
	startedAt time.Time
	stopped   bool
}

// New builds and wires the full runtime. The returned agent has an open
// session and is ready to chat.
func New(ctx context.Context, cfg *config.Config, logger logging.Logger) (*Agent, error) {
	logger = logging.OrNop(logger)
	if err := cfg.EnsureDataDirs(); err != nil {
		return nil, fmt.Errorf("prepare data dirs: %w", err)
	}

	db, err := storage.Open(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	client, err := llm.New(cfg, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init llm provider: %w", err)
	}

	vectors, err := vector.Open(cfg.VectorPath, vector.NewProviderEmbedder(client, logger), logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open vector store: %w", err)
	}

	mem, err := memory.NewManager(ctx, cfg, db, vectors, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init memory: %w", err)
	}

	graphStore, err := knowledge.NewFileStore(cfg.GraphPath, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init graph store: %w", err)
	}
	graph := knowledge.NewGraph(graphStore, vectors, cfg.Tuning, logger)
	if err := graph.Load(); err != nil {
		logger.Warn("graph load failed, starting empty: %v", err)
	}

	evolver := knowledge.NewEvolver(graph, cfg.Tuning, logger)
	extractor := knowledge.NewExtractor(client, logger)
	reasoner := knowledge.NewReasoner(graph)
	ingestor := knowledge.NewIngestor(graph, evolver, extractor, mem.Semantic, client, logger)

	mistakes := learning.NewMistakeTracker(db, vectors, logger)
	insights := learning.NewInsightGenerator(client, graph, logger)
	journal, err := learning.NewJournal(cfg.JournalPath, logger)
	if err != nil {
		logger.Warn("journal unavailable: %v", err)
	}
	reflection := NewReflectionEngine(client, mem, graph, evolver, reasoner, mistakes, insights, journal, logger)

	router := domains.NewRouter(client, logger)
	handlers := map[string]domains.Handler{
		domains.DomainCoding:  domains.NewCodingHandler(db, logger),
		domains.DomainHealth:  domains.NewHealthHandler(db, logger),
		domains.DomainTasks:   domains.NewTaskHandler(db, logger),
		domains.DomainGeneral: domains.NewGeneralHandler(),
	}

	pers := personality.NewAdapter(cfg.PersonalityPath, graph, logger)

	collector, err := metrics.NewCollector("psycho", nil)
	if err != nil {
		logger.Warn("metrics disabled: %v", err)
	}

	reminders := proactive.NewReminderManager(db, logger)
	calendar := proactive.NewCalendarManager(db, logger)
	checkinEngine := proactive.NewCheckinEngine()
	scheduler := proactive.NewScheduler(reminders, calendar, cfg.ProactiveInterval, func(n proactive.Notification) {
		collector.RecordNotification(n.Type)
	}, logger)

	session, err := db.CreateSession(ctx, domains.DomainGeneral)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create session: %w", err)
	}
	pers.IncrementSession()

	var search *websearch.Client
	if cfg.WebSearchEnabled {
		search = websearch.NewClient(cfg.BraveAPIKey, logger)
	}

	loop := NewLoop(LoopDeps{
		SessionID:         session.ID,
		Client:            client,
		Memory:            mem,
		Graph:             graph,
		Evolver:           evolver,
		Extractor:         extractor,
		Reasoner:          reasoner,
		Mistakes:          mistakes,
		Router:            router,
		Handlers:          handlers,
		Personality:       pers,
		Reminders:         reminders,
		Calendar:          calendar,
		Checkin:           checkinEngine,
		Search:            search,
		ExtractionEnabled: cfg.ExtractionEnabled,
		Metrics:           collector,
		Logger:            logger,
	})

	agent := &Agent{
		cfg:         cfg,
		logger:      logger,
		db:          db,
		vectors:     vectors,
		client:      client,
		memory:      mem,
		graph:       graph,
		evolver:     evolver,
		extractor:   extractor,
		reasoner:    reasoner,
		ingestor:    ingestor,
		mistakes:    mistakes,
		insights:    insights,
		journal:     journal,
		reflection:  reflection,
		router:      router,
		handlers:    handlers,
		personality: pers,
		reminders:   reminders,
		calendar:    calendar,
		checkin:     checkinEngine,
		scheduler:   scheduler,
		collector:   collector,
		loop:        loop,
		session:     session,
		startedAt:   time.Now(),
	}

	if cfg.ProactiveEnabled {
		scheduler.Start()
	}

	logger.Info("agent ready: session=%s model=%s", session.ID, client.Model())
	return agent, nil
}

// Chat processes one message and returns the response text.
func (a *Agent) Chat(ctx context.Context, message string) (string, error) {
	turn := a.loop.Process(ctx, message)
	return turn.AgentResponse, nil
}

// ChatTurn processes one message and returns the full turn context.
func (a *Agent) ChatTurn(ctx context.Context, message string) *Context {
	return a.loop.Process(ctx, message)
}

// StreamChat processes one message, streaming tokens to onToken.
func (a *Agent) StreamChat(ctx context.Context, message string, onToken llm.TokenHandler) *Context {
	return a.loop.StreamProcess(ctx, message, onToken)
}

// ChatWithImage runs the vision pipeline over image plus prompt.
func (a *Agent) ChatWithImage(ctx context.Context, message string, image []byte, mediaType string, onToken llm.TokenHandler) *Context {
	return a.loop.ProcessWithImage(ctx, message, image, mediaType, onToken)
}

// Reflect runs the end-of-session learning review immediately.
func (a *Agent) Reflect(ctx context.Context) (*ReflectionResult, error) {
	return a.reflection.Run(ctx, a.session.ID, a.startedAt)
}

// IngestFile loads one file into the knowledge graph.
func (a *Agent) IngestFile(ctx context.Context, path string) *knowledge.IngestionResult {
	result := a.ingestor.IngestFile(ctx, path)
	a.collector.RecordIngestedChunks(result.ChunksProcessed)
	return result
}

// IngestFolder recursively loads every supported file under root.
func (a *Agent) IngestFolder(ctx context.Context, root string) []*knowledge.IngestionResult {
	results := a.ingestor.IngestFolder(ctx, root)
	for _, r := range results {
		a.collector.RecordIngestedChunks(r.ChunksProcessed)
	}
	return results
}

// IngestText loads raw text into the knowledge graph.
func (a *Agent) IngestText(ctx context.Context, text, sourceName, domain string) *knowledge.IngestionResult {
	result := a.ingestor.IngestText(ctx, text, sourceName, domain)
	a.collector.RecordIngestedChunks(result.ChunksProcessed)
	return result
}

// Stop shuts the agent down: scheduler halt, optional reflection (or a
// plain graph save), session close, database close, personality save.
// Safe to call more than once; later calls are no-ops.
func (a *Agent) Stop(ctx context.Context, runReflection bool) error {
	if a.stopped {
		return nil
	}
	a.stopped = true

	if a.scheduler.Running() {
		a.scheduler.Stop()
	}
	a.loop.Close()

	summary := ""
	if runReflection && a.cfg.ReflectionEnabled {
		result, err := a.reflection.Run(ctx, a.session.ID, a.startedAt)
		if err != nil {
			a.logger.Warn("shutdown reflection failed: %v", err)
			if saveErr := a.graph.Save(); saveErr != nil {
				a.logger.Error("graph save failed: %v", saveErr)
			}
		} else if result.IsMeaningful() {
			summary = result.Reflection.SessionSummary
		}
	} else {
		if err := a.graph.Save(); err != nil {
			a.logger.Error("graph save failed: %v", err)
		}
	}

	a.checkin.RecordSessionEnd(time.Now())
	if err := a.db.EndSession(ctx, a.session.ID, summary); err != nil {
		a.logger.Warn("session close failed: %v", err)
	}
	if err := a.personality.Save(); err != nil {
		a.logger.Warn("personality save failed: %v", err)
	}
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	a.logger.Info("agent stopped: session=%s", a.session.ID)
	return nil
}

// Stats aggregates runtime counts across every subsystem.
func (a *Agent) Stats(ctx context.Context) (map[string]any, error) {
	stats, err := a.memory.Stats(ctx)
	if err != nil {
		return nil, err
	}
	stats["session_id"] = a.session.ID
	stats["model"] = a.client.Model()
	stats["provider"] = a.cfg.LLMProvider

	graphStats := a.graph.GetStats()
	stats["graph_nodes"] = graphStats.ActiveNodes
	stats["graph_edges"] = graphStats.TotalEdges
	stats["graph_avg_confidence"] = graphStats.AverageConfidence
	a.collector.SetGraphSize(graphStats.ActiveNodes, graphStats.TotalEdges)

	if mistakeStats, err := a.mistakes.Stats(ctx); err == nil {
		if total, ok := mistakeStats["total_mistakes"]; ok {
			stats["total_mistakes"] = total
		}
	}
	if pending, total, err := a.Tasks().Stats(ctx); err == nil {
		stats["pending_tasks"] = pending
		stats["total_tasks"] = total
	}
	if pending, err := a.reminders.Pending(ctx); err == nil {
		stats["pending_reminders"] = len(pending)
	}
	stats["unread_notifications"] = a.scheduler.UnreadCount()
	stats["personality"] = a.personality.Traits().Map()
	return stats, nil
}

// SetPersonalityTrait sets one trait and persists immediately.
func (a *Agent) SetPersonalityTrait(trait string, value float64) error {
	if !a.personality.Traits().Set(trait, value) {
		return fmt.Errorf("unknown trait: %s", trait)
	}
	return a.personality.Save()
}

// Config exposes the runtime configuration.
func (a *Agent) Config() *config.Config { return a.cfg }

// Personality exposes the adapter for the CLI and API layers.
func (a *Agent) Personality() *personality.Adapter { return a.personality }

// Tasks exposes the task manager behind the tasks domain handler.
func (a *Agent) Tasks() *domains.TaskManager {
	return a.handlers[domains.DomainTasks].(*domains.TaskHandler).Manager()
}

// Health exposes the wellness tracker behind the health domain handler.
func (a *Agent) Health() *domains.HealthTracker {
	return a.handlers[domains.DomainHealth].(*domains.HealthHandler).Tracker()
}

// Scheduler exposes the proactive scheduler for notification polling.
func (a *Agent) Scheduler() *proactive.Scheduler { return a.scheduler }

// Reminders exposes the reminder manager.
func (a *Agent) Reminders() *proactive.ReminderManager { return a.reminders }

// Calendar exposes the calendar manager.
func (a *Agent) Calendar() *proactive.CalendarManager { return a.calendar }

// Graph exposes the knowledge graph.
func (a *Agent) Graph() *knowledge.Graph { return a.graph }

// Memory exposes the memory manager.
func (a *Agent) Memory() *memory.Manager { return a.memory }

// DB exposes long-term storage.
func (a *Agent) DB() *storage.DB { return a.db }

// SessionID is the current session identifier.
func (a *Agent) SessionID() string { return a.session.ID }

// Model is the active model name.
func (a *Agent) Model() string { return a.client.Model() }

// AgentName is the current (possibly user-assigned) assistant name.
func (a *Agent) AgentName() string { return a.loop.AgentName() }

// Loop exposes the interaction loop for accessors like LastDomain.
func (a *Agent) Loop() *Loop { return a.loop }
