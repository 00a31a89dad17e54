package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/garkling/PDFLinkCrawler/internal/config"
	"github.com/garkling/PDFLinkCrawler/internal/crawler"
	"github.com/garkling/PDFLinkCrawler/internal/output"
	"github.com/garkling/PDFLinkCrawler/internal/spider"
	"github.com/garkling/PDFLinkCrawler/pkg/types"
)

var (
	// ErrSessionRunning is returned when the same seeds are already being crawled.
	ErrSessionRunning = errors.New("session already running")
	// ErrMaxConcurrency signals that the global concurrency limit has been reached.
	ErrMaxConcurrency = errors.New("maximum concurrent sessions reached")
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
)

// SessionManager coordinates crawl engine lifecycles keyed by session id.
type SessionManager struct {
	mu             sync.RWMutex
	sessions       map[string]*Session
	order          []string
	baseConfig     config.Config
	maxConcurrency int
	running        int
	rootCtx        context.Context
	engineLogger   *slog.Logger
	logger         *slog.Logger
}

// NewSessionManager constructs a manager with the provided defaults.
func NewSessionManager(base config.Config, maxConcurrency int, rootCtx context.Context, logger *slog.Logger) *SessionManager {
	if maxConcurrency <= 0 {
		maxConcurrency = 5
	}
	if rootCtx == nil {
		rootCtx = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		sessions:       make(map[string]*Session),
		baseConfig:     cloneConfig(base),
		maxConcurrency: maxConcurrency,
		rootCtx:        rootCtx,
		engineLogger:   logger,
		logger:         logger.With("component", "session_manager"),
	}
}

// StartSession validates the request, materialises a config and launches a crawl.
func (m *SessionManager) StartSession(req CreateCrawlRequest) (*Session, error) {
	cfg, err := m.buildConfig(req)
	if err != nil {
		return nil, err
	}
	key := seedKey(cfg.Spider)

	m.mu.Lock()
	for _, existing := range m.sessions {
		if existing.key == key && existing.isActive() {
			m.mu.Unlock()
			return nil, ErrSessionRunning
		}
	}
	if m.running >= m.maxConcurrency {
		m.mu.Unlock()
		return nil, ErrMaxConcurrency
	}
	m.running++
	session := newSession(uuid.NewString(), key, m)
	m.sessions[session.id] = session
	m.order = append(m.order, session.id)
	m.mu.Unlock()

	if err := session.startRun(m.rootCtx, cfg); err != nil {
		m.logger.Warn("session failed to start", "session_id", session.id, "error", err)
		m.mu.Lock()
		delete(m.sessions, session.id)
		for i, id := range m.order {
			if id == session.id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
		if m.running > 0 {
			m.running--
		}
		m.mu.Unlock()
		return nil, err
	}
	m.logger.Info("session started", "session_id", session.id, "start_urls", cfg.Spider.StartURLs)
	return session, nil
}

// ListSessions captures current summaries in creation order.
func (m *SessionManager) ListSessions() []SessionSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	summaries := make([]SessionSummary, 0, len(m.order))
	for _, id := range m.order {
		if session, ok := m.sessions[id]; ok {
			summaries = append(summaries, session.Snapshot())
		}
	}
	return summaries
}

// GetSession returns the backing session by id.
func (m *SessionManager) GetSession(id string) (*Session, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	return session, ok
}

// GetSessionDetail returns the summary and links found for a session.
func (m *SessionManager) GetSessionDetail(id string) (SessionDetail, bool) {
	session, ok := m.GetSession(id)
	if !ok {
		return SessionDetail{}, false
	}
	return SessionDetail{
		Session: session.Snapshot(),
		Links:   session.Links(),
	}, true
}

// CancelSession requests cancellation of a running crawl.
func (m *SessionManager) CancelSession(id string) error {
	session, ok := m.GetSession(id)
	if !ok {
		return fmt.Errorf("session %q: %w", id, ErrSessionNotFound)
	}
	if !session.Cancel("cancel requested via API") {
		return fmt.Errorf("session %q not running", id)
	}
	return nil
}

// Shutdown stops all active sessions.
func (m *SessionManager) Shutdown() {
	m.mu.RLock()
	snapshot := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		snapshot = append(snapshot, s)
	}
	m.mu.RUnlock()

	for _, session := range snapshot {
		session.Cancel("manager shutdown")
	}
}

func (m *SessionManager) buildConfig(req CreateCrawlRequest) (config.Config, error) {
	if strings.TrimSpace(req.StartURLs) == "" {
		return config.Config{}, errors.New("start_urls is required")
	}
	cfg := cloneConfig(m.baseConfig)
	cfg.Spider.StartURLs = req.StartURLs
	cfg.Spider.AllSubdomains = bool(req.AllSubdomains)

	if req.MaxDepth != nil {
		cfg.Crawl.MaxDepth = *req.MaxDepth
	}
	if req.MaxRequests != nil {
		cfg.Crawl.MaxRequests = *req.MaxRequests
	}
	if req.RespectRobots != nil {
		cfg.Robots.Respect = *req.RespectRobots
	}

	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func (m *SessionManager) notifyCompletion() {
	m.mu.Lock()
	if m.running > 0 {
		m.running--
	}
	m.mu.Unlock()
}

func seedKey(cfg config.SpiderConfig) string {
	seeds := spider.NormalizeStartURLs(cfg.StartURLs, cfg.DefaultScheme)
	return strings.Join(seeds, ",") + "|" + strconv.FormatBool(cfg.AllSubdomains)
}

// Session tracks the lifecycle and results of one crawl engine run.
type Session struct {
	id  string
	key string

	mu             sync.Mutex
	status         SessionStatus
	startURLs      []string
	allowedDomains []string
	allSubdomains  bool
	createdAt      time.Time
	startedAt      *time.Time
	completedAt    *time.Time
	message        string
	lastError      string
	engine         *crawler.Engine
	final          crawler.Stats

	results *output.MemorySink
	cancel  context.CancelFunc
	done    chan struct{}

	subscribers map[chan SSEEvent]struct{}
	subMu       sync.RWMutex

	manager *SessionManager
}

func newSession(id, key string, manager *SessionManager) *Session {
	return &Session{
		id:          id,
		key:         key,
		status:      SessionStatusPending,
		createdAt:   time.Now(),
		results:     output.NewMemorySink(),
		done:        make(chan struct{}),
		subscribers: make(map[chan SSEEvent]struct{}),
		manager:     manager,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Done is closed once the crawl has finished.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == SessionStatusPending || s.status == SessionStatusRunning || s.status == SessionStatusCancelling
}

func (s *Session) startRun(parentCtx context.Context, cfg config.Config) error {
	logger := s.manager.engineLogger.With("session_id", s.id)
	engine, err := crawler.NewEngine(cfg,
		crawler.WithLogger(logger),
		crawler.WithSink(output.MultiSink{s.results, s}),
	)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(parentCtx)
	started := time.Now()

	s.mu.Lock()
	s.status = SessionStatusRunning
	s.startURLs = engine.Spider().StartURLs()
	s.allowedDomains = engine.Spider().AllowedDomains()
	s.allSubdomains = cfg.Spider.AllSubdomains
	s.startedAt = &started
	s.message = "running"
	s.engine = engine
	s.cancel = cancel
	s.mu.Unlock()

	s.broadcast("session_started", "")

	go func() {
		err := engine.Run(runCtx)
		s.handleCompletion(err)
	}()
	return nil
}

// Emit satisfies output.Sink and streams every new link to subscribers.
func (s *Session) Emit(_ context.Context, rec types.LinkRecord) error {
	s.broadcast("link_found", rec.Link)
	return nil
}

// Close satisfies output.Sink.
func (s *Session) Close() error { return nil }

func (s *Session) handleCompletion(err error) {
	now := time.Now()
	s.mu.Lock()
	status := SessionStatusCompleted
	message := "completed"
	errorText := ""
	switch {
	case errors.Is(err, context.Canceled):
		status = SessionStatusCancelled
		message = "cancelled"
	case err != nil:
		status = SessionStatusFailed
		message = "failed"
		errorText = err.Error()
	}
	s.status = status
	s.completedAt = &now
	s.message = message
	s.lastError = errorText
	if s.engine != nil {
		s.final = s.engine.Stats()
	}
	s.cancel = nil
	s.mu.Unlock()

	eventType := "session_completed"
	switch status {
	case SessionStatusCancelled:
		eventType = "session_cancelled"
	case SessionStatusFailed:
		eventType = "session_failed"
	}
	s.broadcast(eventType, "")
	s.manager.notifyCompletion()
	close(s.done)
	s.closeSubscribers()
}

// Cancel attempts to stop the running engine.
func (s *Session) Cancel(reason string) bool {
	s.mu.Lock()
	if s.status != SessionStatusRunning || s.cancel == nil {
		s.mu.Unlock()
		return false
	}
	s.status = SessionStatusCancelling
	s.message = reason
	cancel := s.cancel
	s.mu.Unlock()
	s.broadcast("session_cancelling", "")
	cancel()
	return true
}

// Links returns the links found so far in emission order.
func (s *Session) Links() []string {
	return s.results.Links()
}

// Snapshot returns a copy of the public session state.
func (s *Session) Snapshot() SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := SessionSummary{
		SessionID:      s.id,
		StartURLs:      append([]string(nil), s.startURLs...),
		AllowedDomains: append([]string(nil), s.allowedDomains...),
		AllSubdomains:  s.allSubdomains,
		Status:         s.status,
		LinksFound:     s.results.Len(),
		CreatedAt:      s.createdAt,
		Message:        s.message,
		Error:          s.lastError,
	}
	switch {
	case s.completedAt != nil:
		summary.Stats = s.final
	case s.engine != nil:
		summary.Stats = s.engine.Stats()
	}
	if s.startedAt != nil {
		started := *s.startedAt
		summary.StartedAt = &started
	}
	if s.completedAt != nil {
		completed := *s.completedAt
		summary.CompletedAt = &completed
	}
	return summary
}

// Subscribe registers an SSE subscriber for the session. The channel is
// closed when the session finishes or cancel is called.
func (s *Session) Subscribe() (<-chan SSEEvent, func()) {
	ch := make(chan SSEEvent, 64)

	s.subMu.Lock()
	select {
	case <-s.done:
		s.subMu.Unlock()
		ch <- SSEEvent{Type: "snapshot", Timestamp: time.Now(), Session: s.Snapshot()}
		close(ch)
		return ch, func() {}
	default:
	}
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()

	select {
	case ch <- SSEEvent{Type: "snapshot", Timestamp: time.Now(), Session: s.Snapshot()}:
	default:
	}

	cancel := func() {
		s.subMu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.subMu.Unlock()
	}
	return ch, cancel
}

func (s *Session) broadcast(eventType, link string) {
	envelope := SSEEvent{
		Type:      eventType,
		Timestamp: time.Now(),
		Session:   s.Snapshot(),
		Link:      link,
	}

	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for ch := range s.subscribers {
		select {
		case ch <- envelope:
		default:
		}
	}
}

func (s *Session) closeSubscribers() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
}

func cloneConfig(base config.Config) config.Config {
	cfg := base
	cfg.Spider.ExtraIgnoredExtensions = append([]string(nil), base.Spider.ExtraIgnoredExtensions...)
	cfg.Robots.Overrides = append([]string(nil), base.Robots.Overrides...)
	if base.Crawl.Headers != nil {
		cfg.Crawl.Headers = make(map[string]string, len(base.Crawl.Headers))
		for k, v := range base.Crawl.Headers {
			cfg.Crawl.Headers[k] = v
		}
	}
	return cfg
}
