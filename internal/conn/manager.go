package conn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/itxabrham07/instagram-mqtt/internal/domain"
	"github.com/itxabrham07/instagram-mqtt/internal/insta"
	"github.com/itxabrham07/instagram-mqtt/internal/metrics"
)

// State is one phase of the connection lifecycle.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StatePushConnected State = "push_connected"
	StatePolling       State = "polling"
	StateReconnecting  State = "reconnecting"
)

// API is the request surface the manager drives. *insta.Client implements it.
type API interface {
	Login(ctx context.Context) error
	Inbox(ctx context.Context) (*insta.InboxResponse, error)
	ThreadLatest(ctx context.Context, threadID string) (*insta.Thread, error)
	SendText(ctx context.Context, threadID, text string) error
	SendReaction(ctx context.Context, threadID, itemID, emoji string) error
	MarkSeen(ctx context.Context, threadID, itemID string) error
	SetTyping(ctx context.Context, threadID string, active bool) error
	SaveSession() error
}

// PushSession is one live realtime connection. *insta.Realtime implements it.
type PushSession interface {
	Events() <-chan insta.Event
	SendText(threadID, text, clientContext string) error
	Close()
}

// PushOpener dials and hands back a live push session anchored at the inbox
// baseline.
type PushOpener func(ctx context.Context, seqID, snapshotAtMs int64) (PushSession, error)

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	API       API
	OpenPush  PushOpener
	OnMessage func(domain.Message)
	// OnStateChange observes transitions. Called with the manager's
	// internal lock held; it must not call back into the manager.
	OnStateChange func(from, to State)
	Logger        *slog.Logger

	MaxReconnectAttempts int
	BackoffBase          time.Duration
	BackoffCap           time.Duration
	PollInterval         time.Duration
	PollThreads          int
	ThreadDelay          time.Duration
	RateLimitCooldown    time.Duration
}

// Manager owns the connection lifecycle: it prefers the push channel,
// retries it with exponential backoff when it drops, and degrades to
// request polling when push cannot be had. Polling is terminal: once a
// session falls back it stays there until restarted.
type Manager struct {
	api       API
	openPush  PushOpener
	onMessage func(domain.Message)
	onState   func(from, to State)
	logger    *slog.Logger

	maxAttempts  int
	backoffBase  time.Duration
	backoffCap   time.Duration
	pollInterval time.Duration
	pollThreads  int
	threadDelay  time.Duration
	cooldown     time.Duration

	mu             sync.Mutex
	state          State
	attempts       int
	watermark      time.Time
	users          map[int64]string
	push           PushSession
	pollTimer      *time.Timer
	reconnectTimer *time.Timer
	cancel         context.CancelFunc
	done           chan struct{}
}

func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	onMessage := cfg.OnMessage
	if onMessage == nil {
		onMessage = func(domain.Message) {}
	}
	m := &Manager{
		api:          cfg.API,
		openPush:     cfg.OpenPush,
		onMessage:    onMessage,
		onState:      cfg.OnStateChange,
		logger:       logger,
		maxAttempts:  cfg.MaxReconnectAttempts,
		backoffBase:  cfg.BackoffBase,
		backoffCap:   cfg.BackoffCap,
		pollInterval: cfg.PollInterval,
		pollThreads:  cfg.PollThreads,
		threadDelay:  cfg.ThreadDelay,
		cooldown:     cfg.RateLimitCooldown,
		state:        StateDisconnected,
		users:        make(map[int64]string),
	}
	if m.maxAttempts <= 0 {
		m.maxAttempts = 4
	}
	if m.backoffBase <= 0 {
		m.backoffBase = 2 * time.Second
	}
	if m.backoffCap <= 0 {
		m.backoffCap = time.Minute
	}
	if m.pollInterval <= 0 {
		m.pollInterval = 45 * time.Second
	}
	if m.pollThreads <= 0 {
		m.pollThreads = 3
	}
	if m.cooldown <= 0 {
		m.cooldown = 2 * time.Minute
	}
	return m
}

// Connect brings the connection up and starts the lifecycle loop. It returns
// once the first establishment attempt has settled into a state: push
// connected, polling, or waiting to reconnect.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateDisconnected {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("connect in state %s", state)
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.attempts = 0
	m.watermark = time.Time{}
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	m.establish(runCtx)
	go m.run(runCtx, m.done)
	return nil
}

// Disconnect stops the loop, its timers, and the push session, then persists
// the API session. Safe to call when not connected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Stats reports a snapshot of the lifecycle.
func (m *Manager) Stats() domain.ConnStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.ConnStats{
		State:             string(m.state),
		Connected:         m.state == StatePushConnected,
		Polling:           m.state == StatePolling,
		ReconnectAttempts: m.attempts,
		Watermark:         m.watermark,
	}
}

// --- Lifecycle loop ---

// establish makes one connection attempt: inbox baseline, then push. A
// failed baseline means the account cannot even be read over the request
// API, so the session drops straight to polling; a failed push dial goes
// through the reconnect budget.
func (m *Manager) establish(ctx context.Context) {
	baseline, err := m.fetchInbox(ctx)
	if err != nil {
		m.logger.Warn("inbox baseline unavailable, falling back to polling", "error", err)
		m.enterPolling()
		return
	}

	push, err := m.openPush(ctx, baseline.SeqID, baseline.SnapshotAtMs)
	if err != nil {
		m.logger.Warn("push channel dial failed", "error", err)
		m.scheduleReconnect()
		return
	}

	m.mu.Lock()
	indexUsers(m.users, baseline.Inbox.Threads...)
	m.push = push
	m.setStateLocked(StatePushConnected)
	m.mu.Unlock()
	m.logger.Info("push channel established",
		"seq_id", baseline.SeqID, "threads", len(baseline.Inbox.Threads))
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		m.mu.Lock()
		var events <-chan insta.Event
		if m.push != nil {
			events = m.push.Events()
		}
		pollC := timerC(m.pollTimer)
		reconnC := timerC(m.reconnectTimer)
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			m.shutdown()
			return
		case ev, ok := <-events:
			if !ok {
				m.logger.Warn("push event stream closed")
				m.scheduleReconnect()
				continue
			}
			m.handleEvent(ev)
		case <-pollC:
			m.pollOnce(ctx)
		case <-reconnC:
			m.mu.Lock()
			m.reconnectTimer = nil
			m.setStateLocked(StateConnecting)
			m.mu.Unlock()
			m.establish(ctx)
		}
	}
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func (m *Manager) handleEvent(ev insta.Event) {
	switch ev.Type {
	case insta.EventMessage:
		if ev.Item == nil {
			return
		}
		m.mu.Lock()
		msg := normalizeItem(ev.ThreadID, ev.Item, m.users)
		m.mu.Unlock()
		m.onMessage(msg)
	case insta.EventThreadUpdate:
		m.mu.Lock()
		indexUsers(m.users, insta.Thread{Users: ev.Users})
		m.mu.Unlock()
	case insta.EventDisconnect, insta.EventError:
		m.logger.Warn("push channel lost", "reason", ev.Reason, "error", ev.Err)
		m.scheduleReconnect()
	case insta.EventWarning:
		m.logger.Warn("push channel warning", "reason", ev.Reason, "error", ev.Err)
	default:
		// typing and presence are not dispatched
	}
}

// fetchInbox fetches the inbox, logging in again once when the session has
// expired mid-flight.
func (m *Manager) fetchInbox(ctx context.Context) (*insta.InboxResponse, error) {
	inbox, err := m.api.Inbox(ctx)
	if err == nil {
		return inbox, nil
	}
	if !insta.IsAuthExpired(err) {
		return nil, err
	}
	m.logger.Warn("session expired, logging in again")
	if lerr := m.api.Login(ctx); lerr != nil {
		return nil, fmt.Errorf("re-login: %w", lerr)
	}
	return m.api.Inbox(ctx)
}

// scheduleReconnect burns one attempt from the budget. Delay doubles per
// attempt up to the cap; an exhausted budget drops the session to polling.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	m.closePushLocked()
	m.attempts++
	attempts := m.attempts
	metrics.ReconnectsTotal.Inc()
	if attempts >= m.maxAttempts {
		m.mu.Unlock()
		m.logger.Error("reconnect budget exhausted, falling back to polling", "attempts", attempts)
		m.enterPolling()
		return
	}
	delay := m.backoffDelay(attempts)
	m.reconnectTimer = time.NewTimer(delay)
	m.setStateLocked(StateReconnecting)
	m.mu.Unlock()
	m.logger.Warn("reconnect scheduled", "attempt", attempts, "delay", delay)
}

func (m *Manager) backoffDelay(attempt int) time.Duration {
	if attempt > 16 {
		return m.backoffCap
	}
	d := m.backoffBase << uint(attempt)
	if d <= 0 || d > m.backoffCap {
		return m.backoffCap
	}
	return d
}

// enterPolling switches to request polling. The watermark starts at now, so
// only messages arriving after the fallback are dispatched.
func (m *Manager) enterPolling() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StatePolling {
		return
	}
	m.closePushLocked()
	m.watermark = time.Now()
	m.pollTimer = time.NewTimer(m.pollInterval)
	m.setStateLocked(StatePolling)
}

// pollOnce sweeps the most recent threads and dispatches items newer than
// the watermark. A throttling response pauses the sweep for the cooldown.
func (m *Manager) pollOnce(ctx context.Context) {
	metrics.PollSweeps.Inc()
	inbox, err := m.fetchInbox(ctx)
	if err != nil {
		if insta.IsRateLimited(err) {
			m.logger.Warn("poll throttled, backing off", "cooldown", m.cooldown)
			m.resetPollTimer(m.cooldown)
		} else {
			m.logger.Error("poll inbox failed", "error", err)
			m.resetPollTimer(m.pollInterval)
		}
		return
	}

	m.mu.Lock()
	indexUsers(m.users, inbox.Inbox.Threads...)
	m.mu.Unlock()

	threads := inbox.Inbox.Threads
	if len(threads) > m.pollThreads {
		threads = threads[:m.pollThreads]
	}

	for i, th := range threads {
		if i > 0 && m.threadDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.threadDelay):
			}
		}

		full, err := m.api.ThreadLatest(ctx, th.ThreadID)
		if err != nil {
			if insta.IsRateLimited(err) {
				m.logger.Warn("poll throttled mid-sweep", "cooldown", m.cooldown)
				m.resetPollTimer(m.cooldown)
				return
			}
			m.logger.Error("poll thread failed", "thread", th.ThreadID, "error", err)
			continue
		}
		if len(full.Items) == 0 {
			continue
		}

		item := full.Items[0]
		m.mu.Lock()
		indexUsers(m.users, *full)
		msg := normalizeItem(th.ThreadID, &item, m.users)
		newer := msg.Timestamp.After(m.watermark)
		if newer {
			m.watermark = msg.Timestamp
		}
		m.mu.Unlock()

		if newer {
			m.onMessage(msg)
		}
	}

	m.resetPollTimer(m.pollInterval)
}

func (m *Manager) resetPollTimer(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePolling {
		return
	}
	if m.pollTimer != nil {
		m.pollTimer.Stop()
	}
	m.pollTimer = time.NewTimer(d)
}

func (m *Manager) shutdown() {
	m.mu.Lock()
	m.closePushLocked()
	if m.pollTimer != nil {
		m.pollTimer.Stop()
		m.pollTimer = nil
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	if err := m.api.SaveSession(); err != nil {
		m.logger.Error("session save failed", "error", err)
	} else {
		m.logger.Info("session persisted")
	}
}

func (m *Manager) closePushLocked() {
	if m.push != nil {
		m.push.Close()
		m.push = nil
	}
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	from := m.state
	m.state = s
	updateStateGauges(s)
	m.logger.Info("connection state", "from", string(from), "to", string(s))
	if m.onState != nil {
		m.onState(from, s)
	}
}

func updateStateGauges(s State) {
	var push, polling int64
	switch s {
	case StatePushConnected:
		push = 1
	case StatePolling:
		polling = 1
	}
	metrics.PushConnected.Set(push)
	metrics.PollingActive.Set(polling)
}

// --- Outbound (domain.Sender) ---

const sendTimeout = 15 * time.Second

var _ domain.Sender = (*Manager)(nil)

// SendText delivers over the push channel when it is up, otherwise over the
// request API. Best-effort.
func (m *Manager) SendText(threadID, text string) bool {
	m.mu.Lock()
	push := m.push
	live := m.state == StatePushConnected
	m.mu.Unlock()

	if live && push != nil {
		if err := push.SendText(threadID, text, uuid.NewString()); err == nil {
			return true
		}
		m.logger.Debug("push send failed, using request api", "thread", threadID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := m.api.SendText(ctx, threadID, text); err != nil {
		metrics.SendFailures.Inc()
		m.logger.Error("send text failed", "thread", threadID, "error", err)
		return false
	}
	return true
}

func (m *Manager) SendReaction(threadID, itemID, emoji string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := m.api.SendReaction(ctx, threadID, itemID, emoji); err != nil {
		metrics.SendFailures.Inc()
		m.logger.Error("send reaction failed", "thread", threadID, "error", err)
		return false
	}
	return true
}

func (m *Manager) MarkSeen(threadID, itemID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := m.api.MarkSeen(ctx, threadID, itemID); err != nil {
		m.logger.Error("mark seen failed", "thread", threadID, "error", err)
		return false
	}
	return true
}

func (m *Manager) SetTyping(threadID string, active bool) bool {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := m.api.SetTyping(ctx, threadID, active); err != nil {
		m.logger.Error("set typing failed", "thread", threadID, "error", err)
		return false
	}
	return true
}
