package bridge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tacbridge.ai/internal/dispatch"
	"tacbridge.ai/internal/events"
	"tacbridge.ai/internal/groups"
	"tacbridge.ai/internal/ids"
	"tacbridge.ai/internal/missions"
	"tacbridge.ai/internal/protocol"
	"tacbridge.ai/internal/sim"
	"tacbridge.ai/internal/state"
	"tacbridge.ai/internal/transport"
)

const debugReplyBytes = 200

var ErrStopped = errors.New("bridge stopped")

// Scope exposes the loop-owned registries to code running on the loop.
type Scope struct {
	Session    *state.Session
	Groups     *groups.Registry
	Missions   *missions.Registry
	Dispatcher *dispatch.Dispatcher
	Events     *events.Recorder
}

type reply struct {
	req     transport.Request
	resp    transport.Response
	err     error
	latency time.Duration
}

// Bridge runs the tick loop. Registries, the snapshot builder and the
// dispatcher are only touched from Run's goroutine.
type Bridge struct {
	cfg       Config
	log       *log.Logger
	world     sim.World
	transport transport.Transport

	session    *state.Session
	queue      *events.Queue
	recorder   *events.Recorder
	groups     *groups.Registry
	missions   *missions.Registry
	builder    *state.Builder
	dispatcher *dispatch.Dispatcher
	deferred   *dispatch.Queue

	tasks   chan func()
	replies chan reply
	stop    chan struct{}
	done    chan struct{}
	running atomic.Bool

	active atomic.Bool

	tickLogger  TickLogger
	auditLogger AuditLogger

	// loop-owned
	inFlight      int
	newestApplied uint64
	lastAdvance   time.Time

	mu     sync.RWMutex
	status Status
}

func New(cfg Config, w sim.World, tr transport.Transport, logger *log.Logger) *Bridge {
	cfg.normalize()
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	b := &Bridge{
		cfg:       cfg,
		log:       logger,
		world:     w,
		transport: tr,
		tasks:     make(chan func(), 256),
		replies:   make(chan reply, 16),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		deferred:  &dispatch.Queue{},
	}

	b.session = state.NewSession()
	if cfg.SessionID != "" {
		b.session.ID = cfg.SessionID
	}
	b.active.Store(true)

	seq := &ids.Sequence{}
	b.queue = events.NewQueue(cfg.EventCapacity)
	b.recorder = events.NewRecorder(b.queue, nil)
	b.groups = groups.New(w, cfg.Templates, seq, logger)
	b.missions = missions.New(b.groups.Has, b.recorder, logger)
	b.groups.OnUnlink(b.missions.UnassignGroup)
	b.builder = state.NewBuilder(b.session, w, b.groups, b.missions, b.queue)
	b.builder.MapName = cfg.MapName
	b.dispatcher = dispatch.New(b.groups, b.missions, w, b.recorder, b.deferred, logger, dispatch.Options{
		BroadcastTitle:        cfg.BroadcastTitle,
		ReinforcementTemplate: cfg.ReinforcementTemplate,
		MaxReinforcements:     cfg.MaxReinforcements,
		Debug:                 cfg.Debug,
	})

	b.status = Status{SessionID: b.session.ID, Active: true}
	return b
}

func (b *Bridge) SetTickLogger(l TickLogger)   { b.tickLogger = l }
func (b *Bridge) SetAuditLogger(l AuditLogger) { b.auditLogger = l }

func (b *Bridge) SessionID() string { return b.session.ID }

// Events returns the observer API. It is safe to call from any goroutine;
// events are buffered until the next snapshot drains them.
func (b *Bridge) Events() *events.Recorder { return b.recorder }

// SetActive gates sending. A reply already in flight is still applied.
func (b *Bridge) SetActive(active bool) {
	b.active.Store(active)
	b.mu.Lock()
	b.status.Active = active
	b.mu.Unlock()
	if active {
		b.log.Printf("bridge activated")
	} else {
		b.log.Printf("bridge deactivated")
	}
}

func (b *Bridge) Active() bool { return b.active.Load() }

func (b *Bridge) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// Post queues fn to run on the loop. It returns false once the bridge has
// stopped.
func (b *Bridge) Post(fn func()) bool {
	select {
	case <-b.stop:
		return false
	default:
	}
	select {
	case b.tasks <- fn:
		return true
	case <-b.stop:
		return false
	}
}

// Do runs fn on the loop and waits for it.
func (b *Bridge) Do(ctx context.Context, fn func(Scope)) error {
	done := make(chan struct{})
	ok := b.Post(func() {
		defer close(done)
		fn(b.scope())
	})
	if !ok {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrStopped
	}
}

// Reconfigure applies catalog settings on the loop.
func (b *Bridge) Reconfigure(s Settings) bool {
	return b.Post(func() {
		if s.Templates != nil {
			b.groups.SetTemplates(s.Templates)
		}
		if s.BroadcastTitle != "" {
			b.dispatcher.SetBroadcastTitle(s.BroadcastTitle)
		}
		if s.MapName != "" {
			b.builder.MapName = s.MapName
		}
		b.log.Printf("settings reloaded")
	})
}

// OnTrigger registers a TRIGGER_EVENT handler. Call it before Run, or via
// Do once the loop is running.
func (b *Bridge) OnTrigger(name string, fn dispatch.TriggerFunc) {
	b.dispatcher.OnTrigger(name, fn)
}

// RegisterGroup adopts a group created outside the bridge (a mission
// script, an editor placement) and returns its id.
func (b *Bridge) RegisterGroup(ctx context.Context, handle sim.Group, explicitID string) (string, error) {
	var id string
	err := b.Do(ctx, func(s Scope) { id = s.Groups.Register(handle, explicitID) })
	return id, err
}

func (b *Bridge) scope() Scope {
	return Scope{
		Session:    b.session,
		Groups:     b.groups,
		Missions:   b.missions,
		Dispatcher: b.dispatcher,
		Events:     b.recorder,
	}
}

// Run owns the loop until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return errors.New("bridge already running")
	}
	defer close(b.done)
	defer close(b.stop)

	warmup := time.NewTimer(b.cfg.WarmupDelay)
	defer warmup.Stop()
	ticker := time.NewTicker(b.cfg.TickInterval)
	defer ticker.Stop()

	b.lastAdvance = time.Now()
	b.log.Printf("bridge started: session %s, tick %s, warm-up %s", b.session.ID, b.cfg.TickInterval, b.cfg.WarmupDelay)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-warmup.C:
			b.tick(ctx)
		case <-ticker.C:
			b.tick(ctx)
		case r := <-b.replies:
			b.handleReply(r)
		case fn := <-b.tasks:
			fn()
		}
		if n := b.deferred.RunPending(); n > 0 {
			b.mu.Lock()
			b.status.Counters.TriggersFired += uint64(n)
			b.mu.Unlock()
		}
		b.refreshStatus()
	}
}

func (b *Bridge) tick(ctx context.Context) {
	now := time.Now()
	b.missions.Advance(now.Sub(b.lastAdvance).Seconds())
	b.lastAdvance = now

	if !b.active.Load() {
		return
	}

	msg := b.builder.Build()
	msg.RequestID = uuid.NewString()
	body, err := json.Marshal(msg)
	if err != nil {
		b.log.Printf("encode state tick %d: %v", msg.Tick, err)
		return
	}
	if b.cfg.Debug {
		b.log.Printf("sending state tick %d", msg.Tick)
	}
	b.writeTick(msg, body, now)

	req := transport.Request{Tick: msg.Tick, RequestID: msg.RequestID, Body: body}
	b.inFlight++
	b.mu.Lock()
	b.status.Counters.StatesSent++
	b.mu.Unlock()

	go func() {
		rctx, cancel := context.WithTimeout(ctx, b.cfg.RequestTimeout)
		start := time.Now()
		resp, err := b.transport.Exchange(rctx, req)
		cancel()
		r := reply{req: req, resp: resp, err: err, latency: time.Since(start)}
		select {
		case b.replies <- r:
		case <-b.stop:
		}
	}()
}

func (b *Bridge) handleReply(r reply) {
	b.inFlight--

	if r.err != nil {
		b.log.Printf("tick %d: transport: %v", r.req.Tick, r.err)
		b.fail(func(c *Counters) { c.TransportErrors++ }, r.err.Error())
		b.audit(r.req, "", 0, ActionReplyFailed, "", "", r.err.Error(), nil)
		return
	}
	if r.resp.StatusCode != http.StatusOK {
		b.log.Printf("tick %d: HTTP error %d", r.req.Tick, r.resp.StatusCode)
		b.fail(func(c *Counters) { c.HTTPErrors++ }, http.StatusText(r.resp.StatusCode))
		b.audit(r.req, "", 0, ActionReplyHTTPError, "", "", http.StatusText(r.resp.StatusCode), nil)
		return
	}
	if b.cfg.Debug {
		b.log.Printf("tick %d: reply in %s: %s", r.req.Tick, r.latency.Round(time.Millisecond), transport.Truncate(r.resp.Body, debugReplyBytes))
	}
	if b.cfg.DiscardStale && r.req.Tick < b.newestApplied {
		b.log.Printf("tick %d: stale reply discarded (newest applied %d)", r.req.Tick, b.newestApplied)
		b.mu.Lock()
		b.status.Counters.RepliesStale++
		b.mu.Unlock()
		b.audit(r.req, "", 0, ActionReplyStale, "", "", "", nil)
		return
	}

	rep, err := b.dispatcher.Dispatch(r.resp.Body)
	if err != nil {
		b.fail(func(c *Counters) { c.ProtocolErrors++ }, err.Error())
		b.audit(r.req, "", 0, ActionReplyRejected, "", protocol.Code(err), err.Error(), nil)
		return
	}
	if r.req.Tick > b.newestApplied {
		b.newestApplied = r.req.Tick
	}
	for _, res := range rep.Results {
		b.audit(r.req, rep.CommandID, res.Index, res.Type, res.Target, res.Code, res.Err, res.Created)
	}

	b.mu.Lock()
	c := &b.status.Counters
	c.RepliesApplied++
	c.CommandsExecuted += uint64(rep.Executed)
	c.CommandsUnknown += uint64(rep.Unknown)
	c.CommandsFailed += uint64(rep.Failed)
	b.status.LastCommandID = rep.CommandID
	b.status.LastError = ""
	b.mu.Unlock()
}

func (b *Bridge) fail(bump func(*Counters), msg string) {
	b.mu.Lock()
	bump(&b.status.Counters)
	b.status.LastError = msg
	b.mu.Unlock()
}

func (b *Bridge) refreshStatus() {
	b.mu.Lock()
	b.status.Tick = b.session.Tick
	b.status.InFlight = b.inFlight
	b.status.LastApplied = b.newestApplied
	b.status.Groups = b.groups.Len()
	b.status.Missions = len(b.missions.SerializeActive())
	b.status.QueuedEvents = b.queue.Len()
	b.status.DroppedEvents = b.queue.Dropped()
	b.mu.Unlock()
}

func (b *Bridge) writeTick(msg protocol.StateMsg, body []byte, at time.Time) {
	if b.tickLogger == nil {
		return
	}
	sum := sha256.Sum256(body)
	entry := TickLogEntry{
		Tick:      msg.Tick,
		RequestID: msg.RequestID,
		SessionID: msg.SessionID,
		SentAt:    at.UTC(),
		Players:   len(msg.Players),
		Groups:    len(msg.AIGroups),
		Missions:  len(msg.ActiveMissions),
		Events:    len(msg.Events),
		Digest:    hex.EncodeToString(sum[:]),
		State:     body,
	}
	if err := b.tickLogger.WriteTick(entry); err != nil {
		b.log.Printf("tick log: %v", err)
	}
}

func (b *Bridge) audit(req transport.Request, commandID string, seq int, action, target, code, reason string, created []string) {
	if b.auditLogger == nil {
		return
	}
	entry := AuditEntry{
		Tick:      req.Tick,
		RequestID: req.RequestID,
		CommandID: commandID,
		Seq:       seq,
		Action:    action,
		Target:    target,
		Code:      code,
		Reason:    reason,
		Created:   created,
		At:        time.Now().UTC(),
	}
	if err := b.auditLogger.WriteAudit(entry); err != nil {
		b.log.Printf("audit log: %v", err)
	}
}
