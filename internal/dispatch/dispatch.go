package dispatch

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sync/atomic"
	"time"

	"tacbridge.ai/internal/events"
	"tacbridge.ai/internal/groups"
	"tacbridge.ai/internal/missions"
	"tacbridge.ai/internal/protocol"
	"tacbridge.ai/internal/sim"
)

type State int32

const (
	Idle State = iota
	Parsing
	Executing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Parsing:
		return "PARSING"
	case Executing:
		return "EXECUTING"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Scheduler runs fn later on the loop that owns the registries.
type Scheduler interface {
	Defer(fn func())
}

// TriggerFunc handles a named TRIGGER_EVENT once it is scheduled.
type TriggerFunc func(name string, params protocol.Params)

const (
	DefaultBroadcastTitle    = "[Tactical AI]"
	DefaultBroadcastDuration = 5.0
	DefaultSpread            = 100.0
	DefaultMaxReinforcements = 10
)

type Options struct {
	BroadcastTitle        string
	ReinforcementTemplate string
	// Spread is the half-width of the uniform x/z dispersal for reinforcements.
	Spread float64
	// MaxReinforcements caps group_count on one CALL_REINFORCEMENTS.
	MaxReinforcements int
	Debug             bool
	// Rand drives reinforcement dispersal; nil seeds from the clock.
	Rand *rand.Rand
}

func (o *Options) normalize() {
	if o.BroadcastTitle == "" {
		o.BroadcastTitle = DefaultBroadcastTitle
	}
	if o.ReinforcementTemplate == "" {
		o.ReinforcementTemplate = groups.DefaultReinforcementTemplate
	}
	if o.Spread <= 0 {
		o.Spread = DefaultSpread
	}
	if o.MaxReinforcements <= 0 {
		o.MaxReinforcements = DefaultMaxReinforcements
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
}

type Result struct {
	Index   int
	Type    string
	Target  string
	Code    string
	Err     string
	Created []string
}

type Report struct {
	CommandID string
	Reasoning string
	// Executed counts commands whose handler ran to completion, including
	// documented no-ops on unknown ids or enum keys.
	Executed int
	Unknown  int
	Failed   int
	Results  []Result
}

type Dispatcher struct {
	groups   *groups.Registry
	missions *missions.Registry
	world    sim.World
	events   *events.Recorder
	sched    Scheduler
	logger   *log.Logger
	opts     Options

	state    atomic.Int32
	triggers map[string]TriggerFunc
}

func New(g *groups.Registry, m *missions.Registry, w sim.World, rec *events.Recorder, sched Scheduler, logger *log.Logger, opts Options) *Dispatcher {
	opts.normalize()
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if sched == nil {
		sched = &Queue{}
	}
	return &Dispatcher{
		groups:   g,
		missions: m,
		world:    w,
		events:   rec,
		sched:    sched,
		logger:   logger,
		opts:     opts,
		triggers: map[string]TriggerFunc{},
	}
}

func (d *Dispatcher) State() State { return State(d.state.Load()) }

// SetBroadcastTitle updates the hint title, e.g. after a catalog reload.
func (d *Dispatcher) SetBroadcastTitle(title string) {
	if title != "" {
		d.opts.BroadcastTitle = title
	}
}

// OnTrigger registers fn for TRIGGER_EVENT commands naming name.
func (d *Dispatcher) OnTrigger(name string, fn TriggerFunc) {
	d.triggers[name] = fn
}

// Dispatch decodes one reply and executes its commands in order. A decode
// failure returns a *protocol.ProtocolError before any command runs.
func (d *Dispatcher) Dispatch(raw []byte) (Report, error) {
	d.state.Store(int32(Parsing))
	msg, err := protocol.DecodeReply(raw)
	if err != nil {
		d.state.Store(int32(Idle))
		d.logger.Printf("reply rejected: %v", err)
		return Report{}, err
	}
	return d.Apply(msg), nil
}

// Apply executes an already decoded batch.
func (d *Dispatcher) Apply(msg protocol.ReplyMsg) Report {
	d.state.Store(int32(Executing))
	defer d.state.Store(int32(Idle))

	if d.opts.Debug && msg.Reasoning != "" {
		d.logger.Printf("reasoning: %s", msg.Reasoning)
	}
	rep := Report{
		CommandID: msg.CommandID,
		Reasoning: msg.Reasoning,
		Results:   make([]Result, 0, len(msg.Commands)),
	}
	for i, c := range msg.Commands {
		res := d.execute(i, c)
		switch res.Code {
		case "", protocol.ErrCodeUnknownReference, protocol.ErrCodeUnknownEnumKey:
			rep.Executed++
		case protocol.ErrCodeUnknownCommand:
			rep.Unknown++
		default:
			rep.Failed++
		}
		rep.Results = append(rep.Results, res)
	}
	return rep
}

func (d *Dispatcher) execute(i int, c protocol.CommandMsg) (res Result) {
	res = Result{Index: i, Type: c.Type, Target: c.Target}
	h, ok := handlers[c.Type]
	if !ok {
		d.logger.Printf("unknown command: %q", c.Type)
		res.Code = protocol.ErrCodeUnknownCommand
		return res
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Printf("command %d %s panicked: %v", i, c.Type, r)
			res.Code = protocol.ErrCodeHandlerPanic
			res.Err = fmt.Sprint(r)
		}
	}()
	if c.Params == nil {
		c.Params = protocol.Params{}
	}
	err := h(d, c, &res)
	if err != nil {
		res.Code = codeOf(err)
		res.Err = err.Error()
		if res.Code == protocol.ErrCodeUnknownReference {
			if d.opts.Debug {
				d.logger.Printf("%s: ignored: %v", c.Type, err)
			}
		} else {
			d.logger.Printf("%s: %v", c.Type, err)
		}
	}
	return res
}

var errBadParams = errors.New("bad params")

func codeOf(err error) string {
	if errors.Is(err, errBadParams) {
		return protocol.ErrCodeBadParams
	}
	return protocol.Code(err)
}

// Queue is a Scheduler that holds deferred calls until RunPending.
type Queue struct {
	pending []func()
}

func (q *Queue) Defer(fn func()) { q.pending = append(q.pending, fn) }

// RunPending runs calls queued so far; calls deferred while running wait for
// the next round.
func (q *Queue) RunPending() int {
	batch := q.pending
	q.pending = nil
	for _, fn := range batch {
		fn()
	}
	return len(batch)
}

func (q *Queue) Len() int { return len(q.pending) }
