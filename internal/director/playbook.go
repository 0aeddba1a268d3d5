package director

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"tacbridge.ai/internal/protocol"
)

// Placeholders resolved against the STATE when a rule fires.
const (
	PlaceholderSourceGroup    = "$source_group"
	PlaceholderPlayerPosition = "$player_position"
	PlaceholderEnemyPosition  = "$enemy_position"
)

type Playbook struct {
	Rules []Rule `yaml:"rules"`
}

// Rule fires when every non-empty condition matches. Rules are tried in
// order and the first match answers the tick.
type Rule struct {
	Name      string        `yaml:"name"`
	Pressure  []Pressure    `yaml:"pressure,omitempty"`
	Events    []string      `yaml:"events,omitempty"`
	MinTick   uint64        `yaml:"min_tick,omitempty"`
	MaxGroups *int          `yaml:"max_groups,omitempty"`
	Once      bool          `yaml:"once,omitempty"`
	Reasoning string        `yaml:"reasoning"`
	Commands  []RuleCommand `yaml:"commands"`
}

type RuleCommand struct {
	Type   string         `yaml:"type"`
	Target string         `yaml:"target,omitempty"`
	Params map[string]any `yaml:"params,omitempty"`
}

func LoadPlaybook(path string) (*Playbook, error) {
	if strings.TrimSpace(path) == "" {
		return &Playbook{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePlaybook(b)
}

func ParsePlaybook(b []byte) (*Playbook, error) {
	var pb Playbook
	if err := yaml.Unmarshal(b, &pb); err != nil {
		return nil, fmt.Errorf("playbook: %w", err)
	}
	if err := pb.Validate(); err != nil {
		return nil, fmt.Errorf("playbook: %w", err)
	}
	return &pb, nil
}

func (p *Playbook) Validate() error {
	seen := map[string]bool{}
	for i := range p.Rules {
		r := &p.Rules[i]
		r.Name = strings.TrimSpace(r.Name)
		if r.Name == "" {
			return fmt.Errorf("rule %d: name is required", i)
		}
		if seen[r.Name] {
			return fmt.Errorf("duplicate rule %s", r.Name)
		}
		seen[r.Name] = true
		for j, c := range r.Commands {
			t := strings.ToUpper(strings.TrimSpace(c.Type))
			if !protocol.IsCommandType(t) {
				return fmt.Errorf("rule %s command %d: unknown type %q", r.Name, j, c.Type)
			}
			r.Commands[j].Type = t
		}
		for j, pr := range r.Pressure {
			r.Pressure[j] = Pressure(strings.ToUpper(string(pr)))
		}
	}
	return nil
}

// Planner picks the reply for each enriched STATE.
type Planner struct {
	book *Playbook

	mu    sync.Mutex
	fired map[string]int
}

func NewPlanner(book *Playbook) *Planner {
	if book == nil {
		book = &Playbook{}
	}
	return &Planner{book: book, fired: map[string]int{}}
}

// Plan returns the matching rule's batch, or ok=false when nothing matched.
func (p *Planner) Plan(s Enriched) (reply protocol.ReplyMsg, rule string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.book.Rules {
		if r.Once && p.fired[r.Name] > 0 {
			continue
		}
		ev, match := r.match(s)
		if !match {
			continue
		}
		p.fired[r.Name]++
		cmds := make([]protocol.CommandMsg, 0, len(r.Commands))
		for _, c := range r.Commands {
			cmds = append(cmds, c.render(s, ev))
		}
		return protocol.ReplyMsg{
			Reasoning: r.Reasoning,
			Commands:  cmds,
		}, r.Name, true
	}
	return protocol.ReplyMsg{}, "", false
}

// Fired reports how often each rule has answered.
func (p *Planner) Fired() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int, len(p.fired))
	for k, v := range p.fired {
		out[k] = v
	}
	return out
}

// match reports whether r applies and the event that triggered it, if any.
func (r Rule) match(s Enriched) (*protocol.EventObs, bool) {
	if s.Tick < r.MinTick {
		return nil, false
	}
	if r.MaxGroups != nil && len(s.AIGroups) > *r.MaxGroups {
		return nil, false
	}
	if len(r.Pressure) > 0 {
		hit := false
		for _, pr := range r.Pressure {
			if pr == s.Meta.Pressure {
				hit = true
				break
			}
		}
		if !hit {
			return nil, false
		}
	}
	if len(r.Events) == 0 {
		return nil, true
	}
	for i := range s.Events {
		for _, want := range r.Events {
			if strings.EqualFold(s.Events[i].Type, want) {
				return &s.Events[i], true
			}
		}
	}
	return nil, false
}

func (c RuleCommand) render(s Enriched, ev *protocol.EventObs) protocol.CommandMsg {
	out := protocol.CommandMsg{Type: c.Type, Target: resolveString(c.Target, s, ev), Params: protocol.Params{}}
	for k, v := range c.Params {
		if str, ok := v.(string); ok {
			if pos, ok := resolvePos(str, s, ev); ok {
				b, _ := json.Marshal(pos)
				out.Params[k] = b
				continue
			}
			v = resolveString(str, s, ev)
		}
		b, err := json.Marshal(v)
		if err != nil {
			continue
		}
		out.Params[k] = b
	}
	return out
}

func resolveString(v string, s Enriched, ev *protocol.EventObs) string {
	if v == PlaceholderSourceGroup {
		if ev != nil && ev.SourceGroup != nil {
			return *ev.SourceGroup
		}
		if len(s.AIGroups) > 0 {
			return s.AIGroups[0].GroupID
		}
		return ""
	}
	return v
}

func resolvePos(v string, s Enriched, ev *protocol.EventObs) (protocol.Pos, bool) {
	switch v {
	case PlaceholderPlayerPosition:
		for _, p := range s.Players {
			if p.Alive {
				return p.Position, true
			}
		}
		return protocol.Pos{}, false
	case PlaceholderEnemyPosition:
		if ev == nil {
			return protocol.Pos{}, false
		}
		raw, ok := ev.Data["enemy_position"]
		if !ok {
			return protocol.Pos{}, false
		}
		b, err := json.Marshal(raw)
		if err != nil {
			return protocol.Pos{}, false
		}
		var pos protocol.Pos
		if json.Unmarshal(b, &pos) != nil {
			return protocol.Pos{}, false
		}
		return pos, true
	}
	return protocol.Pos{}, false
}
