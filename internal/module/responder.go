package module

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/itxabrham07/instagram-mqtt/internal/domain"
)

// Rule is one auto-reply pattern. Matching is case-insensitive.
type Rule struct {
	Match []string `json:"match" yaml:"match"`
	Mode  string   `json:"mode,omitempty" yaml:"mode,omitempty"` // exact, contains, prefix
	Reply string   `json:"reply" yaml:"reply"`
}

type ruleFile struct {
	Rules []Rule `json:"rules" yaml:"rules"`
}

// Responder answers plain messages that match configured rules. Rules are
// checked in file order and only the first hit replies. Command messages and
// non-text items pass through untouched.
type Responder struct {
	trigger  string
	rules    []Rule
	cooldown time.Duration
	sender   domain.Sender
	logger   *slog.Logger

	mu        sync.Mutex
	lastReply map[string]time.Time // thread id -> last auto-reply
}

// ResponderConfig wires the responder module.
type ResponderConfig struct {
	RulesPath string
	Trigger   string
	Cooldown  time.Duration
	Sender    domain.Sender
	Logger    *slog.Logger
}

func NewResponder(cfg ResponderConfig) (*Responder, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	trigger := cfg.Trigger
	if trigger == "" {
		trigger = "."
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	rules, err := loadRules(cfg.RulesPath)
	if err != nil {
		return nil, err
	}
	logger.Info("responder rules loaded", "path", cfg.RulesPath, "rules", len(rules))

	return &Responder{
		trigger:   trigger,
		rules:     rules,
		cooldown:  cooldown,
		sender:    cfg.Sender,
		logger:    logger,
		lastReply: make(map[string]time.Time),
	}, nil
}

func loadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	for i, r := range f.Rules {
		if len(r.Match) == 0 {
			return nil, fmt.Errorf("rule %d: match list is empty", i+1)
		}
		if r.Reply == "" {
			return nil, fmt.Errorf("rule %d: reply is empty", i+1)
		}
		switch r.Mode {
		case "", "exact", "contains", "prefix":
		default:
			return nil, fmt.Errorf("rule %d: unknown mode %q", i+1, r.Mode)
		}
	}
	return f.Rules, nil
}

func (r *Responder) Name() string { return "responder" }

func (r *Responder) Commands() []domain.Command {
	return []domain.Command{
		{Name: "rules", Description: "List the loaded auto-reply rules", Usage: "rules", AdminOnly: true, Handler: r.listRules},
	}
}

// ProcessMessage auto-replies to matching plain text. The message always
// passes through unchanged so later hooks and the dispatcher still see it.
func (r *Responder) ProcessMessage(msg domain.Message) domain.Message {
	if msg.Type != domain.TypeText || msg.Text == "" {
		return msg
	}
	if strings.HasPrefix(msg.Text, r.trigger) {
		return msg
	}

	rule, ok := r.match(msg.Text)
	if !ok {
		return msg
	}

	r.mu.Lock()
	last := r.lastReply[msg.ThreadID]
	throttled := time.Since(last) < r.cooldown
	if !throttled {
		r.lastReply[msg.ThreadID] = time.Now()
	}
	r.mu.Unlock()
	if throttled {
		r.logger.Debug("auto-reply suppressed by cooldown", "thread", msg.ThreadID)
		return msg
	}

	r.logger.Info("auto-reply", "thread", msg.ThreadID, "reply_len", len(rule.Reply))
	r.sender.SendText(msg.ThreadID, rule.Reply)
	return msg
}

func (r *Responder) match(text string) (Rule, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, rule := range r.rules {
		for _, pattern := range rule.Match {
			p := strings.ToLower(pattern)
			var hit bool
			switch rule.Mode {
			case "contains":
				hit = strings.Contains(lower, p)
			case "prefix":
				hit = strings.HasPrefix(lower, p)
			default:
				hit = lower == p
			}
			if hit {
				return rule, true
			}
		}
	}
	return Rule{}, false
}

func (r *Responder) listRules(args []string, ctx *domain.Context) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Auto-reply rules (%d)", len(r.rules))
	for i, rule := range r.rules {
		mode := rule.Mode
		if mode == "" {
			mode = "exact"
		}
		fmt.Fprintf(&sb, "\n%d. [%s] %s -> %s", i+1, mode, strings.Join(rule.Match, ", "), rule.Reply)
	}
	ctx.Reply(sb.String())
	return nil
}
