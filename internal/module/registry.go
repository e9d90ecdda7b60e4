package module

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/itxabrham07/instagram-mqtt/internal/domain"
)

// Registry holds the loaded modules and the flat command table built from
// them. Modules register once at startup; command names must be unique
// across all modules.
type Registry struct {
	mu       sync.RWMutex
	modules  []domain.Module
	commands map[string]domain.Command
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		commands: make(map[string]domain.Command),
		logger:   logger,
	}
}

// Register adds a module and its commands. A command name already claimed
// by another module is a configuration error and fails the whole
// registration.
func (r *Registry) Register(m domain.Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cmd := range m.Commands() {
		if existing, ok := r.commands[cmd.Name]; ok {
			return fmt.Errorf("command %q from module %q already registered by module %q",
				cmd.Name, m.Name(), existing.Module)
		}
	}
	for _, cmd := range m.Commands() {
		cmd.Module = m.Name()
		r.commands[cmd.Name] = cmd
	}
	r.modules = append(r.modules, m)
	r.logger.Debug("registered module", "name", m.Name(), "commands", len(m.Commands()))
	return nil
}

// Command looks up a command by name.
func (r *Registry) Command(name string) (domain.Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	return cmd, ok
}

// Commands returns all commands sorted by name.
func (r *Registry) Commands() []domain.Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Modules returns the modules in registration order.
func (r *Registry) Modules() []domain.Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Module, len(r.modules))
	copy(out, r.modules)
	return out
}

// ProcessMessage runs the message through every module that implements
// MessageProcessor, in registration order, each seeing the previous one's
// output.
func (r *Registry) ProcessMessage(msg domain.Message) domain.Message {
	r.mu.RLock()
	modules := r.modules
	r.mu.RUnlock()

	for _, m := range modules {
		if p, ok := m.(domain.MessageProcessor); ok {
			msg = p.ProcessMessage(msg)
		}
	}
	return msg
}

// Cleanup shuts down every module that implements Cleaner. Failures are
// logged and do not stop the remaining cleanups.
func (r *Registry) Cleanup() {
	r.mu.RLock()
	modules := r.modules
	r.mu.RUnlock()

	for _, m := range modules {
		c, ok := m.(domain.Cleaner)
		if !ok {
			continue
		}
		if err := c.Cleanup(); err != nil {
			r.logger.Error("module cleanup failed", "module", m.Name(), "error", err)
		}
	}
}
