package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// BusinessContext is the operator-supplied description of what a service is
// for. It is injected into investigation prompts so the model can weigh
// failure impact.
type BusinessContext struct {
	ProductName   string `json:"product_name"`
	Priority      string `json:"priority"`
	Users         string `json:"users"`
	FailureImpact string `json:"failure_impact"`
	Notes         string `json:"notes"`
}

// AutonomyCaps is the capability set that gates mutating actions.
type AutonomyCaps struct {
	CanRestart        *bool `json:"can_restart,omitempty"`
	CanSetVariables   *bool `json:"can_set_variables,omitempty"`
	CanRollback       *bool `json:"can_rollback,omitempty"`
	CanCreatePR       *bool `json:"can_create_pr,omitempty"`
	MaxRepairAttempts *int  `json:"max_repair_attempts,omitempty"`
}

type autonomyFile struct {
	Defaults         AutonomyCaps            `json:"defaults"`
	Services         map[string]AutonomyCaps `json:"services"`
	ForbiddenActions []string                `json:"forbidden_actions"`
}

// Policy serves business context and autonomy decisions from the two JSON
// files in the config directory. It is safe for concurrent use and can be
// hot-reloaded while investigations run.
type Policy struct {
	mu       sync.RWMutex
	dir      string
	business map[string]BusinessContext
	autonomy autonomyFile
}

// LoadPolicy reads services.json and autonomy.json from dir. Missing files
// degrade to permissive-but-logged defaults rather than failing startup.
func LoadPolicy(dir string) *Policy {
	p := &Policy{dir: dir}
	p.Reload()
	return p
}

// Reload re-reads both files, replacing the in-memory view atomically.
func (p *Policy) Reload() {
	business := map[string]BusinessContext{}
	if err := readJSONFile(filepath.Join(p.dir, "services.json"), &business); err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("Failed to read services.json")
		}
	}

	var autonomy autonomyFile
	if err := readJSONFile(filepath.Join(p.dir, "autonomy.json"), &autonomy); err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("Failed to read autonomy.json")
		}
	}
	if autonomy.Services == nil {
		autonomy.Services = map[string]AutonomyCaps{}
	}

	p.mu.Lock()
	p.business = business
	p.autonomy = autonomy
	p.mu.Unlock()

	log.Debug().
		Int("services", len(business)).
		Int("overrides", len(autonomy.Services)).
		Strs("forbidden", autonomy.ForbiddenActions).
		Msg("Policy files loaded")
}

func readJSONFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// CanDo reports whether the capability is enabled for the service.
// Unknown capabilities are denied.
func (p *Policy) CanDo(service, capability string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	override, hasOverride := p.autonomy.Services[service]
	defaults := p.autonomy.Defaults

	pick := func(ov, def *bool) bool {
		if hasOverride && ov != nil {
			return *ov
		}
		if def != nil {
			return *def
		}
		return false
	}

	switch capability {
	case "restart":
		return pick(override.CanRestart, defaults.CanRestart)
	case "set_variable":
		return pick(override.CanSetVariables, defaults.CanSetVariables)
	case "rollback":
		return pick(override.CanRollback, defaults.CanRollback)
	case "create_pr":
		return pick(override.CanCreatePR, defaults.CanCreatePR)
	}
	return false
}

// IsForbidden reports whether the action type appears in the global
// forbidden list.
func (p *Policy) IsForbidden(action string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, f := range p.autonomy.ForbiddenActions {
		if strings.EqualFold(f, action) {
			return true
		}
	}
	return false
}

// ForbiddenActions returns the global forbidden-action list.
func (p *Policy) ForbiddenActions() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.autonomy.ForbiddenActions))
	copy(out, p.autonomy.ForbiddenActions)
	return out
}

// MaxAttempts returns the per-service repair attempt budget, default 3.
func (p *Policy) MaxAttempts(service string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if override, ok := p.autonomy.Services[service]; ok && override.MaxRepairAttempts != nil {
		return *override.MaxRepairAttempts
	}
	if p.autonomy.Defaults.MaxRepairAttempts != nil {
		return *p.autonomy.Defaults.MaxRepairAttempts
	}
	return 3
}

// BusinessPrompt renders the business-context block for a service, or ""
// when none is configured.
func (p *Policy) BusinessPrompt(service string) string {
	p.mu.RLock()
	bc, ok := p.business[service]
	p.mu.RUnlock()
	if !ok {
		return ""
	}

	var b strings.Builder
	b.WriteString("BUSINESS CONTEXT for " + service + ":\n")
	if bc.ProductName != "" {
		b.WriteString("  Product: " + bc.ProductName + "\n")
	}
	if bc.Priority != "" {
		b.WriteString("  Priority: " + bc.Priority + "\n")
	}
	if bc.Users != "" {
		b.WriteString("  Users: " + bc.Users + "\n")
	}
	if bc.FailureImpact != "" {
		b.WriteString("  Failure impact: " + bc.FailureImpact + "\n")
	}
	if bc.Notes != "" {
		b.WriteString("  Notes: " + bc.Notes + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Watch reloads the policy whenever services.json or autonomy.json changes.
// It blocks until ctx is cancelled.
func (p *Policy) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(p.dir); err != nil {
		return fmt.Errorf("watch %s: %w", p.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(event.Name)
			if name != "services.json" && name != "autonomy.json" {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			log.Info().Str("file", name).Msg("Config file changed, reloading policy")
			p.Reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Config watcher error")
		}
	}
}
