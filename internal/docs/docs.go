// Package docs selects stack-appropriate reference material from a Markdown
// directory and maintains the append-only incident learnings file. The
// selected block is injected into investigation system prompts.
package docs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultBudget caps the total characters injected into a prompt.
	DefaultBudget = 30000

	incidentsFile = "incidents.md"
)

// stackDocs maps a service's stack tag to the reference files worth reading
// when investigating it.
var stackDocs = map[string][]string{
	"laravel":  {"laravel.md", "php.md", "database.md"},
	"php":      {"php.md", "database.md"},
	"django":   {"python.md", "database.md"},
	"python":   {"python.md"},
	"node":     {"node.md"},
	"nextjs":   {"node.md", "nextjs.md"},
	"nuxt":     {"node.md"},
	"postgres": {"database.md"},
	"mysql":    {"database.md"},
	"redis":    {"redis.md"},
}

var typeDocs = map[string][]string{
	"database": {"database.md"},
	"cache":    {"redis.md"},
	"worker":   {"queues.md"},
}

// alwaysInclude is merged into every selection regardless of stack.
var alwaysInclude = []string{"platform-architecture.md", incidentsFile}

// Library reads reference docs from one directory. Appends to incidents.md
// are serialized so concurrent investigations cannot interleave blocks.
type Library struct {
	dir    string
	budget int

	mu sync.Mutex
}

// NewLibrary opens a docs directory, creating it when absent.
func NewLibrary(dir string) *Library {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("Failed to create docs directory")
	}
	return &Library{dir: dir, budget: DefaultBudget}
}

// SetBudget overrides the character budget, used by tests.
func (l *Library) SetBudget(n int) {
	if n > 0 {
		l.budget = n
	}
}

// DocInfo describes one available reference file.
type DocInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// List returns the available Markdown files, sorted by name.
func (l *Library) List() []DocInfo {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		log.Warn().Err(err).Str("dir", l.dir).Msg("Failed to list docs directory")
		return nil
	}

	var out []DocInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, DocInfo{Name: entry.Name(), Size: info.Size()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RelevantDocs concatenates the reference files for a stack and service
// type into one block, enforcing the character budget. Returns "" when no
// selected file exists on disk.
func (l *Library) RelevantDocs(stack, serviceType string) string {
	selected := map[string]bool{}
	for _, name := range alwaysInclude {
		selected[name] = true
	}
	for _, name := range stackDocs[strings.ToLower(stack)] {
		selected[name] = true
	}
	for _, name := range typeDocs[strings.ToLower(serviceType)] {
		selected[name] = true
	}

	names := make([]string, 0, len(selected))
	for name := range selected {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("REFERENCE DOCUMENTATION:\n")
	header := b.Len()
	used := 0

	for _, name := range names {
		content, err := os.ReadFile(filepath.Join(l.dir, name))
		if err != nil {
			continue
		}
		section := fmt.Sprintf("\n--- %s ---\n%s\n", name, strings.TrimSpace(string(content)))
		if used+len(section) > l.budget {
			remaining := l.budget - used
			// A tiny remainder is not worth a truncated fragment.
			if remaining < 200 {
				log.Debug().Str("doc", name).Msg("Reference doc omitted, budget exhausted")
				break
			}
			section = section[:remaining] + "\n... [truncated]\n"
		}
		b.WriteString(section)
		used += len(section)
		if used >= l.budget {
			break
		}
	}

	if b.Len() == header {
		return ""
	}
	return b.String()
}

// AddIncidentLearning appends a resolved-incident block to incidents.md so
// later investigations of similar stacks see it verbatim.
func (l *Library) AddIncidentLearning(service, stack, trigger, resolution, insight string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	path := filepath.Join(l.dir, incidentsFile)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to open incidents doc")
		return
	}
	defer f.Close()

	block := fmt.Sprintf(
		"\n## %s — %s (%s)\n\n**Trigger:** %s\n\n**Resolution:** %s\n\n**Insight:** %s\n",
		time.Now().UTC().Format("2006-01-02 15:04"), service, stack, trigger, resolution, insight,
	)
	if _, err := f.WriteString(block); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to append incident learning")
		return
	}
	log.Debug().Str("service", service).Msg("Incident learning recorded")
}
