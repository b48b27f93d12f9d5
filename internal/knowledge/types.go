package knowledge

import (
	"encoding/json"
	"time"
)

// Service is a deployable unit on the platform.
type Service struct {
	Name          string    `json:"name"`
	ServiceID     string    `json:"service_id"`
	EnvironmentID string    `json:"environment_id"`
	Type          string    `json:"type"`  // app, database, cache, worker, scheduler
	Stack         string    `json:"stack"` // laravel, node, python, postgres, redis, unknown
	Role          string    `json:"role"`
	Repo          string    `json:"repo"` // owner/repo
	Branch        string    `json:"branch"`
	HealthURL     string    `json:"health_url"`
	Status        string    `json:"status"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Dependency is a directed edge: Service depends on DependsOn.
type Dependency struct {
	Service   string `json:"service"`
	DependsOn string `json:"depends_on"`
	DepType   string `json:"dep_type"` // database, cache, queue, api, service
}

// Variable is one environment variable of a service, with platform
// reference-syntax detection applied at store time.
type Variable struct {
	Service           string `json:"service"`
	Name              string `json:"variable"`
	Value             string `json:"value"`
	IsReference       bool   `json:"is_reference"`
	ReferencesService string `json:"references_service,omitempty"`
}

// VariableIssue flags a variable whose name suggests a connection target but
// whose value is not a platform reference.
type VariableIssue struct {
	Variable string `json:"variable"`
	Value    string `json:"value"`
	Issue    string `json:"issue"`
}

// FileSnapshot is the stored content of one key configuration file.
type FileSnapshot struct {
	Path      string    `json:"path"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Commit is one recent commit on a service's repo.
type Commit struct {
	SHA     string `json:"sha"`
	Message string `json:"message"`
	Author  string `json:"author"`
	Date    string `json:"date"`
}

// Deploy is one deployment record from the platform.
type Deploy struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	CreatedAt string          `json:"created_at"`
	Meta      json.RawMessage `json:"meta,omitempty"`
}

// ProjectInfo is what code inspection inferred about a service's repo.
type ProjectInfo struct {
	Service      string          `json:"service"`
	Framework    string          `json:"framework"`
	Language     string          `json:"language"`
	Capabilities map[string]bool `json:"capabilities"`
	FileTree     []string        `json:"file_tree,omitempty"`
}

// Flag is an anomaly attached to a service by discovery.
type Flag struct {
	ID        int64     `json:"id"`
	Service   string    `json:"service"`
	FlagType  string    `json:"flag_type"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Action is one recommended remediation from a diagnosis.
type Action struct {
	Type    string                 `json:"type"` // restart, set_variable, rollback, propose_fix, notify_only
	Details map[string]interface{} `json:"details,omitempty"`
}

// Diagnosis is the terminal output of an investigation.
type Diagnosis struct {
	Diagnosis string   `json:"diagnosis"`
	Severity  string   `json:"severity"` // critical, high, medium, low
	Actions   []Action `json:"actions"`
}

// PRInfo describes a pull request opened by the action executor.
type PRInfo struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	Branch string `json:"branch"`
}

// ActionResult records the outcome of one executed (or blocked) action.
type ActionResult struct {
	Type     string  `json:"type"`
	Status   string  `json:"status"` // success, failed, error, pr_created, blocked_by_autonomy, ok
	Variable string  `json:"variable,omitempty"`
	Message  string  `json:"message,omitempty"`
	Error    string  `json:"error,omitempty"`
	PR       *PRInfo `json:"pr,omitempty"`
}

// TranscriptEntry is one entry of an investigation's conversation log.
type TranscriptEntry struct {
	Role    string                 `json:"role"` // context, assistant, tool_call, tool_result, diagnosis
	Tool    string                 `json:"tool,omitempty"`
	Input   map[string]interface{} `json:"input,omitempty"`
	Content string                 `json:"content,omitempty"`
}

// Incident is the durable record of one investigation.
type Incident struct {
	IncidentID   string            `json:"incident_id"`
	Service      string            `json:"service"`
	Trigger      string            `json:"trigger"`
	Started      time.Time         `json:"started"`
	Finished     time.Time         `json:"finished"`
	Diagnosis    *Diagnosis        `json:"diagnosis"`
	ActionsTaken []ActionResult    `json:"actions_taken"`
	Turns        int               `json:"turns"`
	Conversation []TranscriptEntry `json:"conversation"`
}

// Event is one append-only event-log row.
type Event struct {
	ID        int64                  `json:"id"`
	EventType string                 `json:"event_type"`
	Service   string                 `json:"service,omitempty"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// DeepContext aggregates everything known about one service. It is the
// canonical input to an investigation's initial message.
type DeepContext struct {
	Service         *Service          `json:"service"`
	Dependencies    []Dependency      `json:"dependencies"`
	Dependents      []string          `json:"dependents"`
	Variables       map[string]string `json:"variables"`
	VariableIssues  []VariableIssue   `json:"variable_issues"`
	ProjectInfo     *ProjectInfo      `json:"project_info,omitempty"`
	KeyFiles        map[string]string `json:"key_files"`
	RecentCommits   []Commit          `json:"recent_commits"`
	RecentDeploys   []Deploy          `json:"recent_deploys"`
	RecentIncidents []Incident        `json:"recent_incidents"`
	Flags           []Flag            `json:"flags"`
}
