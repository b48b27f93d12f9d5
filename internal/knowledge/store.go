// Package knowledge is the durable, typed store of everything Cortex has
// learned about the fleet: services, dependencies, variables, code, deploys,
// flags, incidents, and the event log. All other components go through this
// interface; none hold references to each other's state.
package knowledge

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// referencePattern matches the platform's variable reference syntax and
// captures the referenced service name: ${{NAME.VAR}}.
var referencePattern = regexp.MustCompile(`\$\{\{([^.}]+)\.`)

// connectionKeyTokens mark variable names that should point at another
// service rather than carry a literal host.
var connectionKeyTokens = []string{"DATABASE", "DB_HOST", "PGHOST", "REDIS_HOST"}

// Store is the SQLite-backed knowledge base. Writes are serialized through a
// single connection plus a process-wide mutex; reads see every prior write.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens or creates the knowledge base at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create knowledge directory: %w", err)
		}
	}

	dsn := path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(ON)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open knowledge db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize knowledge schema at %q: %w", path, err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS services (
			name TEXT PRIMARY KEY,
			service_id TEXT DEFAULT '',
			environment_id TEXT DEFAULT '',
			type TEXT DEFAULT 'app',
			stack TEXT DEFAULT 'unknown',
			role TEXT DEFAULT 'application',
			repo TEXT DEFAULT '',
			branch TEXT DEFAULT '',
			health_url TEXT DEFAULT '',
			status TEXT DEFAULT 'unknown',
			updated_at TEXT DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS dependencies (
			service TEXT,
			depends_on TEXT,
			dep_type TEXT DEFAULT '',
			PRIMARY KEY (service, depends_on)
		)`,
		`CREATE TABLE IF NOT EXISTS service_variables (
			service TEXT,
			variable TEXT,
			value TEXT DEFAULT '',
			is_reference INTEGER DEFAULT 0,
			references_service TEXT DEFAULT '',
			PRIMARY KEY (service, variable)
		)`,
		`CREATE TABLE IF NOT EXISTS service_files (
			service TEXT,
			path TEXT,
			content TEXT DEFAULT '',
			updated_at TEXT DEFAULT '',
			PRIMARY KEY (service, path)
		)`,
		`CREATE TABLE IF NOT EXISTS service_commits (
			service TEXT,
			sha TEXT,
			message TEXT DEFAULT '',
			author TEXT DEFAULT '',
			date TEXT DEFAULT '',
			PRIMARY KEY (service, sha)
		)`,
		`CREATE TABLE IF NOT EXISTS service_deploys (
			service TEXT,
			deploy_id TEXT,
			status TEXT DEFAULT '',
			created_at TEXT DEFAULT '',
			meta TEXT DEFAULT '{}',
			PRIMARY KEY (service, deploy_id)
		)`,
		`CREATE TABLE IF NOT EXISTS service_info (
			service TEXT PRIMARY KEY,
			file_tree TEXT DEFAULT '[]',
			framework TEXT DEFAULT 'unknown',
			language TEXT DEFAULT 'unknown',
			capabilities TEXT DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS flags (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			service TEXT,
			flag_type TEXT,
			message TEXT,
			created_at TEXT DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS incidents (
			incident_id TEXT PRIMARY KEY,
			service TEXT,
			data TEXT DEFAULT '{}',
			created_at TEXT DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS event_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT,
			message TEXT,
			service TEXT DEFAULT '',
			details TEXT DEFAULT '{}',
			created_at TEXT DEFAULT ''
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// --- Services ---------------------------------------------------------------

// UpsertService creates or updates a service row. The name is the key;
// upserts with the same fields are idempotent.
func (s *Store) UpsertService(svc Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(svc.Name) == "" {
		return fmt.Errorf("service name must not be empty")
	}

	_, err := s.db.Exec(`
		INSERT INTO services (name, service_id, environment_id, type, stack, role, repo, branch, health_url, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			service_id = excluded.service_id,
			environment_id = excluded.environment_id,
			type = excluded.type,
			stack = excluded.stack,
			role = excluded.role,
			repo = excluded.repo,
			branch = excluded.branch,
			health_url = excluded.health_url,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		svc.Name, svc.ServiceID, svc.EnvironmentID, defaultStr(svc.Type, "app"),
		defaultStr(svc.Stack, "unknown"), defaultStr(svc.Role, "application"),
		svc.Repo, svc.Branch, svc.HealthURL, defaultStr(svc.Status, "unknown"), nowRFC3339())
	return err
}

// SetServiceStatus updates only the status column.
func (s *Store) SetServiceStatus(name, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE services SET status = ?, updated_at = ? WHERE name = ?`,
		status, nowRFC3339(), name)
	return err
}

func defaultStr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// GetService returns the service by name, or nil when unknown.
func (s *Store) GetService(name string) (*Service, error) {
	row := s.db.QueryRow(`SELECT name, service_id, environment_id, type, stack, role, repo, branch, health_url, status, updated_at
		FROM services WHERE name = ?`, name)
	svc, err := scanService(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return svc, err
}

// ListServices returns every known service ordered by name.
func (s *Store) ListServices() ([]Service, error) {
	rows, err := s.db.Query(`SELECT name, service_id, environment_id, type, stack, role, repo, branch, health_url, status, updated_at
		FROM services ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *svc)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanService(r rowScanner) (*Service, error) {
	var svc Service
	var updated string
	if err := r.Scan(&svc.Name, &svc.ServiceID, &svc.EnvironmentID, &svc.Type, &svc.Stack,
		&svc.Role, &svc.Repo, &svc.Branch, &svc.HealthURL, &svc.Status, &updated); err != nil {
		return nil, err
	}
	svc.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &svc, nil
}

// --- Dependencies -----------------------------------------------------------

// SetDependency records a directed edge. Either endpoint may be unknown; that
// is discovery's missing_dependency flag, not a storage error.
func (s *Store) SetDependency(service, dependsOn, depType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT OR REPLACE INTO dependencies (service, depends_on, dep_type) VALUES (?, ?, ?)`,
		service, dependsOn, depType)
	return err
}

// ClearDependencies removes all outgoing edges of a service so discovery can
// rebuild them.
func (s *Store) ClearDependencies(service string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM dependencies WHERE service = ?`, service)
	return err
}

// GetDependencies returns the outgoing edges of a service.
func (s *Store) GetDependencies(service string) ([]Dependency, error) {
	rows, err := s.db.Query(`SELECT service, depends_on, dep_type FROM dependencies WHERE service = ? ORDER BY depends_on`, service)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Dependency
	for rows.Next() {
		var d Dependency
		if err := rows.Scan(&d.Service, &d.DependsOn, &d.DepType); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetDependents returns the names of services that depend on the given one.
func (s *Store) GetDependents(service string) ([]string, error) {
	rows, err := s.db.Query(`SELECT service FROM dependencies WHERE depends_on = ? ORDER BY service`, service)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// --- Variables --------------------------------------------------------------

// StoreVariables bulk-stores a service's variables, detecting the platform
// reference syntax while writing.
func (s *Store) StoreVariables(service string, variables map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for key, value := range variables {
		isRef := 0
		refService := ""
		if m := referencePattern.FindStringSubmatch(value); m != nil {
			isRef = 1
			refService = m[1]
		}
		if _, err := tx.Exec(`INSERT OR REPLACE INTO service_variables (service, variable, value, is_reference, references_service)
			VALUES (?, ?, ?, ?, ?)`, service, key, value, isRef, refService); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// GetVariables returns a service's variables as a plain map.
func (s *Store) GetVariables(service string) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT variable, value FROM service_variables WHERE service = ?`, service)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// GetVariableRows returns full variable rows including reference metadata.
func (s *Store) GetVariableRows(service string) ([]Variable, error) {
	rows, err := s.db.Query(`SELECT service, variable, value, is_reference, references_service
		FROM service_variables WHERE service = ? ORDER BY variable`, service)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Variable
	for rows.Next() {
		var v Variable
		var isRef int
		if err := rows.Scan(&v.Service, &v.Name, &v.Value, &isRef, &v.ReferencesService); err != nil {
			return nil, err
		}
		v.IsReference = isRef != 0
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetVariableIssues returns variables whose name looks like a connection
// target but whose value is a literal host instead of a reference.
func (s *Store) GetVariableIssues(service string) ([]VariableIssue, error) {
	vars, err := s.GetVariableRows(service)
	if err != nil {
		return nil, err
	}

	var issues []VariableIssue
	for _, v := range vars {
		if v.IsReference {
			continue
		}
		upper := strings.ToUpper(v.Name)
		for _, token := range connectionKeyTokens {
			if strings.Contains(upper, token) {
				if strings.Contains(v.Value, ".") || strings.Contains(v.Value, ":") {
					issues = append(issues, VariableIssue{
						Variable: v.Name,
						Value:    v.Value,
						Issue:    "Looks hardcoded. Should be a platform reference?",
					})
				}
				break
			}
		}
	}
	return issues, nil
}

// --- Files, commits, deploys, project info ----------------------------------

// StoreFile stores the content of one key configuration file.
func (s *Store) StoreFile(service, path, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT OR REPLACE INTO service_files (service, path, content, updated_at) VALUES (?, ?, ?, ?)`,
		service, path, content, nowRFC3339())
	return err
}

// GetFiles returns path→content for the stored key files of a service.
func (s *Store) GetFiles(service string) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT path, content FROM service_files WHERE service = ?`, service)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var path, content string
		if err := rows.Scan(&path, &content); err != nil {
			return nil, err
		}
		out[path] = content
	}
	return out, rows.Err()
}

// StoreCommits stores recent commits for a service.
func (s *Store) StoreCommits(service string, commits []Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for _, c := range commits {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO service_commits (service, sha, message, author, date) VALUES (?, ?, ?, ?, ?)`,
			service, c.SHA, c.Message, c.Author, c.Date); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// GetRecentCommits returns up to limit commits, newest first.
func (s *Store) GetRecentCommits(service string, limit int) ([]Commit, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`SELECT sha, message, author, date FROM service_commits
		WHERE service = ? ORDER BY date DESC LIMIT ?`, service, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Commit
	for rows.Next() {
		var c Commit
		if err := rows.Scan(&c.SHA, &c.Message, &c.Author, &c.Date); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// StoreDeploys stores recent deploy records for a service.
func (s *Store) StoreDeploys(service string, deploys []Deploy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for _, d := range deploys {
		meta := "{}"
		if len(d.Meta) > 0 {
			meta = string(d.Meta)
		}
		if _, err := tx.Exec(`INSERT OR REPLACE INTO service_deploys (service, deploy_id, status, created_at, meta) VALUES (?, ?, ?, ?, ?)`,
			service, d.ID, d.Status, d.CreatedAt, meta); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// GetRecentDeploys returns up to limit deploys, newest first.
func (s *Store) GetRecentDeploys(service string, limit int) ([]Deploy, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.Query(`SELECT deploy_id, status, created_at, meta FROM service_deploys
		WHERE service = ? ORDER BY created_at DESC LIMIT ?`, service, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Deploy
	for rows.Next() {
		var d Deploy
		var meta string
		if err := rows.Scan(&d.ID, &d.Status, &d.CreatedAt, &meta); err != nil {
			return nil, err
		}
		d.Meta = json.RawMessage(meta)
		out = append(out, d)
	}
	return out, rows.Err()
}

// StoreFileTree records a service's repo file listing.
func (s *Store) StoreFileTree(service string, tree []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO service_info (service, file_tree) VALUES (?, ?)
		ON CONFLICT(service) DO UPDATE SET file_tree = excluded.file_tree`, service, string(data))
	return err
}

// StoreProjectInfo records the inferred framework, language and capabilities.
func (s *Store) StoreProjectInfo(service string, info ProjectInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	caps, err := json.Marshal(info.Capabilities)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO service_info (service, framework, language, capabilities) VALUES (?, ?, ?, ?)
		ON CONFLICT(service) DO UPDATE SET framework = excluded.framework,
			language = excluded.language, capabilities = excluded.capabilities`,
		service, defaultStr(info.Framework, "unknown"), defaultStr(info.Language, "unknown"), string(caps))
	return err
}

// GetProjectInfo returns the stored project info, or nil when none exists.
func (s *Store) GetProjectInfo(service string) (*ProjectInfo, error) {
	row := s.db.QueryRow(`SELECT service, file_tree, framework, language, capabilities FROM service_info WHERE service = ?`, service)

	var info ProjectInfo
	var tree, caps string
	if err := row.Scan(&info.Service, &tree, &info.Framework, &info.Language, &caps); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(tree), &info.FileTree); err != nil {
		info.FileTree = nil
	}
	if err := json.Unmarshal([]byte(caps), &info.Capabilities); err != nil {
		info.Capabilities = map[string]bool{}
	}
	return &info, nil
}

// --- Flags ------------------------------------------------------------------

// AddFlag records an anomaly on a service.
func (s *Store) AddFlag(service, flagType, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO flags (service, flag_type, message, created_at) VALUES (?, ?, ?, ?)`,
		service, flagType, message, nowRFC3339())
	return err
}

// GetFlags returns flags for one service, or all flags when service is "".
func (s *Store) GetFlags(service string) ([]Flag, error) {
	var rows *sql.Rows
	var err error
	if service != "" {
		rows, err = s.db.Query(`SELECT id, service, flag_type, message, created_at FROM flags WHERE service = ? ORDER BY id`, service)
	} else {
		rows, err = s.db.Query(`SELECT id, service, flag_type, message, created_at FROM flags ORDER BY id`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Flag
	for rows.Next() {
		var f Flag
		var created string
		if err := rows.Scan(&f.ID, &f.Service, &f.FlagType, &f.Message, &created); err != nil {
			return nil, err
		}
		f.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, f)
	}
	return out, rows.Err()
}

// ClearFlags removes flags for one service, or every flag when service is "".
func (s *Store) ClearFlags(service string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if service != "" {
		_, err = s.db.Exec(`DELETE FROM flags WHERE service = ?`, service)
	} else {
		_, err = s.db.Exec(`DELETE FROM flags`)
	}
	return err
}

// --- Incidents --------------------------------------------------------------

// SaveIncident persists an incident, idempotent by incident id.
func (s *Store) SaveIncident(incident Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("marshal incident %s: %w", incident.IncidentID, err)
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO incidents (incident_id, service, data, created_at) VALUES (?, ?, ?, ?)`,
		incident.IncidentID, incident.Service, string(data), nowRFC3339())
	return err
}

// GetIncident returns one incident, or nil when unknown.
func (s *Store) GetIncident(id string) (*Incident, error) {
	row := s.db.QueryRow(`SELECT data FROM incidents WHERE incident_id = ?`, id)

	var data string
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	var incident Incident
	if err := json.Unmarshal([]byte(data), &incident); err != nil {
		return nil, fmt.Errorf("decode incident %s: %w", id, err)
	}
	return &incident, nil
}

// GetRecentIncidents returns up to limit incidents, newest first, optionally
// filtered by service.
func (s *Store) GetRecentIncidents(service string, limit int) ([]Incident, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows *sql.Rows
	var err error
	if service != "" {
		rows, err = s.db.Query(`SELECT data FROM incidents WHERE service = ? ORDER BY created_at DESC LIMIT ?`, service, limit)
	} else {
		rows, err = s.db.Query(`SELECT data FROM incidents ORDER BY created_at DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Incident
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var incident Incident
		if err := json.Unmarshal([]byte(data), &incident); err != nil {
			log.Warn().Err(err).Msg("Skipping undecodable incident row")
			continue
		}
		out = append(out, incident)
	}
	return out, rows.Err()
}

// --- Event log --------------------------------------------------------------

// LogEvent appends one row to the event log. The log is append-only; there
// is deliberately no delete or update path.
func (s *Store) LogEvent(eventType, message, service string, details map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload := "{}"
	if len(details) > 0 {
		if data, err := json.Marshal(details); err == nil {
			payload = string(data)
		}
	}
	_, err := s.db.Exec(`INSERT INTO event_log (event_type, message, service, details, created_at) VALUES (?, ?, ?, ?, ?)`,
		eventType, message, service, payload, nowRFC3339())
	return err
}

// GetRecentEvents returns up to limit event rows, newest first.
func (s *Store) GetRecentEvents(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT id, event_type, message, service, details, created_at FROM event_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var details, created string
		if err := rows.Scan(&e.ID, &e.EventType, &e.Message, &e.Service, &details, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			e.Details = nil
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Deep context -----------------------------------------------------------

// GetDeepContext aggregates everything known about a service.
func (s *Store) GetDeepContext(name string) (*DeepContext, error) {
	svc, err := s.GetService(name)
	if err != nil {
		return nil, err
	}

	ctx := &DeepContext{Service: svc}
	if ctx.Dependencies, err = s.GetDependencies(name); err != nil {
		return nil, err
	}
	if ctx.Dependents, err = s.GetDependents(name); err != nil {
		return nil, err
	}
	if ctx.Variables, err = s.GetVariables(name); err != nil {
		return nil, err
	}
	if ctx.VariableIssues, err = s.GetVariableIssues(name); err != nil {
		return nil, err
	}
	if ctx.ProjectInfo, err = s.GetProjectInfo(name); err != nil {
		return nil, err
	}
	if ctx.KeyFiles, err = s.GetFiles(name); err != nil {
		return nil, err
	}
	if ctx.RecentCommits, err = s.GetRecentCommits(name, 10); err != nil {
		return nil, err
	}
	if ctx.RecentDeploys, err = s.GetRecentDeploys(name, 5); err != nil {
		return nil, err
	}
	if ctx.RecentIncidents, err = s.GetRecentIncidents(name, 5); err != nil {
		return nil, err
	}
	if ctx.Flags, err = s.GetFlags(name); err != nil {
		return nil, err
	}
	return ctx, nil
}
