package knowledge

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertServiceIdempotent(t *testing.T) {
	s := openTestStore(t)

	svc := Service{
		Name:          "api-x",
		ServiceID:     "svc-1",
		EnvironmentID: "env-1",
		Type:          "app",
		Stack:         "laravel",
		Repo:          "acme/api-x",
		Branch:        "main",
		HealthURL:     "https://api-x.example.com/health",
	}
	if err := s.UpsertService(svc); err != nil {
		t.Fatalf("UpsertService: %v", err)
	}
	if err := s.UpsertService(svc); err != nil {
		t.Fatalf("UpsertService (second): %v", err)
	}

	got, err := s.GetService("api-x")
	if err != nil {
		t.Fatalf("GetService: %v", err)
	}
	if got == nil {
		t.Fatal("expected service, got nil")
	}
	if got.ServiceID != "svc-1" || got.Stack != "laravel" || got.Repo != "acme/api-x" {
		t.Errorf("unexpected service: %+v", got)
	}

	services, err := s.ListServices()
	if err != nil {
		t.Fatalf("ListServices: %v", err)
	}
	if len(services) != 1 {
		t.Errorf("expected 1 service after double upsert, got %d", len(services))
	}
}

func TestUpsertServiceUpdatesFields(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpsertService(Service{Name: "web", Stack: "node"}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertService(Service{Name: "web", Stack: "laravel", Repo: "acme/web"}); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetService("web")
	if got.Stack != "laravel" || got.Repo != "acme/web" {
		t.Errorf("upsert did not update fields: %+v", got)
	}
}

func TestUpsertServiceRejectsEmptyName(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpsertService(Service{Name: "  "}); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestGetServiceUnknownReturnsNil(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetService("nope")
	if err != nil {
		t.Fatalf("GetService: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for unknown service, got %+v", got)
	}
}

func TestDependenciesSetClearAndReverseLookup(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetDependency("web", "postgres", "database"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetDependency("web", "redis", "cache"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetDependency("worker", "redis", "cache"); err != nil {
		t.Fatal(err)
	}

	deps, err := s.GetDependencies("web")
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 2 {
		t.Fatalf("expected 2 deps, got %d", len(deps))
	}
	if deps[0].DependsOn != "postgres" || deps[0].DepType != "database" {
		t.Errorf("unexpected dep: %+v", deps[0])
	}

	dependents, err := s.GetDependents("redis")
	if err != nil {
		t.Fatal(err)
	}
	if len(dependents) != 2 || dependents[0] != "web" || dependents[1] != "worker" {
		t.Errorf("unexpected dependents: %v", dependents)
	}

	if err := s.ClearDependencies("web"); err != nil {
		t.Fatal(err)
	}
	deps, _ = s.GetDependencies("web")
	if len(deps) != 0 {
		t.Errorf("expected no deps after clear, got %v", deps)
	}
}

func TestStoreVariablesDetectsReferences(t *testing.T) {
	s := openTestStore(t)

	err := s.StoreVariables("web", map[string]string{
		"DATABASE_URL": "${{postgres.DATABASE_URL}}",
		"APP_ENV":      "production",
		"REDIS_URL":    "${{redis.REDIS_URL}}",
	})
	if err != nil {
		t.Fatal(err)
	}

	rows, err := s.GetVariableRows("web")
	if err != nil {
		t.Fatal(err)
	}
	byName := map[string]Variable{}
	for _, v := range rows {
		byName[v.Name] = v
	}

	if v := byName["DATABASE_URL"]; !v.IsReference || v.ReferencesService != "postgres" {
		t.Errorf("DATABASE_URL should reference postgres: %+v", v)
	}
	if v := byName["REDIS_URL"]; !v.IsReference || v.ReferencesService != "redis" {
		t.Errorf("REDIS_URL should reference redis: %+v", v)
	}
	if v := byName["APP_ENV"]; v.IsReference || v.ReferencesService != "" {
		t.Errorf("APP_ENV should not be a reference: %+v", v)
	}
}

func TestGetVariableIssuesFlagsHardcodedHosts(t *testing.T) {
	s := openTestStore(t)

	err := s.StoreVariables("web", map[string]string{
		"DB_HOST":      "db.internal:5432",
		"DATABASE_URL": "${{postgres.DATABASE_URL}}",
		"APP_NAME":     "web",
	})
	if err != nil {
		t.Fatal(err)
	}

	issues, err := s.GetVariableIssues("web")
	if err != nil {
		t.Fatal(err)
	}
	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %d: %+v", len(issues), issues)
	}
	if issues[0].Variable != "DB_HOST" {
		t.Errorf("expected DB_HOST issue, got %+v", issues[0])
	}
}

func TestFlagsAddListClear(t *testing.T) {
	s := openTestStore(t)

	if err := s.AddFlag("web", "hardcoded_db", "DB_HOST appears hardcoded"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddFlag("worker", "missing_dependency", "Depends on 'redis-old'"); err != nil {
		t.Fatal(err)
	}

	all, err := s.GetFlags("")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 flags, got %d", len(all))
	}

	webFlags, _ := s.GetFlags("web")
	if len(webFlags) != 1 || webFlags[0].FlagType != "hardcoded_db" {
		t.Errorf("unexpected web flags: %+v", webFlags)
	}

	if err := s.ClearFlags("web"); err != nil {
		t.Fatal(err)
	}
	webFlags, _ = s.GetFlags("web")
	if len(webFlags) != 0 {
		t.Errorf("expected no web flags after scoped clear, got %+v", webFlags)
	}

	if err := s.ClearFlags(""); err != nil {
		t.Fatal(err)
	}
	all, _ = s.GetFlags("")
	if len(all) != 0 {
		t.Errorf("expected no flags after global clear, got %+v", all)
	}
}

func TestSaveIncidentRoundTrip(t *testing.T) {
	s := openTestStore(t)

	incident := Incident{
		IncidentID: "abc123def456",
		Service:    "web",
		Trigger:    "Health check failed for web",
		Started:    time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
		Finished:   time.Date(2026, 8, 25, 10, 2, 0, 0, time.UTC),
		Diagnosis: &Diagnosis{
			Diagnosis: "Database connection pool exhausted",
			Severity:  "high",
			Actions:   []Action{{Type: "restart"}},
		},
		ActionsTaken: []ActionResult{{Type: "restart", Status: "success"}},
		Turns:        3,
		Conversation: []TranscriptEntry{
			{Role: "context", Content: "SERVICE: web"},
			{Role: "tool_call", Tool: "get_logs", Input: map[string]interface{}{"service": "web"}},
		},
	}
	if err := s.SaveIncident(incident); err != nil {
		t.Fatal(err)
	}
	// Idempotent by id.
	if err := s.SaveIncident(incident); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetIncident("abc123def456")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected incident, got nil")
	}
	if got.Service != "web" || got.Turns != 3 {
		t.Errorf("unexpected incident: %+v", got)
	}
	if got.Diagnosis == nil || got.Diagnosis.Severity != "high" {
		t.Errorf("diagnosis not preserved: %+v", got.Diagnosis)
	}
	if len(got.ActionsTaken) != 1 || got.ActionsTaken[0].Status != "success" {
		t.Errorf("actions not preserved: %+v", got.ActionsTaken)
	}
	if !got.Started.Equal(incident.Started) || !got.Finished.Equal(incident.Finished) {
		t.Errorf("timestamps not preserved: %v %v", got.Started, got.Finished)
	}

	recent, err := s.GetRecentIncidents("web", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 {
		t.Errorf("expected 1 incident after double save, got %d", len(recent))
	}
}

func TestGetIncidentUnknownReturnsNil(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetIncident("missing")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestEventLogAppend(t *testing.T) {
	s := openTestStore(t)

	if err := s.LogEvent("discovery", "Full discovery: 3 services", "", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.LogEvent("health_check_failed", "web is unhealthy", "web",
		map[string]interface{}{"url": "https://web/health"}); err != nil {
		t.Fatal(err)
	}

	events, err := s.GetRecentEvents(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	// Newest first.
	if events[0].EventType != "health_check_failed" || events[0].Service != "web" {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	if events[0].Details["url"] != "https://web/health" {
		t.Errorf("details not preserved: %+v", events[0].Details)
	}
}

func TestDeploysNewestFirstWithLimit(t *testing.T) {
	s := openTestStore(t)

	deploys := []Deploy{
		{ID: "d1", Status: "SUCCESS", CreatedAt: "2026-08-25T09:00:00Z"},
		{ID: "d2", Status: "FAILED", CreatedAt: "2026-08-25T10:00:00Z"},
		{ID: "d3", Status: "SUCCESS", CreatedAt: "2026-08-25T11:00:00Z"},
	}
	if err := s.StoreDeploys("web", deploys); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRecentDeploys("web", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "d3" || got[1].ID != "d2" {
		t.Errorf("unexpected deploy order: %+v", got)
	}
}

func TestGetDeepContextAggregates(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpsertService(Service{Name: "web", Type: "app", Stack: "laravel"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetDependency("web", "postgres", "database"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetDependency("worker", "web", "api"); err != nil {
		t.Fatal(err)
	}
	if err := s.StoreVariables("web", map[string]string{"DB_HOST": "db.internal:5432"}); err != nil {
		t.Fatal(err)
	}
	if err := s.StoreFile("web", "Dockerfile", "FROM php:8.3"); err != nil {
		t.Fatal(err)
	}
	if err := s.StoreCommits("web", []Commit{{SHA: "abc1234", Message: "Fix queue config", Date: "2026-08-24T12:00:00Z"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddFlag("web", "hardcoded_db", "DB_HOST appears hardcoded"); err != nil {
		t.Fatal(err)
	}

	ctx, err := s.GetDeepContext("web")
	if err != nil {
		t.Fatal(err)
	}
	if ctx.Service == nil || ctx.Service.Name != "web" {
		t.Fatalf("service missing from context: %+v", ctx.Service)
	}
	if len(ctx.Dependencies) != 1 || ctx.Dependencies[0].DependsOn != "postgres" {
		t.Errorf("dependencies: %+v", ctx.Dependencies)
	}
	if len(ctx.Dependents) != 1 || ctx.Dependents[0] != "worker" {
		t.Errorf("dependents: %+v", ctx.Dependents)
	}
	if len(ctx.VariableIssues) != 1 {
		t.Errorf("variable issues: %+v", ctx.VariableIssues)
	}
	if ctx.KeyFiles["Dockerfile"] != "FROM php:8.3" {
		t.Errorf("key files: %+v", ctx.KeyFiles)
	}
	if len(ctx.RecentCommits) != 1 {
		t.Errorf("commits: %+v", ctx.RecentCommits)
	}
	if len(ctx.Flags) != 1 || ctx.Flags[0].FlagType != "hardcoded_db" {
		t.Errorf("flags: %+v", ctx.Flags)
	}
}
