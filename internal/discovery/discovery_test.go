package discovery

import (
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/cortex-ops/cortex/internal/codehost"
	"github.com/cortex-ops/cortex/internal/knowledge"
	"github.com/cortex-ops/cortex/internal/platform"
)

type fakePlatform struct {
	services  []platform.RawService
	variables map[string]map[string]string // serviceID -> vars
	deploys   map[string][]knowledge.Deploy
}

func (f *fakePlatform) GetServices(ctx context.Context, projectID string) []platform.RawService {
	return f.services
}

func (f *fakePlatform) GetVariables(ctx context.Context, serviceID, environmentID string) map[string]string {
	return f.variables[serviceID]
}

func (f *fakePlatform) GetRecentDeploys(ctx context.Context, serviceID, environmentID string, limit int) []knowledge.Deploy {
	return f.deploys[serviceID]
}

type fakeCodeHost struct {
	enabled bool
	trees   map[string][]string
	files   map[string]string
	commits []knowledge.Commit
}

func (f *fakeCodeHost) Enabled() bool { return f.enabled }

func (f *fakeCodeHost) GetRepo(ctx context.Context, owner, repo string) *codehost.Repo {
	return &codehost.Repo{FullName: owner + "/" + repo, DefaultBranch: "main"}
}

func (f *fakeCodeHost) GetFileTree(ctx context.Context, owner, repo, branch string) []string {
	return f.trees[owner+"/"+repo]
}

func (f *fakeCodeHost) GetRecentCommits(ctx context.Context, owner, repo, branch string, limit int) []knowledge.Commit {
	return f.commits
}

func (f *fakeCodeHost) GetFileContent(ctx context.Context, owner, repo, path, branch string) string {
	return f.files[path]
}

func openTestStore(t *testing.T) *knowledge.Store {
	t.Helper()
	s, err := knowledge.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunDetectsHardcodedDBHost(t *testing.T) {
	store := openTestStore(t)
	pf := &fakePlatform{
		services: []platform.RawService{{ID: "s1", Name: "web-a"}},
		variables: map[string]map[string]string{
			"s1": {"DB_HOST": "db.internal:5432"},
		},
	}
	p := New(store, pf, &fakeCodeHost{}, "proj", "env")

	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	flags, _ := store.GetFlags("web-a")
	found := false
	for _, f := range flags {
		if f.FlagType == "hardcoded_db" && strings.Contains(f.Message, "DB_HOST") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected hardcoded_db flag, got %+v", flags)
	}
}

func TestRunDetectsMissingDependency(t *testing.T) {
	store := openTestStore(t)
	pf := &fakePlatform{
		services: []platform.RawService{{ID: "s1", Name: "worker"}},
		variables: map[string]map[string]string{
			"s1": {"QUEUE_URL": "${{redis-old.REDIS_URL}}"},
		},
	}
	p := New(store, pf, &fakeCodeHost{}, "proj", "env")

	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	deps, _ := store.GetDependencies("worker")
	if len(deps) != 1 || deps[0].DependsOn != "redis-old" || deps[0].DepType != "queue" {
		t.Fatalf("unexpected dependencies: %+v", deps)
	}

	flags, _ := store.GetFlags("worker")
	found := false
	for _, f := range flags {
		if f.FlagType == "missing_dependency" && strings.Contains(f.Message, "redis-old") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected missing_dependency flag naming redis-old, got %+v", flags)
	}
}

func TestRunDetectsInconsistentVariable(t *testing.T) {
	store := openTestStore(t)
	pf := &fakePlatform{
		services: []platform.RawService{
			{ID: "sa", Name: "svc-a"},
			{ID: "sb", Name: "svc-b"},
		},
		variables: map[string]map[string]string{
			"sa": {"APP_ENV": "production", "PORT": "8080"},
			"sb": {"APP_ENV": "staging", "PORT": "9090"},
		},
	}
	p := New(store, pf, &fakeCodeHost{}, "proj", "env")

	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"svc-a", "svc-b"} {
		flags, _ := store.GetFlags(name)
		found := false
		for _, f := range flags {
			if f.FlagType == "inconsistent_variable" && strings.Contains(f.Message, "APP_ENV") {
				found = true
				// The flag should name the other service too.
				if !strings.Contains(f.Message, "svc-a") || !strings.Contains(f.Message, "svc-b") {
					t.Errorf("flag should name both services: %q", f.Message)
				}
			}
			if f.FlagType == "inconsistent_variable" && strings.Contains(f.Message, "PORT") {
				t.Errorf("PORT is in the exemption set, should not be flagged: %q", f.Message)
			}
		}
		if !found {
			t.Errorf("%s: expected inconsistent_variable flag, got %+v", name, flags)
		}
	}
}

func TestRunTwiceProducesIdenticalFlags(t *testing.T) {
	store := openTestStore(t)
	pf := &fakePlatform{
		services: []platform.RawService{{ID: "s1", Name: "web-a"}},
		variables: map[string]map[string]string{
			"s1": {"DB_HOST": "db.internal:5432", "QUEUE_URL": "${{redis-old.REDIS_URL}}"},
		},
	}
	p := New(store, pf, &fakeCodeHost{}, "proj", "env")

	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	first, _ := store.GetFlags("")

	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	second, _ := store.GetFlags("")

	summarize := func(flags []knowledge.Flag) []string {
		var out []string
		for _, f := range flags {
			out = append(out, f.Service+"|"+f.FlagType+"|"+f.Message)
		}
		return out
	}
	if !reflect.DeepEqual(summarize(first), summarize(second)) {
		t.Errorf("flag sets differ between runs:\nfirst:  %v\nsecond: %v",
			summarize(first), summarize(second))
	}
}

func TestRunEmptyFleetWritesNothing(t *testing.T) {
	store := openTestStore(t)
	p := New(store, &fakePlatform{}, &fakeCodeHost{}, "proj", "env")

	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	services, _ := store.ListServices()
	if len(services) != 0 {
		t.Errorf("expected no services, got %+v", services)
	}
	flags, _ := store.GetFlags("")
	if len(flags) != 0 {
		t.Errorf("expected no flags, got %+v", flags)
	}
}

func TestRunSkipsWithoutProjectID(t *testing.T) {
	store := openTestStore(t)
	pf := &fakePlatform{services: []platform.RawService{{ID: "s1", Name: "web"}}}
	p := New(store, pf, &fakeCodeHost{}, "", "env")

	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	services, _ := store.ListServices()
	if len(services) != 0 {
		t.Errorf("discovery should be skipped without a project id, got %+v", services)
	}
}

func TestRunCodePhase(t *testing.T) {
	store := openTestStore(t)
	pf := &fakePlatform{
		services: []platform.RawService{{ID: "s1", Name: "web", Repo: "acme/web", Branch: "main"}},
	}
	code := &fakeCodeHost{
		enabled: true,
		trees: map[string][]string{
			"acme/web": {"artisan", "composer.json", "config/database.php", "routes/api.php", "database/migrations/0001_init.php", "src/tests/FooTest.php"},
		},
		files: map[string]string{
			"composer.json":       `{"name": "acme/web"}`,
			"config/database.php": "<?php return [];",
		},
		commits: []knowledge.Commit{{SHA: "abc1234", Message: "Initial", Date: "2026-08-24T12:00:00Z"}},
	}
	p := New(store, pf, code, "proj", "env")

	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	info, err := store.GetProjectInfo("web")
	if err != nil {
		t.Fatal(err)
	}
	if info == nil {
		t.Fatal("expected project info")
	}
	if info.Framework != "laravel" || info.Language != "php" {
		t.Errorf("framework/language: %s/%s", info.Framework, info.Language)
	}
	if !info.Capabilities["has_migrations"] || !info.Capabilities["has_api_routes"] || !info.Capabilities["has_tests"] {
		t.Errorf("capabilities: %+v", info.Capabilities)
	}

	files, _ := store.GetFiles("web")
	if files["composer.json"] == "" {
		t.Errorf("key file contents missing: %+v", files)
	}

	commits, _ := store.GetRecentCommits("web", 10)
	if len(commits) != 1 || commits[0].SHA != "abc1234" {
		t.Errorf("commits: %+v", commits)
	}
}

func TestDetectType(t *testing.T) {
	cases := map[string]string{
		"postgres-main":  "database",
		"redis-sessions": "cache",
		"horizon-worker": "worker",
		"nightly-cron":   "scheduler",
		"storefront":     "app",
	}
	for name, want := range cases {
		if got := detectType(name); got != want {
			t.Errorf("detectType(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestDetectStack(t *testing.T) {
	cases := []struct {
		name, start, build, want string
	}{
		{"web", "php artisan serve", "", "laravel"},
		{"frontend", "npm run start", "npm run build", "node"},
		{"api", "uvicorn main:app", "", "python"},
		{"postgres-main", "", "", "postgres"},
		{"mystery", "", "", "unknown"},
	}
	for _, tc := range cases {
		if got := detectStack(tc.name, tc.start, tc.build); got != tc.want {
			t.Errorf("detectStack(%q, %q, %q) = %q, want %q", tc.name, tc.start, tc.build, got, tc.want)
		}
	}
}

func TestClassifyDependency(t *testing.T) {
	cases := map[string]string{
		"DATABASE_URL":     "database",
		"REDIS_URL":        "cache",
		"QUEUE_CONNECTION": "queue",
		"BILLING_API_URL":  "api",
		"OTHER_REF":        "service",
	}
	for key, want := range cases {
		if got := classifyDependency(key); got != want {
			t.Errorf("classifyDependency(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestIdentifyKeyFilesCap(t *testing.T) {
	var tree []string
	for i := 0; i < 30; i++ {
		tree = append(tree, "pkg"+string(rune('a'+i%26))+"/Dockerfile")
	}
	got := identifyKeyFiles(tree)
	if len(got) != 20 {
		t.Errorf("expected cap of 20 key files, got %d", len(got))
	}
}

func TestBuildHealthURL(t *testing.T) {
	if got := buildHealthURL([]string{"web.example.com"}); got != "https://web.example.com/health" {
		t.Errorf("buildHealthURL = %q", got)
	}
	if got := buildHealthURL(nil); got != "" {
		t.Errorf("expected empty health URL, got %q", got)
	}
}
