package codehost

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestGetFileContentDecodesBase64(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/web/contents/config/app.php" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"content":  base64.StdEncoding.EncodeToString([]byte("<?php return [];")),
			"encoding": "base64",
		})
	}))
	defer server.Close()

	c := NewWithBaseURL("tok", server.URL)
	got := c.GetFileContent(context.Background(), "acme", "web", "config/app.php", "main")
	if got != "<?php return [];" {
		t.Errorf("content = %q", got)
	}
}

func TestGetFileContentMissingReturnsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	c := NewWithBaseURL("tok", server.URL)
	if got := c.GetFileContent(context.Background(), "acme", "web", "missing.txt", "main"); got != "" {
		t.Errorf("expected empty content, got %q", got)
	}
}

func TestGetRecentCommitsShortensShaAndSubject(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{
				"sha": "0123456789abcdef",
				"commit": map[string]interface{}{
					"message": "Fix queue config\n\nLonger body text",
					"author":  map[string]string{"name": "Dev One", "date": "2026-08-24T12:00:00Z"},
				},
			},
		})
	}))
	defer server.Close()

	c := NewWithBaseURL("tok", server.URL)
	commits := c.GetRecentCommits(context.Background(), "acme", "web", "main", 10)
	if len(commits) != 1 {
		t.Fatalf("commits: %+v", commits)
	}
	if commits[0].SHA != "0123456" {
		t.Errorf("sha = %q", commits[0].SHA)
	}
	if commits[0].Message != "Fix queue config" {
		t.Errorf("message = %q", commits[0].Message)
	}
	if commits[0].Author != "Dev One" || commits[0].Date != "2026-08-24T12:00:00Z" {
		t.Errorf("author/date: %+v", commits[0])
	}
}

func TestGetFileTreeFiltersBlobs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"tree": []map[string]string{
				{"path": "src", "type": "tree"},
				{"path": "src/main.php", "type": "blob"},
				{"path": "composer.json", "type": "blob"},
			},
		})
	}))
	defer server.Close()

	c := NewWithBaseURL("tok", server.URL)
	tree := c.GetFileTree(context.Background(), "acme", "web", "main")
	if len(tree) != 2 || tree[0] != "src/main.php" || tree[1] != "composer.json" {
		t.Errorf("tree: %v", tree)
	}
}

// proposeFixServer fakes the full branch + commit + PR sequence.
type proposeFixServer struct {
	t            *testing.T
	branchAt     string
	filesWritten []string
	prOpened     bool
	basePushes   int
}

func (s *proposeFixServer) handler(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/repos/acme/web":
		json.NewEncoder(w).Encode(map[string]string{"full_name": "acme/web", "default_branch": "main"})

	case r.Method == http.MethodGet && r.URL.Path == "/repos/acme/web/git/ref/heads/main":
		json.NewEncoder(w).Encode(map[string]interface{}{"object": map[string]string{"sha": "basesha"}})

	case r.Method == http.MethodPost && r.URL.Path == "/repos/acme/web/git/refs":
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		s.branchAt = strings.TrimPrefix(body["ref"], "refs/heads/")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{}`))

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/repos/acme/web/contents/"):
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)

	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/repos/acme/web/contents/"):
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["branch"] == "main" || body["branch"] == "" {
			s.basePushes++
		}
		s.filesWritten = append(s.filesWritten, strings.TrimPrefix(r.URL.Path, "/repos/acme/web/contents/"))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{}`))

	case r.Method == http.MethodPost && r.URL.Path == "/repos/acme/web/pulls":
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["base"] != "main" {
			s.t.Errorf("PR base = %q, want main", body["base"])
		}
		if body["head"] != s.branchAt {
			s.t.Errorf("PR head = %q, want %q", body["head"], s.branchAt)
		}
		if !strings.Contains(body["body"], "Stale credentials") {
			s.t.Errorf("PR body missing diagnosis: %q", body["body"])
		}
		s.prOpened = true
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{"number": 42, "html_url": "https://github.com/acme/web/pull/42"})

	default:
		s.t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		http.Error(w, "unexpected", http.StatusInternalServerError)
	}
}

func TestProposeFixOpensPRWithoutTouchingBase(t *testing.T) {
	fake := &proposeFixServer{t: t}
	server := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer server.Close()

	c := NewWithBaseURL("tok", server.URL)
	c.now = func() time.Time { return time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC) }

	pr := c.ProposeFix(context.Background(), "acme", "web",
		[]FileChange{{Path: "config/queue.php", Content: "<?php return [];", Message: "Use redis reference"}},
		"Fix queue connection", "Stale credentials after rotation... Stale credentials")
	if pr == nil {
		t.Fatal("expected PR, got nil")
	}
	if pr.Number != 42 || pr.URL != "https://github.com/acme/web/pull/42" {
		t.Errorf("pr: %+v", pr)
	}
	if !strings.HasPrefix(pr.Branch, "cortex/fix-queue-connection-20260825-") {
		t.Errorf("branch = %q", pr.Branch)
	}
	if fake.basePushes != 0 {
		t.Errorf("base branch received %d pushes", fake.basePushes)
	}
	if !fake.prOpened {
		t.Error("PR was not opened")
	}
	if len(fake.filesWritten) != 1 {
		t.Errorf("files written: %v", fake.filesWritten)
	}
}

func TestProposeFixAbortsOnBranchFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/repos/acme/web":
			json.NewEncoder(w).Encode(map[string]string{"default_branch": "main"})
		case strings.HasPrefix(r.URL.Path, "/repos/acme/web/git/ref/"):
			json.NewEncoder(w).Encode(map[string]interface{}{"object": map[string]string{"sha": "basesha"}})
		case r.URL.Path == "/repos/acme/web/git/refs":
			http.Error(w, `{"message":"Reference already exists"}`, http.StatusUnprocessableEntity)
		default:
			t.Errorf("request past failed branch create: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	c := NewWithBaseURL("tok", server.URL)
	pr := c.ProposeFix(context.Background(), "acme", "web",
		[]FileChange{{Path: "a.txt", Content: "x"}}, "Fix", "diag")
	if pr != nil {
		t.Errorf("expected nil PR, got %+v", pr)
	}
}

func TestProposeFixRejectsEmptyChanges(t *testing.T) {
	c := NewWithBaseURL("tok", "http://127.0.0.1:0")
	if pr := c.ProposeFix(context.Background(), "acme", "web", nil, "Fix", "diag"); pr != nil {
		t.Errorf("expected nil PR, got %+v", pr)
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Fix queue connection": "fix-queue-connection",
		"  Weird__Chars!!  ":   "weird-chars",
		"":                     "fix",
	}
	for in, want := range cases {
		if got := slugify(in); got != want {
			t.Errorf("slugify(%q) = %q, want %q", in, got, want)
		}
	}

	// Long titles are capped at 40 characters without a trailing dash.
	long := slugify(strings.Repeat("long ", 20))
	if len(long) > 40 || strings.HasSuffix(long, "-") {
		t.Errorf("slugify(long title) = %q", long)
	}
}
