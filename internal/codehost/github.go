// Package codehost wraps the GitHub REST API for repo inspection and for
// proposing fixes as pull requests. Writes never touch the base branch; a
// fix is always a new branch plus a PR.
package codehost

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cortex-ops/cortex/internal/knowledge"
)

const (
	defaultAPIURL  = "https://api.github.com"
	requestTimeout = 30 * time.Second
	branchPrefix   = "cortex"
)

// Client talks to the GitHub REST API v3.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
	now     func() time.Time
}

// New creates a GitHub client.
func New(token string) *Client {
	return NewWithBaseURL(token, defaultAPIURL)
}

// NewWithBaseURL creates a client against a custom endpoint, used by tests.
func NewWithBaseURL(token, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultAPIURL
	}
	return &Client{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
		now:     time.Now,
	}
}

// Enabled reports whether a token is configured.
func (c *Client) Enabled() bool {
	return c.token != ""
}

// Repo is the subset of repository metadata discovery cares about.
type Repo struct {
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	Language      string `json:"language"`
	Description   string `json:"description"`
}

// FileChange is one file to write in a proposed fix.
type FileChange struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Message string `json:"message"`
}

// PullRequest identifies a PR opened by ProposeFix.
type PullRequest struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	Branch string `json:"branch"`
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("github %s %s: status %d: %s", method, path, resp.StatusCode, truncate(string(raw), 300))
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// GetRepo fetches repository metadata, or nil on failure.
func (c *Client) GetRepo(ctx context.Context, owner, repo string) *Repo {
	var out Repo
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s", owner, repo), nil, &out); err != nil {
		log.Warn().Err(err).Str("repo", owner+"/"+repo).Msg("GitHub repo fetch failed")
		return nil
	}
	return &out
}

// GetFileTree lists all blob paths in a branch, recursively.
func (c *Client) GetFileTree(ctx context.Context, owner, repo, branch string) []string {
	var out struct {
		Tree []struct {
			Path string `json:"path"`
			Type string `json:"type"`
		} `json:"tree"`
		Truncated bool `json:"truncated"`
	}
	path := fmt.Sprintf("/repos/%s/%s/git/trees/%s?recursive=1", owner, repo, url.PathEscape(branch))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		log.Warn().Err(err).Str("repo", owner+"/"+repo).Str("branch", branch).Msg("GitHub tree fetch failed")
		return nil
	}
	if out.Truncated {
		log.Debug().Str("repo", owner+"/"+repo).Msg("GitHub tree truncated by API")
	}

	var paths []string
	for _, entry := range out.Tree {
		if entry.Type == "blob" {
			paths = append(paths, entry.Path)
		}
	}
	return paths
}

// GetFileContent fetches one file's decoded content, or "" when missing.
func (c *Client) GetFileContent(ctx context.Context, owner, repo, path, branch string) string {
	var out struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	apiPath := fmt.Sprintf("/repos/%s/%s/contents/%s?ref=%s", owner, repo, escapePath(path), url.QueryEscape(branch))
	if err := c.do(ctx, http.MethodGet, apiPath, nil, &out); err != nil {
		log.Debug().Err(err).Str("path", path).Msg("GitHub file fetch failed")
		return ""
	}
	if out.Encoding != "base64" {
		return out.Content
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(out.Content, "\n", ""))
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("GitHub file decode failed")
		return ""
	}
	return string(decoded)
}

// GetRecentCommits returns the newest commits on a branch.
func (c *Client) GetRecentCommits(ctx context.Context, owner, repo, branch string, limit int) []knowledge.Commit {
	if limit <= 0 {
		limit = 10
	}
	var out []struct {
		SHA    string `json:"sha"`
		Commit struct {
			Message string `json:"message"`
			Author  struct {
				Name string `json:"name"`
				Date string `json:"date"`
			} `json:"author"`
		} `json:"commit"`
	}
	path := fmt.Sprintf("/repos/%s/%s/commits?sha=%s&per_page=%d", owner, repo, url.QueryEscape(branch), limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		log.Warn().Err(err).Str("repo", owner+"/"+repo).Msg("GitHub commits fetch failed")
		return nil
	}

	var commits []knowledge.Commit
	for _, entry := range out {
		sha := entry.SHA
		if len(sha) > 7 {
			sha = sha[:7]
		}
		subject := entry.Commit.Message
		if idx := strings.IndexByte(subject, '\n'); idx >= 0 {
			subject = subject[:idx]
		}
		commits = append(commits, knowledge.Commit{
			SHA:     sha,
			Message: subject,
			Author:  entry.Commit.Author.Name,
			Date:    entry.Commit.Author.Date,
		})
	}
	return commits
}

// ProposeFix creates a branch off the default branch, commits the changes to
// it one file at a time, and opens a pull request back to the default
// branch. Returns nil when any step fails; partial branches are left for
// operator cleanup rather than force-deleted.
func (c *Client) ProposeFix(ctx context.Context, owner, repo string, changes []FileChange, title, diagnosis string) *PullRequest {
	if len(changes) == 0 {
		log.Warn().Str("repo", owner+"/"+repo).Msg("ProposeFix called with no changes")
		return nil
	}

	meta := c.GetRepo(ctx, owner, repo)
	if meta == nil {
		return nil
	}
	base := meta.DefaultBranch
	if base == "" {
		base = "main"
	}

	var baseRef struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	refPath := fmt.Sprintf("/repos/%s/%s/git/ref/heads/%s", owner, repo, url.PathEscape(base))
	if err := c.do(ctx, http.MethodGet, refPath, nil, &baseRef); err != nil {
		log.Warn().Err(err).Str("branch", base).Msg("GitHub base ref fetch failed")
		return nil
	}

	branch := fmt.Sprintf("%s/%s-%s", branchPrefix, slugify(title), c.now().UTC().Format("20060102-150405"))
	createRef := map[string]string{
		"ref": "refs/heads/" + branch,
		"sha": baseRef.Object.SHA,
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/git/refs", owner, repo), createRef, nil); err != nil {
		log.Warn().Err(err).Str("branch", branch).Msg("GitHub branch create failed")
		return nil
	}

	for _, change := range changes {
		if !c.putFile(ctx, owner, repo, branch, change) {
			return nil
		}
	}

	body := fmt.Sprintf("## Diagnosis\n\n%s\n\n---\n*This fix was proposed automatically by Cortex. Review before merging.*", diagnosis)
	prReq := map[string]string{
		"title": title,
		"head":  branch,
		"base":  base,
		"body":  body,
	}
	var pr struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/pulls", owner, repo), prReq, &pr); err != nil {
		log.Warn().Err(err).Str("branch", branch).Msg("GitHub PR create failed")
		return nil
	}

	log.Info().Str("repo", owner+"/"+repo).Int("pr", pr.Number).Str("url", pr.HTMLURL).Msg("Pull request opened")
	return &PullRequest{Number: pr.Number, URL: pr.HTMLURL, Branch: branch}
}

func (c *Client) putFile(ctx context.Context, owner, repo, branch string, change FileChange) bool {
	contentPath := fmt.Sprintf("/repos/%s/%s/contents/%s", owner, repo, escapePath(change.Path))

	// Existing files need their blob SHA for the update call.
	var existing struct {
		SHA string `json:"sha"`
	}
	getPath := contentPath + "?ref=" + url.QueryEscape(branch)
	_ = c.do(ctx, http.MethodGet, getPath, nil, &existing)

	message := change.Message
	if message == "" {
		message = "Update " + change.Path
	}
	put := map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString([]byte(change.Content)),
		"branch":  branch,
	}
	if existing.SHA != "" {
		put["sha"] = existing.SHA
	}
	if err := c.do(ctx, http.MethodPut, contentPath, put, nil); err != nil {
		log.Warn().Err(err).Str("path", change.Path).Msg("GitHub file write failed")
		return false
	}
	return true
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > 40 {
		slug = strings.Trim(slug[:40], "-")
	}
	if slug == "" {
		slug = "fix"
	}
	return slug
}
