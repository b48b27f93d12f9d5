package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cortex-ops/cortex/internal/ai/providers"
)

// toolDefinitions is the closed set of tools offered to the model during an
// investigation. diagnose_complete terminates the loop.
func toolDefinitions() []providers.Tool {
	serviceSchema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"service": map[string]interface{}{"type": "string", "description": "Service name"},
		},
		"required": []string{"service"},
	}

	return []providers.Tool{
		{
			Name:        "get_logs",
			Description: "Get recent deployment logs for a service. Use when you need to see error messages, stack traces, or runtime output.",
			InputSchema: serviceSchema,
		},
		{
			Name:        "get_variables",
			Description: "Get all environment variables for a service. Use to check database URLs, API keys, config values.",
			InputSchema: serviceSchema,
		},
		{
			Name:        "get_file",
			Description: "Read a specific file from the service's repo. Use to inspect config, routes, database config, etc.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"service": map[string]interface{}{"type": "string", "description": "Service name"},
					"path":    map[string]interface{}{"type": "string", "description": "File path in the repo (e.g. config/database.php)"},
				},
				"required": []string{"service", "path"},
			},
		},
		{
			Name:        "get_deploys",
			Description: "Get recent deploy history for a service. Use to check if a recent deploy caused the issue.",
			InputSchema: serviceSchema,
		},
		{
			Name:        "get_commits",
			Description: "Get recent git commits for a service. Use to see what changed recently.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"service": map[string]interface{}{"type": "string", "description": "Service name"},
					"limit":   map[string]interface{}{"type": "integer", "description": "Number of commits (default 10)"},
				},
				"required": []string{"service"},
			},
		},
		{
			Name:        "check_health",
			Description: "Ping a service's health endpoint. Use to verify if a service is responding.",
			InputSchema: serviceSchema,
		},
		{
			Name:        "get_dependency_status",
			Description: "Check the status of all services this service depends on. Use when the issue might be a downstream dependency.",
			InputSchema: serviceSchema,
		},
		{
			Name:        "diagnose_complete",
			Description: "Call this when you've reached a diagnosis. Include your findings and recommended actions.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"diagnosis": map[string]interface{}{"type": "string", "description": "What's wrong and why"},
					"severity":  map[string]interface{}{"type": "string", "enum": []string{"critical", "high", "medium", "low"}},
					"actions": map[string]interface{}{
						"type": "array",
						"items": map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"type": map[string]interface{}{"type": "string", "enum": []string{
									"restart", "set_variable", "rollback", "propose_fix", "notify_only",
								}},
								"details": map[string]interface{}{"type": "object", "description": "Action-specific parameters"},
							},
							"required": []string{"type"},
						},
						"description": "Recommended actions in priority order",
					},
				},
				"required": []string{"diagnosis", "severity", "actions"},
			},
		},
	}
}

var sensitiveTokens = []string{"SECRET", "PASSWORD", "KEY", "TOKEN"}

// maskValue hides most of a sensitive value while leaving enough to
// recognize which credential it is.
func maskValue(v string) string {
	if len(v) > 8 {
		return v[:4] + "..." + v[len(v)-4:]
	}
	return "***"
}

func isSensitiveKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, tok := range sensitiveTokens {
		if strings.Contains(upper, tok) {
			return true
		}
	}
	return false
}

// executeTool runs one tool call and returns its result string. Failures
// are returned as strings so the model can react to them.
func (e *Engine) executeTool(ctx context.Context, name string, input map[string]interface{}) string {
	result, err := e.runTool(ctx, name, input)
	if err != nil {
		return fmt.Sprintf("Tool error (%s): %v", name, err)
	}
	return result
}

func (e *Engine) runTool(ctx context.Context, name string, input map[string]interface{}) (string, error) {
	service := stringArg(input, "service")

	switch name {
	case "get_logs":
		logs := e.platform.GetServiceLogs(ctx, service)
		if logs == "" {
			return "No logs available.", nil
		}
		return logs, nil

	case "get_variables":
		variables := e.platform.GetVariablesByName(ctx, service)
		if len(variables) == 0 {
			return "No variables found or service not recognized.", nil
		}
		masked := make(map[string]string, len(variables))
		for k, v := range variables {
			if isSensitiveKey(k) {
				masked[k] = maskValue(v)
			} else {
				masked[k] = v
			}
		}
		out, err := json.MarshalIndent(masked, "", "  ")
		if err != nil {
			return "", err
		}
		return string(out), nil

	case "get_file":
		svc, err := e.store.GetService(service)
		if err != nil {
			return "", err
		}
		if svc == nil || svc.Repo == "" {
			return "No repo linked to this service.", nil
		}
		owner, repo, ok := splitRepo(svc.Repo)
		if !ok {
			return "No repo linked to this service.", nil
		}
		path := stringArg(input, "path")
		content := e.code.GetFileContent(ctx, owner, repo, path, branchOrMain(svc.Branch))
		if content == "" {
			return "File not found: " + path, nil
		}
		return content, nil

	case "get_deploys":
		svc, err := e.store.GetService(service)
		if err != nil {
			return "", err
		}
		if svc == nil {
			return "Service not found.", nil
		}
		deploys := e.platform.GetRecentDeploys(ctx, svc.ServiceID, svc.EnvironmentID, 10)
		out, err := json.MarshalIndent(deploys, "", "  ")
		if err != nil {
			return "", err
		}
		return string(out), nil

	case "get_commits":
		svc, err := e.store.GetService(service)
		if err != nil {
			return "", err
		}
		if svc == nil || svc.Repo == "" {
			return "No repo linked.", nil
		}
		owner, repo, ok := splitRepo(svc.Repo)
		if !ok {
			return "No repo linked.", nil
		}
		limit := intArg(input, "limit", 10)
		commits := e.code.GetRecentCommits(ctx, owner, repo, branchOrMain(svc.Branch), limit)
		out, err := json.MarshalIndent(commits, "", "  ")
		if err != nil {
			return "", err
		}
		return string(out), nil

	case "check_health":
		if e.platform.CheckHealth(ctx, service) {
			return "Health check: HEALTHY", nil
		}
		return "Health check: UNHEALTHY / NOT RESPONDING", nil

	case "get_dependency_status":
		deps, err := e.store.GetDependencies(service)
		if err != nil {
			return "", err
		}
		if len(deps) == 0 {
			return "No known dependencies.", nil
		}
		var b strings.Builder
		for i, dep := range deps {
			if i > 0 {
				b.WriteByte('\n')
			}
			status := "healthy"
			if !e.platform.CheckHealth(ctx, dep.DependsOn) {
				status = "UNHEALTHY"
			}
			fmt.Fprintf(&b, "  %s: %s", dep.DependsOn, status)
		}
		return b.String(), nil
	}

	return "Unknown tool: " + name, nil
}

func stringArg(input map[string]interface{}, key string) string {
	if v, ok := input[key].(string); ok {
		return v
	}
	return ""
}

func intArg(input map[string]interface{}, key string, fallback int) int {
	switch v := input[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

func splitRepo(full string) (owner, repo string, ok bool) {
	parts := strings.SplitN(full, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func branchOrMain(branch string) string {
	if branch == "" {
		return "main"
	}
	return branch
}
