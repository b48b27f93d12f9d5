package discovery

import (
	"strings"

	"github.com/cortex-ops/cortex/internal/knowledge"
)

// Lexical classifiers. Ordering matters: the first matching bucket wins.

func detectType(name string) string {
	n := strings.ToLower(name)
	switch {
	case containsAny(n, "postgres", "mysql", "mariadb", "mongo", "database"):
		return "database"
	case containsAny(n, "redis", "memcache", "cache", "valkey"):
		return "cache"
	case containsAny(n, "horizon", "worker", "queue", "celery"):
		return "worker"
	case containsAny(n, "cron", "scheduler", "schedule"):
		return "scheduler"
	}
	return "app"
}

func detectStack(name, startCmd, buildCmd string) string {
	combined := strings.ToLower(name + " " + startCmd + " " + buildCmd)
	switch {
	case containsAny(combined, "artisan", "php", "laravel"):
		return "laravel"
	case containsAny(combined, "node", "npm", "next"):
		return "node"
	case containsAny(combined, "python", "uvicorn", "gunicorn"):
		return "python"
	case strings.Contains(combined, "postgres"):
		return "postgres"
	case strings.Contains(combined, "redis"):
		return "redis"
	}
	return "unknown"
}

func detectRole(name, serviceType string) string {
	n := strings.ToLower(name)
	switch serviceType {
	case "database":
		return "data_store"
	case "cache":
		return "cache_store"
	case "worker":
		return "background_processing"
	}
	switch {
	case containsAny(n, "api", "backend"):
		return "api_server"
	case containsAny(n, "frontend", "web", "app", "site"):
		return "web_frontend"
	}
	return "application"
}

func classifyDependency(varName string) string {
	vn := strings.ToUpper(varName)
	switch {
	case containsAny(vn, "DATABASE", "DB_", "PG", "MYSQL", "MONGO"):
		return "database"
	case containsAny(vn, "REDIS", "CACHE", "MEMCACHE"):
		return "cache"
	case containsAny(vn, "QUEUE", "AMQP", "RABBIT"):
		return "queue"
	case containsAny(vn, "API_URL", "SERVICE_URL", "ENDPOINT"):
		return "api"
	}
	return "service"
}

// buildHealthURL composes the health URL from the first available domain.
// The adapter lists custom domains before platform-generated ones.
func buildHealthURL(domains []string) string {
	if len(domains) == 0 || domains[0] == "" {
		return ""
	}
	return "https://" + domains[0] + "/health"
}

// keyFilePatterns is the curated set of configuration files worth
// snapshotting for an investigation.
var keyFilePatterns = []string{
	"Dockerfile", "docker-compose.yml", "docker-compose.yaml",
	"railway.toml", "railway.json", "nixpacks.toml", "Procfile",
	"composer.json", "artisan", ".env.example",
	"config/database.php", "config/queue.php", "config/cache.php",
	"config/horizon.php", "config/app.php",
	"routes/web.php", "routes/api.php",
	"package.json", "tsconfig.json", "vite.config.ts", "vite.config.js",
	"tailwind.config.js", "tailwind.config.ts",
	"requirements.txt", "pyproject.toml",
	"README.md",
}

func identifyKeyFiles(tree []string) []string {
	var matches []string
	for _, f := range tree {
		for _, pattern := range keyFilePatterns {
			if f == pattern || strings.HasSuffix(f, "/"+pattern) {
				matches = append(matches, f)
				break
			}
		}
		if len(matches) == 20 {
			break
		}
	}
	return matches
}

func analyzeFileTree(tree []string) knowledge.ProjectInfo {
	info := knowledge.ProjectInfo{
		Framework: "unknown",
		Language:  "unknown",
		Capabilities: map[string]bool{
			"has_dockerfile":    false,
			"has_tests":         false,
			"has_ci":            false,
			"has_migrations":    false,
			"has_api_routes":    false,
			"has_queue_workers": false,
		},
	}

	for _, f := range tree {
		fl := strings.ToLower(f)
		if info.Framework == "unknown" {
			switch {
			case strings.Contains(fl, "artisan"):
				info.Framework, info.Language = "laravel", "php"
			case strings.Contains(fl, "manage.py"):
				info.Framework, info.Language = "django", "python"
			case strings.Contains(fl, "next.config"):
				info.Framework, info.Language = "nextjs", "javascript"
			case strings.Contains(fl, "nuxt.config"):
				info.Framework, info.Language = "nuxt", "javascript"
			}
		}
		if info.Language == "unknown" {
			switch {
			case strings.Contains(fl, "composer.json"):
				info.Language = "php"
			case strings.Contains(fl, "package.json"):
				info.Language = "javascript"
			case strings.Contains(fl, "requirements.txt"):
				info.Language = "python"
			}
		}
		if strings.Contains(fl, "dockerfile") {
			info.Capabilities["has_dockerfile"] = true
		}
		if strings.Contains(fl, "/tests/") || strings.Contains(fl, "/test/") {
			info.Capabilities["has_tests"] = true
		}
		if strings.Contains(fl, ".github/workflows") {
			info.Capabilities["has_ci"] = true
		}
		if strings.Contains(fl, "/migrations/") {
			info.Capabilities["has_migrations"] = true
		}
		if strings.Contains(fl, "routes/api") {
			info.Capabilities["has_api_routes"] = true
		}
		if strings.Contains(fl, "horizon") || strings.Contains(fl, "queue") {
			info.Capabilities["has_queue_workers"] = true
		}
	}
	return info
}
