// Package discovery interrogates the platform and code host to build a
// validated model of the fleet. A run has three phases executed in order:
// platform inventory, code inspection, cross-validation. Flags are cleared
// at the start of each run so a stable fleet yields a stable flag set.
package discovery

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/cortex-ops/cortex/internal/codehost"
	"github.com/cortex-ops/cortex/internal/knowledge"
	"github.com/cortex-ops/cortex/internal/metrics"
	"github.com/cortex-ops/cortex/internal/platform"
)

// Platform is the subset of the platform adapter discovery uses.
type Platform interface {
	GetServices(ctx context.Context, projectID string) []platform.RawService
	GetVariables(ctx context.Context, serviceID, environmentID string) map[string]string
	GetRecentDeploys(ctx context.Context, serviceID, environmentID string, limit int) []knowledge.Deploy
}

// CodeHost is the subset of the code-host adapter discovery uses.
type CodeHost interface {
	Enabled() bool
	GetRepo(ctx context.Context, owner, repo string) *codehost.Repo
	GetFileTree(ctx context.Context, owner, repo, branch string) []string
	GetRecentCommits(ctx context.Context, owner, repo, branch string, limit int) []knowledge.Commit
	GetFileContent(ctx context.Context, owner, repo, path, branch string) string
}

// Pipeline runs discovery cycles against one platform project.
type Pipeline struct {
	store         *knowledge.Store
	platform      Platform
	code          CodeHost
	projectID     string
	environmentID string
}

// New creates a discovery pipeline.
func New(store *knowledge.Store, pf Platform, code CodeHost, projectID, environmentID string) *Pipeline {
	return &Pipeline{
		store:         store,
		platform:      pf,
		code:          code,
		projectID:     projectID,
		environmentID: environmentID,
	}
}

var referencePattern = regexp.MustCompile(`\$\{\{([^.}]+)\.`)

// Run executes one full discovery cycle.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.projectID == "" {
		log.Warn().Msg("RAILWAY_PROJECT_ID not set, skipping discovery")
		return nil
	}

	if err := p.store.ClearFlags(""); err != nil {
		return fmt.Errorf("clear flags: %w", err)
	}

	log.Info().Msg("Phase 1: platform inventory")
	if err := p.discoverPlatform(ctx); err != nil {
		return err
	}

	if p.code != nil && p.code.Enabled() {
		log.Info().Msg("Phase 2: code inspection")
		if err := p.discoverCode(ctx); err != nil {
			return err
		}
	} else {
		log.Warn().Msg("GITHUB_TOKEN not set, skipping code discovery")
	}

	log.Info().Msg("Phase 3: topology validation")
	if err := p.validateTopology(); err != nil {
		return err
	}
	if err := p.crossValidateVariables(); err != nil {
		return err
	}

	services, err := p.store.ListServices()
	if err != nil {
		return err
	}
	flags, err := p.store.GetFlags("")
	if err != nil {
		return err
	}
	log.Info().Int("services", len(services)).Int("flags", len(flags)).Msg("Discovery complete")
	p.store.LogEvent("discovery",
		fmt.Sprintf("Full discovery: %d services, %d flags", len(services), len(flags)), "", nil)
	metrics.DiscoveryRunsTotal.Inc()
	return nil
}

// ---------------------------------------------------------------------------
// Phase 1: platform inventory
// ---------------------------------------------------------------------------

func (p *Pipeline) discoverPlatform(ctx context.Context) error {
	services := p.platform.GetServices(ctx, p.projectID)
	log.Info().Int("count", len(services)).Msg("Platform services found")

	for _, raw := range services {
		if raw.Name == "" {
			continue
		}

		serviceType := detectType(raw.Name)
		stack := detectStack(raw.Name, raw.StartCommand, raw.BuildCommand)

		svc := knowledge.Service{
			Name:          raw.Name,
			ServiceID:     raw.ID,
			EnvironmentID: p.environmentID,
			Type:          serviceType,
			Stack:         stack,
			Role:          detectRole(raw.Name, serviceType),
			Repo:          raw.Repo,
			Branch:        raw.Branch,
			HealthURL:     buildHealthURL(raw.Domains),
		}
		if err := p.store.UpsertService(svc); err != nil {
			return fmt.Errorf("upsert %s: %w", raw.Name, err)
		}

		if p.environmentID != "" {
			variables := p.platform.GetVariables(ctx, raw.ID, p.environmentID)
			if len(variables) > 0 {
				if err := p.store.StoreVariables(raw.Name, variables); err != nil {
					return fmt.Errorf("store variables %s: %w", raw.Name, err)
				}
				if err := p.detectDependencies(raw.Name, variables); err != nil {
					return err
				}
				if err := p.validateVariables(raw.Name, variables, serviceType, stack); err != nil {
					return err
				}
			}
		}

		deploys := p.platform.GetRecentDeploys(ctx, raw.ID, p.environmentID, 10)
		if len(deploys) > 0 {
			if err := p.store.StoreDeploys(raw.Name, deploys); err != nil {
				return fmt.Errorf("store deploys %s: %w", raw.Name, err)
			}
		}

		log.Debug().
			Str("service", raw.Name).
			Str("type", serviceType).
			Str("stack", stack).
			Str("repo", raw.Repo).
			Msg("Service discovered")
	}
	return nil
}

// detectDependencies rebuilds the service's dependency edges from its
// variable references and flags hardcoded connection values.
func (p *Pipeline) detectDependencies(name string, variables map[string]string) error {
	if err := p.store.ClearDependencies(name); err != nil {
		return err
	}

	keys := make([]string, 0, len(variables))
	for k := range variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := variables[key]

		if strings.Contains(value, "${{") {
			for _, match := range referencePattern.FindAllStringSubmatch(value, -1) {
				if err := p.store.SetDependency(name, match[1], classifyDependency(key)); err != nil {
					return err
				}
			}
		}

		upper := strings.ToUpper(key)
		if containsAny(upper, "DATABASE", "DB_HOST", "PGHOST") {
			if !strings.Contains(value, "${{") && value != "" &&
				(strings.Contains(value, ".") || strings.Contains(value, ":")) {
				msg := fmt.Sprintf("%s appears hardcoded (%s...) - should be a Railway reference", key, clip(value, 40))
				if err := p.store.AddFlag(name, "hardcoded_db", msg); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (p *Pipeline) validateVariables(name string, variables map[string]string, serviceType, stack string) error {
	if stack != "laravel" && serviceType != "app" {
		return nil
	}

	for _, expected := range []string{"APP_KEY", "APP_ENV"} {
		if _, ok := variables[expected]; !ok {
			msg := fmt.Sprintf("Expected %s but it's not set", expected)
			if err := p.store.AddFlag(name, "missing_variable", msg); err != nil {
				return err
			}
		}
	}

	if serviceType == "app" {
		hasDB := false
		for key := range variables {
			if containsAny(strings.ToUpper(key), "DATABASE", "DB_", "PG") {
				hasDB = true
				break
			}
		}
		if !hasDB {
			if err := p.store.AddFlag(name, "no_database_config", "No database variables found"); err != nil {
				return err
			}
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Phase 2: code inspection
// ---------------------------------------------------------------------------

func (p *Pipeline) discoverCode(ctx context.Context) error {
	services, err := p.store.ListServices()
	if err != nil {
		return err
	}

	byRepo := map[string][]string{}
	var repoOrder []string
	for _, svc := range services {
		if svc.Repo == "" {
			continue
		}
		if _, seen := byRepo[svc.Repo]; !seen {
			repoOrder = append(repoOrder, svc.Repo)
		}
		byRepo[svc.Repo] = append(byRepo[svc.Repo], svc.Name)
	}

	for _, repoFull := range repoOrder {
		parts := strings.SplitN(repoFull, "/", 2)
		if len(parts) != 2 {
			continue
		}
		owner, repoName := parts[0], parts[1]

		repoInfo := p.code.GetRepo(ctx, owner, repoName)
		if repoInfo == nil {
			log.Warn().Str("repo", repoFull).Msg("Repo not accessible")
			continue
		}

		for _, svcName := range byRepo[repoFull] {
			svc, err := p.store.GetService(svcName)
			if err != nil || svc == nil {
				continue
			}
			branch := svc.Branch
			if branch == "" {
				branch = repoInfo.DefaultBranch
			}
			if branch == "" {
				branch = "main"
			}

			tree := p.code.GetFileTree(ctx, owner, repoName, branch)
			if len(tree) > 0 {
				if err := p.store.StoreFileTree(svcName, tree); err != nil {
					return err
				}
				info := analyzeFileTree(tree)
				info.Service = svcName
				if err := p.store.StoreProjectInfo(svcName, info); err != nil {
					return err
				}
			}

			commits := p.code.GetRecentCommits(ctx, owner, repoName, branch, 10)
			if len(commits) > 0 {
				if err := p.store.StoreCommits(svcName, commits); err != nil {
					return err
				}
			}

			for _, path := range identifyKeyFiles(tree) {
				content := p.code.GetFileContent(ctx, owner, repoName, path, branch)
				if content != "" {
					if err := p.store.StoreFile(svcName, path, content); err != nil {
						return err
					}
				}
			}

			log.Debug().
				Str("service", svcName).
				Int("files", len(tree)).
				Int("commits", len(commits)).
				Msg("Code discovered")
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Phase 3: cross-validation
// ---------------------------------------------------------------------------

func (p *Pipeline) validateTopology() error {
	services, err := p.store.ListServices()
	if err != nil {
		return err
	}
	known := map[string]bool{}
	for _, svc := range services {
		known[svc.Name] = true
	}

	for _, svc := range services {
		deps, err := p.store.GetDependencies(svc.Name)
		if err != nil {
			return err
		}
		for _, dep := range deps {
			if !known[dep.DependsOn] {
				msg := fmt.Sprintf("Depends on '%s' but that service doesn't exist", dep.DependsOn)
				if err := p.store.AddFlag(svc.Name, "missing_dependency", msg); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// crossValidationSkip exempts variables that legitimately differ per
// service.
var crossValidationSkip = map[string]bool{
	"PORT":                   true,
	"RAILWAY_PUBLIC_DOMAIN":  true,
	"RAILWAY_PRIVATE_DOMAIN": true,
	"RAILWAY_ENVIRONMENT_ID": true,
}

func (p *Pipeline) crossValidateVariables() error {
	services, err := p.store.ListServices()
	if err != nil {
		return err
	}

	type occurrence struct {
		service string
		value   string
	}
	byKey := map[string][]occurrence{}
	var keyOrder []string

	for _, svc := range services {
		variables, err := p.store.GetVariables(svc.Name)
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(variables))
		for k := range variables {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if _, seen := byKey[key]; !seen {
				keyOrder = append(keyOrder, key)
			}
			byKey[key] = append(byKey[key], occurrence{service: svc.Name, value: variables[key]})
		}
	}

	for _, key := range keyOrder {
		occurrences := byKey[key]
		if len(occurrences) < 2 || crossValidationSkip[key] {
			continue
		}
		distinct := map[string]bool{}
		for _, occ := range occurrences {
			distinct[occ.value] = true
		}
		if len(distinct) < 2 {
			continue
		}
		names := make([]string, 0, len(occurrences))
		for _, occ := range occurrences {
			names = append(names, occ.service)
		}
		msg := fmt.Sprintf("'%s' has different values across: %s", key, strings.Join(names, ", "))
		for _, occ := range occurrences {
			if err := p.store.AddFlag(occ.service, "inconsistent_variable", msg); err != nil {
				return err
			}
		}
	}
	return nil
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func containsAny(s string, tokens ...string) bool {
	for _, tok := range tokens {
		if strings.Contains(s, tok) {
			return true
		}
	}
	return false
}
