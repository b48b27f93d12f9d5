package brain

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/cortex-ops/cortex/internal/knowledge"
)

// buildSystemPrompt assembles the investigation system prompt: identity and
// method, business context, autonomy rules, the fleet roster, and the
// stack-relevant reference docs.
func (e *Engine) buildSystemPrompt(serviceName string) string {
	svc, err := e.store.GetService(serviceName)
	if err != nil {
		log.Warn().Err(err).Str("service", serviceName).Msg("Service lookup failed while building prompt")
	}
	stack := "unknown"
	serviceType := ""
	if svc != nil {
		stack = svc.Stack
		serviceType = svc.Type
	}

	var b strings.Builder
	b.WriteString("You are Cortex, a platform diagnostics AI. You diagnose issues with " +
		"services running on Railway by methodically investigating symptoms.\n\n")
	b.WriteString("APPROACH: Use the scientific method.\n")
	b.WriteString("  1. Observe symptoms (you've been given initial context below)\n")
	b.WriteString("  2. Form a hypothesis about what's wrong\n")
	b.WriteString("  3. Use tools to gather evidence (logs, variables, files, deploys)\n")
	b.WriteString("  4. Refine your hypothesis based on evidence\n")
	b.WriteString("  5. When confident, call diagnose_complete with your diagnosis and recommended actions\n\n")
	b.WriteString("Be methodical. Don't guess, investigate. Ask for specific data.\n")
	b.WriteString("Don't request everything at once. Follow the trail.\n\n")

	if biz := e.policy.BusinessPrompt(serviceName); biz != "" {
		b.WriteString(biz)
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "FORBIDDEN ACTIONS (never recommend): %s\n", strings.Join(e.policy.ForbiddenActions(), ", "))
	fmt.Fprintf(&b, "Max repair attempts: %d\n\n", e.policy.MaxAttempts(serviceName))

	if services, err := e.store.ListServices(); err == nil && len(services) > 0 {
		entries := make([]string, 0, len(services))
		for _, s := range services {
			entries = append(entries, fmt.Sprintf("%s (%s/%s)", s.Name, s.Type, s.Stack))
		}
		fmt.Fprintf(&b, "KNOWN SERVICES: %s\n\n", strings.Join(entries, ", "))
	}

	if docs := e.docs.RelevantDocs(stack, serviceType); docs != "" {
		b.WriteString(docs)
		b.WriteString("\n")
	}

	return b.String()
}

// buildInitialMessage renders the symptom dossier that opens the
// conversation, drawn from the service's deep context.
func (e *Engine) buildInitialMessage(serviceName, trigger string) string {
	ctx, err := e.store.GetDeepContext(serviceName)
	if err != nil || ctx == nil {
		log.Warn().Err(err).Str("service", serviceName).Msg("Deep context unavailable")
		ctx = &knowledge.DeepContext{}
	}

	svc := ctx.Service
	if svc == nil {
		svc = &knowledge.Service{Type: "unknown", Stack: "unknown"}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SERVICE: %s\n", serviceName)
	fmt.Fprintf(&b, "TYPE: %s | STACK: %s\n", orUnknown(svc.Type), orUnknown(svc.Stack))
	repo := svc.Repo
	if repo == "" {
		repo = "none"
	}
	fmt.Fprintf(&b, "REPO: %s:%s\n", repo, svc.Branch)
	fmt.Fprintf(&b, "TRIGGER: %s\n\n", trigger)

	if len(ctx.Dependencies) > 0 {
		b.WriteString("DEPENDENCIES:\n")
		for _, d := range ctx.Dependencies {
			fmt.Fprintf(&b, "  -> %s (%s)\n", d.DependsOn, d.DepType)
		}
		b.WriteByte('\n')
	}

	if len(ctx.Flags) > 0 {
		b.WriteString("KNOWN ISSUES (from last discovery):\n")
		for _, f := range ctx.Flags {
			fmt.Fprintf(&b, "  ! [%s] %s\n", f.FlagType, f.Message)
		}
		b.WriteByte('\n')
	}

	if len(ctx.VariableIssues) > 0 {
		b.WriteString("VARIABLE CONCERNS:\n")
		for _, vi := range ctx.VariableIssues {
			fmt.Fprintf(&b, "  ! %s: %s\n", vi.Variable, vi.Issue)
		}
		b.WriteByte('\n')
	}

	if deploys := ctx.RecentDeploys; len(deploys) > 0 {
		if len(deploys) > 3 {
			deploys = deploys[:3]
		}
		b.WriteString("RECENT DEPLOYS:\n")
		for _, d := range deploys {
			created := d.CreatedAt
			if len(created) > 19 {
				created = created[:19]
			}
			status := d.Status
			if status == "" {
				status = "unknown"
			}
			fmt.Fprintf(&b, "  %s - %s\n", created, status)
		}
		b.WriteByte('\n')
	}

	if commits := ctx.RecentCommits; len(commits) > 0 {
		if len(commits) > 5 {
			commits = commits[:5]
		}
		b.WriteString("RECENT COMMITS:\n")
		for _, c := range commits {
			fmt.Fprintf(&b, "  %s %s\n", c.SHA, c.Message)
		}
		b.WriteByte('\n')
	}

	if incidents := ctx.RecentIncidents; len(incidents) > 0 {
		if len(incidents) > 3 {
			incidents = incidents[:3]
		}
		b.WriteString("PAST INCIDENTS (similar issues resolved before):\n")
		for _, inc := range incidents {
			summary := "No details"
			if inc.Diagnosis != nil && inc.Diagnosis.Diagnosis != "" {
				summary = inc.Diagnosis.Diagnosis
				if len(summary) > 200 {
					summary = summary[:200]
				}
			}
			fmt.Fprintf(&b, "  * %s\n", summary)
		}
		b.WriteByte('\n')
	}

	b.WriteString("Investigate this issue. Start by checking what seems most relevant.")
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
