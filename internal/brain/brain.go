// Package brain drives the bounded multi-turn investigation loop. One
// Diagnose call is one incident: a tool-calling conversation with the model,
// an autonomy-gated action pass, and a durable incident record.
package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cortex-ops/cortex/internal/ai/providers"
	"github.com/cortex-ops/cortex/internal/codehost"
	"github.com/cortex-ops/cortex/internal/knowledge"
	"github.com/cortex-ops/cortex/internal/metrics"
)

// DefaultMaxTurns bounds the conversation when no override is configured.
const DefaultMaxTurns = 8

const transcriptResultLimit = 500

// Platform is the platform-adapter capability set the engine needs.
type Platform interface {
	GetServiceLogs(ctx context.Context, service string) string
	GetVariablesByName(ctx context.Context, service string) map[string]string
	GetRecentDeploys(ctx context.Context, serviceID, environmentID string, limit int) []knowledge.Deploy
	CheckHealth(ctx context.Context, service string) bool
	Restart(ctx context.Context, service string) bool
	SetVariable(ctx context.Context, service, key, value string) bool
	Rollback(ctx context.Context, service string) bool
}

// CodeHost is the code-host capability set the engine needs.
type CodeHost interface {
	GetFileContent(ctx context.Context, owner, repo, path, branch string) string
	GetRecentCommits(ctx context.Context, owner, repo, branch string, limit int) []knowledge.Commit
	ProposeFix(ctx context.Context, owner, repo string, changes []codehost.FileChange, title, diagnosis string) *codehost.PullRequest
}

// Policy gates mutating actions and supplies prompt context.
type Policy interface {
	CanDo(service, capability string) bool
	IsForbidden(action string) bool
	ForbiddenActions() []string
	MaxAttempts(service string) int
	BusinessPrompt(service string) string
}

// DocsLibrary supplies reference material and receives incident learnings.
type DocsLibrary interface {
	RelevantDocs(stack, serviceType string) string
	AddIncidentLearning(service, stack, trigger, resolution, insight string)
}

// Engine runs investigations.
type Engine struct {
	store    *knowledge.Store
	platform Platform
	code     CodeHost
	docs     DocsLibrary
	policy   Policy
	llm      providers.Provider
	maxTurns int
}

// New creates an investigation engine. maxTurns <= 0 other than zero falls
// back to the default; zero is honored and produces no-turn incidents.
func New(store *knowledge.Store, platform Platform, code CodeHost, docs DocsLibrary, policy Policy, llm providers.Provider, maxTurns int) *Engine {
	if maxTurns < 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Engine{
		store:    store,
		platform: platform,
		code:     code,
		docs:     docs,
		policy:   policy,
		llm:      llm,
		maxTurns: maxTurns,
	}
}

// Diagnose runs one full investigation for a service and persists the
// resulting incident. A transport failure mid-loop still produces an
// incident, just one without a diagnosis. The returned error is reserved
// for storage failures.
func (e *Engine) Diagnose(ctx context.Context, serviceName, trigger string) (*knowledge.Incident, error) {
	incidentID := uuid.NewString()[:12]
	started := time.Now().UTC()

	log.Info().
		Str("service", serviceName).
		Str("trigger", trigger).
		Str("incident_id", incidentID).
		Msg("Starting diagnosis")
	e.store.LogEvent("diagnosis_start", "Starting diagnosis for "+serviceName, serviceName,
		map[string]interface{}{"trigger": trigger, "incident_id": incidentID})

	systemPrompt := e.buildSystemPrompt(serviceName)
	initialMessage := e.buildInitialMessage(serviceName, trigger)

	messages := []providers.Message{{Role: "user", Content: initialMessage}}
	transcript := []knowledge.TranscriptEntry{{Role: "context", Content: initialMessage}}

	var diagnosis *knowledge.Diagnosis
	turns := 0

	for turn := 0; turn < e.maxTurns; turn++ {
		log.Debug().Int("turn", turn+1).Int("max", e.maxTurns).Str("service", serviceName).Msg("Calling model")

		resp, err := e.llm.Chat(ctx, providers.ChatRequest{
			System:   systemPrompt,
			Messages: messages,
			Tools:    toolDefinitions(),
		})
		if err != nil {
			log.Error().Err(err).Str("service", serviceName).Msg("Model call failed")
			e.store.LogEvent("diagnosis_error", "Model API call failed", serviceName, nil)
			break
		}

		turns++
		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		if resp.Content != "" {
			transcript = append(transcript, knowledge.TranscriptEntry{Role: "assistant", Content: resp.Content})
		}

		if len(resp.ToolCalls) == 0 {
			log.Debug().Str("service", serviceName).Msg("Model finished without tool call")
			break
		}

		for _, call := range resp.ToolCalls {
			transcript = append(transcript, knowledge.TranscriptEntry{
				Role:  "tool_call",
				Tool:  call.Name,
				Input: call.Input,
			})

			var resultText string
			if call.Name == "diagnose_complete" {
				diagnosis = parseDiagnosis(call.Input)
				resultText = "Diagnosis recorded."
				transcript = append(transcript, knowledge.TranscriptEntry{Role: "diagnosis", Input: call.Input})
			} else {
				resultText = e.executeTool(ctx, call.Name, call.Input)
				transcript = append(transcript, knowledge.TranscriptEntry{
					Role:    "tool_result",
					Tool:    call.Name,
					Content: clip(resultText, transcriptResultLimit),
				})
			}

			messages = append(messages, providers.Message{
				Role: "user",
				ToolResult: &providers.ToolResult{
					ToolUseID: call.ID,
					Content:   resultText,
				},
			})
		}

		if diagnosis != nil {
			log.Info().Str("service", serviceName).Str("severity", diagnosis.Severity).Msg("Diagnosis complete")
			break
		}
	}

	var actionsTaken []knowledge.ActionResult
	if diagnosis != nil && len(diagnosis.Actions) > 0 {
		actionsTaken = e.executeActions(ctx, serviceName, diagnosis)
	}

	incident := knowledge.Incident{
		IncidentID:   incidentID,
		Service:      serviceName,
		Trigger:      trigger,
		Started:      started,
		Finished:     time.Now().UTC(),
		Diagnosis:    diagnosis,
		ActionsTaken: actionsTaken,
		Turns:        turns,
		Conversation: transcript,
	}
	if err := e.store.SaveIncident(incident); err != nil {
		return nil, fmt.Errorf("save incident %s: %w", incidentID, err)
	}

	if diagnosis != nil {
		stack := "unknown"
		if svc, err := e.store.GetService(serviceName); err == nil && svc != nil && svc.Stack != "" {
			stack = svc.Stack
		}
		actionTypes := make([]string, 0, len(actionsTaken))
		for _, a := range actionsTaken {
			actionTypes = append(actionTypes, a.Type)
		}
		e.docs.AddIncidentLearning(serviceName, stack, trigger, diagnosis.Diagnosis,
			fmt.Sprintf("Resolved in %d turns. Actions: %v", turns, actionTypes))
		metrics.InvestigationsTotal.WithLabelValues("diagnosed").Inc()
	} else {
		metrics.InvestigationsTotal.WithLabelValues("no_diagnosis").Inc()
	}
	metrics.InvestigationTurns.Observe(float64(turns))

	severity := "unknown"
	if diagnosis != nil {
		severity = diagnosis.Severity
	}
	e.store.LogEvent("diagnosis_complete", "Diagnosis done for "+serviceName, serviceName,
		map[string]interface{}{
			"incident_id": incidentID,
			"turns":       turns,
			"actions":     len(actionsTaken),
			"severity":    severity,
		})

	return &incident, nil
}

// parseDiagnosis converts a diagnose_complete tool input into a typed
// diagnosis via a JSON round trip. Malformed actions degrade to an empty
// action list rather than failing the investigation.
func parseDiagnosis(input map[string]interface{}) *knowledge.Diagnosis {
	raw, err := json.Marshal(input)
	if err != nil {
		log.Warn().Err(err).Msg("Diagnosis input marshal failed")
		return &knowledge.Diagnosis{}
	}
	var d knowledge.Diagnosis
	if err := json.Unmarshal(raw, &d); err != nil {
		log.Warn().Err(err).Msg("Diagnosis input decode failed")
		return &knowledge.Diagnosis{
			Diagnosis: stringArg(input, "diagnosis"),
			Severity:  stringArg(input, "severity"),
		}
	}
	return &d
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
