package brain

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/cortex-ops/cortex/internal/codehost"
	"github.com/cortex-ops/cortex/internal/knowledge"
	"github.com/cortex-ops/cortex/internal/metrics"
)

// capabilityFor maps an action type to the policy capability that gates it.
// notify_only has no capability and is always permitted.
func capabilityFor(actionType string) string {
	if actionType == "propose_fix" {
		return "create_pr"
	}
	return actionType
}

// executeActions runs the diagnosis's recommended actions in order,
// recording one result per action. Never retries; a failed action is left
// for the next scheduler cycle or investigation.
func (e *Engine) executeActions(ctx context.Context, serviceName string, diagnosis *knowledge.Diagnosis) []knowledge.ActionResult {
	var taken []knowledge.ActionResult

	for _, action := range diagnosis.Actions {
		result := e.executeAction(ctx, serviceName, action, diagnosis)
		taken = append(taken, result)
		metrics.ActionsTotal.WithLabelValues(result.Type, result.Status).Inc()

		e.store.LogEvent("action_executed", "Action "+result.Type+" for "+serviceName, serviceName,
			map[string]interface{}{"type": result.Type, "status": result.Status})
	}
	return taken
}

func (e *Engine) executeAction(ctx context.Context, serviceName string, action knowledge.Action, diagnosis *knowledge.Diagnosis) knowledge.ActionResult {
	actionType := action.Type
	details := action.Details

	if actionType != "notify_only" {
		if e.policy.IsForbidden(actionType) || !e.policy.CanDo(serviceName, capabilityFor(actionType)) {
			log.Info().Str("service", serviceName).Str("action", actionType).Msg("Action blocked by autonomy policy")
			return knowledge.ActionResult{Type: actionType, Status: "blocked_by_autonomy"}
		}
	}

	switch actionType {
	case "restart":
		if e.platform.Restart(ctx, serviceName) {
			return knowledge.ActionResult{Type: "restart", Status: "success"}
		}
		return knowledge.ActionResult{Type: "restart", Status: "failed"}

	case "set_variable":
		variable := detailString(details, "variable")
		value := detailString(details, "value")
		if variable == "" || value == "" {
			return knowledge.ActionResult{Type: "set_variable", Status: "error", Error: "missing variable or value"}
		}
		if e.platform.SetVariable(ctx, serviceName, variable, value) {
			return knowledge.ActionResult{Type: "set_variable", Variable: variable, Status: "success"}
		}
		return knowledge.ActionResult{Type: "set_variable", Variable: variable, Status: "failed"}

	case "rollback":
		if e.platform.Rollback(ctx, serviceName) {
			return knowledge.ActionResult{Type: "rollback", Status: "success"}
		}
		return knowledge.ActionResult{Type: "rollback", Status: "failed"}

	case "propose_fix":
		return e.proposeFix(ctx, serviceName, details, diagnosis)

	case "notify_only":
		return knowledge.ActionResult{Type: "notify_only", Status: "ok", Message: detailString(details, "message")}
	}

	return knowledge.ActionResult{Type: actionType, Status: "error", Error: "unknown action type"}
}

func (e *Engine) proposeFix(ctx context.Context, serviceName string, details map[string]interface{}, diagnosis *knowledge.Diagnosis) knowledge.ActionResult {
	svc, err := e.store.GetService(serviceName)
	if err != nil {
		return knowledge.ActionResult{Type: "propose_fix", Status: "error", Error: err.Error()}
	}
	if svc == nil || svc.Repo == "" {
		return knowledge.ActionResult{Type: "propose_fix", Status: "error", Error: "no repo linked to service"}
	}
	owner, repo, ok := splitRepo(svc.Repo)
	if !ok {
		return knowledge.ActionResult{Type: "propose_fix", Status: "error", Error: "malformed repo coordinate: " + svc.Repo}
	}

	changes := parseChanges(details["changes"])
	if len(changes) == 0 {
		return knowledge.ActionResult{Type: "propose_fix", Status: "error", Error: "no changes supplied"}
	}

	title := detailString(details, "title")
	if title == "" {
		title = "Cortex fix: " + serviceName
	}

	pr := e.code.ProposeFix(ctx, owner, repo, changes, title, diagnosis.Diagnosis)
	if pr == nil {
		return knowledge.ActionResult{Type: "propose_fix", Status: "failed"}
	}
	return knowledge.ActionResult{
		Type:   "propose_fix",
		Status: "pr_created",
		PR:     &knowledge.PRInfo{Number: pr.Number, URL: pr.URL, Branch: pr.Branch},
	}
}

func parseChanges(raw interface{}) []codehost.FileChange {
	if raw == nil {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var changes []codehost.FileChange
	if err := json.Unmarshal(data, &changes); err != nil {
		log.Warn().Err(err).Msg("Malformed changes in propose_fix details")
		return nil
	}
	var valid []codehost.FileChange
	for _, c := range changes {
		if c.Path != "" {
			valid = append(valid, c)
		}
	}
	return valid
}

func detailString(details map[string]interface{}, key string) string {
	if details == nil {
		return ""
	}
	if v, ok := details[key].(string); ok {
		return v
	}
	return ""
}
