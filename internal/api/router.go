// Package api exposes the HTTP surface: status and fleet queries, manual
// diagnosis and discovery triggers, incident retrieval, and the deploy
// webhook. Bearer-token auth covers everything except liveness, metrics,
// and the webhook.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cortex-ops/cortex/internal/docs"
	"github.com/cortex-ops/cortex/internal/knowledge"
	"github.com/cortex-ops/cortex/internal/metrics"
	"github.com/cortex-ops/cortex/internal/monitoring"
)

// Router wires handlers to their dependencies.
type Router struct {
	store        *knowledge.Store
	investigator monitoring.Investigator
	discoverer   monitoring.Discoverer
	notifier     monitoring.IncidentSink
	docs         *docs.Library
	token        string
	version      string
}

// New creates the API router.
func New(store *knowledge.Store, investigator monitoring.Investigator, discoverer monitoring.Discoverer, notifier monitoring.IncidentSink, library *docs.Library, token, version string) *Router {
	return &Router{
		store:        store,
		investigator: investigator,
		discoverer:   discoverer,
		notifier:     notifier,
		docs:         library,
		token:        token,
		version:      version,
	}
}

// Handler builds the route table.
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", rt.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /webhooks/railway", rt.handleWebhook)

	mux.HandleFunc("GET /status", rt.auth(rt.handleStatus))
	mux.HandleFunc("GET /services", rt.auth(rt.handleListServices))
	mux.HandleFunc("GET /services/{name}", rt.auth(rt.handleGetService))
	mux.HandleFunc("GET /services/{name}/diagnose", rt.auth(rt.handleDiagnose))
	mux.HandleFunc("GET /incidents", rt.auth(rt.handleListIncidents))
	mux.HandleFunc("GET /incidents/{id}", rt.auth(rt.handleGetIncident))
	mux.HandleFunc("GET /docs", rt.auth(rt.handleListDocs))
	mux.HandleFunc("GET /events", rt.auth(rt.handleListEvents))
	mux.HandleFunc("POST /discover", rt.auth(rt.handleDiscover))

	return mux
}

// auth enforces the bearer token. An empty configured token leaves the API
// open for local development.
func (rt *Router) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rt.token != "" && r.Header.Get("Authorization") != "Bearer "+rt.token {
			writeError(w, http.StatusUnauthorized, "Invalid or missing token")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// ---------------------------------------------------------------------------
// Health & status
// ---------------------------------------------------------------------------

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": rt.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (rt *Router) handleStatus(w http.ResponseWriter, r *http.Request) {
	services, err := rt.store.ListServices()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	flags, err := rt.store.GetFlags("")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	incidents, err := rt.store.GetRecentIncidents("", 5)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	summary := make([]map[string]string, 0, len(services))
	for _, s := range services {
		summary = append(summary, map[string]string{
			"name":   s.Name,
			"type":   s.Type,
			"stack":  s.Stack,
			"status": s.Status,
		})
	}
	openFlags := make([]map[string]string, 0, 10)
	for i, f := range flags {
		if i == 10 {
			break
		}
		openFlags = append(openFlags, map[string]string{
			"service": f.Service,
			"type":    f.FlagType,
			"message": f.Message,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"services":         len(services),
		"flags":            len(flags),
		"recent_incidents": len(incidents),
		"services_summary": summary,
		"open_flags":       openFlags,
	})
}

// ---------------------------------------------------------------------------
// Services
// ---------------------------------------------------------------------------

func (rt *Router) handleListServices(w http.ResponseWriter, r *http.Request) {
	services, err := rt.store.ListServices()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"services": services})
}

func (rt *Router) handleGetService(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	svc, err := rt.store.GetService(name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if svc == nil {
		writeError(w, http.StatusNotFound, "Service '"+name+"' not found")
		return
	}
	ctx, err := rt.store.GetDeepContext(name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ctx)
}

func (rt *Router) handleDiagnose(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	svc, err := rt.store.GetService(name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if svc == nil {
		writeError(w, http.StatusNotFound, "Service '"+name+"' not found")
		return
	}

	trigger := r.URL.Query().Get("trigger")
	if trigger == "" {
		trigger = "Manual diagnosis requested"
	}

	incident, err := rt.investigator.Diagnose(r.Context(), name, trigger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rt.notifier != nil {
		rt.notifier.SendIncident(r.Context(), incident)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"incident_id":   incident.IncidentID,
		"diagnosis":     incident.Diagnosis,
		"actions_taken": incident.ActionsTaken,
		"turns":         incident.Turns,
	})
}

// ---------------------------------------------------------------------------
// Incidents
// ---------------------------------------------------------------------------

func (rt *Router) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	service := r.URL.Query().Get("service")
	limit := queryInt(r, "limit", 20)

	incidents, err := rt.store.GetRecentIncidents(service, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"incidents": incidents})
}

func (rt *Router) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	incident, err := rt.store.GetIncident(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if incident == nil {
		writeError(w, http.StatusNotFound, "Incident not found")
		return
	}
	writeJSON(w, http.StatusOK, incident)
}

// ---------------------------------------------------------------------------
// Docs, events, discovery
// ---------------------------------------------------------------------------

func (rt *Router) handleListDocs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"docs": rt.docs.List()})
}

func (rt *Router) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	events, err := rt.store.GetRecentEvents(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (rt *Router) handleDiscover(w http.ResponseWriter, r *http.Request) {
	if err := rt.discoverer.Run(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	services, err := rt.store.ListServices()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	flags, err := rt.store.GetFlags("")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "complete",
		"services": len(services),
		"flags":    len(flags),
	})
}

// ---------------------------------------------------------------------------
// Webhooks
// ---------------------------------------------------------------------------

type webhookBody struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Service struct {
		Name string `json:"name"`
	} `json:"service"`
	Meta struct {
		ServiceName string `json:"serviceName"`
	} `json:"meta"`
}

// handleWebhook ingests platform deploy events and investigates failures
// for known services.
func (rt *Router) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var body webhookBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "invalid json"})
		return
	}

	serviceName := body.Service.Name
	if serviceName == "" {
		serviceName = body.Meta.ServiceName
	}

	rt.store.LogEvent("webhook", "Railway webhook: "+body.Type+" "+body.Status, serviceName,
		map[string]interface{}{"type": body.Type, "status": body.Status})

	if body.Status == "FAILED" || body.Status == "CRASHED" || body.Status == "ERROR" {
		if serviceName != "" {
			svc, err := rt.store.GetService(serviceName)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			if svc != nil {
				incident, err := rt.investigator.Diagnose(r.Context(), serviceName,
					"Deploy "+body.Type+" with status "+body.Status)
				if err != nil {
					writeError(w, http.StatusInternalServerError, err.Error())
					return
				}
				if rt.notifier != nil {
					rt.notifier.SendIncident(context.WithoutCancel(r.Context()), incident)
				}
				writeJSON(w, http.StatusOK, map[string]string{
					"status":      "diagnosed",
					"incident_id": incident.IncidentID,
				})
				return
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "logged"})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
