// Package notifications fans incident summaries out to configured webhook
// URLs. Delivery is best effort; a failed channel is logged and skipped.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cortex-ops/cortex/internal/knowledge"
)

const sendTimeout = 10 * time.Second

// Notifier posts incident summaries to zero or more channels.
type Notifier struct {
	urls   []string
	client *http.Client
}

// New creates a notifier for the given webhook URLs. An empty list yields a
// no-op notifier.
func New(urls []string) *Notifier {
	return &Notifier{
		urls:   urls,
		client: &http.Client{Timeout: sendTimeout},
	}
}

// payload is the summary body sent to each channel.
type payload struct {
	IncidentID string `json:"incident_id"`
	Service    string `json:"service"`
	Trigger    string `json:"trigger"`
	Severity   string `json:"severity"`
	Diagnosis  string `json:"diagnosis"`
	Actions    []struct {
		Type   string `json:"type"`
		Status string `json:"status"`
	} `json:"actions"`
	Turns    int       `json:"turns"`
	Finished time.Time `json:"finished"`
}

// SendIncident posts an incident summary to every configured channel.
func (n *Notifier) SendIncident(ctx context.Context, incident *knowledge.Incident) {
	if incident == nil || len(n.urls) == 0 {
		return
	}

	body := payload{
		IncidentID: incident.IncidentID,
		Service:    incident.Service,
		Trigger:    incident.Trigger,
		Severity:   "unknown",
		Turns:      incident.Turns,
		Finished:   incident.Finished,
	}
	if incident.Diagnosis != nil {
		body.Severity = incident.Diagnosis.Severity
		body.Diagnosis = incident.Diagnosis.Diagnosis
	}
	for _, a := range incident.ActionsTaken {
		body.Actions = append(body.Actions, struct {
			Type   string `json:"type"`
			Status string `json:"status"`
		}{Type: a.Type, Status: a.Status})
	}

	data, err := json.Marshal(body)
	if err != nil {
		log.Error().Err(err).Msg("Notification payload marshal failed")
		return
	}

	for _, url := range n.urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			log.Warn().Err(err).Str("url", url).Msg("Notification request build failed")
			continue
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			log.Warn().Err(err).Str("url", url).Msg("Notification delivery failed")
			continue
		}
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<10))
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			log.Warn().Int("status", resp.StatusCode).Str("url", url).Msg("Notification channel rejected payload")
			continue
		}
		log.Debug().Str("url", url).Str("incident_id", incident.IncidentID).Msg("Incident notification sent")
	}
}
