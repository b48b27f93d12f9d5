// Package platform wraps the Railway GraphQL API. Every call follows the
// same failure contract: transport or API errors are logged and an empty or
// zero value is returned, never an error. The investigation loop treats the
// empty value as missing data.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cortex-ops/cortex/internal/knowledge"
)

const (
	defaultAPIURL  = "https://backboard.railway.app/graphql/v2"
	requestTimeout = 30 * time.Second
	healthTimeout  = 10 * time.Second
	logTailLimit   = 500
)

// ServiceLookup resolves a service name to its stored platform identifiers.
type ServiceLookup interface {
	GetService(name string) (*knowledge.Service, error)
}

// Client talks to the Railway API using a bearer token.
type Client struct {
	token   string
	baseURL string
	lookup  ServiceLookup
	http    *http.Client
	health  *http.Client
}

// New creates a Railway client.
func New(token string, lookup ServiceLookup) *Client {
	return NewWithBaseURL(token, defaultAPIURL, lookup)
}

// NewWithBaseURL creates a client against a custom endpoint, used by tests.
func NewWithBaseURL(token, baseURL string, lookup ServiceLookup) *Client {
	if baseURL == "" {
		baseURL = defaultAPIURL
	}
	return &Client{
		token:   token,
		baseURL: baseURL,
		lookup:  lookup,
		http:    &http.Client{Timeout: requestTimeout},
		health:  &http.Client{Timeout: healthTimeout},
	}
}

// RawService is one service record as returned by the platform inventory
// query, flattened from the first service instance.
type RawService struct {
	ID              string
	Name            string
	Repo            string
	Branch          string
	Domains         []string
	StartCommand    string
	BuildCommand    string
	HealthcheckPath string
	NumReplicas     int
}

// gql posts one GraphQL operation and returns the data payload, or nil when
// anything went wrong.
func (c *Client) gql(ctx context.Context, query string, variables map[string]interface{}) json.RawMessage {
	payload := map[string]interface{}{"query": query}
	if len(variables) > 0 {
		payload["variables"] = variables
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Railway request marshal failed")
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Msg("Railway request build failed")
		return nil
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("Railway request failed")
		return nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		log.Warn().Err(err).Msg("Railway response read failed")
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Str("body", truncate(string(raw), 500)).Msg("Railway API error status")
		return nil
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		log.Warn().Err(err).Msg("Railway response decode failed")
		return nil
	}
	if len(envelope.Errors) > 0 {
		for _, e := range envelope.Errors {
			log.Warn().Str("error", e.Message).Msg("Railway API error")
		}
		return nil
	}
	return envelope.Data
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// GetServices lists all services in a project with their instance details.
func (c *Client) GetServices(ctx context.Context, projectID string) []RawService {
	if c.token == "" {
		log.Warn().Msg("RAILWAY_TOKEN not set, cannot fetch services")
		return nil
	}
	if strings.TrimSpace(projectID) == "" {
		log.Warn().Msg("Railway project id is empty, cannot fetch services")
		return nil
	}

	data := c.gql(ctx, `
		query($projectId: String!) {
			project(id: $projectId) {
				services {
					edges {
						node {
							id
							name
							serviceInstances {
								edges {
									node {
										source { repo branch }
										domains {
											serviceDomains { domain }
											customDomains { domain }
										}
										startCommand
										buildCommand
										healthcheckPath
										numReplicas
									}
								}
							}
						}
					}
				}
			}
		}`, map[string]interface{}{"projectId": projectID})
	if data == nil {
		return nil
	}

	var parsed struct {
		Project struct {
			Services struct {
				Edges []struct {
					Node struct {
						ID               string `json:"id"`
						Name             string `json:"name"`
						ServiceInstances struct {
							Edges []struct {
								Node struct {
									Source *struct {
										Repo   string `json:"repo"`
										Branch string `json:"branch"`
									} `json:"source"`
									Domains struct {
										ServiceDomains []struct {
											Domain string `json:"domain"`
										} `json:"serviceDomains"`
										CustomDomains []struct {
											Domain string `json:"domain"`
										} `json:"customDomains"`
									} `json:"domains"`
									StartCommand    string `json:"startCommand"`
									BuildCommand    string `json:"buildCommand"`
									HealthcheckPath string `json:"healthcheckPath"`
									NumReplicas     int    `json:"numReplicas"`
								} `json:"node"`
							} `json:"edges"`
						} `json:"serviceInstances"`
					} `json:"node"`
				} `json:"edges"`
			} `json:"services"`
		} `json:"project"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		log.Warn().Err(err).Msg("Railway services decode failed")
		return nil
	}

	var out []RawService
	for _, edge := range parsed.Project.Services.Edges {
		node := edge.Node
		raw := RawService{ID: node.ID, Name: node.Name}
		if len(node.ServiceInstances.Edges) > 0 {
			inst := node.ServiceInstances.Edges[0].Node
			if inst.Source != nil {
				raw.Repo = inst.Source.Repo
				raw.Branch = inst.Source.Branch
			}
			// Custom domains are preferred for health URLs; list them first.
			for _, d := range inst.Domains.CustomDomains {
				raw.Domains = append(raw.Domains, d.Domain)
			}
			for _, d := range inst.Domains.ServiceDomains {
				raw.Domains = append(raw.Domains, d.Domain)
			}
			raw.StartCommand = inst.StartCommand
			raw.BuildCommand = inst.BuildCommand
			raw.HealthcheckPath = inst.HealthcheckPath
			raw.NumReplicas = inst.NumReplicas
		}
		out = append(out, raw)
	}
	return out
}

// GetVariables returns all environment variables for a service instance.
func (c *Client) GetVariables(ctx context.Context, serviceID, environmentID string) map[string]string {
	data := c.gql(ctx, `
		query($serviceId: String!, $environmentId: String!) {
			variables(serviceId: $serviceId, environmentId: $environmentId)
		}`, map[string]interface{}{"serviceId": serviceID, "environmentId": environmentID})
	if data == nil {
		return nil
	}

	var parsed struct {
		Variables map[string]interface{} `json:"variables"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		log.Warn().Err(err).Msg("Railway variables decode failed")
		return nil
	}

	out := make(map[string]string, len(parsed.Variables))
	for k, v := range parsed.Variables {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

// GetRecentDeploys returns recent deployments for a service, newest first.
func (c *Client) GetRecentDeploys(ctx context.Context, serviceID, environmentID string, limit int) []knowledge.Deploy {
	if limit <= 0 {
		limit = 10
	}
	data := c.gql(ctx, `
		query($serviceId: String!, $environmentId: String!, $limit: Int!) {
			deployments(
				input: { serviceId: $serviceId, environmentId: $environmentId }
				first: $limit
			) {
				edges {
					node {
						id
						status
						createdAt
						meta
					}
				}
			}
		}`, map[string]interface{}{"serviceId": serviceID, "environmentId": environmentID, "limit": limit})
	if data == nil {
		return nil
	}

	var parsed struct {
		Deployments struct {
			Edges []struct {
				Node struct {
					ID        string          `json:"id"`
					Status    string          `json:"status"`
					CreatedAt string          `json:"createdAt"`
					Meta      json.RawMessage `json:"meta"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"deployments"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		log.Warn().Err(err).Msg("Railway deploys decode failed")
		return nil
	}

	var out []knowledge.Deploy
	for _, edge := range parsed.Deployments.Edges {
		out = append(out, knowledge.Deploy{
			ID:        edge.Node.ID,
			Status:    edge.Node.Status,
			CreatedAt: edge.Node.CreatedAt,
			Meta:      edge.Node.Meta,
		})
	}
	return out
}

// GetServiceLogs returns the latest deployment's log tail for a service.
func (c *Client) GetServiceLogs(ctx context.Context, serviceName string) string {
	svc := c.resolve(serviceName)
	if svc == nil {
		return ""
	}

	deploys := c.GetRecentDeploys(ctx, svc.ServiceID, svc.EnvironmentID, 1)
	if len(deploys) == 0 {
		return ""
	}

	data := c.gql(ctx, `
		query($deploymentId: String!, $limit: Int!) {
			deploymentLogs(deploymentId: $deploymentId, limit: $limit) {
				message
				timestamp
				severity
			}
		}`, map[string]interface{}{"deploymentId": deploys[0].ID, "limit": logTailLimit})
	if data == nil {
		return ""
	}

	var parsed struct {
		DeploymentLogs []struct {
			Message  string `json:"message"`
			Severity string `json:"severity"`
		} `json:"deploymentLogs"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		log.Warn().Err(err).Msg("Railway logs decode failed")
		return ""
	}

	var b strings.Builder
	for i, line := range parsed.DeploymentLogs {
		if i > 0 {
			b.WriteByte('\n')
		}
		severity := line.Severity
		if severity == "" {
			severity = "INFO"
		}
		fmt.Fprintf(&b, "[%s] %s", severity, line.Message)
	}
	return b.String()
}

// CheckHealth pings a service's health URL. A service without a health URL
// is considered healthy; any response below 500 counts as healthy.
func (c *Client) CheckHealth(ctx context.Context, serviceName string) bool {
	svc := c.resolve(serviceName)
	if svc == nil {
		return false
	}
	if svc.HealthURL == "" {
		return true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, svc.HealthURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.health.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<10))
	return resp.StatusCode < 500
}

// Restart triggers a redeploy of the service's current instance.
func (c *Client) Restart(ctx context.Context, serviceName string) bool {
	svc := c.resolve(serviceName)
	if svc == nil {
		return false
	}
	data := c.gql(ctx, `
		mutation($serviceId: String!, $environmentId: String!) {
			serviceInstanceRedeploy(serviceId: $serviceId, environmentId: $environmentId)
		}`, map[string]interface{}{"serviceId": svc.ServiceID, "environmentId": svc.EnvironmentID})
	return data != nil
}

// SetVariable upserts one environment variable on a service.
func (c *Client) SetVariable(ctx context.Context, serviceName, key, value string) bool {
	svc := c.resolve(serviceName)
	if svc == nil {
		return false
	}
	data := c.gql(ctx, `
		mutation($input: VariableCollectionUpsertInput!) {
			variableCollectionUpsert(input: $input)
		}`, map[string]interface{}{
		"input": map[string]interface{}{
			"serviceId":     svc.ServiceID,
			"environmentId": svc.EnvironmentID,
			"variables":     map[string]string{key: value},
		},
	})
	return data != nil
}

// Rollback redeploys the most recent successful deployment that is not the
// current one.
func (c *Client) Rollback(ctx context.Context, serviceName string) bool {
	svc := c.resolve(serviceName)
	if svc == nil {
		return false
	}

	deploys := c.GetRecentDeploys(ctx, svc.ServiceID, svc.EnvironmentID, 5)
	for i, deploy := range deploys {
		if i == 0 {
			continue // current deploy
		}
		if strings.EqualFold(deploy.Status, "SUCCESS") {
			data := c.gql(ctx, `
				mutation($deploymentId: String!) {
					deploymentRollback(id: $deploymentId)
				}`, map[string]interface{}{"deploymentId": deploy.ID})
			return data != nil
		}
	}
	return false
}

// GetVariablesByName is a convenience wrapper resolving the service name
// before fetching variables.
func (c *Client) GetVariablesByName(ctx context.Context, serviceName string) map[string]string {
	svc := c.resolve(serviceName)
	if svc == nil {
		return nil
	}
	return c.GetVariables(ctx, svc.ServiceID, svc.EnvironmentID)
}

func (c *Client) resolve(serviceName string) *knowledge.Service {
	svc, err := c.lookup.GetService(serviceName)
	if err != nil {
		log.Warn().Err(err).Str("service", serviceName).Msg("Service lookup failed")
		return nil
	}
	if svc == nil {
		log.Debug().Str("service", serviceName).Msg("Unknown service")
		return nil
	}
	return svc
}
