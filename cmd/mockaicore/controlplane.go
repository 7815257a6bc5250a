package main

import "net/http"

// handleDeployments simulates GET /v2/lm/deployments?status=RUNNING&resourceGroup=...,
// the endpoint internal/aicore.Client.ListDeployments polls. Every configured
// deployment is reported RUNNING; deploymentUrl points back at this same
// process so the gateway's outbound calls land on handleDeploymentDispatch.
func (s *state) handleDeployments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resources := make([]map[string]any, 0, len(s.deployments))
	for _, d := range s.deployments {
		resources = append(resources, map[string]any{
			"id":                d.ID,
			"status":            "RUNNING",
			"configurationName": d.ConfigurationName,
			"deploymentUrl":     s.baseURL + "/v2/inference/deployments/" + d.ID,
			"startTime":         "2026-01-01T00:00:00Z",
			"details": map[string]any{
				"resources": map[string]any{
					"backendDetails": map[string]any{
						"model": map[string]any{
							"name":    d.ModelName,
							"version": "latest",
						},
					},
				},
			},
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"resources": resources})
}

// handleResourceGroups simulates GET /v2/admin/resourceGroups, the endpoint
// internal/aicore.Client.ListResourceGroups requests.
func (s *state) handleResourceGroups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resourceGroups": []map[string]any{
			{"resourceGroupId": "default"},
		},
	})
}
