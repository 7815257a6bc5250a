package aicore

import "time"

// StatusRunning is the only Deployment status eligible for binding (spec §3).
const StatusRunning = "RUNNING"

// Deployment is a running (or not) model instance within AI Core.
type Deployment struct {
	ID                string
	Status            string
	ConfigurationName string
	ModelName         string
	ModelVersion      string
	DeploymentURL     string
	StartTime         time.Time
}
