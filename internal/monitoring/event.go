// Package monitoring implements the fire-and-forget pipeline event bus:
// topic-routed outcome events published by the services and an aggregator
// consumer persisting per-module metric records.
package monitoring

import (
	"fmt"
	"time"
)

// Exchange and queue names fixed across the pipeline.
const (
	DefaultExchange = "model_monitoring_exchange"
	DefaultQueue    = "logging_queue"
)

// Well-known event types and module names.
const (
	EventCreated  = "created"
	EventComplete = "complete"
	EventDeleted  = "deleted"
	EventUpdated  = "updated"
	EventError    = "error"

	ModuleClaimDetection    = "claim_detection"
	ModuleClaimAnnotation   = "claim_annotation"
	ModuleEvidenceRetrieval = "evidence_retrieval"
)

// Event is the monitoring message envelope.
type Event struct {
	Timestamp  time.Time      `json:"timestamp"`
	EventType  string         `json:"event_type"`
	ModuleName string         `json:"module_name"`
	Data       map[string]any `json:"data"`
}

// RoutingKey builds the topic routing key for an event.
func RoutingKey(eventType, moduleName string) string {
	return fmt.Sprintf("monitoring.%s.%s", eventType, moduleName)
}

// DefaultBindingKeys are the patterns the aggregator subscribes to.
func DefaultBindingKeys() []string {
	return []string{
		RoutingKey(EventComplete, ModuleEvidenceRetrieval),
		RoutingKey(EventCreated, ModuleClaimAnnotation),
	}
}
