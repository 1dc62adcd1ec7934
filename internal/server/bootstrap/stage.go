package bootstrap

import (
	"fmt"
	"sort"
	"sync"

	"imgrelay/internal/observability"
)

// BootstrapStage represents a single initialization step during startup.
type BootstrapStage struct {
	Name     string       // Human-readable stage name (e.g., "telegram", "relay")
	Required bool         // If true, failure aborts startup; otherwise recorded as degraded
	Init     func() error // Initialization function
}

// DegradedComponents tracks components that failed optional initialization
// but did not prevent startup.
type DegradedComponents struct {
	mu         sync.RWMutex
	components map[string]string // component name → error description
}

// NewDegradedComponents creates a new degraded component tracker.
func NewDegradedComponents() *DegradedComponents {
	return &DegradedComponents{
		components: make(map[string]string),
	}
}

// Record marks a component as degraded with an error description.
func (d *DegradedComponents) Record(name, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.components[name] = reason
}

// Map returns a snapshot of all degraded components.
func (d *DegradedComponents) Map() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string, len(d.components))
	for k, v := range d.components {
		out[k] = v
	}
	return out
}

// Names returns the degraded component names in sorted order.
func (d *DegradedComponents) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.components))
	for name := range d.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsEmpty reports whether any components are degraded.
func (d *DegradedComponents) IsEmpty() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.components) == 0
}

// RunStages executes stages in order. Required stages abort on error;
// optional stages are recorded as degraded and execution continues.
func RunStages(stages []BootstrapStage, degraded *DegradedComponents, logger *observability.Logger) error {
	logger = observability.OrNop(logger)
	for _, stage := range stages {
		logger.Debug("running bootstrap stage", "stage", stage.Name, "required", stage.Required)
		if err := stage.Init(); err != nil {
			if stage.Required {
				return fmt.Errorf("required stage %q failed: %w", stage.Name, err)
			}
			logger.Warn("optional stage failed, continuing in degraded mode", "stage", stage.Name, "error", err)
			if degraded != nil {
				degraded.Record(stage.Name, err.Error())
			}
		}
	}
	return nil
}
