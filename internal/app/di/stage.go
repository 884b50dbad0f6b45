package di

import (
	"fmt"
	"sort"
	"sync"

	"conductor/internal/shared/logging"
)

// Stage is one initialization step of the container.
type Stage struct {
	Name     string
	Required bool
	Init     func() error
}

// Degraded tracks optional stages that failed.
type Degraded struct {
	mu         sync.RWMutex
	components map[string]string
}

func newDegraded() *Degraded {
	return &Degraded{components: make(map[string]string)}
}

func (d *Degraded) record(name, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.components[name] = reason
}

// Map returns component name to failure reason.
func (d *Degraded) Map() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string, len(d.components))
	for k, v := range d.components {
		out[k] = v
	}
	return out
}

// Names returns the degraded component names in order.
func (d *Degraded) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.components))
	for k := range d.components {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// runStages executes stages in order. A failing required stage aborts; a
// failing optional stage is recorded and its fallback stays in place.
func runStages(stages []Stage, degraded *Degraded, logger logging.Logger) error {
	for _, stage := range stages {
		logger.Debug("bootstrap stage %s (required=%v)", stage.Name, stage.Required)
		if err := stage.Init(); err != nil {
			if stage.Required {
				return fmt.Errorf("required stage %q failed: %w", stage.Name, err)
			}
			logger.Warn("optional stage %q failed: %v (continuing degraded)", stage.Name, err)
			degraded.record(stage.Name, err.Error())
		}
	}
	return nil
}
