package instanceinventory

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	datamodels "github.com/dba-platform/rds-slowquery-monitor/src/data-models"
)

// InstanceSource is the read side of the instance registry.
type InstanceSource interface {
	FindInstances(ctx context.Context) ([]datamodels.Instance, error)
}

// Inventory caches the RDS instance registry for one collection run. The
// registry is read-only from the monitor's point of view; Reload picks up
// out-of-band changes.
type Inventory struct {
	source InstanceSource

	mu        sync.RWMutex
	instances []datamodels.Instance
	loaded    bool
}

func New(source InstanceSource) *Inventory {
	return &Inventory{source: source}
}

// All returns every registered instance, loading the registry on first use.
func (inv *Inventory) All(ctx context.Context) ([]datamodels.Instance, error) {
	inv.mu.RLock()
	if inv.loaded {
		defer inv.mu.RUnlock()
		return inv.instances, nil
	}
	inv.mu.RUnlock()

	return inv.Reload(ctx)
}

// RealtimeTargets returns the instances tagged for realtime slow query
// monitoring.
func (inv *Inventory) RealtimeTargets(ctx context.Context) ([]datamodels.Instance, error) {
	all, err := inv.All(ctx)
	if err != nil {
		return nil, err
	}

	var targets []datamodels.Instance
	for _, instance := range all {
		if instance.RealtimeTarget() {
			targets = append(targets, instance)
		}
	}
	logrus.WithFields(logrus.Fields{
		"registered": len(all),
		"realtime":   len(targets),
	}).Debug("Filtered realtime monitoring targets")
	return targets, nil
}

// Reload refreshes the cache from the registry.
func (inv *Inventory) Reload(ctx context.Context) ([]datamodels.Instance, error) {
	instances, err := inv.source.FindInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("error loading instance registry: %w", err)
	}

	inv.mu.Lock()
	inv.instances = instances
	inv.loaded = true
	inv.mu.Unlock()

	return instances, nil
}
