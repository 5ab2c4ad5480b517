package lifecycle

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Component is a long-lived service with explicit startup and shutdown.
// Start must not return before the component is ready to serve.
type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Runtime starts components in registration order and stops them in reverse.
type Runtime struct {
	components []Component
	started    []Component
}

func NewRuntime(components ...Component) *Runtime {
	return &Runtime{components: components}
}

func (r *Runtime) Register(component Component) {
	if component == nil {
		return
	}
	r.components = append(r.components, component)
}

func (r *Runtime) Start(ctx context.Context) error {
	r.started = make([]Component, 0, len(r.components))
	for _, component := range r.components {
		if component == nil {
			continue
		}
		if err := component.Start(ctx); err != nil {
			log.WithError(err).Error("component start failed, rolling back")
			_ = stopComponents(ctx, r.started)
			r.started = nil
			return fmt.Errorf("start component: %w", err)
		}
		r.started = append(r.started, component)
	}
	return nil
}

// Stop shuts down only the components that actually started.
func (r *Runtime) Stop(ctx context.Context) error {
	err := stopComponents(ctx, r.started)
	r.started = nil
	return err
}

func stopComponents(ctx context.Context, components []Component) error {
	var stopErr error
	for i := len(components) - 1; i >= 0; i-- {
		component := components[i]
		if component == nil {
			continue
		}
		if err := component.Stop(ctx); err != nil {
			stopErr = errors.Join(stopErr, fmt.Errorf("stop component: %w", err))
		}
	}
	return stopErr
}
