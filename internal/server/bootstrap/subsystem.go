package bootstrap

import (
	"context"
	"fmt"
	"sync"

	"imgrelay/internal/observability"
)

// Subsystem is a long-lived component started after the core wiring and
// stopped on shutdown.
type Subsystem interface {
	Name() string
	Start(ctx context.Context) error
	Stop()
}

type runningSubsystem struct {
	sub    Subsystem
	cancel context.CancelFunc
}

// SubsystemManager starts subsystems and stops them in reverse order.
type SubsystemManager struct {
	logger  *observability.Logger
	mu      sync.Mutex
	running []runningSubsystem
}

// NewSubsystemManager creates an empty manager.
func NewSubsystemManager(logger *observability.Logger) *SubsystemManager {
	return &SubsystemManager{logger: observability.OrNop(logger).With("component", "subsystems")}
}

// Start runs sub with a context derived from ctx that is cancelled when the
// manager stops it. A subsystem that fails to start is not tracked.
func (m *SubsystemManager) Start(ctx context.Context, sub Subsystem) error {
	subCtx, cancel := context.WithCancel(ctx)
	if err := sub.Start(subCtx); err != nil {
		cancel()
		return fmt.Errorf("start %s: %w", sub.Name(), err)
	}
	m.mu.Lock()
	m.running = append(m.running, runningSubsystem{sub: sub, cancel: cancel})
	m.mu.Unlock()
	m.logger.Info("subsystem started", "name", sub.Name())
	return nil
}

// StopAll stops every running subsystem, last started first. Safe to call
// more than once.
func (m *SubsystemManager) StopAll() {
	m.mu.Lock()
	running := m.running
	m.running = nil
	m.mu.Unlock()

	for i := len(running) - 1; i >= 0; i-- {
		r := running[i]
		r.cancel()
		r.sub.Stop()
		m.logger.Info("subsystem stopped", "name", r.sub.Name())
	}
}

// funcSubsystem adapts a start/cleanup pair to the Subsystem interface.
type funcSubsystem struct {
	name    string
	startFn func(ctx context.Context) (func(), error)
	cleanup func()
}

func (f *funcSubsystem) Name() string { return f.name }

func (f *funcSubsystem) Start(ctx context.Context) error {
	cleanup, err := f.startFn(ctx)
	if err != nil {
		return err
	}
	f.cleanup = cleanup
	return nil
}

func (f *funcSubsystem) Stop() {
	if f.cleanup != nil {
		f.cleanup()
	}
}
