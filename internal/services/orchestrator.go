package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	ferrors "git.home.luguber.info/inful/satellited/internal/foundation/errors"
)

// ServiceStatus represents the current state of a service.
type ServiceStatus string

const (
	StatusNotStarted ServiceStatus = "not_started"
	StatusStarting   ServiceStatus = "starting"
	StatusRunning    ServiceStatus = "running"
	StatusStopping   ServiceStatus = "stopping"
	StatusStopped    ServiceStatus = "stopped"
	StatusFailed     ServiceStatus = "failed"
)

// ServiceInfo contains metadata about a managed service.
type ServiceInfo struct {
	Name         string        `json:"name"`
	Status       ServiceStatus `json:"status"`
	Health       HealthStatus  `json:"health"`
	Dependencies []string      `json:"dependencies"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	StoppedAt    *time.Time    `json:"stopped_at,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
}

// ServiceOrchestrator manages the lifecycle of multiple services with dependency resolution.
type ServiceOrchestrator struct {
	services   map[string]ManagedService
	status     map[string]ServiceStatus
	startedAt  map[string]time.Time
	stoppedAt  map[string]time.Time
	lastErrors map[string]error
	mu         sync.RWMutex

	startTimeout time.Duration
	stopTimeout  time.Duration
	logger       *slog.Logger
}

// NewServiceOrchestrator creates a new service orchestrator.
func NewServiceOrchestrator(logger *slog.Logger) *ServiceOrchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ServiceOrchestrator{
		services:     make(map[string]ManagedService),
		status:       make(map[string]ServiceStatus),
		startedAt:    make(map[string]time.Time),
		stoppedAt:    make(map[string]time.Time),
		lastErrors:   make(map[string]error),
		startTimeout: 30 * time.Second,
		stopTimeout:  10 * time.Second,
		logger:       logger,
	}
}

// WithTimeouts configures start and stop timeouts.
func (so *ServiceOrchestrator) WithTimeouts(start, stop time.Duration) *ServiceOrchestrator {
	so.startTimeout = start
	so.stopTimeout = stop
	return so
}

// RegisterService adds a service to the orchestrator.
func (so *ServiceOrchestrator) RegisterService(service ManagedService) error {
	so.mu.Lock()
	defer so.mu.Unlock()

	name := service.Name()
	if name == "" {
		return ferrors.InvalidArgumentError("service name cannot be empty").Build()
	}
	if _, exists := so.services[name]; exists {
		return ferrors.InvalidArgumentError(fmt.Sprintf("service %s already registered", name)).Build()
	}

	so.services[name] = service
	so.status[name] = StatusNotStarted

	so.logger.Debug("Service registered", "service", name, "dependencies", service.Dependencies())
	return nil
}

// StartAll starts all services in dependency order. On failure the services
// already started are stopped again.
func (so *ServiceOrchestrator) StartAll(ctx context.Context) error {
	so.mu.Lock()
	defer so.mu.Unlock()

	startOrder, err := so.calculateStartOrder()
	if err != nil {
		return ferrors.InternalError("failed to calculate service start order").
			WithCause(err).
			Build()
	}

	so.logger.Info("Starting services", "count", len(startOrder), "order", startOrder)

	for _, serviceName := range startOrder {
		if err := so.startService(ctx, serviceName); err != nil {
			so.stopStartedServices(ctx, startOrder)
			return err
		}
	}

	so.logger.Info("All services started")
	return nil
}

// StopAll stops all services in reverse dependency order.
func (so *ServiceOrchestrator) StopAll(ctx context.Context) error {
	so.mu.Lock()
	defer so.mu.Unlock()

	startOrder, err := so.calculateStartOrder()
	if err != nil {
		return ferrors.InternalError("failed to calculate service stop order").
			WithCause(err).
			Build()
	}
	stopOrder := slices.Clone(startOrder)
	slices.Reverse(stopOrder)

	so.logger.Info("Stopping services", "count", len(stopOrder), "order", stopOrder)

	var lastError error
	for _, serviceName := range stopOrder {
		if err := so.stopService(ctx, serviceName); err != nil {
			lastError = err
			so.logger.Error("Error stopping service", "service", serviceName, "error", err)
		}
	}

	if lastError != nil {
		return ferrors.InternalError("some services failed to stop gracefully").
			WithCause(lastError).
			Build()
	}

	so.logger.Info("All services stopped")
	return nil
}

// GetServiceInfo returns information about a specific service.
func (so *ServiceOrchestrator) GetServiceInfo(name string) (ServiceInfo, bool) {
	so.mu.RLock()
	defer so.mu.RUnlock()
	return so.infoLocked(name)
}

// GetAllServiceInfo returns information about all services, sorted by name.
func (so *ServiceOrchestrator) GetAllServiceInfo() []ServiceInfo {
	so.mu.RLock()
	defer so.mu.RUnlock()

	names := make([]string, 0, len(so.services))
	for name := range so.services {
		names = append(names, name)
	}
	slices.Sort(names)

	infos := make([]ServiceInfo, 0, len(names))
	for _, name := range names {
		if info, ok := so.infoLocked(name); ok {
			infos = append(infos, info)
		}
	}
	return infos
}

// Healthy reports whether every registered service is running and healthy.
func (so *ServiceOrchestrator) Healthy() bool {
	for _, info := range so.GetAllServiceInfo() {
		if info.Status != StatusRunning || info.Health.Status != "healthy" {
			return false
		}
	}
	return true
}

func (so *ServiceOrchestrator) infoLocked(name string) (ServiceInfo, bool) {
	service, exists := so.services[name]
	if !exists {
		return ServiceInfo{}, false
	}

	info := ServiceInfo{
		Name:         name,
		Status:       so.status[name],
		Dependencies: service.Dependencies(),
		Health:       service.Health(),
	}
	if startTime, ok := so.startedAt[name]; ok {
		info.StartedAt = &startTime
	}
	if stopTime, ok := so.stoppedAt[name]; ok {
		info.StoppedAt = &stopTime
	}
	if err := so.lastErrors[name]; err != nil {
		info.LastError = err.Error()
	}
	return info, true
}

// calculateStartOrder determines the order in which services should be started.
func (so *ServiceOrchestrator) calculateStartOrder() ([]string, error) {
	visited := make(map[string]bool)
	visiting := make(map[string]bool)
	var order []string

	var visit func(string) error
	visit = func(name string) error {
		if visiting[name] {
			return fmt.Errorf("circular dependency detected involving service: %s", name)
		}
		if visited[name] {
			return nil
		}
		visiting[name] = true

		service, exists := so.services[name]
		if !exists {
			return fmt.Errorf("service not found: %s", name)
		}
		for _, dep := range service.Dependencies() {
			if err := visit(dep); err != nil {
				return err
			}
		}

		visiting[name] = false
		visited[name] = true
		order = append(order, name)
		return nil
	}

	// Sorted roots keep the order stable between runs.
	names := make([]string, 0, len(so.services))
	for name := range so.services {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// startService starts a single service with timeout.
func (so *ServiceOrchestrator) startService(ctx context.Context, name string) error {
	service := so.services[name]
	so.status[name] = StatusStarting

	timeoutCtx, cancel := context.WithTimeout(ctx, so.startTimeout)
	defer cancel()

	so.logger.Debug("Starting service", "service", name)
	startTime := time.Now()

	if err := service.Start(timeoutCtx); err != nil {
		so.status[name] = StatusFailed
		so.lastErrors[name] = err
		return ferrors.WrapError(err, ferrors.CategoryRuntime, fmt.Sprintf("failed to start service %s", name)).
			Fatal().
			Build()
	}

	so.status[name] = StatusRunning
	so.startedAt[name] = startTime
	so.lastErrors[name] = nil

	so.logger.Info("Service started", "service", name, "duration", time.Since(startTime))
	return nil
}

// stopService stops a single service with timeout.
func (so *ServiceOrchestrator) stopService(ctx context.Context, name string) error {
	service := so.services[name]
	if so.status[name] != StatusRunning {
		return nil
	}
	so.status[name] = StatusStopping

	timeoutCtx, cancel := context.WithTimeout(ctx, so.stopTimeout)
	defer cancel()

	so.logger.Debug("Stopping service", "service", name)
	stopTime := time.Now()

	if err := service.Stop(timeoutCtx); err != nil {
		so.status[name] = StatusFailed
		so.lastErrors[name] = err
		return err
	}

	so.status[name] = StatusStopped
	so.stoppedAt[name] = stopTime

	so.logger.Info("Service stopped", "service", name, "duration", time.Since(stopTime))
	return nil
}

// stopStartedServices stops the running services in reverse start order.
func (so *ServiceOrchestrator) stopStartedServices(ctx context.Context, startOrder []string) {
	for _, name := range slices.Backward(startOrder) {
		if so.status[name] != StatusRunning {
			continue
		}
		if err := so.stopService(ctx, name); err != nil {
			so.logger.Error("Error stopping service during cleanup", "service", name, "error", err)
		}
	}
}
