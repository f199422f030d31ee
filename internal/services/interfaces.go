// Package services routes external actions to the timer engine, alarm
// repeater and menu manager, and runs the daemon's long-lived services in
// dependency order.
package services

import (
	"context"
	"time"
)

// ManagedService defines the interface for services with lifecycle management.
type ManagedService interface {
	// Name returns the service name for logging and identification.
	Name() string

	// Start initializes and starts the service.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the service.
	Stop(ctx context.Context) error

	// Health returns the current health status of the service.
	Health() HealthStatus

	// Dependencies returns the names of services this service depends on.
	Dependencies() []string
}

// HealthStatus represents the health of a managed service.
type HealthStatus struct {
	Status  string    `json:"status"`
	Message string    `json:"message,omitempty"`
	CheckAt time.Time `json:"check_at"`
}

// Healthy returns a healthy status stamped now.
func Healthy() HealthStatus {
	return HealthStatus{Status: "healthy", CheckAt: time.Now()}
}

// Unhealthy returns an unhealthy status with message, stamped now.
func Unhealthy(message string) HealthStatus {
	return HealthStatus{Status: "unhealthy", Message: message, CheckAt: time.Now()}
}

// FuncService adapts plain start/stop functions to ManagedService.
type FuncService struct {
	ServiceName string
	DependsOn   []string
	StartFunc   func(ctx context.Context) error
	StopFunc    func(ctx context.Context) error
	// HealthFunc is optional; without it a started service reports healthy.
	HealthFunc func() HealthStatus
}

func (f *FuncService) Name() string { return f.ServiceName }

func (f *FuncService) Start(ctx context.Context) error {
	if f.StartFunc == nil {
		return nil
	}
	return f.StartFunc(ctx)
}

func (f *FuncService) Stop(ctx context.Context) error {
	if f.StopFunc == nil {
		return nil
	}
	return f.StopFunc(ctx)
}

func (f *FuncService) Health() HealthStatus {
	if f.HealthFunc == nil {
		return Healthy()
	}
	return f.HealthFunc()
}

func (f *FuncService) Dependencies() []string { return f.DependsOn }
