// Package health runs the standard gRPC health service over the API's
// dependencies.
package health

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"privacyguard/pkg/logger"
)

// ServiceName is the fully qualified name reported alongside the overall status
const ServiceName = "privacyguard.v1.PrivacyGuard"

// Pinger is a dependency probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker keeps the gRPC health status in sync with dependency probes
type Checker struct {
	server   *health.Server
	checks   map[string]Pinger
	interval time.Duration
	logger   *logger.Logger
}

// NewChecker creates a checker that starts out SERVING
func NewChecker(checks map[string]Pinger, interval time.Duration, log *logger.Logger) *Checker {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	c := &Checker{
		server:   health.NewServer(),
		checks:   checks,
		interval: interval,
		logger:   log.WithComponent("grpc-health"),
	}
	c.set(grpc_health_v1.HealthCheckResponse_SERVING)
	return c
}

// Register registers the health service on grpcServer
func (c *Checker) Register(grpcServer *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(grpcServer, c.server)
}

// Server returns the underlying health server
func (c *Checker) Server() grpc_health_v1.HealthServer {
	return c.server
}

// Run probes dependencies every interval until ctx is done, then marks the
// service NOT_SERVING
func (c *Checker) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			c.server.Shutdown()
			return
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}

// Refresh probes every dependency once and updates the status
func (c *Checker) Refresh(ctx context.Context) bool {
	healthy := true
	for name, p := range c.checks {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := p.Ping(probeCtx)
		cancel()
		if err != nil {
			c.logger.Warn().Err(err).Str("check", name).Msg("dependency unhealthy")
			healthy = false
		}
	}

	if healthy {
		c.set(grpc_health_v1.HealthCheckResponse_SERVING)
	} else {
		c.set(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}
	return healthy
}

func (c *Checker) set(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	c.server.SetServingStatus("", status)
	c.server.SetServingStatus(ServiceName, status)
}
