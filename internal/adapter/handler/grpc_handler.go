package handler

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the name reported to gRPC health checks.
const ServiceName = "ordercore.OrderService"

// Probe checks one dependency.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// checkAll returns the failing probes by name.
func checkAll(ctx context.Context, probes []Probe) map[string]string {
	failed := map[string]string{}
	for _, p := range probes {
		if err := p.Check(ctx); err != nil {
			failed[p.Name] = err.Error()
		}
	}
	return failed
}

// GRPCHealth serves the standard gRPC health service, fed by the same probes
// as /healthz.
type GRPCHealth struct {
	server *health.Server
	probes []Probe
	log    *slog.Logger
}

func NewGRPCHealth(log *slog.Logger, probes ...Probe) *GRPCHealth {
	return &GRPCHealth{server: health.NewServer(), probes: probes, log: log}
}

func (h *GRPCHealth) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Refresh runs every probe once and publishes the result.
func (h *GRPCHealth) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if failed := checkAll(ctx, h.probes); len(failed) > 0 {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		h.log.Warn("dependency check failed", "failed", failed)
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(ServiceName, status)
	return status
}

// Watch refreshes every interval until ctx is done, then reports NOT_SERVING
// so clients drain before the listener closes.
func (h *GRPCHealth) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.refreshWithTimeout(ctx, interval)
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return nil
		case <-ticker.C:
			h.refreshWithTimeout(ctx, interval)
		}
	}
}

func (h *GRPCHealth) refreshWithTimeout(ctx context.Context, d time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	h.Refresh(ctx)
}
