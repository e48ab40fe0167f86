package grpc

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/factory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const defaultProbeTimeout = 3 * time.Second

// Probe checks one dependency the service cannot work without.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthChecker serves grpc.health.v1 for the overall server and the named
// service, flipping both between SERVING and NOT_SERVING from its probes.
type HealthChecker struct {
	server      *health.Server
	serviceName string
	probes      []Probe
	timeout     time.Duration
	logger      logrus.FieldLogger
}

func NewHealthChecker(serviceName string, probes ...Probe) *HealthChecker {
	h := &HealthChecker{
		server:      health.NewServer(),
		serviceName: serviceName,
		probes:      probes,
		timeout:     defaultProbeTimeout,
		logger:      factory.NewModuleLogger("health"),
	}
	h.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

func (h *HealthChecker) Register(server *grpc.Server) {
	healthpb.RegisterHealthServer(server, h.server)
}

// Probe runs every dependency check and publishes the result. It returns the
// first failure so callers can log or count it.
func (h *HealthChecker) Probe(ctx context.Context) error {
	var firstErr error
	for _, probe := range h.probes {
		probeCtx, cancel := context.WithTimeout(ctx, h.timeout)
		err := probe.Check(probeCtx)
		cancel()
		if err != nil {
			h.logger.WithError(err).WithField("dependency", probe.Name).Warn("Health probe failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr != nil {
		h.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		return firstErr
	}
	h.setStatus(healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Shutdown reports NOT_SERVING to every watcher and ignores later probes.
func (h *HealthChecker) Shutdown() {
	h.server.Shutdown()
}

func (h *HealthChecker) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	h.server.SetServingStatus("", status)
	if h.serviceName != "" {
		h.server.SetServingStatus(h.serviceName, status)
	}
}
