package withdrawald

import (
	"context"
	"errors"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the gRPC health service name reported by withdrawald.
const HealthService = "creditchain.withdrawald"

// HealthReporter publishes driver liveness through the standard gRPC health
// protocol. A nil reporter ignores updates.
type HealthReporter struct {
	server *health.Server
}

// NewHealthReporter starts in NOT_SERVING until the driver is ready.
func NewHealthReporter() *HealthReporter {
	server := health.NewServer()
	server.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	server.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthReporter{server: server}
}

// SetServing toggles the reported status.
func (h *HealthReporter) SetServing(serving bool) {
	if h == nil || h.server == nil {
		return
	}
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus(HealthService, status)
	h.server.SetServingStatus("", status)
}

// Serving reports the current status.
func (h *HealthReporter) Serving() bool {
	if h == nil || h.server == nil {
		return false
	}
	resp, err := h.server.Check(context.Background(), &healthpb.HealthCheckRequest{Service: HealthService})
	if err != nil {
		return false
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

// NewGRPCServer builds an instrumented gRPC server exposing the health service.
func (h *HealthReporter) NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	options := append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(otelgrpc.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(otelgrpc.StreamServerInterceptor()),
	}, opts...)
	server := grpc.NewServer(options...)
	healthpb.RegisterHealthServer(server, h.server)
	return server
}

// ServeGRPC serves the health endpoint on addr until ctx ends.
func (h *HealthReporter) ServeGRPC(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	server := h.NewGRPCServer()
	go func() {
		<-ctx.Done()
		h.server.Shutdown()
		server.GracefulStop()
	}()
	if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}
