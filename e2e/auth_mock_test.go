//go:build e2e
// +build e2e

package e2e

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"

	authpb "github.com/vibast-solutions/ms-go-auth/app/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	defaultGatewayCallerAPIKey   = "gateway-caller-key"
	defaultGatewayNoAccessAPIKey = "gateway-no-access-key"
	defaultGatewayAppAPIKey      = "gateway-app-api-key"
	gatewayAuthMockAddr          = "0.0.0.0:38084"
)

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func gatewayCallerAPIKey() string {
	return envOrDefault("GATEWAY_CALLER_API_KEY", defaultGatewayCallerAPIKey)
}

func gatewayNoAccessAPIKey() string {
	return envOrDefault("GATEWAY_NO_ACCESS_API_KEY", defaultGatewayNoAccessAPIKey)
}

func gatewayAppAPIKey() string {
	return envOrDefault("GATEWAY_APP_API_KEY", defaultGatewayAppAPIKey)
}

// gatewayServiceName must match APP_SERVICE_NAME of the server under test.
func gatewayServiceName() string {
	return envOrDefault("GATEWAY_SERVICE_NAME", "payment-gateway-service")
}

type gatewayAuthGRPCServer struct {
	authpb.UnimplementedAuthServiceServer
}

func (s *gatewayAuthGRPCServer) ValidateInternalAccess(ctx context.Context, req *authpb.ValidateInternalAccessRequest) (*authpb.ValidateInternalAccessResponse, error) {
	if incomingAPIKey(ctx) != gatewayAppAPIKey() {
		return nil, status.Error(codes.Unauthenticated, "unauthorized caller")
	}

	apiKey := strings.TrimSpace(req.GetApiKey())
	switch apiKey {
	case gatewayCallerAPIKey():
		return &authpb.ValidateInternalAccessResponse{
			ServiceName:   "checkout-service",
			AllowedAccess: []string{gatewayServiceName(), "subscriptions-service", "notifications-service"},
		}, nil
	case gatewayNoAccessAPIKey():
		return &authpb.ValidateInternalAccessResponse{
			ServiceName:   "checkout-service",
			AllowedAccess: []string{"subscriptions-service"},
		}, nil
	default:
		return nil, status.Error(codes.Unauthenticated, "invalid api key")
	}
}

func incomingAPIKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get("x-api-key")
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func TestMain(m *testing.M) {
	listener, err := net.Listen("tcp", gatewayAuthMockAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start gateway auth grpc mock: %v\n", err)
		os.Exit(1)
	}

	grpcServer := grpc.NewServer()
	authpb.RegisterAuthServiceServer(grpcServer, &gatewayAuthGRPCServer{})

	go func() {
		_ = grpcServer.Serve(listener)
	}()

	exitCode := m.Run()

	grpcServer.GracefulStop()
	_ = listener.Close()

	os.Exit(exitCode)
}
