// Package grpchealth implements gateway health checking over the
// standard gRPC health-checking protocol against mTLS-secured,
// out-of-process gateway adapters. It exposes the pre-generated
// grpc_health_v1 service, so no custom protobuf codegen is needed.
package grpchealth

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/plm/payment-orchestrator/gateway"
)

// ServerConfig configures the mTLS health-checking server a gateway
// adapter process runs.
type ServerConfig struct {
	Address          string
	CertFile         string
	KeyFile          string
	CACertFile       string
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultServerConfig returns production-ready defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:          ":50151",
		KeepaliveTime:    30 * time.Second,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewServer builds an mTLS *grpc.Server registered with the standard
// health service, so a gateway adapter process can report liveness
// without any orchestration-core-specific protocol.
func NewServer(cfg ServerConfig) (*grpc.Server, *health.Server, error) {
	creds, err := loadServerTLS(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("load server tls: %w", err)
	}

	srv := grpc.NewServer(
		grpc.Creds(creds),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    cfg.KeepaliveTime,
			Timeout: cfg.KeepaliveTimeout,
		}),
	)
	healthSrv := health.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, healthSrv)
	return srv, healthSrv, nil
}

func loadServerTLS(cfg ServerConfig) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	caCert, err := os.ReadFile(cfg.CACertFile)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}
	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    pool,
	}), nil
}

// ClientConfig configures a health-check client dialing one gateway
// adapter's grpchealth server.
type ClientConfig struct {
	Address    string
	CertFile   string
	KeyFile    string
	CACertFile string
	Timeout    time.Duration
}

// Checker performs gateway.Gateway.HealthCheck calls over gRPC.
type Checker struct {
	cfg  ClientConfig
	conn *grpc.ClientConn
}

// Dial establishes the mTLS connection to a gateway adapter's health
// endpoint. The connection is reused across HealthCheck calls.
func Dial(ctx context.Context, cfg ClientConfig) (*Checker, error) {
	creds, err := loadClientTLS(cfg)
	if err != nil {
		return nil, fmt.Errorf("load client tls: %w", err)
	}
	conn, err := grpc.NewClient(cfg.Address, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Address, err)
	}
	return &Checker{cfg: cfg, conn: conn}, nil
}

func loadClientTLS(cfg ClientConfig) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	caCert, err := os.ReadFile(cfg.CACertFile)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}
	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
	}), nil
}

// HealthCheck implements the health half of gateway.Gateway for
// adapters that delegate liveness to this gRPC protocol instead of an
// adapter-specific call.
func (c *Checker) HealthCheck(ctx context.Context) (gateway.HealthResponse, error) {
	timeout := c.cfg.Timeout
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := grpc_health_v1.NewHealthClient(c.conn)
	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		return gateway.HealthResponse{Healthy: false, Detail: err.Error()}, nil
	}
	healthy := resp.Status == grpc_health_v1.HealthCheckResponse_SERVING
	return gateway.HealthResponse{Healthy: healthy, Detail: resp.Status.String()}, nil
}

// Close releases the underlying gRPC connection.
func (c *Checker) Close() error { return c.conn.Close() }
