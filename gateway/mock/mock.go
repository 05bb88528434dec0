// Package mock provides an in-memory Gateway implementation for tests
// and the demo entry point: canned responses returned without touching
// the network.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/plm/payment-orchestrator/gateway"
)

// Script lets a test queue up the exact sequence of outcomes a call
// should return, so scenarios like "TIMEOUT twice then success" are
// expressible without timing games.
type Script struct {
	Initiate     []error
	Authenticate []error
	Process      []gateway.ProcessResponse
	ProcessErr   []error
	Health       error
}

// Gateway is an in-memory, scriptable Gateway.
type Gateway struct {
	mu     sync.Mutex
	name   string
	script Script
	calls  map[string]int
	txns   map[string]gateway.StatusResponse
}

// New constructs a mock Gateway named name, replaying script in order
// for each method; once the script is exhausted, calls succeed.
func New(name string, script Script) *Gateway {
	return &Gateway{name: name, script: script, calls: make(map[string]int), txns: make(map[string]gateway.StatusResponse)}
}

func (g *Gateway) Name() string { return g.name }

func (g *Gateway) next(kind string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.calls[kind]
	g.calls[kind]++
	return i
}

func (g *Gateway) Initiate(ctx context.Context, req gateway.InitiateRequest) (gateway.InitiateResponse, error) {
	i := g.next("initiate")
	if i < len(g.script.Initiate) && g.script.Initiate[i] != nil {
		return gateway.InitiateResponse{}, g.script.Initiate[i]
	}
	txID := "gtx_" + uuid.NewString()
	g.mu.Lock()
	g.txns[txID] = gateway.StatusResponse{Status: "processing", GatewayTransactionID: txID}
	g.mu.Unlock()
	return gateway.InitiateResponse{GatewayTransactionID: txID}, nil
}

func (g *Gateway) Authenticate(ctx context.Context, req gateway.AuthenticateRequest) (gateway.AuthenticateResponse, error) {
	i := g.next("authenticate")
	if i < len(g.script.Authenticate) && g.script.Authenticate[i] != nil {
		return gateway.AuthenticateResponse{}, g.script.Authenticate[i]
	}
	return gateway.AuthenticateResponse{Authenticated: true}, nil
}

func (g *Gateway) Process(ctx context.Context, req gateway.ProcessRequest) (gateway.ProcessResponse, error) {
	i := g.next("process")
	if i < len(g.script.ProcessErr) && g.script.ProcessErr[i] != nil {
		return gateway.ProcessResponse{}, g.script.ProcessErr[i]
	}
	resp := gateway.ProcessResponse{Status: "succeeded"}
	if i < len(g.script.Process) {
		resp = g.script.Process[i]
	}
	g.mu.Lock()
	g.txns[req.GatewayTransactionID] = gateway.StatusResponse{
		Status:               resp.Status,
		GatewayTransactionID: req.GatewayTransactionID,
		Reason:               resp.Reason,
	}
	g.mu.Unlock()
	return resp, nil
}

func (g *Gateway) Refund(ctx context.Context, req gateway.RefundRequest) (gateway.RefundResponse, error) {
	return gateway.RefundResponse{RefundID: "re_" + uuid.NewString()}, nil
}

func (g *Gateway) GetStatus(ctx context.Context, gatewayTransactionID string) (gateway.StatusResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	resp, ok := g.txns[gatewayTransactionID]
	if !ok {
		return gateway.StatusResponse{}, fmt.Errorf("unknown transaction %s", gatewayTransactionID)
	}
	return resp, nil
}

func (g *Gateway) HealthCheck(ctx context.Context) (gateway.HealthResponse, error) {
	if g.script.Health != nil {
		return gateway.HealthResponse{}, g.script.Health
	}
	return gateway.HealthResponse{Healthy: true}, nil
}

// CallCount reports how many times kind ("initiate", "authenticate",
// "process") has been invoked, for test assertions like "no duplicate
// gateway transaction id across retries."
func (g *Gateway) CallCount(kind string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[kind]
}
