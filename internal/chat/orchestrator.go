package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lexiqai/device-gateway/internal/observability"
)

// OrchestratorService is the gRPC service answering chat turns
const OrchestratorService = "lexiq.orchestrator.v1.CognitiveOrchestrator"

const chatMethod = "/" + OrchestratorService + "/Chat"

// OrchestratorClient sends chat turns to the Cognitive Orchestrator over gRPC.
// Requests and responses are google.protobuf.Struct messages.
type OrchestratorClient struct {
	target       string
	systemPrompt string
	logger       zerolog.Logger

	mu     sync.RWMutex
	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

// NewOrchestratorClient creates a client for target. The connection is
// established lazily on first use.
func NewOrchestratorClient(target string, tlsEnabled bool, systemPrompt string) (*OrchestratorClient, error) {
	logger := observability.WithComponent("orchestrator")

	var opts []grpc.DialOption
	if tlsEnabled {
		// TODO: load TLS credentials once the orchestrator serves them
		logger.Warn().Msg("TLS enabled but not configured, using insecure connection")
	}
	opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             3 * time.Second,
		PermitWithoutStream: true,
	}))

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator client for %s: %w", target, err)
	}

	logger.Info().Str("target", target).Msg("Orchestrator client created")
	return &OrchestratorClient{
		target:       target,
		systemPrompt: systemPrompt,
		logger:       logger,
		conn:         conn,
		health:       healthpb.NewHealthClient(conn),
	}, nil
}

// Chat implements Client
func (c *OrchestratorClient) Chat(ctx context.Context, req Request) (string, error) {
	history := make([]interface{}, 0, len(req.History))
	for _, m := range req.History {
		history = append(history, map[string]interface{}{"role": m.Role, "content": m.Content})
	}
	in, err := structpb.NewStruct(map[string]interface{}{
		"conversation_id": req.SessionID,
		"device_id":       req.DeviceID,
		"user_id":         req.UserID,
		"text":            req.Text,
		"system_prompt":   c.systemPrompt,
		"history":         history,
	})
	if err != nil {
		return "", fmt.Errorf("orchestrator: build request: %w", err)
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return "", errors.New("orchestrator client is closed")
	}

	out := &structpb.Struct{}
	if err := conn.Invoke(ctx, chatMethod, in, out); err != nil {
		return "", fmt.Errorf("failed to call Chat: %w", err)
	}

	fields := out.GetFields()
	if e := fields["error"].GetStringValue(); e != "" {
		return "", fmt.Errorf("orchestrator error: %s", e)
	}
	return CleanReply(fields["text"].GetStringValue()), nil
}

// HealthCheck checks if the Orchestrator is healthy
func (c *OrchestratorClient) HealthCheck(ctx context.Context) (bool, error) {
	c.mu.RLock()
	health := c.health
	c.mu.RUnlock()
	if health == nil {
		return false, errors.New("orchestrator client is closed")
	}

	resp, err := health.Check(ctx, &healthpb.HealthCheckRequest{Service: OrchestratorService})
	if err != nil {
		return false, fmt.Errorf("health check failed: %w", err)
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// Close closes the gRPC connection
func (c *OrchestratorClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.health = nil
	return err
}
