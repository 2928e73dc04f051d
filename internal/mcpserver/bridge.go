package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
)

// transportBridge adapts a Transport into the SDK's mcp.Transport, so the
// SDK's server loop drives our own stdio implementation instead of one of
// its built-ins.
type transportBridge struct {
	transport Transport
	logger    *logrus.Logger
}

func newTransportBridge(t Transport, logger *logrus.Logger) mcp.Transport {
	return &transportBridge{transport: t, logger: logger}
}

func (b *transportBridge) Connect(ctx context.Context) (mcp.Connection, error) {
	if err := b.transport.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start transport: %w", err)
	}
	return &connectionBridge{transport: b.transport, logger: b.logger}, nil
}

type connectionBridge struct {
	transport Transport
	logger    *logrus.Logger
}

func (c *connectionBridge) Read(ctx context.Context) (jsonrpc.Message, error) {
	data, err := c.transport.ReadMessage()
	if err != nil {
		if err == io.EOF {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read from transport: %w", err)
	}
	if len(data) == 0 {
		return nil, io.EOF
	}
	msg, err := parseJSONRPCMessage(data)
	if err != nil {
		c.logger.WithError(err).Error("failed to parse JSON-RPC message")
		return nil, fmt.Errorf("failed to parse JSON-RPC message: %w", err)
	}
	return msg, nil
}

func (c *connectionBridge) Write(ctx context.Context, msg jsonrpc.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON-RPC message: %w", err)
	}
	return c.transport.WriteMessage(data)
}

func (c *connectionBridge) Close() error {
	return c.transport.Close()
}

func (c *connectionBridge) SessionID() string {
	return "exam-standardizer-session"
}

func parseJSONRPCMessage(raw json.RawMessage) (jsonrpc.Message, error) {
	var base struct {
		Method string          `json:"method,omitempty"`
		ID     json.RawMessage `json:"id,omitempty"`
	}
	if err := json.Unmarshal(raw, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON-RPC message: %w", err)
	}

	if base.Method != "" {
		var req jsonrpc.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("invalid JSON-RPC request: %w", err)
		}
		return &req, nil
	}

	var resp jsonrpc.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON-RPC response: %w", err)
	}
	return &resp, nil
}
