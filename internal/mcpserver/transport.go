// Package mcpserver exposes standardize_exam and process_batch as MCP tools
// over the modelcontextprotocol/go-sdk, alongside the HTTP surface in
// internal/api.
package mcpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Transport is the minimal duplex message channel the bridge adapts to
// mcp.Transport/mcp.Connection. Only stdio is implemented; an HTTP/SSE
// transport would plug in here the same way.
type Transport interface {
	Start(ctx context.Context) error
	ReadMessage() ([]byte, error)
	WriteMessage(message []byte) error
	Close() error
	IsClosed() bool
	GetType() string
}

// StdioTransport carries newline-delimited JSON-RPC messages over stdin/stdout.
type StdioTransport struct {
	logger   *logrus.Logger
	reader   *bufio.Scanner
	writer   io.Writer
	mu       sync.RWMutex
	closed   bool
	cancelFn context.CancelFunc
}

// NewStdioTransport builds a StdioTransport bound to the process's stdin/stdout.
func NewStdioTransport(logger *logrus.Logger) *StdioTransport {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	return &StdioTransport{
		logger: logger,
		reader: scanner,
		writer: os.Stdout,
	}
}

func (s *StdioTransport) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("transport is closed")
	}
	_, cancel := context.WithCancel(ctx)
	s.cancelFn = cancel
	s.logger.Info("starting stdio transport for MCP communication")
	return nil
}

func (s *StdioTransport) ReadMessage() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("transport is closed")
	}
	if !s.reader.Scan() {
		if err := s.reader.Err(); err != nil {
			return nil, fmt.Errorf("failed to read message: %w", err)
		}
		return nil, io.EOF
	}
	message := s.reader.Bytes()
	s.logger.WithField("message_length", len(message)).Debug("received message via stdio")
	return message, nil
}

func (s *StdioTransport) WriteMessage(message []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("transport is closed")
	}
	if _, err := s.writer.Write(message); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if _, err := s.writer.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	return nil
}

func (s *StdioTransport) WriteJSONMessage(obj interface{}) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return s.WriteMessage(data)
}

func (s *StdioTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cancelFn != nil {
		s.cancelFn()
	}
	s.logger.Info("stdio transport closed")
	return nil
}

func (s *StdioTransport) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *StdioTransport) GetType() string { return "stdio" }
