package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
)

// maxMessageBytes bounds one request line. Hook payloads carry tool input
// and results, which can be large.
const maxMessageBytes = 16 << 20

// Handler processes IPC requests and returns responses.
// Implementations should be safe for concurrent use. Every method returns a
// response message; failures are reported as *ErrorMessage.
type Handler interface {
	HandleHook(ctx context.Context, msg *HookMessage) Message

	HandlePipelineRun(ctx context.Context, msg *PipelineRunMessage) Message
	HandlePipelineApprove(ctx context.Context, msg *PipelineApproveMessage) Message
	HandlePipelineReject(ctx context.Context, msg *PipelineRejectMessage) Message
	HandlePipelineStatus(ctx context.Context, msg *PipelineStatusMessage) Message
	HandlePipelineCancel(ctx context.Context, msg *PipelineCancelMessage) Message
	HandlePipelineList(ctx context.Context, msg *PipelineListMessage) Message

	HandleWorkflowList(ctx context.Context, msg *WorkflowListMessage) Message
	HandleWorkflowActivate(ctx context.Context, msg *WorkflowActivateMessage) Message
	HandleWorkflowEnd(ctx context.Context, msg *WorkflowEndMessage) Message
	HandleWorkflowTransition(ctx context.Context, msg *WorkflowTransitionMessage) Message
	HandleWorkflowApprove(ctx context.Context, msg *WorkflowApproveMessage) Message
	HandleWorkflowClear(ctx context.Context, msg *WorkflowClearMessage) Message
	HandleSetVariable(ctx context.Context, msg *SetVariableMessage) Message
	HandleGetState(ctx context.Context, msg *GetStateMessage) Message

	HandleReload(ctx context.Context, msg *ReloadMessage) Message
}

// Server listens for IPC messages on a Unix domain socket.
type Server struct {
	socketPath string
	handler    Handler
	logger     *slog.Logger

	listener net.Listener
	wg       sync.WaitGroup

	mu       sync.Mutex
	shutdown bool
	conns    map[net.Conn]struct{}
}

// NewServer creates a new IPC server on socketPath.
func NewServer(socketPath string, handler Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		handler:    handler,
		logger:     logger.With("component", "ipc-server"),
		conns:      make(map[net.Conn]struct{}),
	}
}

// Path returns the path to the Unix socket.
func (s *Server) Path() string {
	return s.socketPath
}

// Start begins listening for connections.
// This method blocks until ctx is cancelled, then shuts the server down.
func (s *Server) Start(ctx context.Context) error {
	if err := s.listen(); err != nil {
		return err
	}
	go s.acceptLoop(ctx)

	<-ctx.Done()
	return s.Shutdown()
}

// StartAsync starts the server in the background and returns immediately.
// Use Shutdown() to stop the server.
func (s *Server) StartAsync(ctx context.Context) error {
	if err := s.listen(); err != nil {
		return err
	}
	go s.acceptLoop(ctx)
	return nil
}

func (s *Server) listen() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket dir: %w", err)
	}
	// Remove any stale socket file
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to restrict socket permissions: %w", err)
	}
	s.listener = listener

	s.logger.Info("IPC server started", "socket", s.socketPath)
	return nil
}

// Shutdown stops accepting connections, closes open ones and waits for
// in-flight requests to finish.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	for conn := range s.conns {
		// Unblocks idle readers; a request being handled still completes.
		if cr, ok := conn.(interface{ CloseRead() error }); ok {
			cr.CloseRead()
		}
	}
	s.mu.Unlock()

	s.logger.Info("IPC server shutting down")

	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.logger.Error("error closing listener", "error", err)
		}
	}

	s.wg.Wait()

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		s.logger.Error("error removing socket", "error", err)
	}

	s.logger.Info("IPC server stopped")
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown || errors.Is(err, net.ErrClosed) {
				return
			}

			select {
			case <-ctx.Done():
				return
			default:
			}

			s.logger.Error("accept error", "error", err)
			continue
		}

		s.mu.Lock()
		if s.shutdown {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
			}()
			s.handleConnection(ctx, conn)
		}()
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReaderSize(conn, 64*1024)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := readLine(reader)
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				s.logger.Error("read error", "error", err)
			}
			return
		}

		response := s.handleMessage(ctx, line)

		if err := s.sendResponse(conn, response); err != nil {
			s.logger.Error("write error", "error", err)
			return
		}
	}
}

// readLine reads one newline-terminated message, refusing oversized ones.
func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > maxMessageBytes {
			return nil, fmt.Errorf("message exceeds %d bytes", maxMessageBytes)
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			if err == io.EOF && len(line) > 0 {
				return line, nil
			}
			return nil, err
		}
		return line, nil
	}
}

func (s *Server) handleMessage(ctx context.Context, data []byte) (resp Message) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked", "panic", r)
			resp = &ErrorMessage{Type: MsgError, Message: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	msg, err := ParseMessage(data)
	if err != nil {
		s.logger.Error("parse error", "error", err)
		return &ErrorMessage{
			Type:    MsgError,
			Message: fmt.Sprintf("failed to parse message: %v", err),
		}
	}
	s.logger.Debug("handling request", "type", msg.MessageType())

	switch m := msg.(type) {
	case *HookMessage:
		return s.handler.HandleHook(ctx, m)
	case *PipelineRunMessage:
		return s.handler.HandlePipelineRun(ctx, m)
	case *PipelineApproveMessage:
		return s.handler.HandlePipelineApprove(ctx, m)
	case *PipelineRejectMessage:
		return s.handler.HandlePipelineReject(ctx, m)
	case *PipelineStatusMessage:
		return s.handler.HandlePipelineStatus(ctx, m)
	case *PipelineCancelMessage:
		return s.handler.HandlePipelineCancel(ctx, m)
	case *PipelineListMessage:
		return s.handler.HandlePipelineList(ctx, m)
	case *WorkflowListMessage:
		return s.handler.HandleWorkflowList(ctx, m)
	case *WorkflowActivateMessage:
		return s.handler.HandleWorkflowActivate(ctx, m)
	case *WorkflowEndMessage:
		return s.handler.HandleWorkflowEnd(ctx, m)
	case *WorkflowTransitionMessage:
		return s.handler.HandleWorkflowTransition(ctx, m)
	case *WorkflowApproveMessage:
		return s.handler.HandleWorkflowApprove(ctx, m)
	case *WorkflowClearMessage:
		return s.handler.HandleWorkflowClear(ctx, m)
	case *SetVariableMessage:
		return s.handler.HandleSetVariable(ctx, m)
	case *GetStateMessage:
		return s.handler.HandleGetState(ctx, m)
	case *ReloadMessage:
		return s.handler.HandleReload(ctx, m)
	default:
		s.logger.Error("unexpected message type", "type", msg.MessageType())
		return &ErrorMessage{
			Type:    MsgError,
			Message: fmt.Sprintf("unexpected message type: %s", msg.MessageType()),
		}
	}
}

func (s *Server) sendResponse(conn net.Conn, response Message) error {
	data, err := Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	data = append(data, '\n')

	_, err = conn.Write(data)
	return err
}
