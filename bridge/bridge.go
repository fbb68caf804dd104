package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const readLimit = 32768

// Server is the command-execution bridge. It accepts persistent WebSocket
// client connections, relays shell commands and agent invocations to OS
// processes, and streams their output back to the originating session.
type Server struct {
	logger *zap.SugaredLogger

	listenAddr    string
	provider      string
	agentBin      string
	shutdownGrace time.Duration

	httpServer *http.Server
	sessions   *sessionRegistry
	procs      *procRegistry
	shellSem   chan struct{}

	stopping atomic.Bool
}

type Option func(s *Server)

func WithListenAddr(addr string) Option {
	return func(s *Server) {
		s.listenAddr = addr
	}
}

// WithProvider sets the AI provider name announced to connecting clients.
func WithProvider(provider string) Option {
	return func(s *Server) {
		s.provider = provider
	}
}

// WithAgentBin sets the agent executable spawned for agent invocations.
func WithAgentBin(bin string) Option {
	return func(s *Server) {
		s.agentBin = bin
	}
}

// WithShutdownGrace sets the delay between the "exit" control command and
// full server termination, allowing the shutdown notice to flush.
func WithShutdownGrace(d time.Duration) Option {
	return func(s *Server) {
		s.shutdownGrace = d
	}
}

// WithMaxShellProcs bounds the number of concurrently running one-shot shell
// commands across all sessions.
func WithMaxShellProcs(n int) Option {
	return func(s *Server) {
		s.shellSem = make(chan struct{}, n)
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l.Named("bridge").Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(s *Server) {
		s.logger = s.logger.WithOptions(zap.IncreaseLevel(l))
	}
}

// NewServer constructs a bridge server.
func NewServer(opts ...Option) (*Server, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	s := &Server{
		logger:        logger.Named("bridge").Sugar(),
		listenAddr:    "0.0.0.0:3003",
		provider:      "openai",
		agentBin:      "doer",
		shutdownGrace: 3 * time.Second,
		shellSem:      make(chan struct{}, 8),
		sessions:      newSessionRegistry(),
	}
	for _, o := range opts {
		o(s)
	}
	s.procs = newProcRegistry(s.logger)
	return s, nil
}

// Run runs the bridge server and returns once it has stopped.
func (s *Server) Run() error {
	tcpListener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}

	router := httprouter.New()
	router.GET("/ws", s.session)
	router.GET("/heartbeat", s.heartbeat)
	router.POST("/command", s.command)

	server := http.Server{Handler: router}
	s.httpServer = &server

	err = server.Serve(tcpListener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

// session owns one client connection for its whole lifetime: it registers a
// session, announces the configured provider, then reads and dispatches
// events until the client goes away.
func (s *Server) session(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.stopping.Load() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		s.logger.Debugf("error accepting WebSocket conn: %s", err)
		return
	}
	wsConn.SetReadLimit(readLimit)

	sess := newSession(s.logger, wsConn, r.Context())
	s.sessions.add(sess)
	s.logger.Debugw("client connected", "Session", sess.ID, "Sessions", s.sessions.len())
	defer func() {
		s.sessions.remove(sess.ID)
		s.procs.KillOwnedBy(sess.ID)
		sess.close()
		s.logger.Debugw("client disconnected", "Session", sess.ID, "Sessions", s.sessions.len())
	}()

	err = sess.sendOutput(fmt.Sprintf("Using AI provider: %s\n", strings.ToUpper(s.provider)))
	if err != nil {
		return
	}

	for {
		var msg message
		err := wsjson.Read(sess.ctx, sess.conn, &msg)
		if websocket.CloseStatus(err) != -1 {
			return
		}
		if err != nil {
			s.logger.Debugf("session %s read error: %s", sess.ID, err)
			return
		}
		switch msg.Event {
		case EventPing:
			sess.sendEvent(EventPong, "")
		case EventCommand:
			s.dispatch(sess, msg.Data)
		default:
			s.logger.Debugf("session %s sent unknown event %q", sess.ID, msg.Event)
		}
	}
}

// dispatch classifies one inbound command and routes it to the matching
// execution path. Once a shutdown has been requested, commands from all
// sessions are ignored.
func (s *Server) dispatch(sess *Session, raw string) {
	if s.stopping.Load() {
		return
	}
	cmd := classify(raw)
	switch cmd.Kind {
	case kindControl:
		s.beginShutdown(sess)
	case kindAgent:
		go s.runAgent(sess, cmd.Arg)
	case kindShell:
		go s.runShell(sess, cmd.Text)
	}
}

func (s *Server) beginShutdown(sess *Session) {
	if !s.stopping.CompareAndSwap(false, true) {
		return
	}
	s.logger.Infow("shutdown requested", "Session", sess.ID)
	sess.sendOutput("Server is shutting down...\n")
	s.procs.KillAny()
	time.AfterFunc(s.shutdownGrace, func() {
		if err := s.Stop(); err != nil {
			s.logger.Debugf("error stopping server: %s", err)
		}
	})
}

// runAgent spawns the agent executable with the invocation argument and
// streams every stdout and stderr chunk back to the session as it arrives.
// Stdout and stderr share one sink, so chunks carry no stream tag.
func (s *Server) runAgent(sess *Session, arg string) {
	sess.sendOutput(fmt.Sprintf("Executing: %s%s\n", agentPrefix, arg))

	sink := newOutputSink(s.logger, sess, streamIncremental)
	cmd := exec.Command(s.agentBin, arg)
	cmd.Stdout = sink
	cmd.Stderr = sink

	id, err := s.procs.Start(sess.ID, cmd)
	if err != nil {
		sess.sendOutput(fmt.Sprintf("Error: %s\n", err))
		return
	}

	err = cmd.Wait()
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			s.logger.Debugf("unexpected exit error: %s", err)
		}
	}
	code := cmd.ProcessState.ExitCode()
	s.logger.Debugw("agent process exited", "InvocationID", id, "ExitCode", code)
	sess.sendOutput(fmt.Sprintf("Child process exited with code %d\n", code))
	s.procs.Clear(id)
}

// runShell executes the command line through the host shell, buffering all
// output until the process exits, then delivers stdout, stderr, and any error
// as discrete events before the final command_complete signal.
func (s *Server) runShell(sess *Session, text string) {
	select {
	case s.shellSem <- struct{}{}:
		defer func() { <-s.shellSem }()
	default:
		sess.sendOutput("Error: too many concurrent commands\n")
		sess.sendEvent(EventCommandComplete, "")
		return
	}

	stdout := newOutputSink(s.logger, sess, bufferUntilExit)
	stderr := newOutputSink(s.logger, sess, bufferUntilExit)
	cmd := exec.Command("sh", "-c", text)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	stdout.Flush()
	stderr.Flush()
	if err != nil {
		sess.sendOutput(fmt.Sprintf("Error: %s\n", err))
	}
	sess.sendEvent(EventCommandComplete, "")
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	response := struct {
		Provider string
		Time     string
	}{
		Provider: s.provider,
		Time:     time.Now().UTC().Format(time.RFC3339),
	}
	b, err := json.Marshal(response)
	if err != nil {
		s.logger.Debugf("error marshaling heartbeat response: %s", err)
	}
	w.Header().Add("Content-Type", "application/json")
	w.Write(b)
}

// command is a buffered one-shot shell runner. It is easy to curl and write
// simple clients against, but doesn't stream output or track the process.
func (s *Server) command(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.stopping.Load() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	var req PostCommandRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Command == "" {
		http.Error(w, "request contained no command", http.StatusBadRequest)
		return
	}

	cmd := exec.Command("sh", "-c", req.Command)
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// If the request is aborted, kill the process.
	// In the normal case this is a no-op as the process will already be
	// finished when the context is done.
	go func() {
		<-r.Context().Done()
		cmd.Process.Kill()
	}()

	cmd.Wait()

	resp := PostCommandResponse{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
	b, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Add("Content-Type", "application/json")
	w.Write(b)
}
