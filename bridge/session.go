package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Session is one connected client's identity on the transport. Events are
// only ever written to the session that triggered them, so concurrently
// connected clients never see each other's output.
type Session struct {
	ID string

	log  *zap.SugaredLogger
	ctx  context.Context
	conn *websocket.Conn

	mu    sync.Mutex
	alive bool

	closeOnce sync.Once
}

func newSession(log *zap.SugaredLogger, conn *websocket.Conn, ctx context.Context) *Session {
	id := uuid.New().String()
	return &Session{
		ID:    id,
		log:   log.Named("session"),
		ctx:   ctx,
		conn:  conn,
		alive: true,
	}
}

// Alive reports whether the session's connection is still considered open.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

// sendEvent writes one frame to the session's connection. Concurrent calls
// are safe; the WebSocket library serializes frame writes.
func (s *Session) sendEvent(event, data string) error {
	if !s.Alive() {
		return fmt.Errorf("session %s is closed", s.ID)
	}
	err := wsjson.Write(s.ctx, s.conn, message{Event: event, Data: data})
	if err != nil {
		s.log.Debugf("error sending %s to session %s: %s", event, s.ID, err)
	}
	return err
}

func (s *Session) sendOutput(text string) error {
	return s.sendEvent(EventConsoleOutput, text)
}

func (s *Session) close() {
	s.mu.Lock()
	s.alive = false
	s.mu.Unlock()
	s.closeOnce.Do(func() {
		err := s.conn.Close(websocket.StatusNormalClosure, "")
		if err != nil {
			s.log.Debugf("error closing session %s conn: %s", s.ID, err)
		}
	})
}

// sessionRegistry tracks connected sessions.
type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: map[string]*Session{}}
}

func (r *sessionRegistry) add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

func (r *sessionRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *sessionRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
