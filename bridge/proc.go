package bridge

import (
	"fmt"
	"os/exec"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// procRegistry tracks the single server-wide agent process. Start, Active,
// Kill and Clear are atomic with respect to each other, and starting a new
// invocation kills whatever was running first, so an old process is never
// silently orphaned.
//
// Killing only signals the OS process; there is no confirmation of
// termination beyond the reference being cleared.
type procRegistry struct {
	log *zap.SugaredLogger

	mu    sync.Mutex
	id    string
	owner string
	cmd   *exec.Cmd
}

func newProcRegistry(log *zap.SugaredLogger) *procRegistry {
	return &procRegistry{log: log.Named("proc")}
}

// Start starts cmd, registers it as the active process owned by the given
// session, and returns the invocation id.
func (r *procRegistry) Start(owner string, cmd *exec.Cmd) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd != nil {
		r.log.Debugw("replacing active process", "InvocationID", r.id, "Owner", r.owner)
		r.killLocked()
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("starting process: %w", err)
	}
	id := uuid.New().String()
	r.id = id
	r.owner = owner
	r.cmd = cmd
	r.log.Debugw("process started", "InvocationID", id, "Owner", owner, "PID", cmd.Process.Pid)
	return id, nil
}

// Active returns the current invocation, if any.
func (r *procRegistry) Active() (id, owner string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id, r.owner, r.cmd != nil
}

// Kill kills the active process if it matches the given invocation id.
func (r *procRegistry) Kill(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd != nil && r.id == id {
		r.killLocked()
	}
}

// KillOwnedBy kills the active process if the given session started it.
// Called when a session disconnects.
func (r *procRegistry) KillOwnedBy(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd != nil && r.owner == owner {
		r.killLocked()
	}
}

// KillAny kills the active process regardless of owner.
func (r *procRegistry) KillAny() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd != nil {
		r.killLocked()
	}
}

// Clear drops the registration for the given invocation id after its process
// has exited. A stale id is a no-op so a finished invocation can never clear
// its successor.
func (r *procRegistry) Clear(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.id == id {
		r.id, r.owner, r.cmd = "", "", nil
	}
}

func (r *procRegistry) killLocked() {
	if r.cmd.Process != nil {
		if err := r.cmd.Process.Kill(); err != nil {
			r.log.Debugf("error killing process %d: %s", r.cmd.Process.Pid, err)
		}
	}
	r.id, r.owner, r.cmd = "", "", nil
}
