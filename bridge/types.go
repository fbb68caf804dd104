package bridge

// Named events exchanged over a session's channel.
const (
	// Client -> server.
	EventCommand = "command"
	EventPing    = "ping"

	// Server -> client.
	EventPong            = "pong"
	EventConsoleOutput   = "console_output"
	EventCommandComplete = "command_complete"
)

// message is a single frame exchanged over a session's WebSocket connection.
// Data is empty for ping, pong, and command_complete.
type message struct {
	Event string `json:"event"`
	Data  string `json:"data,omitempty"`
}

// PostCommandRequest is the body of the buffered one-shot POST /command runner.
type PostCommandRequest struct {
	Command string
}

// PostCommandResponse carries the full buffered result of a one-shot command.
type PostCommandResponse struct {
	ExitCode int
	Stdout   string
	Stderr   string
}
