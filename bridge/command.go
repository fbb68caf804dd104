package bridge

import "strings"

// agentPrefix marks a command as an invocation of the AI-agent executable.
// The match is exact-byte and case-sensitive.
const agentPrefix = "doer "

type commandKind int

const (
	// kindControl shuts the server down.
	kindControl commandKind = iota
	// kindAgent spawns the agent executable and streams its output.
	kindAgent
	// kindShell runs the text through the host shell, buffered until exit.
	kindShell
)

// command is an inbound command classified into one of the three dispatch
// paths. Classification happens exactly once per command; dispatch switches
// exhaustively on Kind.
type command struct {
	Kind commandKind

	// Arg is the text following the agent prefix. It may be empty and is
	// passed through unvalidated.
	Arg string

	// Text is the raw command line for the shell path.
	Text string
}

// classify maps raw command text onto the closed set of command kinds.
// "exit" is compared after trimming surrounding whitespace.
func classify(raw string) command {
	if strings.TrimSpace(raw) == "exit" {
		return command{Kind: kindControl}
	}
	if strings.HasPrefix(raw, agentPrefix) {
		return command{Kind: kindAgent, Arg: raw[len(agentPrefix):]}
	}
	return command{Kind: kindShell, Text: raw}
}
