package command

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Verbs accepted on the command surface.
const (
	VerbStatus    = "status"
	VerbPortfolio = "portfolio"
	VerbDefcon    = "defcon"
	VerbHold      = "hold"
	VerbResume    = "resume"
	VerbYes       = "yes"
	VerbNo        = "no"
	VerbRefresh   = "refresh"
	VerbShutdown  = "shutdown"
	VerbEstop     = "estop"
	VerbMode      = "mode"
	VerbInterval  = "interval"
)

// Exit codes of the command surface.
const (
	CodeOK           = 0
	CodeInvalidState = 2
	CodeUnknownVerb  = 3
)

// Command is one operator instruction, from the file queue or the in-process
// channel.
type Command struct {
	ID         string    `json:"id"`
	Verb       string    `json:"verb"`
	Args       []string  `json:"args"`
	ReceivedAt time.Time `json:"received_at"`

	// inFlightPath is set for file-queue commands so Ack can remove the file.
	inFlightPath string
}

// Result is the dispatch outcome returned to the submitter.
type Result struct {
	Code int    `json:"code"`
	Body string `json:"body,omitempty"`
}

// KnownVerb reports whether verb is on the surface.
func KnownVerb(verb string) bool {
	switch verb {
	case VerbStatus, VerbPortfolio, VerbDefcon, VerbHold, VerbResume,
		VerbYes, VerbNo, VerbRefresh, VerbShutdown, VerbEstop, VerbMode, VerbInterval:
		return true
	}
	return false
}

// commandSchema validates command files before they reach the dispatcher.
const commandSchema = `{
  "type": "object",
  "required": ["id", "verb"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "verb": {"type": "string", "minLength": 1},
    "args": {"type": "array", "items": {"type": "string"}},
    "received_at": {"type": "string"}
  }
}`

var compiledSchema = jsonschema.MustCompileString("command.json", commandSchema)

// Parse decodes and validates a command file payload.
func Parse(raw []byte) (Command, error) {
	var loose any
	if err := json.Unmarshal(raw, &loose); err != nil {
		return Command{}, fmt.Errorf("command: invalid json: %w", err)
	}
	if err := compiledSchema.Validate(loose); err != nil {
		return Command{}, fmt.Errorf("command: schema violation: %w", err)
	}
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return Command{}, err
	}
	cmd.Verb = strings.ToLower(strings.TrimSpace(cmd.Verb))
	if cmd.ReceivedAt.IsZero() {
		cmd.ReceivedAt = time.Now().UTC()
	}
	return cmd, nil
}
