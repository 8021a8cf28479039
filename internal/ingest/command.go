package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/rickgao/lastvalue/internal/api"
)

// Action names a batch operation.
type Action string

const (
	ActionStart    Action = "start"
	ActionUpload   Action = "upload"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
)

// Command is the wire form of a message value.
type Command struct {
	Action  Action            `json:"action"`
	BatchID string            `json:"batchId"`
	Records []api.PriceRecord `json:"records,omitempty"`
}

// ParseCommand decodes and checks a message value.
func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}

	switch cmd.Action {
	case ActionStart, ActionUpload, ActionComplete, ActionCancel:
	case "":
		return Command{}, fmt.Errorf("action is required")
	default:
		return Command{}, fmt.Errorf("unknown action %q", cmd.Action)
	}

	if cmd.BatchID == "" {
		return Command{}, fmt.Errorf("batchId is required")
	}
	if cmd.Action != ActionUpload && len(cmd.Records) > 0 {
		return Command{}, fmt.Errorf("records are only allowed with %q", ActionUpload)
	}

	return cmd, nil
}

// Encode returns the JSON message value for cmd.
func (c Command) Encode() ([]byte, error) {
	return json.Marshal(c)
}
