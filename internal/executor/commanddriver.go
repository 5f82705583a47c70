package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// CommandDriver implements UIDriver by invoking an external automation bridge
// once per action. The request is written to the bridge's stdin as JSON;
// stdout is taken as the evidence text.
type CommandDriver struct {
	name string
	args []string
}

// NewCommandDriver builds a driver from the bridge command line.
func NewCommandDriver(command []string) (*CommandDriver, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("driver command is required")
	}
	return &CommandDriver{name: command[0], args: command[1:]}, nil
}

type driverRequest struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Execute runs one bridge invocation. A non-zero exit reports the bridge's
// stderr as the failure reason.
func (d *CommandDriver) Execute(ctx context.Context, toolName string, args map[string]any) (string, error) {
	payload, err := json.Marshal(driverRequest{Tool: toolName, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("encoding driver request: %w", err)
	}

	cmd := exec.CommandContext(ctx, d.name, d.args...)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("bridge %s: %s", d.name, msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}
