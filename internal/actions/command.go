package actions

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/rogers-f/cadence/internal/domain"
	"github.com/rogers-f/cadence/internal/registry"
)

const killGrace = 2 * time.Second

// commandEvent is one JSON line written by the child process on stdout.
// Lines that are not JSON objects with a type are ignored.
type commandEvent struct {
	Type   string        `json:"type"`
	Amount domain.Amount `json:"amount"`
}

// Command runs an external program for each action. The unit is passed in
// CADENCE_* environment variables. The program may report its cost with a
// {"type":"cost","amount":n} line and its result with a {"type":"result",...}
// line; exit status zero is success.
type Command struct {
	Name    string
	Args    []string
	Env     map[string]string
	Timeout time.Duration
	Log     zerolog.Logger
}

func (c *Command) Execute(ctx context.Context, req registry.Request) domain.ActionResult {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Env = append(os.Environ(),
		"CADENCE_UNIT_ID="+req.UnitID,
		"CADENCE_ACTION_ID="+req.ActionID,
		"CADENCE_CATEGORY="+string(req.Category),
		"CADENCE_FOCUS="+req.FocusText,
	)
	for k, v := range c.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = killGrace

	runErr := cmd.Run()
	reported, payload := parseEvents(stdout.Bytes())
	c.Log.Debug().
		Str("unit", req.UnitID).
		Str("action", req.ActionID).
		Int("exit", exitCode(cmd)).
		Msg("command finished")

	cost := req.Reserved
	if reported != nil {
		cost = *reported
	}
	if runErr != nil {
		if reported == nil {
			cost = 0
		}
		msg := snippet(stderr.Bytes())
		if msg == "" {
			msg = runErr.Error()
		}
		return domain.ActionResult{
			Success:    false,
			ActualCost: cost,
			Payload:    payload,
			Error:      fmt.Sprintf("%s exited: %s", req.ActionID, msg),
		}
	}
	return domain.ActionResult{Success: true, ActualCost: cost, Payload: payload}
}

func parseEvents(out []byte) (reported *domain.Amount, payload json.RawMessage) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Bytes()
		var ev commandEvent
		if err := json.Unmarshal(line, &ev); err != nil || ev.Type == "" {
			continue
		}
		switch ev.Type {
		case "cost":
			amount := ev.Amount
			reported = &amount
		case "result":
			payload = append(json.RawMessage(nil), line...)
		}
	}
	return reported, payload
}

func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}
