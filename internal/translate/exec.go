package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

// execTranslator pipes {"text","source","target"} to a command and reads
// {"text":"..."} back from its stdout.
type execTranslator struct {
	cmd []string
}

type execRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type execResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

func NewExecTranslator(command string) (Translator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse translation command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("translation command empty")
	}
	return &execTranslator{cmd: args}, nil
}

func (t *execTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	input, err := json.Marshal(execRequest{Text: req.Text, Source: req.Source, Target: req.Target})
	if err != nil {
		return Result{}, err
	}

	cmd := exec.CommandContext(ctx, t.cmd[0], t.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	output, err := cmd.Output()
	if err != nil {
		return Result{}, fmt.Errorf("translation exec command failed: %w", err)
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return Result{}, fmt.Errorf("decode translation exec response: %w", err)
	}
	if resp.Error != "" {
		return Result{}, fmt.Errorf("translation exec: %s", resp.Error)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return Result{}, fmt.Errorf("translation exec returned no text")
	}
	return Result{Text: resp.Text, Provider: "exec"}, nil
}
