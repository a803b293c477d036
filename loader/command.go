/*
Copyright © 2026 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"bennypowers.dev/sheaf/sourcemap"
)

// Command protocols.
const (
	// ProtocolJSON exchanges a JSON request and response over stdio.
	ProtocolJSON = "json"
	// ProtocolStdio passes the file path as the last argument and the
	// content on stdin; stdout is the result and any stderr output fails
	// the stage.
	ProtocolStdio = "stdio"
)

// CommandConfig configures an external transformer.
type CommandConfig struct {
	Command  string   `mapstructure:"command" json:"command"`
	Args     []string `mapstructure:"args" json:"args"`
	Protocol string   `mapstructure:"protocol" json:"protocol"`
	Dir      string   `mapstructure:"dir" json:"dir"`
	// ContentType is the type of the produced content, such as "css".
	ContentType string `mapstructure:"content-type" json:"contentType"`
	// Options are passed through to the json protocol request.
	Options map[string]any `mapstructure:"options" json:"options"`
}

// CommandStage runs an external process. It always runs on the pool.
type CommandStage struct {
	name string
	cfg  CommandConfig
}

// NewCommandStage validates cfg and creates a stage named name.
func NewCommandStage(name string, cfg CommandConfig) (*CommandStage, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("command stage %q: command is required", name)
	}
	switch cfg.Protocol {
	case "":
		cfg.Protocol = ProtocolJSON
	case ProtocolJSON, ProtocolStdio:
	default:
		return nil, fmt.Errorf("command stage %q: unknown protocol %q", name, cfg.Protocol)
	}
	return &CommandStage{name: name, cfg: cfg}, nil
}

func (s *CommandStage) Name() string { return s.name }
func (s *CommandStage) Heavy() bool  { return true }

// Key identifies the command line and its options.
func (s *CommandStage) Key() string {
	opts, _ := json.Marshal(s.cfg.Options)
	return s.cfg.Protocol + ":" + s.cfg.Command + " " + strings.Join(s.cfg.Args, " ") + " " + string(opts)
}

type commandRequest struct {
	Path        string          `json:"path"`
	Content     string          `json:"content"`
	Map         *sourcemap.Map  `json:"map,omitempty"`
	ContentType string          `json:"contentType"`
	Options     map[string]any  `json:"options,omitempty"`
}

type commandDiagnostic struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
}

type commandResponse struct {
	Content     string              `json:"content"`
	Map         *sourcemap.Map      `json:"map"`
	ContentType string              `json:"contentType"`
	SideEffects *bool               `json:"sideEffects"`
	Diagnostics []commandDiagnostic `json:"diagnostics"`
}

func (s *CommandStage) Transform(ctx context.Context, in Input) (Output, error) {
	if s.cfg.Protocol == ProtocolStdio {
		return s.stdio(ctx, in)
	}
	return s.json(ctx, in)
}

func (s *CommandStage) command(ctx context.Context, extra ...string) *exec.Cmd {
	args := append(append([]string{}, s.cfg.Args...), extra...)
	cmd := exec.CommandContext(ctx, s.cfg.Command, args...)
	cmd.Dir = s.cfg.Dir
	return cmd
}

func (s *CommandStage) stdio(ctx context.Context, in Input) (Output, error) {
	cmd := s.command(ctx, in.Path)
	cmd.Stdin = bytes.NewReader(in.Content)
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr

	err := cmd.Run()
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return Output{}, &Failure{Diagnostic: msg, Err: err}
	}
	if err != nil {
		return Output{}, s.runError(err)
	}
	return Output{Content: stdout.Bytes(), ContentType: s.contentType(in)}, nil
}

func (s *CommandStage) json(ctx context.Context, in Input) (Output, error) {
	req, err := json.Marshal(commandRequest{
		Path:        in.Path,
		Content:     string(in.Content),
		Map:         in.Map,
		ContentType: in.ContentType,
		Options:     s.cfg.Options,
	})
	if err != nil {
		return Output{}, err
	}

	cmd := s.command(ctx)
	cmd.Stdin = bytes.NewReader(req)
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return Output{}, &Failure{Diagnostic: msg, Err: err}
		}
		return Output{}, s.runError(err)
	}

	var resp commandResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Output{}, fmt.Errorf("invalid response from %s: %w", s.cfg.Command, err)
	}
	for _, d := range resp.Diagnostics {
		if d.Severity == "error" {
			return Output{}, &Failure{Line: d.Line, Column: d.Column, Diagnostic: d.Message}
		}
	}

	out := Output{
		Content:     []byte(resp.Content),
		Map:         resp.Map,
		ContentType: resp.ContentType,
		SideEffects: resp.SideEffects,
	}
	if out.ContentType == "" {
		out.ContentType = s.contentType(in)
	}
	return out, nil
}

func (s *CommandStage) contentType(in Input) string {
	if s.cfg.ContentType != "" {
		return s.cfg.ContentType
	}
	return in.ContentType
}

func (s *CommandStage) runError(err error) error {
	if errors.Is(err, exec.ErrNotFound) {
		return &Failure{Diagnostic: s.cfg.Command + " is not installed", Err: err}
	}
	return &Failure{Diagnostic: fmt.Sprintf("%s failed: %v", s.cfg.Command, err), Err: err}
}
