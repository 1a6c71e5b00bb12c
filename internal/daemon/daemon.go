// Package daemon serves runs over a JSON-lines stream, one command per
// line and one response per command, for editor integrations that keep a
// process alive between edits.
package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/robert-at-pretension-io/hdlsim/internal/facts"
	"github.com/robert-at-pretension-io/hdlsim/internal/runner"
	"github.com/robert-at-pretension-io/hdlsim/internal/schema"
	"github.com/robert-at-pretension-io/hdlsim/internal/trace"
	"github.com/robert-at-pretension-io/hdlsim/internal/vcd"
)

// Command kinds.
const (
	KindSimulate = "simulate"
	KindFacts    = "facts"
	KindDecode   = "decode"
	KindPing     = "ping"
)

// Response kinds.
const (
	KindResult = "result"
	KindTrace  = "trace"
	KindPong   = "pong"
	KindError  = "error"
)

// Command is one request line.
type Command struct {
	Kind      string `json:"kind"`
	ID        string `json:"id,omitempty"`
	Code      string `json:"code"`
	Testbench string `json:"testbench,omitempty"`
	VCD       string `json:"vcd,omitempty"`
}

// Response is one reply line. ID echoes the command.
type Response struct {
	Kind    string         `json:"kind"`
	ID      string         `json:"id,omitempty"`
	Result  *runner.Result `json:"result,omitempty"`
	Facts   *facts.Tables  `json:"facts,omitempty"`
	Delta   *facts.Delta   `json:"delta,omitempty"`
	Trace   *trace.Trace   `json:"trace,omitempty"`
	Message string         `json:"message,omitempty"`
}

// maxLine bounds a single command line.
const maxLine = 16 * 1024 * 1024

// Daemon answers commands read from a stream. Facts commands are answered
// with the full tables plus the delta against the previous facts command.
type Daemon struct {
	runner    *runner.Runner
	log       logrus.FieldLogger
	validator *schema.Validator
	lastFacts *facts.Tables
}

// New creates a daemon around r. A nil log uses the standard logrus logger.
func New(r *runner.Runner, log logrus.FieldLogger) (*Daemon, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	v, err := schema.New()
	if err != nil {
		return nil, fmt.Errorf("init daemon validator: %w", err)
	}
	return &Daemon{runner: r, log: log, validator: v}, nil
}

// Serve reads commands from in until EOF or ctx is done and writes one
// response line per command to out. A malformed command gets an error
// response; only stream failures end the loop with an error.
func (d *Daemon) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	w := bufio.NewWriter(out)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := d.handle(ctx, line)
		payload, err := json.Marshal(resp)
		if err != nil {
			return fmt.Errorf("marshal daemon response: %w", err)
		}
		if _, err := w.Write(append(payload, '\n')); err != nil {
			return fmt.Errorf("write daemon response: %w", err)
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("write daemon response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("read daemon command: %w", err)
	}
	return nil
}

func (d *Daemon) handle(ctx context.Context, line []byte) Response {
	if err := d.validator.ValidateJSON(schema.DaemonCommand, line); err != nil {
		return d.fail("", fmt.Errorf("daemon command schema invalid: %w", err))
	}
	var cmd Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		return d.fail("", fmt.Errorf("parse daemon command: %w", err))
	}

	var resp Response
	switch cmd.Kind {
	case KindPing:
		resp = Response{Kind: KindPong}
	case KindSimulate:
		res, err := d.runner.Run(ctx, runner.Program{Design: cmd.Code, Testbench: cmd.Testbench})
		if err != nil {
			return d.fail(cmd.ID, err)
		}
		d.log.WithFields(logrus.Fields{
			"id":      cmd.ID,
			"run_id":  res.RunID,
			"success": res.Success,
		}).Debug("simulate")
		resp = Response{Kind: KindResult, Result: res}
	case KindFacts:
		tables, _, err := d.runner.Facts(ctx, runner.Program{Design: cmd.Code, Testbench: cmd.Testbench})
		if err != nil {
			return d.fail(cmd.ID, err)
		}
		resp = Response{Kind: KindFacts, Facts: &tables}
		if d.lastFacts != nil {
			delta := facts.ComputeDelta(*d.lastFacts, tables)
			resp.Delta = &delta
		}
		d.lastFacts = &tables
	case KindDecode:
		tr, err := vcd.DecodeString(cmd.VCD)
		if err != nil {
			return d.fail(cmd.ID, err)
		}
		resp = Response{Kind: KindTrace, Trace: tr}
	}
	resp.ID = cmd.ID

	if err := d.validator.Validate(schema.DaemonResponse, resp); err != nil {
		return d.fail(cmd.ID, fmt.Errorf("daemon response schema invalid: %w", err))
	}
	return resp
}

func (d *Daemon) fail(id string, err error) Response {
	d.log.WithField("id", id).WithError(err).Warn("command failed")
	return Response{Kind: KindError, ID: id, Message: err.Error()}
}
