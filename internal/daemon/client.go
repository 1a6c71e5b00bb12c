package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/robert-at-pretension-io/hdlsim/internal/facts"
	"github.com/robert-at-pretension-io/hdlsim/internal/runner"
	"github.com/robert-at-pretension-io/hdlsim/internal/schema"
	"github.com/robert-at-pretension-io/hdlsim/internal/trace"
)

// Client talks to a daemon over a pair of streams, either a child process
// started with Start or any reader/writer pair.
type Client struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	validator *schema.Validator
}

// Start launches "<bin> daemon" and connects to it. An empty bin resolves
// HDLSIM_BIN, then hdlsim on PATH.
func Start(ctx context.Context, bin string) (*Client, error) {
	if bin == "" {
		resolved, err := findBinary()
		if err != nil {
			return nil, err
		}
		bin = resolved
	}

	cmd := exec.CommandContext(ctx, bin, "daemon")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("daemon stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("daemon stdout: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start daemon: %w", err)
	}

	c, err := NewClient(stdout, stdin)
	if err != nil {
		_ = stdin.Close()
		_ = cmd.Wait()
		return nil, err
	}
	c.cmd = cmd
	return c, nil
}

// NewClient connects to a daemon reading commands from w and writing
// responses to r.
func NewClient(r io.Reader, w io.WriteCloser) (*Client, error) {
	v, err := schema.New()
	if err != nil {
		return nil, fmt.Errorf("init daemon validator: %w", err)
	}
	return &Client{stdin: w, stdout: bufio.NewReader(r), validator: v}, nil
}

// Simulate runs a program.
func (c *Client) Simulate(code, testbench string) (*runner.Result, error) {
	resp, err := c.send(Command{Kind: KindSimulate, Code: code, Testbench: testbench})
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// Facts returns the fact tables of a program and, after the first call,
// the delta against the previous call.
func (c *Client) Facts(code, testbench string) (*facts.Tables, *facts.Delta, error) {
	resp, err := c.send(Command{Kind: KindFacts, Code: code, Testbench: testbench})
	if err != nil {
		return nil, nil, err
	}
	return resp.Facts, resp.Delta, nil
}

// Decode parses VCD text.
func (c *Client) Decode(vcdText string) (*trace.Trace, error) {
	resp, err := c.send(Command{Kind: KindDecode, VCD: vcdText})
	if err != nil {
		return nil, err
	}
	return resp.Trace, nil
}

// Ping checks that the daemon answers.
func (c *Client) Ping() error {
	_, err := c.send(Command{Kind: KindPing})
	return err
}

// Close ends the session and waits for a started daemon to exit.
func (c *Client) Close() error {
	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	if c.cmd != nil {
		return c.cmd.Wait()
	}
	return nil
}

func (c *Client) send(cmd Command) (*Response, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal daemon command: %w", err)
	}
	if err := c.validator.ValidateJSON(schema.DaemonCommand, payload); err != nil {
		return nil, fmt.Errorf("daemon command schema invalid: %w", err)
	}
	if _, err := c.stdin.Write(append(payload, '\n')); err != nil {
		return nil, fmt.Errorf("write daemon command: %w", err)
	}

	line, err := c.stdout.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read daemon response: %w", err)
	}
	line = bytes.TrimSpace(line)
	if err := c.validator.ValidateJSON(schema.DaemonResponse, line); err != nil {
		return nil, fmt.Errorf("daemon response schema invalid: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("parse daemon response: %w", err)
	}
	if resp.Kind == KindError {
		return nil, fmt.Errorf("daemon error: %s", resp.Message)
	}
	return &resp, nil
}

func findBinary() (string, error) {
	if env := os.Getenv("HDLSIM_BIN"); env != "" {
		if info, err := os.Stat(env); err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
			return env, nil
		}
		return "", fmt.Errorf("HDLSIM_BIN is set but not executable: %s", env)
	}
	path, err := exec.LookPath("hdlsim")
	if err != nil {
		return "", fmt.Errorf("hdlsim binary not found: %w", err)
	}
	return path, nil
}
