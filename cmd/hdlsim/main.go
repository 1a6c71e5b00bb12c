// =============================================================================
// hdlsim - Main Entry Point
// =============================================================================
//
// hdlsim runs small Verilog/SystemVerilog teaching programs without a real
// simulator. It validates the text, extracts just enough structure to step
// it through time, and returns captured $display output plus a VCD
// waveform.
//
// THE PIPELINE:
//   1. Validator rejects text with compiler-like diagnostics
//   2. Extractor pulls signals, assignments, case arms and $display calls
//   3. Simulation engine steps time and records value changes
//   4. VCD encoder renders the waveform
//   5. OPA evaluates advisory rules against the extracted facts
//   6. CUE checks every result against its data contract
//
// WHEN A WAVEFORM LOOKS WRONG:
//   Start at the beginning of the pipeline, not the end!
//   Extractor patterns -> Evaluator fallbacks -> Engine ordering
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mitchellh/go-wordwrap"
	"github.com/sirupsen/logrus"

	"github.com/robert-at-pretension-io/hdlsim/internal/config"
	"github.com/robert-at-pretension-io/hdlsim/internal/daemon"
	"github.com/robert-at-pretension-io/hdlsim/internal/runner"
	"github.com/robert-at-pretension-io/hdlsim/internal/server"
	"github.com/robert-at-pretension-io/hdlsim/internal/vcd"
)

const wrapWidth = 88

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]

	switch cmd {
	case "init":
		runInit(args)
	case "run":
		os.Exit(runRun(args))
	case "batch":
		os.Exit(runBatch(args))
	case "decode":
		os.Exit(runDecode(args))
	case "serve":
		os.Exit(runServe(args))
	case "daemon":
		os.Exit(runDaemon(args))
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: hdlsim <command> [options]

Commands:
  init [file]                  Create a hdlsim.json (or .yaml) configuration file
  run <design> [testbench]     Simulate one program
  batch <dir>                  Simulate every design under dir (pairs <name>_tb.v)
  decode <file.vcd>            Print a VCD file as trace JSON
  serve                        Serve POST /api/simulate over HTTP
  daemon                       Answer JSON-lines commands on stdin/stdout
  help                         Show this help message

Options (run, batch, serve, daemon):
  -c, -config <file>           Use this config file instead of searching
  -v                           Verbose phase output (run, batch)
  -json                        Print results as JSON (run, batch)
  -o <file>                    Write the waveform to file (run)

Configuration:
  hdlsim looks for configuration in:
    1. ./hdlsim.json, ./.hdlsim.json, ./hdlsim.yaml
    2. the same names in the target directory
    3. ~/.config/hdlsim/config.json

  Run 'hdlsim init' to create a default configuration file.`)
}

func runInit(args []string) {
	configPath := "hdlsim.json"
	if len(args) > 0 {
		configPath = args[0]
	}

	// Check if file already exists
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config file %s already exists. Overwrite? [y/N]: ", configPath)
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return
		}
	}

	cfg := config.DefaultConfig()
	if err := cfg.Save(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Created %s\n", configPath)
	fmt.Println("\nEdit this file to configure:")
	fmt.Println("  - Step count and step duration")
	fmt.Println("  - VCD timescale and scope")
	fmt.Println("  - Batch include/exclude patterns and result cache")
}

// commonFlags are shared by every command that loads configuration.
type commonFlags struct {
	config  string
	verbose bool
	json    bool
}

func newFlagSet(name string, cf *commonFlags) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.StringVar(&cf.config, "config", "", "config file")
	fs.StringVar(&cf.config, "c", "", "config file (shorthand)")
	fs.BoolVar(&cf.verbose, "v", false, "verbose output")
	fs.BoolVar(&cf.json, "json", false, "JSON output")
	fs.Usage = printUsage
	return fs
}

func loadConfig(cf commonFlags, root string) *config.Config {
	if cf.config != "" {
		cfg, err := config.LoadFile(cf.config)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config %s: %v\n", cf.config, err)
			os.Exit(1)
		}
		return cfg
	}
	cfg, err := config.Load(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v (using defaults)\n", err)
		cfg = config.DefaultConfig()
	}
	return cfg
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runRun(args []string) int {
	var cf commonFlags
	fs := newFlagSet("run", &cf)
	vcdOut := fs.String("o", "", "write the waveform to file")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		printUsage()
		return 1
	}

	src := config.Source{Design: fs.Arg(0)}
	if fs.NArg() > 1 {
		src.Testbench = fs.Arg(1)
	}
	prog, err := runner.ReadProgram(src)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	r := runner.New(loadConfig(cf, "."))
	r.Verbose = cf.verbose && !cf.json
	ctx, cancel := signalContext()
	defer cancel()

	res, err := r.Run(ctx, prog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *vcdOut != "" && res.Success {
		if err := os.WriteFile(*vcdOut, []byte(res.VCD), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing waveform: %v\n", err)
			return 1
		}
	}

	if cf.json {
		if err := printJSON(os.Stdout, res); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding result: %v\n", err)
			return 1
		}
	} else {
		printResult(os.Stdout, res)
		if *vcdOut != "" && res.Success {
			fmt.Printf("\nWaveform written to %s\n", *vcdOut)
		}
	}

	if !res.Success {
		return 1
	}
	return 0
}

func runBatch(args []string) int {
	var cf commonFlags
	fs := newFlagSet("batch", &cf)
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		printUsage()
		return 1
	}
	root := fs.Arg(0)

	r := runner.New(loadConfig(cf, root))
	r.Verbose = cf.verbose && !cf.json
	ctx, cancel := signalContext()
	defer cancel()

	results, err := r.RunBatch(ctx, root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if cf.json {
		if err := printJSON(os.Stdout, results); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding results: %v\n", err)
			return 1
		}
	}

	failed := 0
	for _, br := range results {
		if !br.Result.Success {
			failed++
		}
		if cf.json {
			continue
		}
		status := "ok"
		if !br.Result.Success {
			status = "FAILED"
		}
		cached := ""
		if br.Cached {
			cached = " (cached)"
		}
		fmt.Printf("=== %s: %s%s ===\n", br.Name, status, cached)
		printResult(os.Stdout, br.Result)
		fmt.Println()
	}
	if !cf.json {
		fmt.Printf("%d programs, %d failed\n", len(results), failed)
	}
	if failed > 0 {
		return 1
	}
	return 0
}

func runDecode(args []string) int {
	if len(args) < 1 {
		printUsage()
		return 1
	}
	f, err := os.Open(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = f.Close() }()

	tr, err := vcd.Decode(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error decoding %s: %v\n", args[0], err)
		return 1
	}
	if err := printJSON(os.Stdout, tr); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding trace: %v\n", err)
		return 1
	}
	return 0
}

func runServe(args []string) int {
	var cf commonFlags
	fs := newFlagSet("serve", &cf)
	addr := fs.String("addr", "", "listen address (overrides server.addr)")
	level := fs.String("log-level", "info", "log level")
	_ = fs.Parse(args)

	cfg := loadConfig(cf, ".")
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	log, err := newLogger(*level, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()
	if err := server.New(runner.New(cfg), log).ListenAndServe(ctx); err != nil {
		log.WithError(err).Error("server stopped")
		return 1
	}
	return 0
}

func runDaemon(args []string) int {
	var cf commonFlags
	fs := newFlagSet("daemon", &cf)
	level := fs.String("log-level", "warning", "log level")
	_ = fs.Parse(args)

	// stdout carries responses; logs go to stderr
	log, err := newLogger(*level, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	d, err := daemon.New(runner.New(loadConfig(cf, ".")), log)
	if err != nil {
		log.WithError(err).Error("daemon init")
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()
	if err := d.Serve(ctx, os.Stdin, os.Stdout); err != nil {
		log.WithError(err).Error("daemon stopped")
		return 1
	}
	return 0
}

func newLogger(level string, out io.Writer) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.JSONFormatter{})
	return log, nil
}

// printResult writes the captured output followed by wrapped advisories.
func printResult(w io.Writer, res *runner.Result) {
	fmt.Fprintln(w, res.Output)
	if len(res.Advisories) == 0 {
		return
	}
	fmt.Fprintln(w)
	for _, a := range res.Advisories {
		where := ""
		if a.Line > 0 {
			where = fmt.Sprintf("line %d: ", a.Line)
		}
		msg := wordwrap.WrapString(fmt.Sprintf("%s%s [%s]", where, a.Message, a.Rule), wrapWidth-12)
		fmt.Fprintf(w, "  %-8s %s\n", a.Severity+":", strings.ReplaceAll(msg, "\n", "\n           "))
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
