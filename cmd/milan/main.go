// Milan CLI - compiles Milan programs to stack-machine code and runs them
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/tliron/commonlog"

	"github.com/chazu/milan/cache"
	"github.com/chazu/milan/compiler"
	"github.com/chazu/milan/manifest"
	"github.com/chazu/milan/server"
	"github.com/chazu/milan/vm"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("milan")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// options holds the parsed command line.
type options struct {
	output    string
	run       bool
	exec      string
	disasm    string
	legacyAnd bool
	maxSteps  int
	noCache   bool
	lsp       bool
	verbose   bool
	trace     bool
	paths     []string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("milan", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.output, "o", "", "Write the compiled program image to this path")
	fs.BoolVar(&opts.run, "run", false, "Run the program after compiling it")
	fs.StringVar(&opts.exec, "exec", "", "Run a saved program image")
	fs.StringVar(&opts.disasm, "disasm", "", "Print the listing of a saved program image")
	fs.BoolVar(&opts.legacyAnd, "legacy-and", false, "Emit the historical && sequence (pops the left operand)")
	fs.IntVar(&opts.maxSteps, "max-steps", 0, "Instruction limit for -run and -exec (default from milan.toml)")
	fs.BoolVar(&opts.noCache, "no-cache", false, "Bypass the compile cache configured in milan.toml")
	fs.BoolVar(&opts.lsp, "lsp", false, "Start the language server on stdio")
	fs.BoolVar(&opts.verbose, "v", false, "Verbose output")
	fs.BoolVar(&opts.trace, "trace", false, "Log every executed instruction (implies -v)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: milan [options] [file.mil]\n\n")
		fmt.Fprintf(stderr, "Compiles a Milan program and prints its listing. Without a file, the\n")
		fmt.Fprintf(stderr, "entry named in the nearest milan.toml is compiled.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  milan gcd.mil                 # Print the listing\n")
		fmt.Fprintf(stderr, "  milan -run gcd.mil            # Compile and run, reading input from stdin\n")
		fmt.Fprintf(stderr, "  milan -o gcd.milc gcd.mil     # Save a program image\n")
		fmt.Fprintf(stderr, "  milan -exec gcd.milc          # Run a saved image\n")
		fmt.Fprintf(stderr, "  milan -lsp                    # Start the language server\n")
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.maxSteps < 0 {
		return nil, fmt.Errorf("-max-steps must not be negative")
	}
	opts.paths = fs.Args()
	if len(opts.paths) > 1 {
		return nil, fmt.Errorf("expected at most one source file, got %d", len(opts.paths))
	}
	return opts, nil
}

// run is the whole CLI; it returns the process exit status.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	switch {
	case opts.trace:
		commonlog.Configure(3, nil)
	case opts.verbose:
		commonlog.Configure(2, nil)
	default:
		commonlog.Configure(-1, nil)
	}

	m, err := loadManifest(opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading manifest: %v\n", err)
		return 1
	}
	if opts.legacyAnd {
		m.Compile.LegacyAnd = true
	}
	if opts.maxSteps > 0 {
		m.Run.MaxSteps = opts.maxSteps
	}

	switch {
	case opts.lsp:
		srv := server.NewLSP(server.Options{
			Compiler: m.CompilerOptions(),
			MaxSteps: m.Run.MaxSteps,
		})
		if err := srv.Run(); err != nil {
			fmt.Fprintf(stderr, "Server error: %v\n", err)
			return 1
		}
		return 0

	case opts.exec != "":
		prog, err := vm.ReadImage(opts.exec)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return execute(ctx, prog, m.Run.MaxSteps, opts.trace, stdin, stdout, stderr)

	case opts.disasm != "":
		prog, err := vm.ReadImage(opts.disasm)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if err := prog.WriteListing(stdout); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	source := m.EntryPath()
	if len(opts.paths) == 1 {
		source = opts.paths[0]
	}

	prog, err := build(source, m, opts, stderr)
	if err != nil {
		if compiler.AsErrorList(err) == nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}

	log.Infof("%s: %d instructions, %d variables, hash %x", source, prog.Len(), len(prog.Variables), prog.Hash())

	image := m.ImagePath()
	if opts.output != "" {
		image = opts.output
	}
	if image != "" {
		if err := os.MkdirAll(filepath.Dir(image), 0o755); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if err := vm.WriteImage(image, prog); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		log.Infof("wrote %s", image)
	}

	if opts.run {
		return execute(ctx, prog, m.Run.MaxSteps, opts.trace, stdin, stdout, stderr)
	}

	if m.PrintListing() {
		if err := prog.WriteListing(stdout); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}
	return 0
}

// loadManifest finds the milan.toml governing the source file, or the
// working directory when no file is given.
func loadManifest(opts *options) (*manifest.Manifest, error) {
	start := "."
	if len(opts.paths) == 1 {
		start = filepath.Dir(opts.paths[0])
	}
	m, err := manifest.FindAndLoad(start)
	if err != nil {
		return nil, err
	}
	if m == nil {
		dir, err := filepath.Abs(start)
		if err != nil {
			return nil, err
		}
		m = manifest.Default(dir)
	}
	return m, nil
}

// build compiles source, going through the cache when one is configured.
// Diagnostics are written to stderr as they are reported.
func build(source string, m *manifest.Manifest, opts *options, stderr io.Writer) (*vm.Program, error) {
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", source, err)
	}
	copts := m.CompilerOptions()
	copts.Diagnostics = stderr

	path := m.CachePath()
	if path == "" || opts.noCache {
		res, err := compiler.Compile(string(data), copts)
		if err != nil {
			return nil, err
		}
		return res.Program, nil
	}

	c, err := cache.Open(path)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	prog, hit, err := c.Compile(string(data), copts)
	if err != nil {
		return nil, err
	}
	log.Debugf("%s: cache hit=%t", source, hit)
	return prog, nil
}

// execute runs prog, reporting runtime errors on stderr.
func execute(ctx context.Context, prog *vm.Program, maxSteps int, trace bool, stdin io.Reader, stdout, stderr io.Writer) int {
	interp := vm.NewInterpreter(stdin, stdout)
	interp.MaxSteps = maxSteps
	interp.Trace = trace
	if err := interp.Run(ctx, prog); err != nil {
		fmt.Fprintf(stderr, "Runtime error: %v\n", err)
		return 1
	}
	log.Debugf("executed %d instructions", interp.Steps())
	return 0
}
