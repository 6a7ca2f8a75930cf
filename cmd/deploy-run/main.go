package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/deploy-runtime/image"
	"github.com/wippyai/deploy-runtime/pool"
)

func main() {
	var (
		payloadFile = flag.String("payload", "", "Path to a runtime image payload file")
		instances   = flag.Int("n", 2, "Number of interpreter instances")
		backendStr  = flag.String("backend", "compiler", "Loading backend: compiler or interpreter")
		call        = flag.String("call", "", "Global to call, as module.name")
		argsStr     = flag.String("args", "", "Call arguments (comma-separated strings)")
		pathsStr    = flag.String("paths", "", "Extra script search paths (comma-separated)")
		modFile     = flag.String("register", "", "Module source file to publish as NAME=path")
		verbose     = flag.Bool("v", false, "Verbose logging")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *payloadFile == "" && os.Getenv(image.PayloadPathEnv) == "" {
		fmt.Fprintln(os.Stderr, "Usage: deploy-run -payload <image> -call module.name [-args a,b] [-n 4]")
		fmt.Fprintln(os.Stderr, "       deploy-run -payload <image> -i  (interactive mode)")
		os.Exit(1)
	}

	if *payloadFile != "" {
		data, err := os.ReadFile(*payloadFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: read payload: %v\n", err)
			os.Exit(1)
		}
		image.Register(image.DefaultCandidates[0].Section, data)
	}

	var backend image.Backend
	switch *backendStr {
	case "compiler":
		backend = image.BackendCompiler
	case "interpreter":
		backend = image.BackendInterpreter
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown backend %q\n", *backendStr)
		os.Exit(1)
	}

	logger := zap.NewNop()
	if *verbose {
		dev, err := zap.NewDevelopment()
		if err == nil {
			logger = dev
		}
	}

	if *pathsStr != "" {
		os.Setenv(pool.ExtraPathsEnv, strings.ReplaceAll(*pathsStr, ",", string(os.PathListSeparator)))
	}

	ctx := context.Background()
	p, err := pool.New(ctx, *instances, nil, &pool.Options{
		Backend: backend,
		Logger:  logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer p.Close(ctx)

	if *modFile != "" {
		if err := registerModule(p, *modFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	if *interactive {
		if err := runInteractive(p); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *call == "" {
		fmt.Fprintln(os.Stderr, "Error: nothing to do, pass -call or -i")
		os.Exit(1)
	}
	if err := run(ctx, p, *call, *argsStr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// registerModule parses NAME=path and publishes the file's source text to
// every instance's import hook.
func registerModule(p *pool.Pool, arg string) error {
	name, path, ok := strings.Cut(arg, "=")
	if !ok {
		return fmt.Errorf("register: want NAME=path, got %q", arg)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	return p.RegisterModuleSource(name, string(src))
}

func run(ctx context.Context, p *pool.Pool, call, argsStr string) error {
	module, name, ok := splitCall(call)
	if !ok {
		return fmt.Errorf("call target %q is not module.name", call)
	}

	s := p.AcquireOne()
	defer s.Close()

	fn, err := s.Global(ctx, module, name)
	if err != nil {
		return err
	}

	var args []any
	if argsStr != "" {
		for _, a := range strings.Split(argsStr, ",") {
			args = append(args, a)
		}
	}

	fmt.Printf("Calling %s on instance %d...\n", call, s.Instance().Ordinal())
	res, err := fn.Call(ctx, args...)
	if err != nil {
		return err
	}
	val, err := res.Value(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Result: %v\n", val)

	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Println()
		fmt.Println(poolSummary(p))
	}
	return nil
}

// splitCall separates module.name at the last dot so dotted module paths
// keep working.
func splitCall(call string) (module, name string, ok bool) {
	i := strings.LastIndexByte(call, '.')
	if i <= 0 || i == len(call)-1 {
		return "", "", false
	}
	return call[:i], call[i+1:], true
}

var summaryStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#87CEEB"))

func poolSummary(p *pool.Pool) string {
	var b strings.Builder
	b.WriteString(summaryStyle.Render("Pool:"))
	for i := 0; i < p.Balancer().Len(); i++ {
		fmt.Fprintf(&b, " [%d: %d users]", i, p.Balancer().Users(i))
	}
	return b.String()
}
