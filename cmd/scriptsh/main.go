// Command scriptsh is a shell for the script core. It binds a foreign
// interpreter library and evaluates scripts against it, either from -e,
// line by line from stdin, or in an interactive terminal UI.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/script-core/callback"
	"github.com/wippyai/script-core/native"
	"github.com/wippyai/script-core/runtime"
	"github.com/wippyai/script-core/thread"
)

// exportList collects repeated -export name=script flags.
type exportList map[string]string

func (e exportList) String() string {
	var parts []string
	for k, v := range e {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (e exportList) Set(s string) error {
	name, script, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return fmt.Errorf("expected name=script, got %q", s)
	}
	e[name] = script
	return nil
}

type options struct {
	configDir   string
	lib         string
	stub        bool
	table       bool
	script      string
	logLevel    string
	interactive bool
	lineMode    bool
	exports     exportList
}

func main() {
	opts := options{exports: exportList{}}
	flag.StringVar(&opts.configDir, "config", ".", "Directory to search upwards for "+runtime.ConfigFile)
	flag.StringVar(&opts.lib, "lib", "", "Library to bind (overrides [library] path)")
	flag.BoolVar(&opts.stub, "stub", false, "Bind the built-in stub library")
	flag.BoolVar(&opts.table, "table", false, "Build the stub with an address table")
	flag.StringVar(&opts.script, "e", "", "Evaluate script and exit")
	flag.StringVar(&opts.logLevel, "log", "", "Log level (overrides [log] level)")
	flag.BoolVar(&opts.interactive, "i", false, "Interactive mode with TUI")
	flag.BoolVar(&opts.lineMode, "n", false, "Read scripts line by line from stdin")
	flag.Var(opts.exports, "export", "Export a callback into the host module (name=script, repeatable)")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) (err error) {
	ctx := thread.With(context.Background(), thread.New())

	cfg, err := runtime.FindAndLoadConfig(opts.configDir)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = runtime.DefaultConfig()
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}

	logger, err := runtime.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	runtime.SetLogger(logger)

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, rt.Close(ctx))
	}()

	if err := exportCallbacks(rt, opts.exports); err != nil {
		return err
	}
	if err := bindLibrary(ctx, rt, opts); err != nil {
		return err
	}

	switch {
	case opts.script != "":
		return evalOnce(ctx, rt, opts.script, os.Stdout)
	case opts.interactive || (!opts.lineMode && term.IsTerminal(int(os.Stdin.Fd()))):
		return runInteractive(ctx, rt)
	default:
		return evalLines(ctx, rt, os.Stdin, os.Stdout)
	}
}

func exportCallbacks(rt *runtime.Runtime, exports exportList) error {
	names := make([]string, 0, len(exports))
	for name := range exports {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cb, err := rt.Callback(name, []string{"eval", exports[name]}, 0)
		if err != nil {
			return err
		}
		if _, err := rt.ExportFunc(name, cb, callback.GenericFunc(nil)); err != nil {
			return err
		}
	}
	return nil
}

func bindLibrary(ctx context.Context, rt *runtime.Runtime, opts options) error {
	switch {
	case opts.stub:
		calls := make([]string, 0, len(opts.exports))
		for name := range opts.exports {
			calls = append(calls, name)
		}
		sort.Strings(calls)
		wasm := native.Stub(native.StubOptions{
			HostModule: rt.Config().Engine.HostModule,
			Table:      opts.table,
			Calls:      calls,
		})
		_, err := rt.LoadBytes(ctx, "stub", wasm)
		return err
	case opts.lib != "" || rt.Config().Library.Path != "":
		_, err := rt.Load(ctx, opts.lib)
		return err
	}
	runtime.Logger().Info("no library bound; native commands are unavailable")
	return nil
}

func evalOnce(ctx context.Context, rt *runtime.Runtime, script string, w io.Writer) error {
	res, err := rt.Eval(ctx, script)
	if err != nil {
		return err
	}
	if res.Value != "" {
		fmt.Fprintln(w, res.Value)
	}
	return nil
}

// evalLines evaluates each line of r. Failures are reported and do not
// stop the loop.
func evalLines(ctx context.Context, rt *runtime.Runtime, r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		res, err := rt.Eval(ctx, line)
		if err != nil {
			runtime.Logger().Debug("eval failed", zap.Error(err))
			fmt.Fprintf(w, "error: %s\n", res.Value)
			continue
		}
		if res.Value != "" {
			fmt.Fprintln(w, res.Value)
		}
	}
	return sc.Err()
}
