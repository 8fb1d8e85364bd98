package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/roach88/duet/internal/compiler"
	"github.com/roach88/duet/internal/scenario"
)

// watchDelay coalesces the burst of events editors emit on save.
const watchDelay = 150 * time.Millisecond

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
	Strict bool
	JSON   bool // input is a JSON document
	Watch  bool
}

// CompileResult summarizes one compilation.
type CompileResult struct {
	Title       string             `json:"title"`
	Start       string             `json:"start"`
	Scenes      int                `json:"scenes"`
	Endings     int                `json:"endings"`
	Fingerprint string             `json:"fingerprint"`
	Output      string             `json:"output,omitempty"`
	Document    *scenario.Document `json:"document,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <script>",
		Short: "Compile a scenario script to a JSON document",
		Long: `Compile a scenario script into the JSON document players load.

Lenient by default: dangling choice targets and a missing start scene are
accepted. --strict rejects them. Files ending in .json (or --json) are
imported as documents and always checked strictly.

With --watch the script is recompiled every time it changes.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "reject unresolved references")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "treat input as a JSON document")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "recompile when the script changes")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	err := compileOnce(opts, path, formatter)
	if !opts.Watch {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	formatter.VerboseLog("Watching %s", path)
	if err := watchFile(ctx, path, watchDelay, opts.logger(), func() {
		_ = compileOnce(opts, path, formatter)
	}); err != nil {
		return WrapExitError(ExitCommandError, "watch "+path, err)
	}
	return nil
}

func compileOnce(opts *CompileOptions, path string, formatter *OutputFormatter) error {
	src := scriptSource{
		Path:   path,
		JSON:   opts.JSON,
		Strict: opts.Strict,
		Syntax: opts.Config.Syntax.Compiler(),
	}
	formatter.VerboseLog("Compiling %s", path)

	doc, err := loadDocument(src)
	if err != nil {
		return outputCompileErrors(formatter, path, err)
	}

	fingerprint, err := scenario.Fingerprint(doc)
	if err != nil {
		return outputCompileErrors(formatter, path, err)
	}

	result := CompileResult{
		Title:       doc.Title,
		Start:       doc.Start,
		Scenes:      len(doc.Scenes),
		Endings:     doc.Endings(),
		Fingerprint: fingerprint,
		Output:      opts.Output,
	}

	if opts.Output != "" {
		if err := writeDocument(doc, opts.Output); err != nil {
			_ = formatter.Error(ErrCodeWriteFailed, err.Error(), nil)
			return WrapExitError(ExitCommandError, "write output", err)
		}
	} else if formatter.JSON() {
		result.Document = doc
	}

	opts.logger().Debug("compiled scenario", "path", path, "fingerprint", fingerprint)
	return outputCompileSuccess(formatter, result)
}

func outputCompileSuccess(formatter *OutputFormatter, result CompileResult) error {
	if formatter.JSON() {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Compiled %q: %d scene(s), %d ending(s)\n", result.Title, result.Scenes, result.Endings)
	fmt.Fprintf(w, "  start:       %s\n", result.Start)
	fmt.Fprintf(w, "  fingerprint: %s\n", result.Fingerprint)
	if result.Output != "" {
		fmt.Fprintf(w, "Wrote scenario to %s\n", result.Output)
	}
	return nil
}

// outputCompileErrors reports every problem and returns a command error.
func outputCompileErrors(formatter *OutputFormatter, path string, err error) error {
	problems := problemsOf(err)

	if formatter.JSON() {
		first := problems[0]
		_ = formatter.encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: first.Code, Message: first.Message, Details: first.Field},
			Data:   problems,
		})
	} else {
		fmt.Fprintf(formatter.Writer, "✗ Compilation failed: %s\n\n", path)
		printProblems(formatter, path, problems)
	}

	if isLoadError(err) {
		return WrapExitError(ExitCommandError, "load "+path, err)
	}
	return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(problems)))
}

func printProblems(formatter *OutputFormatter, path string, problems []compiler.ValidationError) {
	for _, p := range problems {
		if p.Line > 0 {
			fmt.Fprintf(formatter.Writer, "%s:%d\n", path, p.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", p.Code, p.Field, p.Message)
	}
}

func writeDocument(doc *scenario.Document, filename string) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling scenario: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}

// watchFile calls fn after path is written, created or renamed, until ctx
// is done. The parent directory is watched so editors that save by
// replacing the file are still seen.
func watchFile(ctx context.Context, path string, delay time.Duration, logger *slog.Logger, fn func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(delay)
			} else {
				timer.Reset(delay)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			fn()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", "path", path, "error", err)
		}
	}
}
