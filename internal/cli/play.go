package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/duet/internal/compiler"
	"github.com/roach88/duet/internal/engine"
	"github.com/roach88/duet/internal/lobby"
	"github.com/roach88/duet/internal/scenario"
	"github.com/roach88/duet/internal/store"
	"github.com/roach88/duet/internal/transport"
)

// PlayOptions holds flags for the play command.
type PlayOptions struct {
	*RootOptions
	Room     string
	Role     string
	Name     string
	Script   string
	RelayURL string
}

// NewPlayCommand creates the play command.
func NewPlayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Join a room and play from the terminal",
		Long: `Join a room through a relay and play one side of a session.

The primary may pass --script to publish the room's scenario; the
secondary loads whatever the primary published. Commands:

  <n> [text]         take choice n, optionally writing a log entry
  edit <id> <text>   rewrite one of your log entries
  help               list commands
  quit               leave the room

Example:
  duet play --room ABCD --role primary --name Ann --script story.duet
  duet play --room ABCD --role secondary --name Ben`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Room, "room", "", "room code (2-12 letters or digits)")
	cmd.Flags().StringVar(&opts.Role, "role", "", "primary or secondary")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name (defaults to the last one used in this room)")
	cmd.Flags().StringVar(&opts.Script, "script", "", "scenario script to publish (primary only)")
	cmd.Flags().StringVar(&opts.RelayURL, "relay", "", "relay base URL (default $DUET_RELAY_URL)")
	_ = cmd.MarkFlagRequired("room")
	_ = cmd.MarkFlagRequired("role")

	return cmd
}

func runPlay(opts *PlayOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	logger := opts.logger()

	cfg := opts.Config
	if opts.RelayURL != "" {
		cfg.RelayURL = opts.RelayURL
	}

	var script string
	if opts.Script != "" {
		data, err := os.ReadFile(opts.Script)
		if err != nil {
			_ = formatter.Error(ErrCodeReadFailed, err.Error(), nil)
			return WrapExitError(ExitCommandError, "read script", err)
		}
		script = string(data)
	}

	backend, err := store.OpenBackend(cfg.StoreDriver, cfg.StoreTarget())
	if err != nil {
		return WrapExitError(ExitCommandError, "open store", err)
	}
	defer func() {
		if closeErr := backend.Close(); closeErr != nil {
			logger.Error("error closing store", "error", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lb := &lobby.Lobby{KV: backend, Syntax: cfg.Syntax.Compiler(), Logger: logger}
	ticket, err := lb.Enter(ctx, lobby.Entry{
		Room:        opts.Room,
		Role:        opts.Role,
		DisplayName: opts.Name,
		Script:      script,
		ScriptName:  scriptSource{Path: opts.Script}.sourceName(),
	})
	if err != nil {
		return outputLobbyError(formatter, err)
	}
	if ticket.Published {
		fmt.Fprintf(cmd.OutOrStdout(), "Published %q to room %s\n", ticket.Document.Title, ticket.Room)
	}

	ws := transport.NewWS(cfg.WebsocketURL(), cfg.RelayURL, logger)
	client := engine.New(ticket.Room, ticket.Role, ticket.DisplayName, ws,
		engine.WithLogger(logger),
		engine.WithDebounce(cfg.Debounce),
	)
	if err := client.Load(ticket.Document); err != nil {
		return WrapExitError(ExitCommandError, "load scenario", err)
	}
	return playSession(ctx, client, cmd.InOrStdin(), cmd.OutOrStdout())
}

func outputLobbyError(formatter *OutputFormatter, err error) error {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return outputCompileErrors(formatter, compileErr.Source, err)
	}
	_ = formatter.Error(ErrCodeLobby, err.Error(), nil)
	return WrapExitError(ExitCommandError, "enter room", err)
}

// playSession joins the room and relays terminal input to c until the
// player quits, input ends, or ctx is done.
func playSession(ctx context.Context, c *engine.Client, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		runErr <- c.Run(ctx)
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := c.Join(); err != nil {
		return err
	}

	r := &viewRenderer{w: out}
	leaving := false
	for {
		select {
		case <-c.Changed():
			v := c.View()
			r.render(v)
			if v.Phase == engine.PhaseRedirected && !leaving {
				leaving = true
				_ = c.Leave()
			}
		case line, ok := <-lines:
			if !ok {
				lines = nil
				leaving = true
				_ = c.Leave()
				continue
			}
			if handleInput(c, line, out) {
				leaving = true
				_ = c.Leave()
			}
		case err := <-runErr:
			v := c.View()
			r.render(v)
			if v.Phase == engine.PhaseRedirected {
				return NewExitError(ExitFailure, v.Notice)
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

// inputCommand is one parsed line of player input.
type inputCommand struct {
	Verb   string // "choose", "edit", "help", "quit"
	Choice int    // zero-based
	ID     string
	Text   string
}

func parseInput(line string) (inputCommand, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return inputCommand{}, nil
	}
	head, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(head) {
	case "quit", "q", "exit":
		return inputCommand{Verb: "quit"}, nil
	case "help", "?":
		return inputCommand{Verb: "help"}, nil
	case "edit":
		id, body, _ := strings.Cut(rest, " ")
		if id == "" {
			return inputCommand{}, fmt.Errorf("usage: edit <id> <text>")
		}
		return inputCommand{Verb: "edit", ID: id, Text: strings.TrimSpace(body)}, nil
	}

	n, err := strconv.Atoi(head)
	if err != nil || n < 1 {
		return inputCommand{}, fmt.Errorf("unknown command %q (try help)", head)
	}
	return inputCommand{Verb: "choose", Choice: n - 1, Text: rest}, nil
}

// handleInput applies one line. It reports whether the player asked to quit.
func handleInput(c *engine.Client, line string, out io.Writer) bool {
	cmd, err := parseInput(line)
	if err != nil {
		fmt.Fprintln(out, err)
		return false
	}

	switch cmd.Verb {
	case "quit":
		return true
	case "help":
		fmt.Fprintln(out, "commands: <n> [text] | edit <id> <text> | help | quit")
	case "choose":
		_ = c.Choose(cmd.Choice, cmd.Text)
	case "edit":
		_ = c.Edit(cmd.ID, cmd.Text)
	}
	return false
}

// viewRenderer prints a view whenever something a player cares about
// changed since the last one it printed.
type viewRenderer struct {
	w    io.Writer
	last string
}

func (r *viewRenderer) render(v engine.View) {
	key := viewKey(v)
	if key == r.last {
		return
	}
	r.last = key
	renderView(r.w, v)
}

func viewKey(v engine.View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%t|%s|%d", v.Phase, v.Ready, v.Notice, len(v.Roster.Entries))
	if v.State != nil {
		fmt.Fprintf(&b, "|%d", v.State.Version)
	}
	for _, m := range v.Log {
		fmt.Fprintf(&b, "|%s:%t:%s", m.ID, m.Edited, m.Body)
	}
	return b.String()
}

func renderView(w io.Writer, v engine.View) {
	fmt.Fprintf(w, "--- room %s | %s (%s) | %s", v.Room, v.DisplayName, v.Role, v.Phase)
	if v.State != nil {
		fmt.Fprintf(w, " | v%d | turn %s", v.State.Version, v.State.Turn)
	}
	fmt.Fprintln(w)

	if len(v.Roster.Entries) > 0 {
		names := make([]string, len(v.Roster.Entries))
		for i, e := range v.Roster.Entries {
			names[i] = fmt.Sprintf("%s (%s)", e.DisplayName, e.Role)
		}
		fmt.Fprintf(w, "players: %s\n", strings.Join(names, ", "))
	}
	if v.Phase == engine.PhaseActive && !v.Ready {
		fmt.Fprintf(w, "waiting for %s to join\n", v.Role.Opposite())
	}

	if v.State != nil && len(v.State.Vars) > 0 {
		fmt.Fprintf(w, "vars: %s\n", formatVars(v.State.Vars))
	}

	switch scene := v.Scene.(type) {
	case scenario.LinearScene:
		fmt.Fprintf(w, "\n[%s]\n", scene.ID)
		for _, line := range scene.Body {
			fmt.Fprintf(w, "  %s\n", line)
		}
		for i, ch := range scene.Choices {
			fmt.Fprintf(w, "  %d) %s\n", i+1, ch.Text)
		}
		if v.MyTurn {
			fmt.Fprintln(w, "your turn")
		}
	case scenario.Ending:
		fmt.Fprintf(w, "\n[%s] %s\n", scene.ID, scene.Title)
		for _, line := range scene.Body {
			fmt.Fprintf(w, "  %s\n", line)
		}
		fmt.Fprintln(w, "the end")
	}

	if len(v.Log) > 0 {
		fmt.Fprintln(w, "\nlog:")
		for _, m := range v.Log {
			edited := ""
			if m.Edited {
				edited = " (edited)"
			}
			fmt.Fprintf(w, "  %s %s: %s%s\n", m.ID, m.DisplayName, m.Body, edited)
		}
	}

	if v.Notice != "" {
		fmt.Fprintf(w, "! %s\n", v.Notice)
	}
}

func formatVars(vars map[string]int) string {
	var parts []string
	for _, k := range slices.Sorted(maps.Keys(vars)) {
		parts = append(parts, fmt.Sprintf("%s=%d", k, vars[k]))
	}
	return strings.Join(parts, " ")
}
