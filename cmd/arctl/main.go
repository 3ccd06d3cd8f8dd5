package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"actionrepeater/internal/action"
	"actionrepeater/internal/control"
)

// ============================================================================
// arctl - command-line client for actionrepeaterd
// ============================================================================

var (
	socketPath string
	timeout    time.Duration
	insertAt   int
	wpm        int
	listAll    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "arctl",
		Short: "Control the actionrepeater daemon",
		Long: `arctl talks to actionrepeaterd over its Unix socket: start and stop
recordings, replay them, and edit the recorded action list.

Example:
  arctl record start
  arctl record stop
  arctl list
  arctl options set playback_speed=2 play_repeat_count=3
  arctl play`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", control.DefaultSocketPath, "Daemon IPC socket")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Round-trip timeout")

	rootCmd.AddCommand(
		statusCmd(),
		recordCmd(),
		simpleCmd("play", "Replay the recorded actions", control.CmdPlay),
		simpleCmd("cancel", "Cancel the running playback", control.CmdCancel),
		listCmd(),
		removeCmd(),
		clearCmd(),
		waitCmd(),
		typeCmd(),
		keyCmd(),
		exportCmd(),
		importCmd(),
		optionsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func client() *control.Client {
	c := control.NewClient(socketPath)
	c.Timeout = timeout
	return c
}

func do(cmd *cobra.Command, typ string, payload, out any) error {
	return client().Do(cmd.Context(), typ, payload, out)
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func simpleCmd(use, short, typ string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return do(cmd, typ, nil, nil)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show recording, playback and collection state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var st control.Status
			if err := do(cmd, control.CmdStatus, nil, &st); err != nil {
				return err
			}
			fmt.Printf("recording: %t", st.Recording)
			if st.Session != "" {
				fmt.Printf(" (session %s)", st.Session)
			}
			fmt.Println()
			fmt.Printf("playing:   %t\n", st.Playing)
			fmt.Printf("actions:   %d shown, %d total\n", st.Actions, st.TotalActions)
			if st.HasCursorPath {
				fmt.Printf("cursor:    %d movements\n", st.Movements)
			}
			fmt.Printf("hooks:     %t\n", st.HooksInstalled)
			fmt.Printf("watchers:  %d\n", st.Watchers)
			return nil
		},
	}
}

func recordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Start, stop or toggle recording",
	}
	for _, sub := range []struct{ use, typ string }{
		{"start", control.CmdRecordStart},
		{"stop", control.CmdRecordStop},
		{"toggle", control.CmdRecordToggle},
	} {
		typ := sub.typ
		cmd.AddCommand(&cobra.Command{
			Use:   sub.use,
			Short: sub.use + " recording",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				var r control.RecordingResponse
				if err := do(cmd, typ, nil, &r); err != nil {
					return err
				}
				if r.Recording {
					fmt.Printf("recording (session %s)\n", r.Session)
				} else {
					fmt.Println("not recording")
				}
				return nil
			},
		})
	}
	return cmd
}

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded actions (autorepeat folded unless --all)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var list control.ListResponse
			if err := do(cmd, control.CmdList, control.ListRequest{All: listAll}, &list); err != nil {
				return err
			}
			for _, e := range list.Actions {
				mark := " "
				if e.Folded {
					mark = "~"
				}
				fmt.Printf("%4d %s %s\n", e.Index, mark, e.Description)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&listAll, "all", "a", false, "Include autorepeat presses and unfolded waits")
	return cmd
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove INDEX",
		Short: "Remove the action at a list index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid index %q: %w", args[0], err)
			}
			return do(cmd, control.CmdRemove, control.IndexRequest{Index: idx}, nil)
		},
	}
}

func clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "clear [actions|path|all]",
		Short:     "Clear actions, the cursor path or both (default all)",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"actions", "path", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			typ := control.CmdClearAll
			if len(args) == 1 {
				switch args[0] {
				case "actions":
					typ = control.CmdClearActions
				case "path":
					typ = control.CmdClearCursorPath
				}
			}
			return do(cmd, typ, nil, nil)
		},
	}
}

// addAction appends a, or inserts it before --index when that flag is set.
func addAction(cmd *cobra.Command, a action.Action) error {
	if err := action.Validate(a); err != nil {
		return err
	}
	env, err := action.Wrap(a)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("index") {
		return do(cmd, control.CmdInsert, control.ActionRequest{Index: insertAt, Action: env}, nil)
	}
	return do(cmd, control.CmdAdd, control.ActionRequest{Action: env}, nil)
}

func withIndexFlag(cmd *cobra.Command) *cobra.Command {
	cmd.Flags().IntVarP(&insertAt, "index", "i", 0, "Insert before this list index instead of appending")
	return cmd
}

func waitCmd() *cobra.Command {
	return withIndexFlag(&cobra.Command{
		Use:   "wait MS",
		Short: "Add a wait",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ms, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid duration %q: %w", args[0], err)
			}
			return addAction(cmd, &action.WaitAction{DurationMs: ms})
		},
	})
}

func typeCmd() *cobra.Command {
	cmd := withIndexFlag(&cobra.Command{
		Use:   "type TEXT",
		Short: "Add a text-typing action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return addAction(cmd, &action.TextTypeAction{Text: args[0], WPM: wpm})
		},
	})
	cmd.Flags().IntVar(&wpm, "wpm", 0, "Typing speed in words per minute (0 types at once)")
	return cmd
}

func keyCmd() *cobra.Command {
	return withIndexFlag(&cobra.Command{
		Use:       "key press|release KEY",
		Short:     "Add a key press or release (e.g. KEY_ENTER)",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"press", "release"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var tr action.Transition
			if err := tr.UnmarshalText([]byte(args[0])); err != nil {
				return err
			}
			k, err := action.ParseKey(args[1])
			if err != nil {
				return err
			}
			return addAction(cmd, &action.KeyAction{Transition: tr, Key: k})
		},
	})
}

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export FILE",
		Short: "Write the actions and cursor path to a file (- for stdout)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var doc json.RawMessage
			if err := do(cmd, control.CmdExport, nil, &doc); err != nil {
				return err
			}
			if args[0] == "-" {
				_, err := os.Stdout.Write(append(doc, '\n'))
				return err
			}
			return os.WriteFile(args[0], append(doc, '\n'), 0o644)
		},
	}
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Replace the actions and cursor path with a file's contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if !json.Valid(b) {
				return fmt.Errorf("%s is not valid JSON", args[0])
			}
			return do(cmd, control.CmdImport, json.RawMessage(b), nil)
		},
	}
}

func optionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "options",
		Short: "Show or change recording and playback options",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Print the current options",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				var opts json.RawMessage
				if err := do(cmd, control.CmdGetOptions, nil, &opts); err != nil {
					return err
				}
				return printJSON(opts)
			},
		},
		&cobra.Command{
			Use:   "set KEY=VALUE...",
			Short: "Change options, e.g. cursor_movement_mode=relative playback_speed=2",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				update, err := parseAssignments(args)
				if err != nil {
					return err
				}
				var opts json.RawMessage
				if err := do(cmd, control.CmdSetOptions, update, &opts); err != nil {
					return err
				}
				return printJSON(opts)
			},
		},
	)
	return cmd
}

// parseAssignments turns KEY=VALUE pairs into a JSON object. Values that
// parse as JSON (numbers, booleans) keep their type; anything else is sent as
// a string.
func parseAssignments(args []string) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for _, arg := range args {
		key, val, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected KEY=VALUE, got %q", arg)
		}
		var v any
		if err := json.Unmarshal([]byte(val), &v); err != nil {
			v = val
		}
		out[key] = v
	}
	return out, nil
}
