package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/azyu/talemind/internal/app"
	"github.com/azyu/talemind/internal/cardlog"
	"github.com/azyu/talemind/internal/storage"
	"github.com/azyu/talemind/internal/styles"
	"github.com/azyu/talemind/pkg/types"
)

var newCmd = &cobra.Command{
	Use:   "new <name>",
	Short: "Create a new game",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		model, _ := cmd.Flags().GetString("model")
		plotMemory, _ := cmd.Flags().GetBool("plot-memory")
		cardsDir, _ := cmd.Flags().GetString("cards")

		return withApp(func(ctx context.Context, a *app.App) error {
			game, err := a.DB.CreateGame(ctx, args[0], model, plotMemory)
			if err != nil {
				return fmt.Errorf("failed to create game: %w", err)
			}
			fmt.Println(styles.SuccessText.Render(fmt.Sprintf("Created game %d: %s", game.ID, game.Name)))
			if cardsDir == "" {
				return nil
			}
			return importCards(ctx, a, game, cardsDir)
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List games",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			games, err := a.DB.ListGames(ctx)
			if err != nil {
				return fmt.Errorf("failed to list games: %w", err)
			}
			if len(games) == 0 {
				fmt.Println("No games found. Create one with: talemind new <name>")
				return nil
			}
			fmt.Println(styles.Header.Render("Games"))
			for _, g := range games {
				model := g.Model
				if model == "" {
					model = "default model"
				}
				fmt.Printf("  %3d  %s %s\n", g.ID, styles.Title.Render(g.Name), styles.MutedText.Render("("+model+")"))
			}
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <game>",
	Short: "Show the activation status of every world card",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGame(args[0], func(ctx context.Context, a *app.App, game types.Game) error {
			s, err := a.Inspect(ctx, game.ID)
			if err != nil {
				return err
			}
			defer s.Close()

			st := s.State()
			if len(st.World) == 0 {
				fmt.Println("No world cards.")
				return nil
			}
			statuses := s.Statuses()
			fmt.Println(styles.Header.Render(game.Name + ": world cards"))
			for _, c := range st.World {
				label := statuses[c.ID]
				fmt.Printf("  %3d  %-24s %s\n", c.ID, c.Title, styles.Status(label).Render(label))
			}
			return nil
		})
	},
}

var contextCmd = &cobra.Command{
	Use:   "context <game>",
	Short: "Show the context budget the next turn would use",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		showPrompt, _ := cmd.Flags().GetBool("prompt")
		return withGame(args[0], func(ctx context.Context, a *app.App, game types.Game) error {
			s, err := a.Inspect(ctx, game.ID)
			if err != nil {
				return err
			}
			defer s.Close()

			asm := s.Assembly()
			u := asm.Payload.Usage
			fmt.Println(styles.Header.Render(game.Name + ": context"))
			fmt.Println(styles.KV("limit", u.Limit))
			fmt.Println(styles.KV("instructions", u.Instructions))
			fmt.Println(styles.KV("world", u.World))
			fmt.Println(styles.KV("memory", fmt.Sprintf("%d (%s)", u.Memory, memoryLabel(string(asm.Payload.Mode)))))
			fmt.Println(styles.KV("free", u.Free))
			if u.Overflow > 0 {
				fmt.Println(styles.ErrorText.Render(fmt.Sprintf("overflow: %d tokens over the limit", u.Overflow)))
			}
			if showPrompt {
				for _, m := range asm.ChatMessages(s.State().Plots, "") {
					fmt.Println()
					fmt.Println(styles.Key.Render("[" + m.Role + "]"))
					fmt.Println(m.Content)
				}
			}
			return nil
		})
	},
}

func memoryLabel(mode string) string {
	if mode == "" {
		return "none"
	}
	return mode
}

var eventsCmd = &cobra.Command{
	Use:   "events <game>",
	Short: "List the card changes the narrator made",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGame(args[0], func(ctx context.Context, a *app.App, game types.Game) error {
			s, err := a.Inspect(ctx, game.ID)
			if err != nil {
				return err
			}
			defer s.Close()

			st := s.State()
			lines := eventLines(st.PlotEvents, st.WorldEvents, st.Undone)
			if len(lines) == 0 {
				fmt.Println("No card events.")
				return nil
			}
			for _, l := range lines {
				fmt.Println(l.text)
			}
			return nil
		})
	},
}

type eventLine struct {
	id   int64
	text string
}

// eventLines renders both event logs merged in id order.
func eventLines(plots []cardlog.Event[types.PlotCard], world []cardlog.Event[types.WorldCard], undone map[int64]bool) []eventLine {
	var out []eventLine
	add := func(id, msgID, cardID int64, family string, action cardlog.Action, title string) {
		text := fmt.Sprintf("  %4d  reply %-4d %-5s %-7s %d %s", id, msgID, family, action, cardID, title)
		if undone[id] {
			text = styles.MutedText.Render(text + " (undone)")
		}
		out = append(out, eventLine{id: id, text: text})
	}
	for _, e := range plots {
		add(e.ID, e.AssistantMessageID, e.CardID, "plot", e.Action, eventTitle(e))
	}
	for _, e := range world {
		add(e.ID, e.AssistantMessageID, e.CardID, "world", e.Action, eventTitle(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func eventTitle[C cardlog.Card](e cardlog.Event[C]) string {
	snap := e.After
	if snap == nil {
		snap = e.Before
	}
	if snap == nil {
		return ""
	}
	switch c := any(*snap).(type) {
	case types.PlotCard:
		return c.Title
	case types.WorldCard:
		return c.Title
	}
	return ""
}

var undoCmd = &cobra.Command{
	Use:   "undo <game> <reply-id>",
	Short: "Roll back the card changes of a reply",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return replayCmd(cmd, args, true)
	},
}

var redoCmd = &cobra.Command{
	Use:   "redo <game> <reply-id>",
	Short: "Reapply the undone card changes of a reply",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return replayCmd(cmd, args, false)
	},
}

func replayCmd(cmd *cobra.Command, args []string, undo bool) error {
	yes, _ := cmd.Flags().GetBool("yes")
	replyID, err := parseID("reply", args[1])
	if err != nil {
		return err
	}
	return withGame(args[0], func(ctx context.Context, a *app.App, game types.Game) error {
		s, err := a.Inspect(ctx, game.ID)
		if err != nil {
			return err
		}
		defer s.Close()

		verb := "Redo"
		if undo {
			verb = "Undo"
		}
		if err := confirm(fmt.Sprintf("%s the card changes of reply %d?", verb, replyID), yes); err != nil {
			return err
		}
		if undo {
			err = s.UndoTurn(ctx, replyID)
		} else {
			err = s.RedoTurn(ctx, replyID)
		}
		if err != nil {
			return err
		}
		st := s.State()
		fmt.Println(styles.SuccessText.Render(fmt.Sprintf("%s done: %d plot cards, %d world cards", verb, len(st.Plots), len(st.World))))
		return nil
	})
}

var exportCmd = &cobra.Command{
	Use:   "export <game> <file.md>",
	Short: "Export the transcript as markdown",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGame(args[0], func(ctx context.Context, a *app.App, game types.Game) error {
			messages, err := a.DB.ListMessages(ctx, game.ID)
			if err != nil {
				return err
			}
			path, err := filepath.Abs(args[1])
			if err != nil {
				return err
			}
			fs := storage.NewFileSystem(filepath.Dir(path))
			if err := fs.ExportTranscript(filepath.Base(path), game, messages); err != nil {
				return fmt.Errorf("export failed: %w", err)
			}
			fmt.Println(styles.SuccessText.Render(fmt.Sprintf("Exported %d messages to %s", len(messages), path)))
			return nil
		})
	},
}

// withGame runs fn for the game named or numbered by ref.
func withGame(ref string, fn func(ctx context.Context, a *app.App, game types.Game) error) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		game, err := resolveGame(ctx, a.DB, ref)
		if err != nil {
			return err
		}
		return fn(ctx, a, game)
	})
}

func init() {
	newCmd.Flags().String("model", "", "Model for this game (defaults to the provider's model)")
	newCmd.Flags().Bool("plot-memory", false, "Use plot cards instead of raw history as memory")
	newCmd.Flags().String("cards", "", "Directory of markdown cards to import")

	contextCmd.Flags().Bool("prompt", false, "Print the assembled system prompt")

	undoCmd.Flags().BoolP("yes", "y", false, "Skip confirmation")
	redoCmd.Flags().BoolP("yes", "y", false, "Skip confirmation")
}
