package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/azyu/talemind/internal/app"
	"github.com/azyu/talemind/internal/logging"
	"github.com/azyu/talemind/internal/metrics"
	"github.com/azyu/talemind/internal/narrator"
	"github.com/azyu/talemind/internal/session"
	"github.com/azyu/talemind/internal/styles"
	"github.com/azyu/talemind/internal/task"
	"github.com/azyu/talemind/pkg/types"
)

var playCmd = &cobra.Command{
	Use:   "play <game>",
	Short: "Play a game in the terminal",
	Long: `Play a game in the terminal. Type to act, or use a command:

  /reroll [id]        regenerate a reply (default: the last one)
  /undo [id]          roll back a reply's card changes
  /redo [id]          reapply them
  /dismiss <event>    hide a card change notice
  /illustrate [text]  illustrate the last reply
  /status             world card activation
  /context            context budget
  /quit               leave

Ctrl-C stops a reply that is streaming.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		return withGame(args[0], func(ctx context.Context, a *app.App, game types.Game) error {
			if metricsAddr != "" {
				stop := serveMetrics(ctx, metricsAddr)
				defer stop()
			}
			s, err := a.OpenSession(ctx, game.ID)
			if err != nil {
				return err
			}
			return play(ctx, s, game)
		})
	},
}

// serveMetrics exposes /metrics on addr until the returned func is called.
func serveMetrics(ctx context.Context, addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error(ctx, "metrics server stopped", err, "addr", addr)
		}
	}()
	fmt.Println(styles.MutedText.Render("metrics on http://" + addr + "/metrics"))
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}

func play(ctx context.Context, s *session.Session, game types.Game) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	go func() {
		for range sigs {
			if !s.Cancel() {
				fmt.Println(styles.MutedText.Render("\n(type /quit to leave)"))
			}
		}
	}()

	fmt.Println(styles.Header.Render(game.Name))
	printTranscript(s.State())

	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(styles.Prompt.Render("> "))
		if !in.Scan() {
			fmt.Println()
			return in.Err()
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		name, rest := parseCommand(line)
		if name == "quit" {
			return nil
		}
		if err := runTurn(ctx, s, name, rest); err != nil {
			fmt.Println(styles.ErrorText.Render(err.Error()))
		}
	}
}

// parseCommand splits a "/name args" line. Plain input yields an empty name.
func parseCommand(line string) (string, string) {
	if !strings.HasPrefix(line, "/") {
		return "", line
	}
	name, rest, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	return strings.ToLower(name), strings.TrimSpace(rest)
}

func runTurn(ctx context.Context, s *session.Session, name, rest string) error {
	switch name {
	case "":
		return s.Send(ctx, rest, printEvent)
	case "reroll":
		id, err := replyArg(s.State(), rest)
		if err != nil {
			return err
		}
		return s.Reroll(ctx, id, printEvent)
	case "undo", "redo":
		id, err := replyArg(s.State(), rest)
		if err != nil {
			return err
		}
		if name == "undo" {
			err = s.UndoTurn(ctx, id)
		} else {
			err = s.RedoTurn(ctx, id)
		}
		if err != nil {
			return err
		}
		fmt.Println(styles.SuccessText.Render(fmt.Sprintf("%s applied to reply %d", name, id)))
		return nil
	case "dismiss":
		var ids []int64
		for _, f := range strings.Fields(rest) {
			id, err := parseID("event", f)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		s.Dismiss(ids...)
		return nil
	case "illustrate":
		id, ok := lastReply(s.State())
		if !ok {
			return errors.New("nothing to illustrate yet")
		}
		prompt := rest
		if prompt == "" {
			msg, _ := s.State().Message(id)
			prompt = msg.Content
		}
		err := s.Illustrate(ctx, id, prompt, func(res task.IllustrationResult) {
			if res.Err != nil {
				fmt.Println(styles.ErrorText.Render("\nillustration failed: " + res.Err.Error()))
				return
			}
			fmt.Println(styles.InfoText.Render(fmt.Sprintf("\nillustration for reply %d: %s", res.AssistantMessageID, res.URL)))
		})
		if err == nil {
			fmt.Println(styles.MutedText.Render("illustrating in the background"))
		}
		return err
	case "status":
		statuses := s.Statuses()
		for _, c := range s.State().World {
			label := statuses[c.ID]
			fmt.Printf("  %-24s %s\n", c.Title, styles.Status(label).Render(label))
		}
		return nil
	case "context":
		u := s.Usage()
		fmt.Println(styles.KV("used", fmt.Sprintf("%d/%d", u.Total(), u.Limit)))
		fmt.Println(styles.MutedText.Render(fmt.Sprintf("instructions %d, world %d, memory %d, free %d", u.Instructions, u.World, u.Memory, u.Free)))
		return nil
	default:
		return fmt.Errorf("unknown command /%s", name)
	}
}

// replyArg returns the reply id in arg, or the last reply when arg is empty.
func replyArg(st session.State, arg string) (int64, error) {
	if arg != "" {
		return parseID("reply", arg)
	}
	id, ok := lastReply(st)
	if !ok {
		return 0, errors.New("no reply yet")
	}
	return id, nil
}

// lastReply returns the id of the newest confirmed assistant message.
func lastReply(st session.State) (int64, bool) {
	for i := len(st.Messages) - 1; i >= 0; i-- {
		m := st.Messages[i]
		if m.Role == types.RoleAssistant && !m.Tentative() {
			return m.ID, true
		}
	}
	return 0, false
}

func printTranscript(st session.State) {
	for _, m := range st.Messages {
		if m.Role == types.RoleUser {
			fmt.Println(styles.Prompt.Render("> ") + styles.Role(m.Role).Render(m.Content))
			continue
		}
		fmt.Println(styles.Role(m.Role).Render(m.Content))
		fmt.Println(styles.MutedText.Render(fmt.Sprintf("  reply %d", m.ID)))
	}
}

func printEvent(ev narrator.Event, st session.State) {
	switch ev.Kind {
	case narrator.EventChunk:
		fmt.Print(styles.AssistantMessage.Render(ev.Chunk.Delta))
	case narrator.EventDone:
		fmt.Println()
		fmt.Println(styles.MutedText.Render(fmt.Sprintf("  reply %d", ev.Done.FinalMessage.ID)))
		for _, l := range eventLines(ev.Done.PlotEvents, ev.Done.WorldEvents, st.Undone) {
			if !st.Dismissed[l.id] {
				fmt.Println(styles.Notice.Render(strings.TrimSpace(l.text)))
			}
		}
	case narrator.EventError:
		fmt.Println()
	}
}

func init() {
	playCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
}
