package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/MegaGrindStone/bfchat/internal/widget"
	"github.com/ergochat/readline"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const replHelp = `Type a message to chat. Ctrl-C stops a reply. Commands:
  /upload <path>   add a file to the context
  /clear-files     remove every uploaded file from the context
  /new             start a new chat
  /history         reload and print the transcript
  /quit            leave`

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Chat interactively",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		// Interrupts stop the running reply instead of the whole command.
		interrupts := make(chan os.Signal, 1)
		signal.Notify(interrupts, os.Interrupt)
		defer signal.Stop(interrupts)

		return runApp(cmd.Context(), cmd.OutOrStdout(), func(ctx context.Context, a *app, r *renderer) error {
			unsubscribe := a.widget.Store().Subscribe(r.handle)
			defer unsubscribe()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, replHelp)

			if err := a.loadHistory(ctx); err != nil {
				a.logger.Debug("History not loaded", slog.String("err", err.Error()))
			}

			rl, err := readline.NewFromConfig(&readline.Config{
				Prompt:      "> ",
				HistoryFile: filepath.Join(viper.GetString("data_dir"), "repl_history"),
				Stdin:       cmd.InOrStdin(),
				Stdout:      out,
			})
			if err != nil {
				return fmt.Errorf("error starting line editor: %w", err)
			}
			defer rl.Close()

			return a.repl(ctx, rl, out, r, interrupts)
		})
	},
}

// lineReader is the line editor of the REPL. ReadLine returns io.EOF at the end of input and
// readline.ErrInterrupt when the line is abandoned with Ctrl-C.
type lineReader interface {
	ReadLine() (string, error)
}

// repl reads lines until EOF, /quit or cancellation of ctx. Errors of single commands are shown as notices
// by the widget and do not end the loop. A value on interrupts stops the running chat turn.
func (a *app) repl(ctx context.Context, lines lineReader, out io.Writer, r *renderer,
	interrupts <-chan os.Signal) error {
	for {
		line, err := lines.ReadLine()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)

		switch cmd {
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Fprintln(out, replHelp)
		case "/upload":
			if arg == "" {
				fmt.Fprintln(out, "usage: /upload <path>")
				continue
			}
			if _, statErr := os.Stat(arg); statErr != nil {
				fmt.Fprintln(out, statErr)
				continue
			}
			err = a.upload(ctx, []string{arg})
		case "/clear-files":
			err = a.clearFiles(ctx)
		case "/new":
			if err = a.widget.NewChat(); err == nil {
				fmt.Fprintln(out, "Started a new chat.")
			}
		case "/history":
			err = a.loadHistory(ctx)
		default:
			err = a.chat(ctx, line, r, interrupts)
			if errors.Is(err, context.Canceled) && ctx.Err() == nil {
				r.stopped()
			}
		}

		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, widget.ErrEmptyMessage) {
			a.logger.Debug("Command failed", slog.String("cmd", cmd), slog.String("err", err.Error()))
		}
	}
}

// chat runs one turn as a widget task, so that an interrupt cancels this turn only.
func (a *app) chat(ctx context.Context, text string, r *renderer, interrupts <-chan os.Signal) error {
	// Interrupts received while no turn was running are stale.
	for len(interrupts) > 0 {
		<-interrupts
	}

	task := widget.Go(a.widget, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.widget.Send(ctx, text, r.delta)
	})

	select {
	case <-task.Done():
	case <-interrupts:
		task.Cancel()
	}

	_, err := task.Wait()
	return err
}
