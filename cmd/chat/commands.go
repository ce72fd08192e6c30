package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/MegaGrindStone/bfchat/internal/widget"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the transcript of the current session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app, r *renderer) error {
			unsubscribe := a.widget.Store().Subscribe(r.handle)
			defer unsubscribe()

			if _, ok, err := a.widget.Session().Get(); err != nil {
				return err
			} else if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "No session yet.")
				return nil
			}
			return a.loadHistory(ctx)
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send a message and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app, r *renderer) error {
			// The transcript is sent along with the message, without printing it.
			if err := a.loadHistory(ctx); err != nil {
				return err
			}

			unsubscribe := a.widget.Store().Subscribe(r.handle)
			defer unsubscribe()

			return a.widget.Send(ctx, strings.Join(args, " "), r.delta)
		})
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Add a file to the context of the current session",
	Long: `Upload a .txt, .md, .pdf or .docx file into the context of the current
session. Only the first file is uploaded.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app, r *renderer) error {
			unsubscribe := a.widget.Store().Subscribe(r.handle)
			defer unsubscribe()

			return a.upload(ctx, args)
		})
	},
}

var clearFilesCmd = &cobra.Command{
	Use:   "clear-files",
	Short: "Remove every uploaded file from the context of the current session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app, r *renderer) error {
			unsubscribe := a.widget.Store().Subscribe(r.handle)
			defer unsubscribe()

			return a.clearFiles(ctx)
		})
	},
}

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Forget the current session and start a new chat",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(_ context.Context, a *app, _ *renderer) error {
			if err := a.widget.NewChat(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Started a new chat.")
			return nil
		})
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Print the current session ID",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(_ context.Context, a *app, _ *renderer) error {
			token, ok, err := a.widget.Session().Get()
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "No session yet.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		})
	},
}

// withApp runs fn with a fresh app. An interrupt cancels the whole command.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app, r *renderer) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	return runApp(ctx, cmd.OutOrStdout(), fn)
}

func runApp(ctx context.Context, out io.Writer, fn func(ctx context.Context, a *app, r *renderer) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	return fn(ctx, a, newRenderer(out))
}

func (a *app) loadHistory(ctx context.Context) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	return a.widget.LoadHistory(ctx)
}

func (a *app) clearFiles(ctx context.Context) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	return a.widget.ClearFiles(ctx)
}

// upload opens the first of paths and uploads it under its base name.
func (a *app) upload(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return widget.ErrNoFile
	}

	f, err := os.Open(paths[0])
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", paths[0], err)
	}
	defer f.Close()

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	return a.widget.Upload(ctx, widget.File{Name: filepath.Base(paths[0]), Content: f})
}
