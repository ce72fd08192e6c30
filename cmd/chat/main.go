package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MegaGrindStone/bfchat/internal/api"
	"github.com/MegaGrindStone/bfchat/internal/services"
	"github.com/MegaGrindStone/bfchat/internal/widget"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bfchat",
	Short: "Chat with the assistant from the terminal",
	Long: `bfchat is a terminal front end for the chat backend.
It keeps the session between runs, so history, uploads and chat turns
continue the same conversation until "bfchat new" is run.`,
	SilenceUsage: true,
}

func main() {
	// Interrupts are handled per command, see withApp and replCmd.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is $XDG_CONFIG_HOME/bfchat/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("server", "", "base URL of the chat backend")
	rootCmd.PersistentFlags().String("data-dir", "", "directory of the session file")
	rootCmd.PersistentFlags().Int("history-limit", 0, "keep only the newest messages in memory (0 keeps all)")
	rootCmd.PersistentFlags().Duration("timeout", 0, "timeout of history, upload and clear requests")

	cobra.CheckErr(viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server")))
	cobra.CheckErr(viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir")))
	cobra.CheckErr(viper.BindPFlag("history_limit", rootCmd.PersistentFlags().Lookup("history-limit")))
	cobra.CheckErr(viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout")))

	rootCmd.AddCommand(historyCmd, sendCmd, uploadCmd, clearFilesCmd, newCmd, sessionCmd, replCmd)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	viper.SetEnvPrefix("BFCHAT")
	viper.AutomaticEnv()

	cfgDir, err := os.UserConfigDir()
	cobra.CheckErr(err)
	userConfigDir := filepath.Join(cfgDir, "bfchat")

	viper.SetDefault("server", "http://localhost:8000")
	viper.SetDefault("data_dir", userConfigDir)
	viper.SetDefault("history_limit", 0)
	viper.SetDefault("timeout", 30*time.Second)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(userConfigDir)
		viper.SetConfigType("toml")
		viper.SetConfigName("config")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
	} else if verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// app is the widget of one command run, with its durable session storage.
type app struct {
	widget  *widget.Widget
	kv      services.BoltKV
	timeout time.Duration
	logger  *slog.Logger
}

func newApp() (*app, error) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	dataDir := viper.GetString("data_dir")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("error creating data directory: %w", err)
	}
	kv, err := services.NewBoltKV(filepath.Join(dataDir, "session.db"))
	if err != nil {
		return nil, fmt.Errorf("error opening session storage: %w", err)
	}

	server := viper.GetString("server")
	logger.Debug("Using backend", slog.String("server", server), slog.String("dataDir", dataDir))

	client := api.New(server, &http.Client{}, logger)
	store := widget.NewMessageStore(widget.WithLimit(viper.GetInt("history_limit")))

	return &app{
		widget:  widget.New(client, kv, store, logger),
		kv:      kv,
		timeout: viper.GetDuration("timeout"),
		logger:  logger,
	}, nil
}

// withTimeout bounds a single request. Chat turns are streamed and are not bounded.
func (a *app) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.timeout)
}

func (a *app) close() {
	a.widget.Close()
	if err := a.kv.Close(); err != nil {
		a.logger.Error("Failed to close session storage", slog.String("err", err.Error()))
	}
}
