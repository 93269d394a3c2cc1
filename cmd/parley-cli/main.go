package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/comigor/parley/internal/archive"
	"github.com/comigor/parley/internal/chat"
	"github.com/comigor/parley/internal/cli"
	"github.com/comigor/parley/internal/config"
	"github.com/comigor/parley/internal/llm"
	"github.com/comigor/parley/internal/logger"
)

var warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, warnStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}
}

func run() error {
	logger.Init(os.Stderr, logger.FormatText)
	_ = godotenv.Load()

	flags := pflag.NewFlagSet("parley-cli", pflag.ExitOnError)
	config.RegisterFlags(flags)
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger.SetLevel(cfg.Log.Level)

	opts := chat.OptionsFromConfig(cfg.Session)
	if cfg.History.ArchivePath != "" {
		store, err := archive.Open(cfg.History.ArchivePath)
		if err != nil {
			return err
		}
		defer store.Close()
		opts.Recorder = store
	}

	interactive := cli.IsInteractive()
	session := chat.New(llm.NewOpenAI(cfg.LLM), opts)

	if err := session.Configure(""); err != nil {
		if !errors.Is(err, llm.ErrMissingCredential) || !interactive {
			return err
		}
		fmt.Println(warnStyle.Render("⚠️  " + llm.CredentialEnv + " environment variable not set!"))
		key, perr := cli.PromptSecret(os.Stdout, "Please enter your OpenAI API key: ")
		if perr != nil {
			return perr
		}
		if err := session.Configure(key); err != nil {
			return err
		}
	}

	var in cli.LineReader
	if interactive {
		in = cli.NewLinerReader()
	} else {
		in = cli.NewScanReader(os.Stdin, os.Stdout)
	}
	defer in.Close()

	repl := cli.New(session, in, os.Stdout, cli.Options{
		HistoryFile: cfg.History.File,
		Spinner:     interactive,
		ClearScreen: interactive,
	})
	return repl.Run(context.Background())
}
