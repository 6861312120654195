package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/conorfennell/knolmark/internal/config"
	"github.com/conorfennell/knolmark/internal/storage"
)

const usage = `Usage: knolmark [flags] <command> [args]

Commands:
  capture <request.json|->         store a highlight from a viewer selection
  generate <source>                turn flashcard highlights into flashcards
  review                           review flashcards in the terminal
  cards list                       list flashcards
  cards edit <id> <q> <a>          edit a flashcard
  cards delete <id>                delete a flashcard and its progress
  import <dir>                     import Q:/A: flashcards from Markdown files
  export <source>                  write a document's highlights to Markdown
  serve                            run the local web interface
  snapshot [message]               commit the storage root to git

Flags:
`

// errNothingToDo marks a command that ran but had no work. It is reported
// without failing the process.
var errNothingToDo = errors.New("nothing to do")

// app carries what every command needs.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	store  *storage.Store
}

func main() {
	// A missing .env file is fine.
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("knolmark", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	config.Flags(fs)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, cfg, logger, fs.Args())
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string) int {
	backend, err := storage.Open(cfg.Backend, cfg.Root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	a := &app{cfg: cfg, logger: logger, store: storage.New(backend, logger)}
	defer func() {
		if err := a.store.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Error("Failed to close storage", "error", err)
		}
	}()
	logger.Debug("Storage opened", "root", cfg.Root, "backend", cfg.Backend)

	commands := map[string]func(context.Context, []string) error{
		"capture":  a.capture,
		"generate": a.generate,
		"review":   a.review,
		"cards":    a.cards,
		"import":   a.importDir,
		"export":   a.export,
		"serve":    a.serve,
		"snapshot": a.snapshot,
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	err = cmd(ctx, args[1:])
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errNothingToDo):
		fmt.Println(err)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
}
