// Command ebmsctl runs and administers an ebMS3/AS4 message service handler.
//
// Usage:
//
//	ebmsctl [-config file] [-env file] <command> [arguments]
//
// Commands:
//
//	serve              receive messages on the configured HTTPS listener
//	validate <file>    check every PMode in a YAML PMode document
//	import <file>      copy the PModes of a YAML document into the configured store
//	list               list the PModes of the configured store
//	resolve <id>       show the PMode a message with this ID would use
//
// Without -config the in-memory defaults are used. Environment variables from
// the -env file (default .env, when present) are loaded before the
// configuration is read so that ${VAR} references can use them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/sirosfoundation/go-ebms/internal/config"
)

var errUsage = errors.New("usage: ebmsctl [-config file] [-env file] serve|validate|import|list|resolve [arguments]")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "ebmsctl:", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("ebmsctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", os.Getenv("EBMS_CONFIG"), "configuration file")
	envPath := fs.String("env", ".env", "environment file")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	if err := loadEnv(*envPath); err != nil {
		return err
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}

	logger, err := newLogger(cfg.Logging, stderr)
	if err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return errUsage
	}
	cmd, rest := rest[0], rest[1:]

	switch cmd {
	case "serve":
		return serve(ctx, cfg, logger)
	case "validate":
		if len(rest) != 1 {
			return errUsage
		}
		return validateFile(rest[0], stdout)
	case "import":
		if len(rest) != 1 {
			return errUsage
		}
		return importFile(ctx, cfg, logger, rest[0], stdout)
	case "list":
		return list(ctx, cfg, logger, stdout)
	case "resolve":
		if len(rest) != 1 {
			return errUsage
		}
		return resolve(ctx, cfg, logger, rest[0], stdout)
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

// loadEnv loads path into the environment. A missing default file is ignored.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("no environment file", slog.String("path", path))
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}
