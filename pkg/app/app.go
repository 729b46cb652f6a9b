// Package app wires the storefront packages into the pharmacy command.
package app

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"pharmacy/pkg/storage"
	"pharmacy/pkg/version"
)

const usage = `usage: pharmacy <command> [flags]

commands:
  serve     run the reference backend
  admin     watch incoming orders and update their status
  shop      chat with the assistant, manage the cart and check out
  version   print the build version
`

// env carries the process surroundings so tests can substitute them.
type env struct {
	stdin  io.Reader
	stdout io.Writer
	getenv func(string) string
}

// Run dispatches to the subcommand named by args[0]. Without a command the
// reference backend is served, matching the single-binary deployment.
func Run(ctx context.Context, args []string, logger *logrus.Logger) error {
	return run(ctx, args, logger, env{stdin: os.Stdin, stdout: os.Stdout, getenv: os.Getenv})
}

func run(ctx context.Context, args []string, logger *logrus.Logger, e env) error {
	if logger == nil {
		logger = logrus.New()
	}

	command := "serve"
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		command, args = args[0], args[1:]
	}

	var err error
	switch command {
	case "serve":
		err = runServe(ctx, args, logger, e)
	case "admin":
		err = runAdmin(ctx, args, logger, e)
	case "shop":
		err = runShop(ctx, args, logger, e)
	case "version":
		fmt.Fprintf(e.stdout, "pharmacy version %s\n", version.Version())
	case "help":
		fmt.Fprint(e.stdout, usage)
	default:
		fmt.Fprint(e.stdout, usage)
		return errors.Errorf("unknown command %q", command)
	}
	if errors.Is(err, flag.ErrHelp) {
		fmt.Fprint(e.stdout, usage)
		return nil
	}
	return err
}

// openStorage returns the key/value space for cfg and its release function.
func openStorage(ctx context.Context, cfg Config, file string, logger logrus.FieldLogger) (storage.Store, func(), error) {
	switch cfg.Storage {
	case StorageMemory:
		return storage.NewMemoryStore(), func() {}, nil
	case StorageRedis:
		rs, err := storage.NewRedisStore(ctx, storage.RedisOptions{
			URL:       cfg.RedisURL,
			Namespace: cfg.RedisNamespace,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return rs, func() {
			if err := rs.Close(); err != nil {
				logger.WithError(err).Warn("closing redis store failed")
			}
		}, nil
	default:
		fs, err := storage.OpenFileStore(filepath.Join(cfg.DataPath, file), logger)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {
			if err := fs.Close(); err != nil {
				logger.WithError(err).Warn("flushing file store failed")
			}
		}, nil
	}
}

// syncWriter serializes writes coming from the prompt and from background
// event handlers.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *syncWriter) printf(format string, args ...interface{}) {
	fmt.Fprintf(s, format, args...)
}
