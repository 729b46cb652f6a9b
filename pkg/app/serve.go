package app

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"pharmacy/internal/auth"
	"pharmacy/internal/store"
	"pharmacy/pkg/httpapi"
)

// runServe starts the reference backend and blocks until ctx is cancelled.
func runServe(ctx context.Context, args []string, logger *logrus.Logger, e env) error {
	cfg, _, err := parseConfig("serve", args, e.getenv, nil)
	if err != nil {
		return err
	}
	configureLogger(logger, cfg)

	kv, release, err := openStorage(ctx, cfg, "backend.json", logger)
	if err != nil {
		return errors.Wrap(err, "open backend storage")
	}
	defer release()

	st, err := store.Open(ctx, kv, store.WithLogger(logger))
	if err != nil {
		return errors.Wrap(err, "open backend state")
	}
	defer st.Close()

	issuer, err := auth.NewIssuer(cfg.JWTSecret, auth.DefaultTTL)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", cfg.Listen)
	}
	api := httpapi.New(st, issuer, nil, logger)
	defer api.Close()
	server := &http.Server{
		Handler:      api.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	served := make(chan error, 1)
	go func() { served <- server.Serve(listener) }()
	logger.WithFields(logrus.Fields{"addr": listener.Addr().String(), "storage": cfg.Storage}).
		Info("pharmacy backend is running")

	select {
	case err := <-served:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server stopped unexpectedly")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	logger.Info("pharmacy backend stopped")
	return nil
}
