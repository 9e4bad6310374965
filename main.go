package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"palaver/internal/client"
	"palaver/internal/config"
	"palaver/internal/notify"

	"golang.org/x/sync/errgroup"
)

// consoleScheduler prints alerts instead of handing them to an OS
// notification center. It stands in for the platform collaborator when
// the core runs as a terminal client.
type consoleScheduler struct {
	log *slog.Logger
}

func (s consoleScheduler) Schedule(alert notify.Alert) error {
	fmt.Printf("[alert %s] %s: %s\n", alert.ID, alert.Title, alert.Body)
	return nil
}

// grantedPermissions models a user who has already allowed
// notifications.
type grantedPermissions struct{}

func (grantedPermissions) Status() notify.PermissionStatus {
	return notify.PermissionGranted
}

func (grantedPermissions) Request(ctx context.Context) (notify.PermissionStatus, error) {
	return notify.PermissionGranted, nil
}

func run(ctx context.Context) error {
	token := flag.String("token", os.Getenv("PALAVER_TOKEN"), "Bearer token for the session")
	flag.Parse()

	if *token == "" {
		return errors.New("a session token is required (-token or PALAVER_TOKEN)")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	c, err := client.New(ctx, client.Options{
		Config:      cfg,
		Permissions: grantedPermissions{},
		Scheduler:   consoleScheduler{log: log},
		Logger:      log,
	})
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if err := c.SignIn(ctx, *token); err != nil {
		return err
	}

	hydrateCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := c.Hydrate(hydrateCtx); err != nil {
		log.Error("hydration failed, starting from snapshot", "error", err)
	}

	for _, conv := range c.Conversations() {
		preview := ""
		if conv.LastMessage != nil {
			preview = conv.LastMessage.Content
		}
		fmt.Printf("%s  (%d participants)  %s\n", conv.ID, len(conv.Participants), preview)
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gCtx.Done()
		log.Info("shutting down")
		c.SignOut()
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}
