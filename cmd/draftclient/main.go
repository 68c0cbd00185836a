// Command draftclient plays one side of a draft from the terminal.
//
//	draftclient [ROOM]
//
// The room defaults to ROOM_CODE. Type "help" for commands.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/anifight-draft/internal/bridge"
	"github.com/DoyleJ11/anifight-draft/internal/catalog"
	"github.com/DoyleJ11/anifight-draft/internal/config"
	"github.com/DoyleJ11/anifight-draft/internal/logging"
	"github.com/DoyleJ11/anifight-draft/internal/session"
	"github.com/DoyleJ11/anifight-draft/internal/transport"
)

var errQuit = errors.New("quit")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) (err error) {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	room := cfg.RoomCode
	if len(args) > 0 {
		room = args[0]
	}
	if room == "" {
		return errors.New("no room code: pass one or set ROOM_CODE")
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cat, err := catalog.LoadFile(cfg.CatalogFile)
	if err != nil {
		return fmt.Errorf("loading catalog file: %w", err)
	}
	defer func() { err = multierr.Append(err, cat.Close()) }()

	opts := session.Options{
		Transport: transport.Options{
			BaseURL:             cfg.ServerURL,
			ClientID:            uuid.NewString(),
			BaseDelay:           cfg.ReconnectBaseDelay,
			MaxDelay:            cfg.ReconnectMaxDelay,
			MaxAttempts:         cfg.ReconnectMaxAttempts,
			HeartbeatInterval:   cfg.HeartbeatCheckInterval,
			MaxMissedHeartbeats: cfg.HeartbeatMaxMissed,
			DialTimeout:         cfg.DialTimeout,
		},
		Bridge: bridge.Options{
			GraceTicks:      cfg.GraceTicks,
			CompletionTicks: cfg.CompletionTicks(),
		},
		TickInterval: cfg.TickInterval,
	}

	g, gctx := errgroup.WithContext(ctx)
	ctrl := session.New(gctx, logger, cat, transport.WebsocketDialer{}, opts)
	if err := ctrl.Connect(gctx, room); err != nil {
		return fmt.Errorf("connecting to %s: %w", room, err)
	}
	logger.Info("joining room", zap.String("room", room), zap.String("server", cfg.ServerURL))

	lines := make(chan string)
	// stdin is not cancellable, so the reader is left behind on exit
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(stdin)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-gctx.Done():
				return
			}
		}
	}()

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case u := <-ctrl.Updates():
				printUpdate(stdout, u)
			}
		}
	})
	g.Go(func() error {
		defer ctrl.Close()
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return errQuit
				}
				cmd, err := parseCommand(line)
				if err != nil {
					fmt.Fprintln(stdout, err)
					continue
				}
				if err := execute(gctx, ctrl, cmd, stdout); err != nil {
					if errors.Is(err, errQuit) {
						return err
					}
					fmt.Fprintf(stdout, "%s: %v\n", cmd.name, err)
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}

func execute(ctx context.Context, ctrl *session.Controller, cmd command, w io.Writer) error {
	switch cmd.name {
	case cmdHelp:
		fmt.Fprint(w, helpText)
	case cmdStart:
		return ctrl.StartGame(ctx, cmd.templateID, cmd.poolIDs)
	case cmdDraw:
		d, err := ctrl.Draw(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "drew %s (tier %s, %s%%)\n", d.Entity.Name, d.Rating.Tier, d.Rating.PercentileLabel())
	case cmdPlace:
		return ctrl.Place(ctx, cmd.slot)
	case cmdReset:
		return ctrl.Reset(ctx)
	case cmdStatus:
		v, err := ctrl.View(ctx)
		if err != nil {
			return err
		}
		printView(w, v)
	case cmdOnline:
		ctrl.NetworkOnline()
	case cmdVisible:
		ctrl.Visible()
	case cmdQuit:
		return errQuit
	}
	return nil
}
