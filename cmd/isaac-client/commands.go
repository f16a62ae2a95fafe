package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"isaac-client/internal/adapter/tui/watch"
	"isaac-client/internal/infra/logger"
)

// runSession is the default command: observe a stream and steer it until
// interrupted.
func runSession(ctx context.Context, args []string) error {
	flags := newFlags("run")
	if err := flags.parse(args); err != nil {
		return err
	}
	cfg, err := flags.loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	a, err := newApp(ctx, cfg, features{steering: true, recorder: true, gateway: true})
	if err != nil {
		return err
	}
	defer a.close()

	a.log.Info("isaac-client starting",
		"version", version,
		"endpoint", cfg.Server.Endpoint(),
		"stream", cfg.Observe.Stream,
		"reconnect", cfg.Reconnect.Enabled,
	)
	return a.serve(ctx)
}

// runProbe opens one session, prints the first session info and exits.
func runProbe(ctx context.Context, args []string) error {
	flags := newFlags("probe")
	if err := flags.parse(args); err != nil {
		return err
	}
	cfg, err := flags.loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	a, err := newApp(ctx, cfg, features{})
	if err != nil {
		return err
	}
	defer a.close()

	return probe(ctx, a, os.Stdout)
}

func probe(ctx context.Context, a *app, w io.Writer) error {
	if err := a.client.Open(ctx); err != nil {
		return err
	}
	defer a.client.Close()

	wctx, cancel := context.WithTimeout(ctx, a.cfg.Observe.SessionInfoTimeout)
	defer cancel()
	info, err := a.client.WaitSessionInfo(wctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

// runWatch runs a session behind the terminal view. Logs aimed at the
// terminal are discarded; file outputs still receive them.
func runWatch(ctx context.Context, args []string) error {
	flags := newFlags("watch")
	if err := flags.parse(args); err != nil {
		return err
	}
	cfg, err := flags.loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	cfg.Logger = logger.OffTerminal(cfg.Logger)

	a, err := newApp(ctx, cfg, features{steering: true})
	if err != nil {
		return err
	}
	defer a.close()

	deps := watch.Deps{Bus: a.bus, Client: a.client}
	if a.steerer != nil {
		deps.Steering = a.steerer
	}
	model := watch.New(deps)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	model.SetProgramSender(func(msg tea.Msg) { p.Send(msg) })

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	serveErr := make(chan error, 1)
	go func() { serveErr <- a.serve(ctx) }()

	_, err = p.Run()
	cancel()
	if sErr := <-serveErr; sErr != nil && !errors.Is(sErr, context.Canceled) {
		return sErr
	}
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
