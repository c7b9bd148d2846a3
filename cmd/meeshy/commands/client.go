package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/isopen-io/meeshy-sub000/pkg/cli"
	"github.com/isopen-io/meeshy-sub000/pkg/dispatch"
)

// newDispatcher builds and starts a dispatcher against the context's
// worker endpoints. The caller owns Close.
func newDispatcher(cmdCtx context.Context, ctx *cli.Context) (*dispatch.Dispatcher, error) {
	if ctx.Worker == nil || ctx.Worker.PushURL == "" {
		return nil, fmt.Errorf("context has no worker push URL, add one with 'meeshy config add-context'")
	}
	pushURL := ctx.Worker.PushURL
	subURL := ctx.Worker.SubscribeURL
	if subURL == "" {
		subURL = pushToSubscribe(pushURL)
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	d := dispatch.New(dispatch.Config{
		Pool: dispatch.PoolConfig{
			PushURL: pushURL,
			SubURL:  subURL,
		},
		Logger: logger,
	})

	dialCtx, cancel := context.WithTimeout(cmdCtx, 15*time.Second)
	defer cancel()
	if err := d.Start(dialCtx); err != nil {
		return nil, err
	}
	return d, nil
}

// pushToSubscribe derives the subscribe endpoint from the push endpoint.
func pushToSubscribe(pushURL string) string {
	return strings.TrimSuffix(pushURL, "/push") + "/subscribe"
}

// awaitResult drains events for one task until fn reports done. Progress
// and other intermediate events are passed through fn; terminal errors
// from the worker or the retry machinery become command errors.
func awaitResult(ctx context.Context, task *dispatch.PendingTask, timeout time.Duration, fn func(dispatch.Event) (bool, error)) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer task.Release()

	for {
		ev, err := task.Await(waitCtx)
		if err != nil {
			return fmt.Errorf("waiting for result: %w", err)
		}
		if ev.Err != nil {
			return ev.Err
		}
		done, err := fn(ev)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}
