package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/isopen-io/meeshy-sub000/pkg/cli"
	"github.com/isopen-io/meeshy-sub000/pkg/dispatch"
	"github.com/isopen-io/meeshy-sub000/pkg/wire"
)

var (
	monitorInterval time.Duration
	monitorWidth    int
	monitorHeight   int
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch a worker's result stream live",
	Long: `Subscribe to the worker's event stream and render a live terminal
dashboard: recent results, recent errors, and transport logs. Liveness
is probed with a ping once per refresh interval.

Press Ctrl+C to exit.`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", time.Second, "refresh interval")
	monitorCmd.Flags().IntVar(&monitorWidth, "width", 100, "frame width")
	monitorCmd.Flags().IntVar(&monitorHeight, "height", 32, "frame height")
}

// monitorState accumulates the dashboard content. The event loop writes,
// the render ticker reads.
type monitorState struct {
	mu      sync.Mutex
	results []string
	errors  []string
	counts  map[string]int
	alive   bool
}

func (m *monitorState) add(buf *[]string, line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*buf = append(*buf, time.Now().Format("15:04:05")+" "+line)
	if len(*buf) > 200 {
		*buf = (*buf)[len(*buf)-200:]
	}
}

func (m *monitorState) bump(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
}

func (m *monitorState) status() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ok, failed := 0, 0
	for key, n := range m.counts {
		if wire.ParseResultType(key).IsError() {
			failed += n
		} else {
			ok += n
		}
	}
	health := "DOWN"
	if m.alive {
		health = "UP"
	}
	return fmt.Sprintf("%s ok=%d failed=%d", health, ok, failed)
}

func (m *monitorState) snapshot(buf *[]string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(*buf))
	copy(out, *buf)
	return out
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, err := getContext()
	if err != nil {
		return err
	}

	logWriter := cli.NewLogWriter(200)
	logger := slog.New(slog.NewTextHandler(logWriter, nil))

	if ctx.Worker == nil || ctx.Worker.PushURL == "" {
		return fmt.Errorf("context has no worker push URL, add one with 'meeshy config add-context'")
	}
	d := dispatch.New(dispatch.Config{
		Pool: dispatch.PoolConfig{
			PushURL: ctx.Worker.PushURL,
			SubURL:  subscribeURL(ctx),
		},
		Logger: logger,
	})
	startCtx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	err = d.Start(startCtx)
	cancel()
	if err != nil {
		return err
	}
	defer d.Close()

	state := &monitorState{counts: make(map[string]int)}
	go func() {
		for ev := range d.Events() {
			tag := ev.Type.String()
			state.bump(tag)
			switch {
			case ev.Err != nil:
				state.add(&state.errors, fmt.Sprintf("%s task=%s %s", tag, ev.TaskID, ev.Err.Message))
			case ev.SubKey != "":
				state.add(&state.results, fmt.Sprintf("%s task=%s lang=%s", tag, ev.TaskID, ev.SubKey))
			default:
				state.add(&state.results, fmt.Sprintf("%s task=%s", tag, ev.TaskID))
			}
		}
	}()

	frame := cli.Frame{
		Styles: cli.NewStyles(cli.DefaultTheme),
		Title:  "MEESHY // WORKER MONITOR",
		Sections: []cli.Section{
			{Label: "Results", Content: func() []string { return state.snapshot(&state.results) }},
			{Label: "Errors", Content: func() []string { return state.snapshot(&state.errors) }},
			{Label: "Transport", Content: func() []string { return logWriter.Lines() }},
		},
		Help: "Ctrl+C=quit",
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sigCh:
			fmt.Println()
			return nil
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(cmd.Context(), monitorInterval)
			alive := d.HealthCheck(pingCtx)
			cancel()
			state.mu.Lock()
			state.alive = alive
			state.mu.Unlock()

			frame.Status = state.status()
			// Home the cursor and clear so the frame repaints in place.
			fmt.Print("\x1b[H\x1b[2J")
			fmt.Println(frame.Render(monitorWidth, monitorHeight))
		}
	}
}

// subscribeURL derives the subscribe endpoint when the context only names
// the push endpoint.
func subscribeURL(ctx *cli.Context) string {
	if ctx.Worker.SubscribeURL != "" {
		return ctx.Worker.SubscribeURL
	}
	return pushToSubscribe(ctx.Worker.PushURL)
}
