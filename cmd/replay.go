package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/followup/internal/bus"
	"github.com/nextlevelbuilder/followup/internal/config"
	"github.com/nextlevelbuilder/followup/internal/dispatch"
	"github.com/nextlevelbuilder/followup/internal/followup"
	"github.com/nextlevelbuilder/followup/internal/sessions"
	"github.com/nextlevelbuilder/followup/internal/tracing"
)

// pipeline wires bus → session key resolver → registry → scheduler.
type pipeline struct {
	cfg      *config.Config
	bus      *bus.MessageBus
	sched    *followup.Scheduler
	dispatch followup.DispatchFunc
}

func newPipeline(cfg *config.Config, dispatchFn followup.DispatchFunc, opts ...followup.Option) *pipeline {
	opts = append([]followup.Option{
		followup.WithRoutable(func(channel string) bool { return cfg.Routable().Routable(channel) }),
	}, opts...)
	return &pipeline{
		cfg:      cfg,
		bus:      bus.New(64),
		sched:    followup.NewScheduler(followup.NewRegistry(), opts...),
		dispatch: dispatchFn,
	}
}

func (p *pipeline) sessionKey(msg bus.InboundMessage) string {
	scope, mainKey := p.cfg.SessionScope()
	return sessions.ResolveSessionKey(scope, msg.MsgContext(), mainKey, "")
}

// enqueue queues msg on its bucket and kicks the drain.
func (p *pipeline) enqueue(msg bus.InboundMessage) {
	key := p.sessionKey(msg)
	if p.sched.Registry().Enqueue(key, msg.FollowupRun(key), p.cfg.QueueSettings(msg.Channel)) {
		slog.Debug("inbound: queued", "session", key, "channel", msg.Channel, "message_id", msg.MessageID)
	} else {
		slog.Info("inbound: not queued", "session", key, "channel", msg.Channel, "message_id", msg.MessageID)
	}
	p.sched.Schedule(key, p.dispatch)
}

// feed publishes the transcript, honoring per-line delays, then closes the bus.
func (p *pipeline) feed(ctx context.Context, lines []transcriptLine) error {
	defer p.bus.Close()
	for _, l := range lines {
		if d := l.delay(); d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if !p.bus.PublishInbound(ctx, l.InboundMessage) {
			return ctx.Err()
		}
	}
	return nil
}

func (p *pipeline) consume(ctx context.Context) error {
	for {
		msg, ok := p.bus.ConsumeInbound(ctx)
		if !ok {
			return ctx.Err()
		}
		p.enqueue(msg)
	}
}

// run replays lines and waits until every bucket has drained or ctx is done.
func (p *pipeline) run(ctx context.Context, lines []transcriptLine) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.feed(gctx, lines) })
	g.Go(func() error { return p.consume(gctx) })
	err := g.Wait()

	done := make(chan struct{})
	go func() {
		p.sched.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	p.sched.Stop()
	return err
}

func (p *pipeline) report(w io.Writer) {
	for _, st := range p.sched.Stats() {
		line := fmt.Sprintf("pending  %s mode=%s queued=%d dropped=%d", st.Key, st.Mode, st.Queued, st.Dropped)
		if st.LastError != nil {
			line += fmt.Sprintf(" last_error=%q", st.LastError.Error())
		}
		fmt.Fprintln(w, line)
	}
}

func replayCmd() *cobra.Command {
	var (
		input  string
		dbPath string
		dsn    string
		watch  bool
		quiet  bool
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a JSONL transcript through the follow-up queue",
		Long: "Reads inbound messages (one JSON object per line, optional delay_ms) and feeds them through " +
			"session key resolution, the per-session queue and the drain scheduler. Every dispatch is " +
			"printed and recorded in the ledger.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			lines, err := loadTranscript(input)
			if err != nil {
				return err
			}

			tp, shutdown, err := tracing.Setup(ctx, cfg.Telemetry, Version)
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(sctx); err != nil {
					slog.Warn("tracing: shutdown failed", "error", err)
				}
			}()

			st, err := openLedger(ctx, storeConfig(cfg, dbPath, dsn))
			if err != nil {
				return err
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			final := dispatch.NewPrinter(out).Dispatch
			if quiet {
				final = dispatch.NewPrinter(io.Discard).Dispatch
			}
			throttle := dispatch.NewThrottle(cfg.Dispatch.RatePerSecond, cfg.Dispatch.Burst)
			dispatchFn := dispatch.Chain(final,
				dispatch.Traced(tp.Tracer(tracing.TracerName)),
				dispatch.Ledger(st, nil),
				dispatch.Logged(),
				throttle.Middleware(),
			)

			if watch {
				if err := config.Watch(ctx, cfgPath, cfg, func(*config.Config) {
					slog.Info("replay: queue settings reloaded")
				}); err != nil {
					slog.Warn("replay: config watch disabled", "error", err)
				}
			}

			p := newPipeline(cfg, dispatchFn)
			slog.Info("replay: started", "messages", len(lines))
			runErr := p.run(ctx, lines)

			p.report(out)
			counts, err := st.CountByStatus(context.WithoutCancel(ctx))
			if err != nil {
				return fmt.Errorf("ledger counts: %w", err)
			}
			printCounts(out, counts)
			return runErr
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "-", "JSONL transcript (- for stdin)")
	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite ledger path (default from config)")
	cmd.Flags().StringVar(&dsn, "postgres-dsn", "", "record into a Postgres ledger")
	cmd.Flags().BoolVar(&watch, "watch", false, "reload queue settings when the config file changes")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print dispatched prompts")
	return cmd
}
