package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/MKhalifi/employee-checkin/internal/app"
	"github.com/MKhalifi/employee-checkin/internal/attendance"
	"github.com/MKhalifi/employee-checkin/internal/config"
	"github.com/MKhalifi/employee-checkin/internal/logger"
	"github.com/MKhalifi/employee-checkin/internal/queue"
	"github.com/MKhalifi/employee-checkin/internal/schedule"
)

var (
	version = "dev"
	cli     struct {
		Debug      bool   `help:"Enable debug logging."`
		EnvFile    string `help:"Dotenv file loaded before the environment." default:".env" type:"path"`
		RotateOnce bool   `help:"Open a new check-in window and exit."`
		NoConsume  bool   `help:"Do not consume check-in events."`
		Version    kong.VersionFlag
	}
)

// Worker opens check-in windows on schedule and records check-in events.
func main() {
	kong.Parse(&cli,
		kong.Description("Employee check-in worker: scheduled window rotation and event audit."),
		kong.Vars{"version": version},
	)

	cfg, err := config.Load(cli.EnvFile)
	if err != nil {
		logger.Setup(true, cli.Debug)
		log.Fatal().Err(err).Msg("Load configuration failed")
	}
	logger.Setup(!cfg.Production(), cli.Debug)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("Worker failed")
	}
	log.Info().Msg("Worker stopped")
}

func run(ctx context.Context, cfg config.App) error {
	deps, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close() //nolint:errcheck

	times, err := schedule.ParseTimes(cfg.RotateTimes)
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	sched := schedule.New(times, loc, func(ctx context.Context) error {
		_, err := deps.Service.RotateWindow(ctx)
		return err
	})

	if cli.RotateOnce {
		return sched.RunOnce(ctx)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Stringer("times", clockTimes(times)).Str("timezone", loc.String()).Msg("Rotation scheduler started")
		return sched.Run(ctx)
	})
	if !cli.NoConsume {
		g.Go(func() error {
			return consume(ctx, deps.Queue)
		})
	}
	return g.Wait()
}

func consume(ctx context.Context, q queue.Queue) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	log.Info().Msg("Waiting for check-in events")
	for msg := range messages {
		if msg.Type != queue.TypeCheckinRecorded {
			log.Debug().Str("type", msg.Type).Msg("Skipping unknown message")
			continue
		}
		var rec attendance.Record
		if err := json.Unmarshal(msg.Body, &rec); err != nil {
			log.Warn().Err(err).Msg("Dropping malformed check-in event")
			continue
		}
		log.Info().
			Str("checkin_id", rec.ID).
			Str("email", rec.Email).
			Str("window_id", rec.WindowID).
			Str("session_kind", string(rec.SessionKind)).
			Str("status", string(rec.Status)).
			Time("checkin_time", rec.CheckedInAt).
			Msg("Check-in recorded")
	}
	return ctx.Err()
}

type clockTimes []schedule.ClockTime

func (c clockTimes) String() string {
	out := ""
	for i, t := range c {
		if i > 0 {
			out += ","
		}
		out += t.String()
	}
	return out
}
