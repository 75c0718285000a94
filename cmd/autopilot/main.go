// Command autopilot drives a session through the REST API with a reactive
// sensor-based pilot, retrying with a different side preference until the
// car reaches a finish zone or the attempts run out.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/wricardo/mcp-training/lidardrive/game/engine"
	"github.com/wricardo/mcp-training/lidardrive/logging"
)

// ErrNoFinish is returned when every attempt ran out of ticks.
var ErrNoFinish = errors.New("no attempt reached the finish")

type options struct {
	TrackID      string
	SessionID    string
	MaxTicks     int
	MaxAttempts  int
	TicksPerStep int
	Delay        time.Duration
}

// Outcome summarizes a successful run.
type Outcome struct {
	SessionID string
	Attempt   int
	Ticks     int
	Time      string
}

// attemptBias spreads retries across both side preferences, growing
// stronger each round: 0, +0.1, -0.1, +0.2, -0.2, ...
func attemptBias(attempt int) float64 {
	if attempt <= 1 {
		return 0
	}
	step := float64(attempt/2) * 0.1
	if attempt%2 == 0 {
		return step
	}
	return -step
}

func run(ctx context.Context, client *Client, opts options, logger zerolog.Logger) (*Outcome, error) {
	var (
		info *engineInfo
		err  error
	)
	if opts.SessionID != "" {
		client.sessionID = opts.SessionID
		logger.Info().Str("session", client.sessionID).Msg("resuming session")
	} else {
		created, err := client.CreateSession(ctx, opts.TrackID)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("session", created.ID).Str("track", created.TrackID).Msg("session created")
	}

	if info, err = loadTrack(ctx, client); err != nil {
		return nil, err
	}

	ticksPerStep := max(opts.TicksPerStep, 1)
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		frame, err := client.Reset(ctx)
		if err != nil {
			return nil, err
		}

		pilot := NewPilot(info.offsets, attemptBias(attempt))
		log := logger.With().Int("attempt", attempt).Float64("bias", pilot.Bias).Logger()
		log.Info().Msg("attempt started")

		ticks, collisions := 0, 0
		for ticks < opts.MaxTicks {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			in := pilot.Decide(frame)
			n := ticksPerStep
			if frame.Phase == engine.PhaseCountdown {
				// Nothing moves during the countdown; skip it in one call
				n = max(frame.Countdown*info.tickRate, 1)
			}
			n = min(n, opts.MaxTicks-ticks, engine.MaxStepTicks)

			result, err := client.Step(ctx, in, n)
			if err != nil {
				return nil, err
			}
			ticks += result.TicksExecuted
			collisions += result.Collisions
			frame = result.Frame

			log.Debug().
				Int("tick", ticks).
				Float64("x", frame.Pose.X).
				Float64("y", frame.Pose.Y).
				Float64("heading", frame.Pose.Heading).
				Ints("sensors", frame.Sensors).
				Msg("step")

			if frame.Phase == engine.PhaseFinished {
				log.Info().Int("ticks", ticks).Str("time", frame.TimerText).Int("collisions", collisions).Msg("🎉 finished")
				return &Outcome{SessionID: client.sessionID, Attempt: attempt, Ticks: ticks, Time: frame.TimerText}, nil
			}
			if result.TicksExecuted == 0 {
				break
			}
			if opts.Delay > 0 {
				time.Sleep(opts.Delay)
			}
		}

		log.Info().
			Int("ticks", ticks).
			Int("collisions", collisions).
			Float64("x", frame.Pose.X).
			Float64("y", frame.Pose.Y).
			Msg("attempt out of ticks")
	}

	return nil, fmt.Errorf("%w after %d attempts (session %s)", ErrNoFinish, opts.MaxAttempts, client.sessionID)
}

type engineInfo struct {
	offsets  []float64
	tickRate int
}

func loadTrack(ctx context.Context, client *Client) (*engineInfo, error) {
	session, err := client.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if session.Track == nil {
		return nil, fmt.Errorf("session %s did not include its track", session.ID)
	}
	return &engineInfo{
		offsets:  session.Track.EffectiveSensors().Offsets,
		tickRate: session.Track.EffectiveTickRate(),
	}, nil
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "autopilot",
		Usage: "drive a session to the finish with a sensor-only pilot",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://localhost:8080", Usage: "API server URL"},
			&cli.StringFlag{Name: "track", Usage: "track ID for a new session"},
			&cli.StringFlag{Name: "continue", Usage: "drive an existing session by ID"},
			&cli.IntFlag{Name: "max-ticks", Value: 20000, Usage: "tick budget per attempt"},
			&cli.IntFlag{Name: "max-attempts", Value: 6, Usage: "attempts before giving up"},
			&cli.IntFlag{Name: "ticks-per-step", Value: 5, Usage: "ticks each decision is held for"},
			&cli.DurationFlag{Name: "delay", Usage: "pause between steps, to watch over the websocket"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log every step"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			level := "info"
			if cmd.Bool("verbose") {
				level = "debug"
			}
			logger := logging.Setup(level, true).With().Str("component", "autopilot").Logger()

			client := NewClient(cmd.String("url"))
			logger.Info().Str("url", client.baseURL).Msg("connecting to server")

			outcome, err := run(ctx, client, options{
				TrackID:      cmd.String("track"),
				SessionID:    cmd.String("continue"),
				MaxTicks:     int(cmd.Int("max-ticks")),
				MaxAttempts:  int(cmd.Int("max-attempts")),
				TicksPerStep: int(cmd.Int("ticks-per-step")),
				Delay:        cmd.Duration("delay"),
			}, logger)
			if err != nil {
				return err
			}
			fmt.Printf("Finished in %s on attempt %d (%d ticks), session %s\n",
				outcome.Time, outcome.Attempt, outcome.Ticks, outcome.SessionID)
			return nil
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
