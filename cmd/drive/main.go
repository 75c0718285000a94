// Command drive is a terminal client for the simulation. By default it
// runs an engine in-process; with --server it drives a session on a
// running API server over its websocket, the way a browser client does.
//
// Terminals report key presses but not releases, so a key counts as held
// for a short while after each press and autorepeat keeps it held.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/wricardo/mcp-training/lidardrive/game/config"
	"github.com/wricardo/mcp-training/lidardrive/game/engine"
	"github.com/wricardo/mcp-training/lidardrive/game/geometry"
	"github.com/wricardo/mcp-training/lidardrive/logging"
)

type game struct {
	screen tcell.Screen
	src    source
	keys   *heldKeys
	sound  *soundPlayer
	logger zerolog.Logger

	bm       *geometry.Bitmap
	view     viewport
	cells    [][]cellKind
	frame    *engine.Frame
	collided bool
}

func newGame(screen tcell.Screen, src source, keys *heldKeys, sound *soundPlayer, logger zerolog.Logger) (*game, error) {
	track := src.Track()
	bm, err := geometry.Build(track.Field(), track.Obstacles)
	if err != nil {
		return nil, err
	}
	g := &game{
		screen: screen,
		src:    src,
		keys:   keys,
		sound:  sound,
		logger: logger,
		bm:     bm,
	}
	g.layout()
	return g, nil
}

// layout fits the track to the current terminal size.
func (g *game) layout() {
	w, h := g.screen.Size()
	g.view = newViewport(g.src.Track().Field(), w, h-hudRows)
	g.cells = terrain(g.view, g.bm, g.src.Track().FinishZones)
}

// observe records a new frame and plays cues on crash and finish edges.
func (g *game) observe(f *engine.Frame) {
	if f == nil {
		return
	}
	if f.Collided && !g.collided {
		g.sound.crash()
	}
	g.collided = f.Collided
	if f.Finished {
		g.sound.finish()
		g.logger.Info().Str("time", f.TimerText).Str("run", f.RunID).Msg("finished")
	}
	g.frame = f
}

// handleEvent returns false when the user asked to quit.
func (g *game) handleEvent(ev tcell.Event, now time.Time) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		if ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyCtrlC ||
			(ev.Key() == tcell.KeyRune && (ev.Rune() == 'q' || ev.Rune() == 'Q')) {
			return false
		}
		if ev.Key() == tcell.KeyRune && (ev.Rune() == 'r' || ev.Rune() == 'R') {
			g.keys.releaseAll()
			f, err := g.src.Reset()
			if err != nil {
				g.logger.Warn().Err(err).Msg("reset failed")
				return true
			}
			g.collided = false
			g.observe(f)
			return true
		}
		if c, ok := controlForKey(ev.Key(), ev.Rune()); ok {
			g.keys.press(c, now)
		}

	case *tcell.EventResize:
		g.layout()
		g.screen.Sync()
	}
	return true
}

func (g *game) step(now time.Time) error {
	f, err := g.src.Advance(g.keys.input(now))
	if err != nil {
		return err
	}
	g.observe(f)
	return nil
}

func (g *game) draw() {
	g.screen.Clear()
	compose(g.view, g.cells, g.src.Track().Shape(), g.frame, g.src.Name()).blit(g.screen)
	g.screen.Show()
}

func (g *game) run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(g.src.TickRate()))
	defer ticker.Stop()

	events := make(chan tcell.Event, 100)
	go func() {
		for {
			ev := g.screen.PollEvent()
			if ev == nil {
				return
			}
			events <- ev
		}
	}()

	g.draw()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			if !g.handleEvent(ev, time.Now()) {
				return nil
			}
		case now := <-ticker.C:
			if err := g.step(now); err != nil {
				return err
			}
			g.draw()
		}
	}
}

func openSource(ctx context.Context, cmd *cli.Command, logger zerolog.Logger) (source, error) {
	if server := cmd.String("server"); server != "" {
		return dialRemote(ctx, server, cmd.String("session"), cmd.String("track"))
	}

	tracks, err := config.NewManager(cmd.String("tracks-dir"), config.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	var track *engine.TrackConfig
	if id := cmd.String("track"); id != "" {
		track, err = tracks.LoadTrack(id)
		if err != nil {
			return nil, err
		}
	} else {
		track = tracks.GetDefault()
	}
	return newLocalSource(track, engine.WithLogger(logger))
}

// newLogger writes to a file when asked; the terminal belongs to the game.
func newLogger(path string) (zerolog.Logger, func(), error) {
	if path == "" {
		return zerolog.Nop(), func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return zerolog.Nop(), nil, err
	}
	logger := logging.SetupWriter(f, "debug", false).With().Str("component", "drive").Logger()
	return logger, func() { f.Close() }, nil
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "drive",
		Usage: "drive the lidar car in a terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "tracks-dir", Value: "configs", Usage: "tracks directory for local play"},
			&cli.StringFlag{Name: "track", Usage: "track ID (default: the default track)"},
			&cli.StringFlag{Name: "server", Usage: "API server URL; drive a server session instead of a local engine"},
			&cli.StringFlag{Name: "session", Usage: "existing session ID to attach to (with --server)"},
			&cli.DurationFlag{Name: "hold", Value: DefaultHold, Usage: "how long a key press counts as held"},
			&cli.BoolFlag{Name: "mute", Usage: "disable sound"},
			&cli.StringFlag{Name: "log-file", Usage: "write debug logs to this file"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			logger, closeLog, err := newLogger(cmd.String("log-file"))
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			defer closeLog()

			src, err := openSource(ctx, cmd, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := src.Close(); err != nil {
					logger.Warn().Err(err).Msg("close source")
				}
			}()

			screen, err := tcell.NewScreen()
			if err != nil {
				return err
			}
			if err := screen.Init(); err != nil {
				return err
			}
			defer screen.Fini()

			sound := newSoundPlayer(cmd.Bool("mute"), logger)
			defer sound.close()

			g, err := newGame(screen, src, newHeldKeys(cmd.Duration("hold")), sound, logger)
			if err != nil {
				return err
			}
			return g.run(ctx)
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
