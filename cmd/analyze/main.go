// Command analyze prints quick, human-readable heuristics about the tracks
// in a tracks directory. It summarizes dimensions, wall coverage, what the
// sensors see from the start pose, the open space around the start and a
// lower bound on the finish time.
package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/wricardo/mcp-training/lidardrive/game/config"
	"github.com/wricardo/mcp-training/lidardrive/game/engine"
	"github.com/wricardo/mcp-training/lidardrive/game/geometry"
	"github.com/wricardo/mcp-training/lidardrive/game/sensor"
)

// sweepStep is the angular resolution of the clearance sweep, in degrees.
const sweepStep = 15

// Analysis holds the derived numbers for one track.
type Analysis struct {
	Name          string
	Width, Height int
	Obstacles     int
	Coverage      float64
	FinishZones   int
	StartSensors  []int
	// Clearance is the shortest and longest free run around the start,
	// with the heading each was measured at.
	MinClearance    int
	MinClearanceDir float64
	MaxClearance    int
	MaxClearanceDir float64
	// FinishDistance is the straight line from the start to the nearest
	// finish zone center.
	FinishDistance float64
	// MinSeconds is FinishDistance covered at top speed.
	MinSeconds float64
}

func analyzeTrack(track *engine.TrackConfig) (*Analysis, error) {
	bm, err := geometry.Build(track.Field(), track.Obstacles)
	if err != nil {
		return nil, err
	}

	pose := track.InitialPose()
	a := &Analysis{
		Name:         track.Name,
		Width:        track.Width,
		Height:       track.Height,
		Obstacles:    len(track.Obstacles),
		Coverage:     bm.Coverage(),
		FinishZones:  len(track.FinishZones),
		StartSensors: track.EffectiveSensors().Cast(bm, pose),
	}

	sweep := make([]float64, 0, 360/sweepStep)
	for off := 0; off < 360; off += sweepStep {
		sweep = append(sweep, float64(off))
	}
	runs := sensor.Cast(bm, pose.X, pose.Y, 0, sweep, math.MaxInt32)
	a.MinClearance, a.MaxClearance = math.MaxInt, -1
	for i, d := range runs {
		if d < a.MinClearance {
			a.MinClearance, a.MinClearanceDir = d, sweep[i]
		}
		if d > a.MaxClearance {
			a.MaxClearance, a.MaxClearanceDir = d, sweep[i]
		}
	}

	a.FinishDistance = math.Inf(1)
	start := pose.Position()
	for _, z := range track.FinishZones {
		center := geometry.Vec{float64(z.X) + float64(z.Width)/2, float64(z.Y) + float64(z.Height)/2}
		if d := center.Sub(start).Len(); d < a.FinishDistance {
			a.FinishDistance = d
		}
	}

	perSecond := track.EffectiveTuning().MaxSpeed * float64(track.EffectiveTickRate())
	if perSecond > 0 {
		a.MinSeconds = a.FinishDistance / perSecond
	}
	return a, nil
}

func printAnalysis(w io.Writer, a *Analysis) {
	fmt.Fprintf(w, "Name: %s\n", a.Name)
	fmt.Fprintf(w, "Field: %d x %d\n", a.Width, a.Height)
	fmt.Fprintf(w, "Obstacles: %d (%.1f%% of the field is wall)\n", a.Obstacles, a.Coverage*100)
	fmt.Fprintf(w, "Finish Zones: %d\n", a.FinishZones)
	fmt.Fprintf(w, "Start Sensors: %v\n", a.StartSensors)
	fmt.Fprintf(w, "Open Space: %dpx at %.0f° to %dpx at %.0f°\n",
		a.MinClearance, a.MinClearanceDir, a.MaxClearance, a.MaxClearanceDir)
	fmt.Fprintf(w, "Nearest Finish: %.0fpx (at least %.1fs at top speed)\n", a.FinishDistance, a.MinSeconds)

	switch {
	case a.MinClearance < 20:
		fmt.Fprintf(w, "⚠️  WARNING: a wall is only %dpx from the start\n", a.MinClearance)
	case a.Coverage > 0.5:
		fmt.Fprintf(w, "⚠️  WARNING: more than half the field is wall\n")
	default:
		fmt.Fprintf(w, "✅ Start area looks open\n")
	}
}

func run(w io.Writer, dir string, ids []string) error {
	manager, err := config.NewManager(dir)
	if err != nil {
		return err
	}

	if len(ids) == 0 {
		tracks, err := manager.ListTracks()
		if err != nil {
			return err
		}
		for _, t := range tracks {
			ids = append(ids, t.TrackID)
		}
	}

	for _, id := range ids {
		fmt.Fprintf(w, "\n=== Analyzing %s ===\n", id)
		track, err := manager.LoadTrack(id)
		if err != nil {
			fmt.Fprintf(w, "Error loading track: %v\n", err)
			continue
		}
		a, err := analyzeTrack(track)
		if err != nil {
			fmt.Fprintf(w, "Error analyzing track: %v\n", err)
			continue
		}
		printAnalysis(w, a)
	}
	return nil
}

func newApp(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "analyze",
		Usage:     "print heuristics about track files",
		ArgsUsage: "[track-id ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "dir",
				Value: "configs",
				Usage: "tracks directory",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return run(out, cmd.String("dir"), cmd.Args().Slice())
		},
	}
}

func main() {
	if err := newApp(os.Stdout).Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
