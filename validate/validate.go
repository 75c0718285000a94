// Command validate checks track JSON files. For each file it verifies:
//   - JSON structure, with unknown fields rejected
//   - Field size, car size, rectangle sanity, tuning and sensor ranges
//   - Finish zones actually touch the field (stray obstacles only warn)
//   - The start pose is clear of walls and outside every finish zone
//   - Connectivity: a finish zone is reachable from the start through free
//     pixels with room for the car's narrow side
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/wricardo/mcp-training/lidardrive/game/engine"
	"github.com/wricardo/mcp-training/lidardrive/game/geometry"
)

// ValidationResult captures the outcome of validating a single file.
// If Valid is true, Errors contains informational messages; otherwise it
// accumulates the validation errors that were found.
type ValidationResult struct {
	File   string
	Valid  bool
	Errors []string
}

func (r *ValidationResult) fail(format string, args ...interface{}) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) warn(format string, args ...interface{}) {
	r.Errors = append(r.Errors, "⚠ "+fmt.Sprintf(format, args...))
}

func (r *ValidationResult) info(format string, args ...interface{}) {
	r.Errors = append(r.Errors, "✓ "+fmt.Sprintf(format, args...))
}

// validateTrack loads and validates a single track file.
func validateTrack(filePath string) ValidationResult {
	result := ValidationResult{
		File:   filepath.Base(filePath),
		Valid:  true,
		Errors: []string{},
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		result.fail("Failed to read file: %v", err)
		return result
	}

	var track engine.TrackConfig
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&track); err != nil {
		result.fail("Invalid JSON: %v", err)
		return result
	}
	if track.Name == "" {
		track.Name = strings.TrimSuffix(result.File, filepath.Ext(result.File))
	}

	field := track.Field()
	for i, r := range track.Obstacles {
		if r.Valid() && !touchesField(r, field) {
			result.warn("Obstacle %d at (%d,%d) lies entirely outside the %dx%d field", i, r.X, r.Y, field.Width, field.Height)
		}
	}
	for i, r := range track.FinishZones {
		if r.Valid() && !touchesField(r, field) {
			result.fail("Finish zone %d at (%d,%d) lies entirely outside the %dx%d field", i, r.X, r.Y, field.Width, field.Height)
		}
	}

	if err := engine.ValidateTrackConfig(&track); err != nil {
		result.fail("%v", err)
	}

	if !result.Valid {
		return result
	}

	// Connectivity validation - check that a finish zone can be reached
	reach := validateReachability(&track)
	if !reach.Valid {
		result.Valid = false
	}
	result.Errors = append(result.Errors, reach.Errors...)

	// Add informational data
	if result.Valid {
		bm, _ := geometry.Build(field, track.Obstacles)
		result.info("Name: %s", track.Name)
		result.info("Field: %dx%d", field.Width, field.Height)
		result.info("Obstacles: %d (%.1f%% solid)", len(track.Obstacles), bm.Coverage()*100)
		result.info("Finish zones: %d", len(track.FinishZones))
		result.info("Start: (%.0f,%.0f) heading %.0f", track.Start.X, track.Start.Y, track.Start.Heading)
		result.info("Tick rate: %d Hz, countdown %ds", track.EffectiveTickRate(), track.EffectiveCountdown())
	}

	return result
}

func touchesField(r geometry.Rect, field geometry.Size) bool {
	return r.Right() > 0 && r.Bottom() > 0 && r.X < field.Width && r.Y < field.Height
}

// clearance returns the half-side of the widest axis-aligned square that
// fits inside the car body at any heading.
func clearance(track *engine.TrackConfig) int {
	narrow := math.Min(track.Car.Width, track.Car.Height)
	return int(math.Floor(narrow / 2 / math.Sqrt2))
}

// validateReachability flood-fills from the start over pixels whose
// clearance square is free, and succeeds when the fill enters a finish
// zone. It is a necessary condition only: a corridor wide enough for the
// car's narrow side may still be too tight to turn in.
func validateReachability(track *engine.TrackConfig) ValidationResult {
	result := ValidationResult{
		Valid:  true,
		Errors: []string{},
	}

	field := track.Field()
	bm, err := geometry.Build(field, track.Obstacles)
	if err != nil {
		result.fail("Cannot validate connectivity: %v", err)
		return result
	}

	half := clearance(track)
	sat := newSolidTable(bm)

	// A pixel is passable when the square around it is on the field and free
	passable := func(x, y int) bool {
		x0, y0, x1, y1 := x-half, y-half, x+half, y+half
		if x0 < 0 || y0 < 0 || x1 >= field.Width || y1 >= field.Height {
			return false
		}
		return sat.count(x0, y0, x1, y1) == 0
	}

	inFinish := func(x, y int) bool {
		for _, z := range track.FinishZones {
			if z.Contains(x, y) {
				return true
			}
		}
		return false
	}

	sx, sy := int(track.Start.X), int(track.Start.Y)
	if !passable(sx, sy) {
		result.fail("Connectivity failure: start (%d,%d) has less than %dpx clearance", sx, sy, half)
		return result
	}

	visited := make([]bool, field.Width*field.Height)
	queue := []int{sy*field.Width + sx}
	visited[queue[0]] = true
	explored := 0

	// Flood fill algorithm
	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]
		explored++

		x, y := idx%field.Width, idx/field.Width
		if inFinish(x, y) {
			result.info("Connectivity: finish reachable from start (%dpx clearance, %d pixels explored)", half, explored)
			return result
		}

		// Check all 4 directions
		for _, d := range [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
			nx, ny := x+d[0], y+d[1]
			if nx < 0 || ny < 0 || nx >= field.Width || ny >= field.Height {
				continue
			}
			n := ny*field.Width + nx
			if !visited[n] && passable(nx, ny) {
				visited[n] = true
				queue = append(queue, n)
			}
		}
	}

	result.fail("Connectivity failure: no finish zone reachable from start (%d,%d) with %dpx clearance", sx, sy, half)
	return result
}

// solidTable is a summed-area table over the bitmap, answering how many
// solid pixels a rectangle holds in constant time.
type solidTable struct {
	w    int
	sums []int
}

func newSolidTable(bm *geometry.Bitmap) *solidTable {
	size := bm.Size()
	w := size.Width + 1
	t := &solidTable{w: w, sums: make([]int, w*(size.Height+1))}
	for y := 0; y < size.Height; y++ {
		row := 0
		for x := 0; x < size.Width; x++ {
			if bm.Solid(x, y) {
				row++
			}
			t.sums[(y+1)*w+x+1] = t.sums[y*w+x+1] + row
		}
	}
	return t
}

// count returns the solid pixels in the inclusive box (x0,y0)-(x1,y1).
func (t *solidTable) count(x0, y0, x1, y1 int) int {
	return t.sums[(y1+1)*t.w+x1+1] - t.sums[y0*t.w+x1+1] - t.sums[(y1+1)*t.w+x0] + t.sums[y0*t.w+x0]
}

// trackFiles expands the arguments into track files. Directories
// contribute their *.json files.
func trackFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(arg, "*.json"))
		if err != nil {
			return nil, fmt.Errorf("error finding track files: %w", err)
		}
		files = append(files, matches...)
	}
	return files, nil
}

// report prints one block per file and returns whether all were valid.
func report(w io.Writer, results []ValidationResult) bool {
	allValid := true
	for _, result := range results {
		fmt.Fprintf(w, "\n%s %s\n", strings.Repeat("=", 20), result.File)

		if result.Valid {
			fmt.Fprintln(w, "✅ VALID")
			for _, info := range result.Errors {
				fmt.Fprintln(w, "  "+info)
			}
		} else {
			fmt.Fprintln(w, "❌ INVALID")
			allValid = false
			for _, err := range result.Errors {
				if !strings.HasPrefix(err, "✓") && !strings.HasPrefix(err, "⚠") {
					fmt.Fprintln(w, "  ❌ "+err)
				}
			}
		}
	}

	fmt.Fprintf(w, "\n%s\n", strings.Repeat("=", 40))
	if allValid {
		fmt.Fprintln(w, "✅ All tracks are valid!")
	} else {
		fmt.Fprintln(w, "❌ Some tracks have errors")
	}
	return allValid
}

func newApp(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "validate track JSON files",
		ArgsUsage: "[file or directory ...]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := cmd.Args().Slice()
			if len(args) == 0 {
				args = []string{"../configs"}
			}

			files, err := trackFiles(args)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no track files found in %v", args)
			}

			results := make([]ValidationResult, 0, len(files))
			for _, f := range files {
				results = append(results, validateTrack(f))
			}
			if !report(out, results) {
				return errors.New("some tracks have errors")
			}
			return nil
		},
	}
}

// main validates the given files or directories, ../configs by default,
// and exits with non-zero status if any track is invalid.
func main() {
	if err := newApp(os.Stdout).Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
