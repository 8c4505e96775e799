package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"crashwatcher/internal/storage"
)

// Export renders round history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	rounds, err := store.ListRoundsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(rounds) == 0 {
		a.Logger.Info().Msg("no rounds found for export window")
		return nil
	}

	downsampled := downsampleRounds(rounds, opts.MaxPoints)
	a.Logger.Info().Int("total", len(rounds)).Int("exported", len(downsampled)).Msg("exporting rounds")

	if opts.CSVPath != "" {
		if err := writeRoundsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeRoundsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleRounds(rounds []storage.RoundRecord, max int) []storage.RoundRecord {
	if max <= 0 || len(rounds) <= max {
		return rounds
	}

	result := make([]storage.RoundRecord, 0, max)
	step := float64(len(rounds)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(rounds) {
			idx = len(rounds) - 1
		}
		result = append(result, rounds[idx])
	}
	return result
}

func writeRoundsCSV(path string, rounds []storage.RoundRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"round_number", "start_ts", "end_ts", "crash_multiplier", "max_multiplier", "duration_ms", "event_count"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, r := range rounds {
		record := []string{
			strconv.FormatInt(r.Number, 10),
			r.StartTime.UTC().Format(time.RFC3339),
			r.EndTime.UTC().Format(time.RFC3339),
			strconv.FormatFloat(r.CrashMultiplier, 'f', 2, 64),
			strconv.FormatFloat(r.MaxMultiplier, 'f', 2, 64),
			strconv.FormatInt(r.Duration.Milliseconds(), 10),
			strconv.Itoa(r.EventCount),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeRoundsPNG(path string, rounds []storage.RoundRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(rounds))
	crash := make([]float64, len(rounds))
	duration := make([]float64, len(rounds))

	for i, r := range rounds {
		x[i] = r.EndTime
		crash[i] = r.CrashMultiplier
		duration[i] = r.Duration.Seconds()
	}

	multiplierFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Crash multiplier (x)",
			ValueFormatter: multiplierFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Round duration (s)",
			ValueFormatter: multiplierFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Crash multiplier",
				XValues: x,
				YValues: crash,
			},
			chart.TimeSeries{
				Name:    "Duration (s)",
				XValues: x,
				YValues: duration,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
