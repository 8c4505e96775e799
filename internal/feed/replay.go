package feed

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"crashwatcher/internal/round"
)

// Replay plays a fixed multiplier script back one sample per Fetch. An entry
// of NaN represents an absent read. Used by the simulate command and tests.
type Replay struct {
	values []float64
	pos    int
}

// NewReplay builds a Replay from raw values; use math.NaN() for gaps.
func NewReplay(values []float64) *Replay {
	return &Replay{values: values}
}

// ParseScript parses a comma- or whitespace-separated multiplier script.
// A "-" or "x" entry marks an absent read.
func ParseScript(script string) (*Replay, error) {
	fields := strings.FieldsFunc(script, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
	values := make([]float64, 0, len(fields))
	for _, f := range fields {
		switch strings.ToLower(f) {
		case "-", "x":
			values = append(values, math.NaN())
		default:
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("feed: bad script entry %q: %w", f, err)
			}
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("feed: empty script")
	}
	return NewReplay(values), nil
}

// LoadScript reads a script file, one entry per line (comments start with #).
func LoadScript(path string) (*Replay, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("feed: open script: %w", err)
	}
	defer file.Close()

	var entries []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("feed: read script: %w", err)
	}
	return ParseScript(strings.Join(entries, "\n"))
}

// Fetch returns the next scripted sample, or ErrExhausted past the end.
func (r *Replay) Fetch(ctx context.Context) (round.Sample, error) {
	if err := ctx.Err(); err != nil {
		return round.Sample{}, err
	}
	if r.pos >= len(r.values) {
		return round.Sample{}, ErrExhausted
	}
	v := r.values[r.pos]
	r.pos++

	now := time.Now().UTC()
	if math.IsNaN(v) {
		return round.AbsentSample(now), nil
	}
	return round.NewSample(v, now), nil
}

// Remaining reports how many scripted samples are left.
func (r *Replay) Remaining() int {
	return len(r.values) - r.pos
}

// Close implements Source.
func (r *Replay) Close() error { return nil }
