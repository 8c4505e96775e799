package pattern

import (
	"fmt"

	"github.com/rs/zerolog"

	"crashwatcher/internal/round"
)

// Signal is one detector's reading of the round history. Confidence 0 means
// the detector saw nothing (or failed); it never blocks the pipeline.
type Signal struct {
	DetectorID string
	Label      string
	Confidence float64
}

// Neutral is the signal used when a detector has nothing to say.
func Neutral(detectorID string) Signal {
	return Signal{DetectorID: detectorID, Label: "none", Confidence: 0}
}

// Detector scans the raw round history for one structural signal. Detectors
// operate on history directly, not on the feature vector.
type Detector interface {
	ID() string
	Detect(history []round.Summary) (Signal, error)
}

// DetectAll runs every detector, mapping failures and panics to a neutral
// signal. The result always has one entry per detector.
func DetectAll(detectors []Detector, history []round.Summary, logger zerolog.Logger) []Signal {
	signals := make([]Signal, 0, len(detectors))
	for _, d := range detectors {
		sig, err := safeDetect(d, history)
		if err != nil {
			logger.Warn().Str("detector", d.ID()).Err(err).Msg("detector fault, treating as neutral")
			sig = Neutral(d.ID())
		}
		signals = append(signals, sig)
	}
	return signals
}

func safeDetect(d Detector, history []round.Summary) (sig Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detector %s panicked: %v", d.ID(), r)
		}
	}()
	return d.Detect(history)
}

// Strongest returns the highest-confidence non-neutral signal, if any.
func Strongest(signals []Signal) (Signal, bool) {
	best := Signal{}
	found := false
	for _, s := range signals {
		if s.Confidence > best.Confidence && s.Label != "none" {
			best = s
			found = true
		}
	}
	return best, found
}
