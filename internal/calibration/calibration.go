// Package calibration runs the pre-assessment gaze calibration protocol.
//
// The candidate clicks each of 9 grid targets 5 times while looking at
// it; each click trains the external gaze estimator. A validation phase
// then samples the estimator's live output against the screen center for
// a fixed window and converts the mean error distance into a 0-100
// accuracy score. Passing unlocks the assessment timer; nothing is
// persisted server-side — calibration is a purely local gate.
package calibration

import (
	"context"
	"errors"
	"math"
	"time"
)

// Estimator is the capability interface over the external gaze estimator.
// Train feeds one calibration click; Sample returns the current estimated
// gaze point in screen coordinates.
type Estimator interface {
	Train(x, y float64) error
	Sample() (x, y float64, err error)
}

// Protocol constants.
const (
	// GridPoints is the number of calibration targets (3x3 grid).
	GridPoints = 9
	// ClicksPerPoint is how many training clicks each target needs.
	ClicksPerPoint = 5
	// PassThreshold is the minimum validation accuracy to proceed.
	PassThreshold = 80.0
)

// gridFractions places targets at 10%/50%/90% of each screen dimension.
var gridFractions = [3]float64{0.10, 0.50, 0.90}

var (
	ErrNotTraining   = errors.New("calibration is not in the training phase")
	ErrNotTrained    = errors.New("all calibration points must be trained before validation")
	ErrNoSamples     = errors.New("validation collected no gaze samples")
	ErrScreenBounds  = errors.New("screen dimensions must be positive")
	ErrNilEstimator  = errors.New("estimator is required")
	ErrAlreadyPassed = errors.New("calibration already passed")
)

// Phase tracks controller progress.
type Phase string

const (
	PhaseTraining   Phase = "training"
	PhaseValidation Phase = "validation"
	PhasePassed     Phase = "passed"
)

// Point is a screen-relative calibration target.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Config tunes the validation phase. Durations are injectable so tests
// don't sleep for real.
type Config struct {
	SettleDelay  time.Duration // wait before sampling starts
	SampleWindow time.Duration // how long to sample live gaze
	PollInterval time.Duration // gap between samples
}

// DefaultConfig returns the production validation timings: 1s settle,
// 3s of sampling at 100ms intervals.
func DefaultConfig() Config {
	return Config{
		SettleDelay:  time.Second,
		SampleWindow: 3 * time.Second,
		PollInterval: 100 * time.Millisecond,
	}
}

// Result is the outcome of a validation run.
type Result struct {
	Accuracy     float64 `json:"accuracy"`
	MeanDistance float64 `json:"meanDistance"`
	Samples      int     `json:"samples"`
	Passed       bool    `json:"passed"`
}

// Controller drives the 9-point calibration protocol for one screen.
// Not safe for concurrent use; the protocol is inherently sequential.
type Controller struct {
	estimator Estimator
	cfg       Config
	width     float64
	height    float64

	phase      Phase
	pointIndex int
	clickCount int
	calibrated bool
}

// NewController creates a calibration controller for a screen of the
// given pixel dimensions.
func NewController(estimator Estimator, width, height float64, cfg Config) (*Controller, error) {
	if estimator == nil {
		return nil, ErrNilEstimator
	}
	if width <= 0 || height <= 0 {
		return nil, ErrScreenBounds
	}
	return &Controller{
		estimator: estimator,
		cfg:       cfg,
		width:     width,
		height:    height,
		phase:     PhaseTraining,
	}, nil
}

// Points returns the 9 targets in protocol order (row-major over the
// 3x3 grid).
func (c *Controller) Points() []Point {
	pts := make([]Point, 0, GridPoints)
	for _, fy := range gridFractions {
		for _, fx := range gridFractions {
			pts = append(pts, Point{X: fx * c.width, Y: fy * c.height})
		}
	}
	return pts
}

// CurrentPoint returns the target the candidate should be clicking, and
// false once training is finished.
func (c *Controller) CurrentPoint() (Point, bool) {
	if c.phase != PhaseTraining {
		return Point{}, false
	}
	return c.Points()[c.pointIndex], true
}

// ClickCount returns clicks recorded against the current target.
func (c *Controller) ClickCount() int { return c.clickCount }

// Phase returns the controller's current phase.
func (c *Controller) CurrentPhase() Phase { return c.phase }

// Calibrated reports whether validation has passed. Until it has, the
// assessment timer stays locked.
func (c *Controller) Calibrated() bool { return c.calibrated }

// CalibratePoint records one training click at the given screen position.
// Reaching ClicksPerPoint advances to the next target and resets the
// click counter; finishing the last target moves to the validation phase.
func (c *Controller) CalibratePoint(clickX, clickY float64) error {
	if c.phase != PhaseTraining {
		return ErrNotTraining
	}

	if err := c.estimator.Train(clickX, clickY); err != nil {
		return err
	}

	c.clickCount++
	if c.clickCount >= ClicksPerPoint {
		c.clickCount = 0
		c.pointIndex++
		if c.pointIndex >= GridPoints {
			c.phase = PhaseValidation
		}
	}
	return nil
}

// Validate runs the validation phase: wait SettleDelay for gaze to
// settle, then sample the estimator against the screen center for
// SampleWindow at PollInterval, and map the mean error distance to an
// accuracy score.
//
// The accuracy formula is policy, not a derived constant:
//
//	accuracy = clamp(0, 100, 100 - (meanDistance - 100) / 4)
//
// i.e. no penalty below 100px of mean error and a zero score at or above
// 500px.
func (c *Controller) Validate(ctx context.Context) (*Result, error) {
	if c.phase == PhasePassed {
		return nil, ErrAlreadyPassed
	}
	if c.phase != PhaseValidation {
		return nil, ErrNotTrained
	}

	target := Point{X: 0.5 * c.width, Y: 0.5 * c.height}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.cfg.SettleDelay):
	}

	deadline := time.After(c.cfg.SampleWindow)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	var distances []float64
sampling:
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			break sampling
		case <-ticker.C:
			x, y, err := c.estimator.Sample()
			if err != nil {
				continue // estimator hiccups don't abort validation
			}
			distances = append(distances, math.Hypot(x-target.X, y-target.Y))
		}
	}

	if len(distances) == 0 {
		return nil, ErrNoSamples
	}

	var sum float64
	for _, d := range distances {
		sum += d
	}
	mean := sum / float64(len(distances))

	result := &Result{
		Accuracy:     Accuracy(mean),
		MeanDistance: mean,
		Samples:      len(distances),
	}
	result.Passed = result.Accuracy >= PassThreshold

	if result.Passed {
		c.phase = PhasePassed
		c.calibrated = true
	}
	return result, nil
}

// Reset returns the controller to point 0 of the training phase for a
// full recalibration attempt.
func (c *Controller) Reset() {
	c.phase = PhaseTraining
	c.pointIndex = 0
	c.clickCount = 0
	c.calibrated = false
}

// Accuracy maps a mean error distance in pixels to the 0-100 score.
func Accuracy(meanDistance float64) float64 {
	score := 100 - (meanDistance-100)/4
	if score > 100 {
		return 100
	}
	if score < 0 {
		return 0
	}
	return score
}
