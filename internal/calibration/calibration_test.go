package calibration

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

// fakeEstimator returns a fixed gaze point offset from wherever it was
// last trained. Train calls are counted.
type fakeEstimator struct {
	trained   int
	sampleX   float64
	sampleY   float64
	sampleErr error
}

func (f *fakeEstimator) Train(x, y float64) error { f.trained++; return nil }

func (f *fakeEstimator) Sample() (float64, float64, error) {
	if f.sampleErr != nil {
		return 0, 0, f.sampleErr
	}
	return f.sampleX, f.sampleY, nil
}

// fastConfig keeps validation under ~50ms of wall time.
func fastConfig() Config {
	return Config{
		SettleDelay:  time.Millisecond,
		SampleWindow: 30 * time.Millisecond,
		PollInterval: 2 * time.Millisecond,
	}
}

func trainAll(t *testing.T, c *Controller) {
	t.Helper()
	for i := 0; i < GridPoints; i++ {
		pt, ok := c.CurrentPoint()
		if !ok {
			t.Fatalf("training ended early at point %d", i)
		}
		for j := 0; j < ClicksPerPoint; j++ {
			if err := c.CalibratePoint(pt.X, pt.Y); err != nil {
				t.Fatalf("CalibratePoint: %v", err)
			}
		}
	}
}

func TestAccuracy(t *testing.T) {
	tests := []struct {
		meanDistance float64
		want         float64
	}{
		{0, 100},   // clamped, no bonus below 100px
		{50, 100},  // still clamped
		{100, 100}, // exactly at the free threshold
		{200, 75},
		{300, 50},
		{500, 0},
		{900, 0}, // clamped at zero
	}
	for _, tt := range tests {
		if got := Accuracy(tt.meanDistance); got != tt.want {
			t.Errorf("Accuracy(%v) = %v, want %v", tt.meanDistance, got, tt.want)
		}
	}
}

func TestNewController_Validation(t *testing.T) {
	if _, err := NewController(nil, 1920, 1080, fastConfig()); !errors.Is(err, ErrNilEstimator) {
		t.Errorf("err = %v, want ErrNilEstimator", err)
	}
	if _, err := NewController(&fakeEstimator{}, 0, 1080, fastConfig()); !errors.Is(err, ErrScreenBounds) {
		t.Errorf("err = %v, want ErrScreenBounds", err)
	}
}

func TestPoints_GridLayout(t *testing.T) {
	c, err := NewController(&fakeEstimator{}, 1000, 800, fastConfig())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	pts := c.Points()
	if len(pts) != GridPoints {
		t.Fatalf("len = %d, want %d", len(pts), GridPoints)
	}
	// First target is top-left (10%, 10%), last is bottom-right (90%, 90%).
	if pts[0].X != 100 || pts[0].Y != 80 {
		t.Errorf("first point = %+v, want (100, 80)", pts[0])
	}
	if pts[8].X != 900 || pts[8].Y != 720 {
		t.Errorf("last point = %+v, want (900, 720)", pts[8])
	}
	// Center of the grid is the screen center.
	if pts[4].X != 500 || pts[4].Y != 400 {
		t.Errorf("center point = %+v, want (500, 400)", pts[4])
	}
}

func TestCalibratePoint_AdvancesAfterFiveClicks(t *testing.T) {
	est := &fakeEstimator{}
	c, err := NewController(est, 1920, 1080, fastConfig())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	first, _ := c.CurrentPoint()
	for i := 0; i < ClicksPerPoint-1; i++ {
		if err := c.CalibratePoint(first.X, first.Y); err != nil {
			t.Fatalf("CalibratePoint: %v", err)
		}
		if cur, _ := c.CurrentPoint(); cur != first {
			t.Fatalf("advanced after %d clicks", i+1)
		}
	}

	if err := c.CalibratePoint(first.X, first.Y); err != nil {
		t.Fatalf("CalibratePoint: %v", err)
	}
	if cur, _ := c.CurrentPoint(); cur == first {
		t.Error("did not advance after 5 clicks")
	}
	if c.ClickCount() != 0 {
		t.Errorf("ClickCount = %d after advancing, want 0", c.ClickCount())
	}
}

func TestTraining_FullProtocol(t *testing.T) {
	est := &fakeEstimator{}
	c, err := NewController(est, 1920, 1080, fastConfig())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	trainAll(t, c)

	if est.trained != GridPoints*ClicksPerPoint {
		t.Errorf("estimator trained %d times, want %d", est.trained, GridPoints*ClicksPerPoint)
	}
	if c.CurrentPhase() != PhaseValidation {
		t.Errorf("phase = %s, want validation", c.CurrentPhase())
	}
	if _, ok := c.CurrentPoint(); ok {
		t.Error("CurrentPoint still reports a target after training")
	}

	// Further clicks are rejected.
	if err := c.CalibratePoint(0, 0); !errors.Is(err, ErrNotTraining) {
		t.Errorf("err = %v, want ErrNotTraining", err)
	}
}

func TestValidate_RequiresTraining(t *testing.T) {
	c, _ := NewController(&fakeEstimator{}, 1920, 1080, fastConfig())
	if _, err := c.Validate(context.Background()); !errors.Is(err, ErrNotTrained) {
		t.Errorf("err = %v, want ErrNotTrained", err)
	}
}

func TestValidate_PassAndFail(t *testing.T) {
	// Gaze 80px off-center: mean distance under 100 scores a clean 100.
	est := &fakeEstimator{sampleX: 960 + 80, sampleY: 540}
	c, _ := NewController(est, 1920, 1080, fastConfig())
	trainAll(t, c)

	res, err := c.Validate(context.Background())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Samples == 0 {
		t.Fatal("no samples collected")
	}
	if math.Abs(res.MeanDistance-80) > 0.001 {
		t.Errorf("MeanDistance = %v, want 80", res.MeanDistance)
	}
	if res.Accuracy != 100 || !res.Passed {
		t.Errorf("accuracy = %v passed = %v, want 100/true", res.Accuracy, res.Passed)
	}
	if !c.Calibrated() || c.CurrentPhase() != PhasePassed {
		t.Error("pass did not unlock the controller")
	}

	// Re-validating a passed controller is rejected.
	if _, err := c.Validate(context.Background()); !errors.Is(err, ErrAlreadyPassed) {
		t.Errorf("err = %v, want ErrAlreadyPassed", err)
	}

	// 300px off scores 50 — below threshold, fails, stays in validation.
	est2 := &fakeEstimator{sampleX: 960 + 300, sampleY: 540}
	c2, _ := NewController(est2, 1920, 1080, fastConfig())
	trainAll(t, c2)

	res, err = c2.Validate(context.Background())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Accuracy != 50 || res.Passed {
		t.Errorf("accuracy = %v passed = %v, want 50/false", res.Accuracy, res.Passed)
	}
	if c2.Calibrated() {
		t.Error("failed validation marked controller calibrated")
	}
	if c2.CurrentPhase() != PhaseValidation {
		t.Errorf("phase = %s, want validation (retry allowed)", c2.CurrentPhase())
	}
}

func TestValidate_EstimatorErrorsSkipped(t *testing.T) {
	est := &fakeEstimator{sampleErr: errors.New("camera occluded")}
	c, _ := NewController(est, 1920, 1080, fastConfig())
	trainAll(t, c)

	_, err := c.Validate(context.Background())
	if !errors.Is(err, ErrNoSamples) {
		t.Errorf("err = %v, want ErrNoSamples when every sample errors", err)
	}
}

func TestValidate_ContextCancelled(t *testing.T) {
	est := &fakeEstimator{sampleX: 960, sampleY: 540}
	c, _ := NewController(est, 1920, 1080, Config{
		SettleDelay:  time.Hour,
		SampleWindow: time.Hour,
		PollInterval: time.Hour,
	})
	trainAll(t, c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Validate(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestReset(t *testing.T) {
	est := &fakeEstimator{sampleX: 960, sampleY: 540}
	c, _ := NewController(est, 1920, 1080, fastConfig())
	trainAll(t, c)

	if _, err := c.Validate(context.Background()); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	c.Reset()
	if c.CurrentPhase() != PhaseTraining || c.Calibrated() {
		t.Error("Reset did not return to training phase")
	}
	pt, ok := c.CurrentPoint()
	if !ok || pt != c.Points()[0] {
		t.Error("Reset did not return to the first target")
	}
}
