package nnet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jnb666/denoiseg/img"
	"github.com/jnb666/denoiseg/stats"
	"golang.org/x/sync/errgroup"
)

const (
	statsBufferSize = 10
	emaN            = 10
)

// Training statistics for one epoch as reported by the backend.
type Stats struct {
	Epoch     int
	Values    []float64
	BestSince int
	Elapsed   time.Duration
}

// StatsHeaders gives the name for each entry in Stats.Values.
func StatsHeaders() []string {
	return []string{"loss", "valid loss", "valid avg"}
}

func (s Stats) Format() []string {
	str := make([]string, len(s.Values))
	for i, v := range s.Values {
		str[i] = fmt.Sprintf("%7.4f", v)
	}
	return str
}

func (s Stats) Copy() Stats {
	s.Values = append([]float64{}, s.Values...)
	return s
}

func (s Stats) String(headers []string) string {
	msg := fmt.Sprintf("epoch %3d:", s.Epoch)
	for i, val := range s.Format() {
		if i < len(headers) {
			msg += fmt.Sprintf("  %s =%s", headers[i], val)
		}
	}
	if s.BestSince >= 0 {
		msg += fmt.Sprintf(" [%d]", s.BestSince)
	}
	return msg
}

// Backend trains a model on the prepared data sets. Train sends the stats for
// each completed epoch on the progress channel and stops early when the
// context is cancelled. Export writes the trained model artifact.
type Backend interface {
	Train(ctx context.Context, conf Config, data map[string]*img.Data, progress chan<- Stats) error
	Export(modelFile string) error
}

// Tester interface to evaluate performance after each epoch, Test method returns true if training should stop.
type Tester interface {
	Test(s Stats) bool
}

// Tester which tracks the moving average of the validation loss and flags when
// training should stop.
type TestBase struct {
	Conf    Config
	Stats   []Stats
	Headers []string
	start   time.Time
}

// Create a new base class which implements the Tester interface.
func NewTestBase(conf Config) *TestBase {
	return &TestBase{Conf: conf, Stats: []Stats{}, Headers: StatsHeaders()}
}

// Reset stats prior to new run
func (t *TestBase) Reset() {
	t.Stats = t.Stats[:0]
	t.start = time.Time{}
}

// Record the epoch stats, called on completion of each epoch.
func (t *TestBase) Test(s Stats) bool {
	if t.start.IsZero() {
		t.start = time.Now().Add(-s.Elapsed)
	}
	s = s.Copy()
	s.BestSince = -1
	loss := s.Values[0]
	if len(s.Values) >= 2 {
		validLoss := s.Values[1]
		avgVal := 0.0
		if n := len(t.Stats); n > 0 {
			avgVal = t.Stats[n-1].Values[2]
		}
		avgVal = stats.EMA(avgVal).Add(validLoss, emaN)
		s.Values = append(s.Values[:2], avgVal)
		// number of epochs since the average validation loss last improved
		for ep := len(t.Stats); ep >= 1; ep-- {
			if t.Stats[ep-1].Values[2] > avgVal {
				s.BestSince = len(t.Stats) - ep
				break
			}
		}
	}
	if s.Elapsed == 0 {
		s.Elapsed = time.Since(t.start)
	}
	t.Stats = append(t.Stats, s)
	return s.Epoch >= t.Conf.MaxEpoch || loss <= t.Conf.MinLoss ||
		(t.Conf.StopAfter > 0 && s.BestSince >= t.Conf.StopAfter)
}

type testLogger struct {
	*TestBase
}

// Create a new tester which logs stats to stdout.
func NewTestLogger(conf Config) Tester {
	return testLogger{TestBase: NewTestBase(conf)}
}

func (t testLogger) Test(s Stats) bool {
	done := t.TestBase.Test(s)
	last := t.Stats[len(t.Stats)-1]
	if done || t.Conf.LogEvery == 0 || last.Epoch%t.Conf.LogEvery == 0 {
		fmt.Println(last.String(t.Headers))
	}
	if done {
		fmt.Printf("run time: %s\n", last.Elapsed.Round(10*time.Millisecond))
	}
	return done
}

// Train the model on the given data by delegating to the backend, feeding the
// per epoch stats to the tester until it signals completion.
func Train(ctx context.Context, b Backend, conf Config, data map[string]*img.Data, test Tester) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	progress := make(chan Stats, statsBufferSize)
	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		defer close(progress)
		return b.Train(gctx, conf, data, progress)
	})
	stopped := false
	for s := range progress {
		if !stopped && test.Test(s) {
			stopped = true
			cancel()
		}
	}
	err := grp.Wait()
	if stopped && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
