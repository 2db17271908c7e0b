package nnet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/jnb666/denoiseg/img"
	"github.com/jnb666/denoiseg/npz"
	"github.com/pkg/errors"
)

func testConf() Config {
	conf := DefaultConfig()
	conf.MaxEpoch = 100
	conf.StopAfter = 2
	conf.MinLoss = 0
	return conf
}

func TestTestBase(t *testing.T) {
	test := NewTestBase(testConf())
	// moving average of the validation loss and epochs since it last improved
	input := []float64{1.0, 0.1, 0.9, 0.9}
	expect := []struct {
		bestSince int
		done      bool
	}{
		{-1, false}, {0, false}, {1, false}, {2, true},
	}
	for i, val := range input {
		done := test.Test(Stats{Epoch: i + 1, Values: []float64{0.5, val}})
		s := test.Stats[i]
		if s.BestSince != expect[i].bestSince || done != expect[i].done {
			t.Errorf("epoch %d: bestSince=%d done=%v expect %v", i+1, s.BestSince, done, expect[i])
		}
		if len(s.Values) != 3 {
			t.Fatal("epoch", i+1, "values", s.Values)
		}
	}
	if avg := test.Stats[0].Values[2]; avg != 1.0 {
		t.Error("first avg: got", avg)
	}
	if avg := test.Stats[1].Values[2]; avg < 0.83 || avg > 0.84 {
		t.Error("second avg: got", avg)
	}
}

func TestTestBaseStop(t *testing.T) {
	conf := testConf()
	conf.MaxEpoch = 3
	test := NewTestBase(conf)
	if test.Test(Stats{Epoch: 1, Values: []float64{0.5, 0.5}}) {
		t.Error("should not stop at epoch 1")
	}
	if !test.Test(Stats{Epoch: 3, Values: []float64{0.4, 0.4}}) {
		t.Error("should stop at max epoch")
	}
	conf.MinLoss = 0.1
	test = NewTestBase(conf)
	if !test.Test(Stats{Epoch: 1, Values: []float64{0.05, 0.5}}) {
		t.Error("should stop when loss under threshold")
	}
}

// fake backend which streams epoch stats until stopped
type fakeBackend struct {
	epochs int
	err    error
}

func (b *fakeBackend) Train(ctx context.Context, conf Config, data map[string]*img.Data, progress chan<- Stats) error {
	for i := 1; i <= b.epochs; i++ {
		s := Stats{Epoch: i, Values: []float64{1 / float64(i), 1 / float64(i)}}
		select {
		case progress <- s:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return b.err
}

func (b *fakeBackend) Export(modelFile string) error { return nil }

func TestTrain(t *testing.T) {
	conf := testConf()
	conf.MaxEpoch = 5
	conf.StopAfter = 0
	test := NewTestBase(conf)
	err := Train(context.Background(), &fakeBackend{epochs: 1000}, conf, nil, test)
	if err != nil {
		t.Fatal(err)
	}
	if len(test.Stats) != 5 {
		t.Error("expect stop after 5 epochs: got", len(test.Stats))
	}
}

func TestTrainError(t *testing.T) {
	conf := testConf()
	trainErr := errors.New("boom")
	err := Train(context.Background(), &fakeBackend{epochs: 2, err: trainErr}, conf, nil, NewTestBase(conf))
	if !errors.Is(err, trainErr) {
		t.Error("expect backend error: got", err)
	}
}

func TestParseProgress(t *testing.T) {
	tests := []struct {
		line string
		s    Stats
		ok   bool
	}{
		{"epoch 3 loss 0.1234 val_loss 0.2345", Stats{Epoch: 3, Values: []float64{0.1234, 0.2345}}, true},
		{"epoch 1 loss 0.5", Stats{Epoch: 1, Values: []float64{0.5}}, true},
		{"saving checkpoint", Stats{}, false},
		{"epoch x loss 0.5", Stats{}, false},
		{"epoch 1 loss", Stats{}, false},
		{"epoch 1 loss abc", Stats{}, false},
		{"", Stats{}, false},
	}
	for _, tc := range tests {
		s, ok := parseProgress(tc.line)
		if ok != tc.ok || !reflect.DeepEqual(s, tc.s) {
			t.Errorf("parseProgress(%q): got %+v %v", tc.line, s, ok)
		}
	}
}

func TestExecBackend(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "trainer.sh")
	prog := `echo "epoch 1 loss 0.5 val_loss 0.6"
echo "trained model" > model.onnx
echo "epoch 2 loss 0.4 val_loss 0.5"
`
	if err := os.WriteFile(script, []byte(prog), 0755); err != nil {
		t.Fatal(err)
	}
	conf := testConf()
	conf.Trainer = "sh " + script
	conf.MaxEpoch = 2
	conf.BatchSize = 2
	data := map[string]*img.Data{
		"train": testData(t, 4, 4),
		"valid": testData(t, 2, 4),
	}
	workDir := filepath.Join(dir, "run")
	b := NewExecBackend(workDir)
	test := NewTestBase(conf)
	if err := Train(context.Background(), b, conf, data, test); err != nil {
		t.Fatal(err)
	}
	if len(test.Stats) != 2 {
		t.Fatal("expect 2 epochs: got", len(test.Stats))
	}
	if v := test.Stats[1].Values[:2]; !reflect.DeepEqual(v, []float64{0.4, 0.5}) {
		t.Error("epoch 2 stats: got", v)
	}
	arrays, err := npz.ReadArchive(filepath.Join(workDir, "data.npz"))
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"X_train", "Y_train", "X_val", "Y_val"} {
		if _, ok := arrays[key]; !ok {
			t.Error("missing archive member", key)
		}
	}
	if shape := arrays["X_train"].Shape; !reflect.DeepEqual(shape, []int{4, 4, 4}) {
		t.Error("X_train shape: got", shape)
	}
	if shape := arrays["Y_train"].Shape; !reflect.DeepEqual(shape, []int{4, 3, 4, 4}) {
		t.Error("Y_train shape: got", shape)
	}
	model := filepath.Join(dir, "export.onnx")
	if err := b.Export(model); err != nil {
		t.Fatal(err)
	}
	content, err := os.ReadFile(model)
	if err != nil || string(content) != "trained model\n" {
		t.Error("exported model: got", string(content), err)
	}
}

func TestExecBackendCancel(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "trainer.sh")
	prog := `i=1
while [ $i -le 100 ]; do
  echo "epoch $i loss 0.5 val_loss 0.5"
  sleep 0.05
  i=$((i+1))
done
`
	if err := os.WriteFile(script, []byte(prog), 0755); err != nil {
		t.Fatal(err)
	}
	conf := testConf()
	conf.Trainer = "sh " + script
	conf.MaxEpoch = 3
	conf.StopAfter = 0
	data := map[string]*img.Data{"train": testData(t, 4, 4)}
	b := NewExecBackend(filepath.Join(dir, "run"))
	test := NewTestBase(conf)
	if err := Train(context.Background(), b, conf, data, test); err != nil {
		t.Fatal(err)
	}
	if len(test.Stats) != 3 {
		t.Error("expect stop after 3 epochs: got", len(test.Stats))
	}
}

func ExampleStats_String() {
	s := Stats{Epoch: 4, Values: []float64{0.1234, 0.2345, 0.3456}, BestSince: 1}
	fmt.Println(s.String(StatsHeaders()))
	// Output:
	// epoch   4:  loss = 0.1234  valid loss = 0.2345  valid avg = 0.3456 [1]
}
