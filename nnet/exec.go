package nnet

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jnb666/denoiseg/img"
	"github.com/jnb666/denoiseg/npz"
	"github.com/jnb666/denoiseg/seg"
	"github.com/pkg/errors"
)

const (
	configFile = "config.json"
	dataFile   = "data.npz"
	modelFile  = "model.onnx"
)

// ExecBackend delegates training to an external trainer process. The config
// and data sets are materialised in the work dir, the trainer command is run
// with --config, --data and --out arguments and per epoch progress is parsed
// from its standard output as lines of the form
//
//	epoch 3 loss 0.1234 val_loss 0.2345
//
// The trainer writes the final model in onnx format to the --out path.
type ExecBackend struct {
	workDir string
}

func NewExecBackend(workDir string) *ExecBackend {
	return &ExecBackend{workDir: workDir}
}

// ModelFile returns the path of the trained model artifact.
func (b *ExecBackend) ModelFile() string {
	return filepath.Join(b.workDir, modelFile)
}

// Train runs the external trainer to completion or until ctx is cancelled.
func (b *ExecBackend) Train(ctx context.Context, conf Config, data map[string]*img.Data, progress chan<- Stats) error {
	if err := conf.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(b.workDir, 0755); err != nil {
		return errors.Wrap(err, "create work dir")
	}
	if err := conf.WriteFile(filepath.Join(b.workDir, configFile)); err != nil {
		return errors.Wrap(err, "write config")
	}
	if err := b.exportData(conf, data); err != nil {
		return err
	}
	args := strings.Fields(conf.Trainer)
	if len(args) == 0 {
		return fmt.Errorf("nnet: no trainer command configured")
	}
	args = append(args, "--config", configFile, "--data", dataFile, "--out", modelFile)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = b.workDir
	cmd.Stderr = os.Stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "stdout pipe")
	}
	fmt.Println("starting trainer:", strings.Join(args, " "))
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "start trainer %s", args[0])
	}
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		s, ok := parseProgress(line)
		if !ok {
			if conf.DebugLevel >= 1 {
				fmt.Println("trainer:", line)
			}
			continue
		}
		s.Elapsed = time.Since(start)
		select {
		case progress <- s:
		case <-ctx.Done():
		}
	}
	err = cmd.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.Wrap(err, "trainer failed")
}

// Export copies the model artifact to the given path.
func (b *ExecBackend) Export(dst string) error {
	src, err := os.Open(b.ModelFile())
	if err != nil {
		return errors.Wrap(err, "no model artifact")
	}
	defer src.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err = io.Copy(out, src); err != nil {
		return err
	}
	fmt.Println("exported model to", dst)
	return nil
}

// save X_<set> and Y_<set> npz members for the trainer, with ground truth one
// hot encoded via the batched data set loader.
func (b *ExecBackend) exportData(conf Config, data map[string]*img.Data) error {
	arrays := make(map[string]*npz.Array)
	names := map[string]string{"train": "train", "valid": "val", "test": "test"}
	rng := SetSeed(conf.RandSeed)
	for _, key := range DataTypes {
		d, ok := data[key]
		if !ok {
			continue
		}
		dset := NewDataset(d, conf.BatchSize, conf.MaxSamples, rng)
		if key == "train" && conf.Shuffle {
			dset.Shuffle()
			dset.NextEpoch()
		}
		x, y := buildArrays(dset)
		arrays["X_"+names[key]] = x
		arrays["Y_"+names[key]] = y
	}
	if _, ok := arrays["X_train"]; !ok {
		return fmt.Errorf("nnet: missing training data")
	}
	return npz.WriteArchive(filepath.Join(b.workDir, dataFile), arrays)
}

func buildArrays(d *Dataset) (x, y *npz.Array) {
	h, w := d.Dims[0], d.Dims[1]
	nfeat := h * w
	x = &npz.Array{Shape: []int{d.Samples, h, w}, Floats: make([]float32, d.Samples*nfeat)}
	y = &npz.Array{Shape: []int{d.Samples, seg.NumClasses, h, w}, Floats: make([]float32, d.Samples*seg.NumClasses*nfeat)}
	pos := 0
	for batch := 0; batch < d.Batches; batch++ {
		xb, yb, n := d.NextBatch()
		copy(x.Floats[pos*nfeat:], xb)
		copy(y.Floats[pos*seg.NumClasses*nfeat:], yb)
		pos += n
	}
	return x, y
}

func parseProgress(line string) (s Stats, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 4 || fields[0] != "epoch" || len(fields)%2 != 0 {
		return s, false
	}
	epoch, err := strconv.Atoi(fields[1])
	if err != nil {
		return s, false
	}
	s.Epoch = epoch
	for i := 3; i < len(fields); i += 2 {
		val, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return Stats{}, false
		}
		s.Values = append(s.Values, val)
	}
	return s, true
}
