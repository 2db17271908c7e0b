package nnet

import (
	"fmt"
	"math/rand"
	"os"
	"path"
	"sync"

	"github.com/jnb666/denoiseg/img"
	"github.com/jnb666/denoiseg/seg"
)

// Dataset type wraps a data set and yields batches of input pixels and one hot
// encoded segmentation targets. The next batch is staged in the background
// while the current one is consumed.
type Dataset struct {
	*img.Data
	Samples   int
	BatchSize int
	Batches   int
	xBuffer   [2][]float32
	yBuffer   [2][]float32
	count     [2]int
	indexes   []int
	buf       int
	batch     int
	rng       *rand.Rand
	sync.WaitGroup
}

// Create a new Dataset struct, allocate buffers and set the batch size and maxSamples
func NewDataset(data *img.Data, batchSize, maxSamples int, rng *rand.Rand) *Dataset {
	d := &Dataset{Data: data, Samples: data.Len(), rng: rng}
	if maxSamples > 0 && d.Samples > maxSamples {
		d.Samples = maxSamples
	}
	if batchSize == 0 || batchSize > d.Samples {
		d.BatchSize = d.Samples
	} else {
		d.BatchSize = batchSize
	}
	d.Batches = d.Samples / d.BatchSize
	if d.Samples%d.BatchSize != 0 {
		d.Batches++
	}
	nfeat := data.Dims[0] * data.Dims[1]
	for i := range d.xBuffer {
		d.xBuffer[i] = make([]float32, nfeat*d.BatchSize)
		d.yBuffer[i] = make([]float32, seg.NumClasses*nfeat*d.BatchSize)
	}
	d.indexes = make([]int, d.Samples)
	for i := range d.indexes {
		d.indexes[i] = i
	}
	d.loadBatch()
	return d
}

// kick off load of next batch of data in background
func (d *Dataset) loadBatch() {
	d.Add(1)
	go func() {
		start := d.batch * d.BatchSize
		end := start + d.BatchSize
		if end > d.Samples {
			end = d.Samples
		}
		nfeat := d.Dims[0] * d.Dims[1]
		d.Input(d.indexes[start:end], d.xBuffer[d.buf])
		for i, ix := range d.indexes[start:end] {
			seg.Flatten(d.Masks[ix], d.yBuffer[d.buf][i*seg.NumClasses*nfeat:(i+1)*seg.NumClasses*nfeat])
		}
		d.count[d.buf] = end - start
		d.Done()
	}()
}

// Get next batch of data: n images as x pixels and y one hot class planes.
func (d *Dataset) NextBatch() (x, y []float32, n int) {
	d.Wait()
	nfeat := d.Dims[0] * d.Dims[1]
	n = d.count[d.buf]
	x = d.xBuffer[d.buf][:n*nfeat]
	y = d.yBuffer[d.buf][:n*seg.NumClasses*nfeat]
	d.batch = (d.batch + 1) % d.Batches
	d.buf = (d.buf + 1) % 2
	d.loadBatch()
	return
}

// Called at start of each epoch
func (d *Dataset) NextEpoch() {
	d.Wait()
	d.batch = 0
	d.loadBatch()
}

// Shuffle the data set
func (d *Dataset) Shuffle() {
	d.Wait()
	d.indexes = d.rng.Perm(d.Samples)
}

// Load train, valid and test data sets from disk given the data set name.
func LoadData(name string) (d map[string]*img.Data, err error) {
	d = make(map[string]*img.Data)
	for _, key := range DataTypes {
		file := name + "_" + key
		if FileExists(file + ".dat") {
			if d[key], err = LoadDataFile(file); err != nil {
				return
			}
		}
	}
	if _, ok := d["train"]; !ok {
		return nil, fmt.Errorf("nnet: no training data found for %s under %s", name, DataDir)
	}
	return d, nil
}

// Decode data from file in gob format under DataDir
func LoadDataFile(name string) (*img.Data, error) {
	filePath := path.Join(DataDir, name+".dat")
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fmt.Printf("loading data from %s.dat:\t", name)
	d := new(img.Data)
	if err = d.Decode(f); err != nil {
		return nil, err
	}
	fmt.Println(append(d.Shape(), d.Len()))
	return d, nil
}

// Encode in gob format and save to file under DataDir
func SaveDataFile(d *img.Data, name string) error {
	filePath := path.Join(DataDir, name+".dat")
	f, err := os.Create(filePath)
	if err != nil {
		return err
	}
	defer f.Close()
	fmt.Println("saving data to", name+".dat")
	return d.Encode(f)
}
