// Package web has a web based interface to run training and browse the data
// sets and model predictions.
package web

import (
	"context"
	"encoding/gob"
	"fmt"
	"html/template"
	"log"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/jnb666/denoiseg/img"
	"github.com/jnb666/denoiseg/nnet"
	"github.com/jnb666/denoiseg/onnx"
	"github.com/jnb666/denoiseg/seg"
)

var tuneOpts = []string{"Alpha", "BatchSize", "StepsPerEpoch"}
var tuneOptHtml = []string{"&alpha;", "batch", "steps"}

// Monitor holds the training state plus the loaded data sets and inference
// session for the active model.
type Monitor struct {
	*RunData
	Data     map[string]*img.Data
	test     *nnet.TestBase
	backend  *nnet.ExecBackend
	model    *onnx.Model
	conn     *websocket.Conn
	cancel   context.CancelFunc
	running  bool
	tuneMode bool
	sync.Mutex
}

// RunData is the struct persisted to file between sessions.
type RunData struct {
	Model     string
	Conf      nnet.Config
	MaxRun    int
	Run       int
	Epoch     int
	Threshold float64
	Score     float64
	Stats     []nnet.Stats
	History   []HistoryData
	Tuners    []TuneParams
}

type HistoryData struct {
	Stats     nnet.Stats
	Conf      nnet.Config
	Threshold float64
	Score     float64
}

type TuneParams struct {
	Name   string
	Values []string
}

// Create a new monitor and load the run state from file given the model name.
func NewMonitor(model string) (*Monitor, error) {
	m := new(Monitor)
	log.Println("load model:", model)
	var err error
	if m.RunData, err = LoadRun(model, false); err != nil {
		return nil, err
	}
	m.test = nnet.NewTestBase(m.Conf)
	m.test.Stats = m.Stats
	if err := m.Init(m.Conf); err != nil {
		return nil, err
	}
	return m, nil
}

// Initialise the data sets and inference session for the given config.
func (m *Monitor) Init(conf nnet.Config) error {
	log.Printf("init monitor: dataSet=%s trainer=%q\n", conf.DataSet, conf.Trainer)
	var err error
	if m.Data, err = nnet.LoadData(conf.DataSet); err != nil {
		return err
	}
	m.Conf = conf
	m.backend = nnet.NewExecBackend(path.Join(nnet.DataDir, m.Model+"_run"))
	m.loadModel()
	return nil
}

// reload the inference session from the last trained artifact
func (m *Monitor) loadModel() {
	if m.model != nil {
		m.model.Close()
		m.model = nil
	}
	file := m.backend.ModelFile()
	if _, err := os.Stat(onnx.MetadataFile(file)); err != nil {
		return
	}
	model, err := onnx.Load(file)
	if err != nil {
		log.Println("load inference session:", err)
		return
	}
	m.model = model
}

// Predict runs inference for the given data set image. Returns an error when
// no trained model artifact is available.
func (m *Monitor) Predict(dset string, index int) (*seg.Prediction, error) {
	d, ok := m.Data[dset]
	if !ok || index < 0 || index >= d.Len() {
		return nil, fmt.Errorf("no image %d in %s data", index, dset)
	}
	if m.model == nil {
		return nil, fmt.Errorf("no trained model available")
	}
	return m.model.Predict(d.Images[index])
}

// Start a training run sequence in the background. When tune mode is set one
// run is queued per combination of the tuning parameters.
func (m *Monitor) Train() error {
	if m.running {
		return nil
	}
	runs := []nnet.Config{m.Conf.Copy()}
	if m.tuneMode {
		runs = getRunConfig(m.Conf, m.Tuners)
	}
	m.MaxRun, m.Run, m.Epoch = len(runs), 0, 0
	m.running = true
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.trainRuns(ctx, runs)
	return nil
}

// Stop the current run sequence.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Monitor) trainRuns(ctx context.Context, runs []nnet.Config) {
	for i, conf := range runs {
		m.Lock()
		log.Printf("train run %d / %d\n", i+1, len(runs))
		m.Run = i
		m.Epoch = 0
		m.test = nnet.NewTestBase(conf)
		m.Stats = m.test.Stats
		test := monitorTest{TestBase: m.test, mon: m}
		m.Unlock()
		err := nnet.Train(ctx, m.backend, conf, m.Data, test)
		if err != nil {
			log.Println("train:", err)
			break
		}
		if ctx.Err() != nil {
			break
		}
		m.finishRun(conf)
	}
	m.Lock()
	m.running = false
	m.cancel = nil
	m.Unlock()
	m.notify()
	log.Println("train: end")
}

// after each completed run: write the artifact metadata, tune the threshold on
// the validation set and record the run in the history. The lock is held for
// the model swap and sweep so page handlers never run inference on a session
// which is being replaced.
func (m *Monitor) finishRun(conf nnet.Config) {
	m.Lock()
	defer m.Unlock()
	if err := m.writeMetadata(conf); err != nil {
		log.Println("write metadata:", err)
		return
	}
	m.loadModel()
	if valid, ok := m.Data["valid"]; ok && m.model != nil {
		th, score, err := seg.OptimizeThreshold(m.model, valid)
		if err != nil {
			log.Println("optimize threshold:", err)
		} else {
			log.Printf("best threshold %.2f score %.4f\n", th, score)
			m.Threshold, m.Score = th, score
			meta := m.model.Meta
			meta.Threshold = th
			if err := meta.Save(onnx.MetadataFile(m.backend.ModelFile())); err != nil {
				log.Println("save metadata:", err)
			}
		}
	}
	h := HistoryData{Conf: conf.Copy(), Threshold: m.Threshold, Score: m.Score}
	if n := len(m.test.Stats); n > 0 {
		h.Stats = m.test.Stats[n-1].Copy()
	}
	m.History = append(m.History, h)
	if err := SaveRun(m.RunData); err != nil {
		log.Println("save run:", err)
	}
}

func (m *Monitor) writeMetadata(conf nnet.Config) error {
	d, ok := m.Data["train"]
	if !ok {
		return fmt.Errorf("no training data")
	}
	meta := onnx.Metadata{
		InputShape: []int64{1, 1, int64(d.Dims[0]), int64(d.Dims[1])},
		Classes:    d.Class,
		Threshold:  conf.Threshold,
		Mean:       d.Mean,
		StdDev:     d.StdDev,
	}
	return meta.Save(onnx.MetadataFile(m.backend.ModelFile()))
}

// tester which saves the state and notifies the websocket after each epoch
type monitorTest struct {
	*nnet.TestBase
	mon *Monitor
}

func (t monitorTest) Test(s nnet.Stats) bool {
	done := t.TestBase.Test(s)
	t.mon.update(t.TestBase)
	return done
}

func (m *Monitor) update(test *nnet.TestBase) {
	m.Lock()
	if n := len(test.Stats); n > 0 {
		m.Epoch = test.Stats[n-1].Epoch
		log.Println(test.Stats[n-1].String(test.Headers))
	}
	m.Stats = test.Stats
	if err := SaveRun(m.RunData); err != nil {
		log.Println("update: error saving run:", err)
	}
	m.Unlock()
	m.notify()
}

func (m *Monitor) notify() {
	m.Lock()
	conn := m.conn
	msg := []byte(strconv.Itoa(m.Run+1) + ":" + strconv.Itoa(m.Epoch))
	m.Unlock()
	if conn == nil {
		log.Println("notify: websocket is not initialised")
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		log.Println("notify: error writing to websocket", err)
	}
}

func (m *Monitor) heading() template.HTML {
	s := fmt.Sprintf(`%s: run <span id="run">%d</span>/%d  epoch <span id="epoch">%d</span>/%d`,
		m.Model, m.Run+1, m.MaxRun, m.Epoch, m.Conf.MaxEpoch)
	return template.HTML(s)
}

// Encode run data in gob format and save to file under nnet.DataDir
func SaveRun(data *RunData) error {
	filePath := path.Join(nnet.DataDir, data.Model+".run")
	f, err := os.Create(filePath)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(*data)
}

// Read back gob encoded run file, if not found or reset is set then load the
// config for the model and start fresh.
func LoadRun(model string, reset bool) (data *RunData, err error) {
	data = &RunData{
		Model:   model,
		MaxRun:  1,
		Stats:   []nnet.Stats{},
		History: []HistoryData{},
	}
	if !reset {
		if err = loadGob(model+".run", data); err != nil {
			reset = true
		}
	}
	if reset {
		data.Conf, err = nnet.LoadConfig(model + ".conf")
	}
	if data.Tuners == nil {
		for _, opt := range tuneOpts {
			data.Tuners = append(data.Tuners, TuneParams{
				Name:   opt,
				Values: []string{fmt.Sprint(data.Conf.Get(opt))},
			})
		}
	}
	return data, err
}

func loadGob(name string, data *RunData) error {
	filePath := path.Join(nnet.DataDir, name)
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()
	log.Println("loading run state from", name)
	return gob.NewDecoder(f).Decode(data)
}

// For hyperparameter tuning, get config per run
func getRunConfig(conf nnet.Config, params []TuneParams) []nnet.Config {
	for _, p := range params {
		conf = setConfig(conf, p.Name, p.Values[0])
	}
	logConfig(conf)
	list := permute(conf, params, len(params)-1, []nnet.Config{conf})
	runs := conf.TrainRuns
	if runs < 1 {
		runs = 1
	}
	log.Printf("getRunConfig: runs=%d cases=%d\n", runs, len(list))
	res := []nnet.Config{}
	for run := 0; run < runs; run++ {
		res = append(res, list...)
	}
	return res
}

func permute(conf nnet.Config, params []TuneParams, n int, list []nnet.Config) []nnet.Config {
	if n < 0 {
		return list
	}
	for i, val := range params[n].Values {
		if i > 0 {
			conf = setConfig(conf, params[n].Name, val)
			logConfig(conf)
			list = append(list, conf)
		}
		list = permute(conf, params, n-1, list)
	}
	return list
}

func setConfig(c nnet.Config, name string, val string) nnet.Config {
	var err error
	c, err = c.SetString(name, val)
	if err != nil {
		panic(err)
	}
	return c
}

func logConfig(c nnet.Config) {
	var s string
	for _, name := range tuneOpts {
		s += fmt.Sprintf("%s=%v ", name, c.Get(name))
	}
	log.Println("getRunConfig:", s)
}

func tuneParams(h HistoryData) string {
	plist := make([]string, len(tuneOpts))
	for i, p := range tuneOpts {
		plist[i] = fmt.Sprintf("%s=%v", tuneOptHtml[i], h.Conf.Get(p))
	}
	return strings.Join(plist, " ")
}
