// Package nnet has the training configuration, data set access and the harness
// which delegates model training to an external backend.
package nnet

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var (
	DataDir   = dataDir()
	DataTypes = []string{"train", "valid", "test"}
)

func dataDir() string {
	if dir := os.Getenv("DENOISEG_DATA"); dir != "" {
		return dir
	}
	return "data"
}

// Training configuration settings
type Config struct {
	DataSet       string
	Trainer       string
	KernelSize    int
	NetDepth      int
	NetWidth      int
	OutChannels   int
	BatchNorm     bool
	ClassWeights  []float64
	Alpha         float64
	LearnRate     float64
	BatchSize     int
	StepsPerEpoch int
	MaxEpoch      int
	MaxSamples    int
	TrainRuns     int
	LogEvery      int
	StopAfter     int
	MinLoss       float64
	Threshold     float64
	Shuffle       bool
	Tensorboard   bool
	RandSeed      int64
	DebugLevel    int
}

// Default configuration as per the n2v unet used for the DSB2018 sets.
func DefaultConfig() Config {
	return Config{
		Trainer:       "denoiseg-trainer",
		KernelSize:    3,
		NetDepth:      4,
		NetWidth:      32,
		OutChannels:   4,
		BatchNorm:     true,
		ClassWeights:  []float64{1, 1, 5},
		Alpha:         0.5,
		LearnRate:     0.0004,
		BatchSize:     128,
		StepsPerEpoch: 400,
		MaxEpoch:      200,
		TrainRuns:     1,
		StopAfter:     20,
		Shuffle:       true,
		RandSeed:      1,
	}
}

// Load config from json file under DataDir
func LoadConfig(name string) (c Config, err error) {
	filePath := path.Join(DataDir, name)
	var f *os.File
	if f, err = os.Open(filePath); err != nil {
		return
	}
	defer f.Close()
	fmt.Println("loading config from", name)
	dec := json.NewDecoder(f)
	err = dec.Decode(&c)
	return
}

// Save default config and overwrite the current one
func (c Config) SaveDefault(name string) error {
	err := c.Save(name + ".default")
	if err != nil {
		return err
	}
	return c.Save(name + ".conf")
}

// Save config to JSON file under DataDir
func (c Config) Save(name string) error {
	filePath := path.Join(DataDir, "."+name)
	f, err := os.Create(filePath)
	if err != nil {
		return err
	}
	fmt.Println("saving config to", name)
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err = enc.Encode(c); err != nil {
		f.Close()
		return err
	}
	f.Close()
	return os.Rename(filePath, path.Join(DataDir, name))
}

// WriteFile saves the config as JSON at the given path.
func (c Config) WriteFile(filePath string) error {
	f, err := os.Create(filePath)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

func (c Config) Fields() []string {
	st := reflect.TypeOf(c)
	fld := make([]string, st.NumField())
	for i := range fld {
		fld[i] = st.Field(i).Name
	}
	return fld
}

func (c Config) Get(key string) interface{} {
	s := reflect.ValueOf(c)
	return s.FieldByName(key).Interface()
}

func (c Config) String() string {
	fields := c.Fields()
	str := []string{"== Config =="}
	for _, key := range fields {
		str = append(str, fmt.Sprintf("%-14s: %v", key, c.Get(key)))
	}
	return strings.Join(str, "\n")
}

// Copy returns the config with its own class weights slice.
func (c Config) Copy() Config {
	c.ClassWeights = append([]float64{}, c.ClassWeights...)
	return c
}

func (c Config) SetString(key, val string) (Config, error) {
	s := reflect.ValueOf(&c).Elem()
	f := s.FieldByName(key)
	if !f.IsValid() {
		return c, fmt.Errorf("no such config field: %s", key)
	}
	var err error
	switch f.Type().Kind() {
	case reflect.Int, reflect.Int64:
		var x int64
		if x, err = strconv.ParseInt(val, 10, 64); err == nil {
			f.SetInt(x)
		}
	case reflect.Float64:
		var x float64
		if x, err = strconv.ParseFloat(val, 64); err == nil {
			f.SetFloat(x)
		}
	case reflect.String:
		f.SetString(val)
	case reflect.Slice:
		var vals []float64
		for _, fld := range strings.Split(val, ",") {
			var x float64
			if x, err = strconv.ParseFloat(strings.TrimSpace(fld), 64); err != nil {
				return c, err
			}
			vals = append(vals, x)
		}
		f.Set(reflect.ValueOf(vals))
	default:
		return c, fmt.Errorf("invalid type for SetString: %v", f.Type().Kind())
	}
	return c, err
}

func (c Config) SetBool(key string, val bool) (Config, error) {
	s := reflect.ValueOf(&c).Elem()
	f := s.FieldByName(key)
	if f.IsValid() && f.Type().Kind() == reflect.Bool {
		f.SetBool(val)
		return c, nil
	}
	return c, fmt.Errorf("invalid type for SetBool: %s", key)
}

// Validate checks settings which the external trainer depends on.
func (c Config) Validate() error {
	if c.OutChannels != 1+len(c.ClassWeights) {
		return fmt.Errorf("config: %d output channels, expect %d for %d classes + denoised",
			c.OutChannels, 1+len(c.ClassWeights), len(c.ClassWeights))
	}
	if c.Alpha < 0 || c.Alpha > 1 {
		return fmt.Errorf("config: alpha %g out of range 0-1", c.Alpha)
	}
	if c.BatchSize < 1 || c.MaxEpoch < 1 {
		return fmt.Errorf("config: batch size and epochs must be positive")
	}
	return nil
}

// Set random number seed, or random seed if seed <= 0
func SetSeed(seed int64) *rand.Rand {
	if seed <= 0 {
		seed = time.Now().UTC().UnixNano()
	}
	fmt.Println("random seed =", seed)
	return rand.New(rand.NewSource(seed))
}

// Exit in case of error
func CheckErr(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Check if file exists under DataDir
func FileExists(name string) bool {
	filePath := path.Join(DataDir, name)
	_, err := os.Stat(filePath)
	return err == nil
}
