package nnet

import (
	"reflect"
	"testing"
)

func TestConfigSaveLoad(t *testing.T) {
	DataDir = t.TempDir()
	conf := DefaultConfig()
	conf.DataSet = "dsb2018_n10"
	if err := conf.Save("test.conf"); err != nil {
		t.Fatal(err)
	}
	got, err := LoadConfig("test.conf")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, conf) {
		t.Errorf("round trip mismatch\ngot    %+v\nexpect %+v", got, conf)
	}
}

func TestConfigSet(t *testing.T) {
	conf := DefaultConfig()
	conf, err := conf.SetString("Alpha", "0.7")
	if err != nil {
		t.Fatal(err)
	}
	if conf.Alpha != 0.7 {
		t.Error("Alpha: got", conf.Alpha)
	}
	conf, err = conf.SetString("ClassWeights", "1, 2, 10")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(conf.ClassWeights, []float64{1, 2, 10}) {
		t.Error("ClassWeights: got", conf.ClassWeights)
	}
	conf, err = conf.SetBool("BatchNorm", false)
	if err != nil {
		t.Fatal(err)
	}
	if conf.BatchNorm {
		t.Error("BatchNorm not cleared")
	}
	if _, err = conf.SetString("Alpha", "xyz"); err == nil {
		t.Error("expect error for bad float")
	}
	if _, err = conf.SetString("NoSuchField", "1"); err == nil {
		t.Error("expect error for unknown field")
	}
}

func TestConfigFields(t *testing.T) {
	conf := DefaultConfig()
	fields := conf.Fields()
	if len(fields) == 0 || fields[0] != "DataSet" {
		t.Error("fields: got", fields)
	}
	if v := conf.Get("NetDepth"); v != 4 {
		t.Error("NetDepth: got", v)
	}
}

func TestConfigValidate(t *testing.T) {
	conf := DefaultConfig()
	if err := conf.Validate(); err != nil {
		t.Error(err)
	}
	bad := conf
	bad.OutChannels = 2
	if err := bad.Validate(); err == nil {
		t.Error("expect error for channel mismatch")
	}
	bad = conf
	bad.Alpha = 1.5
	if err := bad.Validate(); err == nil {
		t.Error("expect error for alpha out of range")
	}
}
