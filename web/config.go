package web

import (
	"fmt"
	"html/template"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/jnb666/denoiseg/nnet"
)

type ConfigPage struct {
	*Templates
	Fields []Field
	Tuners []Field
	mon    *Monitor
	sync.Mutex
}

type Field struct {
	Name    string
	Value   string
	Error   string
	Boolean bool
	On      bool
}

// Base data for handler functions to view and update the training config
func NewConfigPage(t *Templates, mon *Monitor) *ConfigPage {
	p := &ConfigPage{mon: mon}
	p.Templates = t.Select("/config")
	p.AddOption(Link{Name: "save", Url: "/config/save", Submit: true})
	p.AddOption(Link{Name: "reset", Url: "/config/reset"})
	p.Fields = getFields(mon.Conf)
	p.Tuners = getTuners(mon.Tuners)
	return p
}

// Handler function for the config template
func (p *ConfigPage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.Lock()
		defer p.Unlock()
		p.render(w, "config", p)
	}
}

// Handler function for the action to load a new model
func (p *ConfigPage) Load() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.Lock()
		defer p.Unlock()
		model := r.FormValue("model")
		log.Println("load model:", model)
		data, err := LoadRun(model, false)
		if err != nil {
			logError(w, err)
			return
		}
		p.mon.Lock()
		defer p.mon.Unlock()
		p.mon.RunData = data
		if err := p.mon.Init(data.Conf); err != nil {
			logError(w, err)
			return
		}
		p.Fields = getFields(data.Conf)
		p.Tuners = getTuners(data.Tuners)
		http.Redirect(w, r, "/config", http.StatusFound)
	}
}

// Handler function for the config form save action
func (p *ConfigPage) Save() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.Lock()
		defer p.Unlock()
		r.ParseForm()
		haveErrors := false
		conf := p.mon.Conf
		for i, fld := range p.Fields {
			val := r.Form.Get(fld.Name)
			var err error
			if fld.Boolean {
				p.Fields[i].On = (val == "true")
				conf, err = conf.SetBool(fld.Name, p.Fields[i].On)
			} else {
				p.Fields[i].Value = val
				conf, err = conf.SetString(fld.Name, val)
			}
			p.Fields[i].Error = ""
			if err != nil {
				p.Fields[i].Error = "invalid syntax"
				haveErrors = true
			}
		}
		if err := conf.Validate(); err != nil && !haveErrors {
			logError(w, err)
			return
		}
		tuners := p.mon.Tuners
		for i, fld := range p.Tuners {
			if val := r.Form.Get("tune" + fld.Name); val != "" {
				p.Tuners[i].Value = val
				tuners[i].Values = splitValues(val)
			}
		}
		if !haveErrors {
			if err := conf.Save(p.mon.Model + ".conf"); err != nil {
				logError(w, err)
				return
			}
			p.mon.Lock()
			p.mon.Conf = conf
			p.mon.Tuners = tuners
			p.mon.Unlock()
		}
		http.Redirect(w, r, "/config", http.StatusFound)
	}
}

// Handler function for the config form reset action
func (p *ConfigPage) Reset() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.Lock()
		defer p.Unlock()
		conf, err := nnet.LoadConfig(p.mon.Model + ".default")
		if err != nil {
			logError(w, err)
			return
		}
		if err = conf.Save(p.mon.Model + ".conf"); err != nil {
			logError(w, err)
			return
		}
		p.mon.Lock()
		p.mon.Conf = conf
		p.mon.Unlock()
		p.Fields = getFields(conf)
		http.Redirect(w, r, "/config", http.StatusFound)
	}
}

func (p *ConfigPage) Heading() template.HTML {
	entries, err := os.ReadDir(nnet.DataDir)
	if err != nil {
		log.Println("config: error reading data dir:", err)
		return ""
	}
	html := `model: <select name="model" class="model-select" form="loadConfig" onchange="this.form.submit()">`
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".conf") {
			name = strings.TrimSuffix(name, ".conf")
			if name == p.mon.Model {
				html += "<option selected>" + name + "</option>"
			} else {
				html += "<option>" + name + "</option>"
			}
		}
	}
	html += "</select>"
	return template.HTML(html)
}

func getFields(conf nnet.Config) []Field {
	var flds []Field
	for _, key := range conf.Fields() {
		f := Field{Name: key, Value: trimBrackets(fmt.Sprint(conf.Get(key)))}
		f.On, f.Boolean = conf.Get(key).(bool)
		flds = append(flds, f)
	}
	return flds
}

func getTuners(params []TuneParams) []Field {
	var flds []Field
	for _, p := range params {
		flds = append(flds, Field{Name: p.Name, Value: strings.Join(p.Values, ", ")})
	}
	return flds
}

func splitValues(val string) []string {
	var vals []string
	for _, v := range strings.Split(val, ",") {
		if v = strings.TrimSpace(v); v != "" {
			vals = append(vals, v)
		}
	}
	return vals
}

// slice fields print as [1 1 5], the form shows 1, 1, 5
func trimBrackets(s string) string {
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		return strings.Join(strings.Fields(s[1:len(s)-1]), ", ")
	}
	return s
}
