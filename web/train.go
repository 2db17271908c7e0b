package web

import (
	"bytes"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/vgsvg"

	"github.com/jnb666/denoiseg/nnet"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type TrainPage struct {
	*Templates
	mon *Monitor
}

// Base data for handler functions to perform training and display the stats
func NewTrainPage(t *Templates, mon *Monitor) *TrainPage {
	p := &TrainPage{mon: mon}
	p.Templates = t.Select("/train")
	p.AddOption(Link{Name: "start", Url: "/train/start"})
	p.AddOption(Link{Name: "stop", Url: "/train/stop"})
	p.AddOption(Link{Name: "tune", Url: "/train/tune"})
	return p
}

// Handler function for the train template
func (p *TrainPage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		cmd := mux.Vars(r)["cmd"]
		p.mon.Lock()
		defer p.mon.Unlock()
		switch cmd {
		case "start":
			if p.mon.running {
				log.Println("skip start - already running")
			} else if err := p.mon.Train(); err != nil {
				logError(w, err)
				return
			}
			http.Redirect(w, r, "/train/stats", http.StatusFound)
		case "stop":
			p.mon.Stop()
			http.Redirect(w, r, "/train/stats", http.StatusFound)
		case "tune":
			p.mon.tuneMode = !p.mon.tuneMode
			log.Println("tune mode:", p.mon.tuneMode)
			http.Redirect(w, r, "/train/stats", http.StatusFound)
		default:
			sel := []string{}
			if p.mon.tuneMode {
				sel = append(sel, "tune")
			}
			p.SelectOptions(sel)
			p.render(w, "train", p)
		}
	}
}

// Handler function for the stats frame
func (p *TrainPage) Stats() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.mon.Lock()
		defer p.mon.Unlock()
		p.render(w, "stats", p)
	}
}

// Handler function for websocket connection
func (p *TrainPage) Websocket() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("websocket upgrade:", err)
			return
		}
		p.mon.Lock()
		p.mon.conn = conn
		p.mon.Unlock()
	}
}

func (p *TrainPage) Heading() template.HTML {
	return p.mon.heading()
}

func (p *TrainPage) Headers() []string {
	return nnet.StatsHeaders()
}

func (p *TrainPage) LatestStats(n int) []nnet.Stats {
	last := len(p.mon.Stats) - 1
	res := []nnet.Stats{}
	for i := last; i >= 0 && i > last-n; i-- {
		res = append(res, p.mon.Stats[i])
	}
	return res
}

func (p *TrainPage) RunTime() string {
	if len(p.mon.Stats) == 0 {
		return ""
	}
	elapsed := p.mon.Stats[len(p.mon.Stats)-1].Elapsed
	return fmt.Sprintf("run time: %s", elapsed.Round(10*time.Millisecond))
}

func (p *TrainPage) Threshold() string {
	if p.mon.Score == 0 {
		return ""
	}
	return fmt.Sprintf("threshold: %.2f  score: %.4f", p.mon.Threshold, p.mon.Score)
}

// History of completed runs, most recent first.
type HistoryRow struct {
	Run       int
	Epoch     int
	Stats     []string
	Params    template.HTML
	Threshold string
	Score     string
	Elapsed   string
}

func (p *TrainPage) History() []HistoryRow {
	rows := []HistoryRow{}
	for i := len(p.mon.History) - 1; i >= 0; i-- {
		h := p.mon.History[i]
		rows = append(rows, HistoryRow{
			Run:       i + 1,
			Epoch:     h.Stats.Epoch,
			Stats:     h.Stats.Format(),
			Params:    template.HTML(tuneParams(h)),
			Threshold: fmt.Sprintf("%.2f", h.Threshold),
			Score:     fmt.Sprintf("%.4f", h.Score),
			Elapsed:   fmt.Sprint(h.Stats.Elapsed.Round(time.Second)),
		})
	}
	return rows
}

func (p *TrainPage) LossPlot(width, height int) template.HTML {
	plt := newPlot()
	line := newLinePlot(p.mon.Stats, 0, 1)
	plt.Add(line)
	plt.Legend.Add("training loss ", line)
	return writePlot(plt, width, height)
}

func (p *TrainPage) ValidPlot(width, height int) template.HTML {
	plt := newPlot()
	for i, name := range p.Headers()[1:] {
		line := newLinePlot(p.mon.Stats, i+1, 1)
		plt.Add(line)
		plt.Legend.Add(name+" ", line)
	}
	return writePlot(plt, width, height)
}

func newPlot() *plot.Plot {
	p, err := plot.New()
	if err != nil {
		log.Fatal("Plot error: ", err)
	}
	fontSmall := newFont(10)
	fontMedium := newFont(12)
	p.X.Padding, p.Y.Padding = 0, 0
	p.X.Tick.Label.Font = fontSmall
	p.Y.Tick.Label.Font = fontSmall
	p.Legend.Top = true
	p.Legend.Font = fontMedium
	p.Add(plotter.NewGrid())
	return p
}

func writePlot(p *plot.Plot, w, h int) template.HTML {
	var buf bytes.Buffer
	writer, err := p.WriterTo(vg.Inch*vg.Length(w)/vgsvg.DPI, vg.Inch*vg.Length(h)/vgsvg.DPI, "svg")
	if err != nil {
		log.Fatal("Error writing plot: ", err)
	}
	writer.WriteTo(&buf)
	return template.HTML(buf.String())
}

func newFont(size vg.Length) vg.Font {
	font, err := vg.MakeFont("Helvetica", size)
	if err != nil {
		log.Fatal("Plot: failed loading font", err)
	}
	return font
}

func newLinePlot(stats []nnet.Stats, ix int, scale float64) linePlot {
	var pt struct{ X, Y float64 }
	var pts plotter.XYs
	xmax, ymax := 1.0, 0.0
	for _, s := range stats {
		if ix >= len(s.Values) {
			continue
		}
		pt.X, pt.Y = float64(s.Epoch), s.Values[ix]*scale
		pts = append(pts, pt)
		if pt.X > xmax {
			xmax = pt.X
		}
		if pt.Y > ymax {
			ymax = pt.Y
		}
	}
	l, _ := plotter.NewLine(pts)
	l.Width = 2
	l.Color = plotutil.Color(ix)
	return linePlot{Line: l, xmin: 1, xmax: xmax, ymin: 0, ymax: ymax}
}

// modified plotter.Line with a fixed scale
type linePlot struct {
	*plotter.Line
	xmin, xmax, ymin, ymax float64
}

func (l linePlot) DataRange() (xmin, xmax, ymin, ymax float64) {
	return l.xmin, l.xmax, l.ymin, l.ymax
}
