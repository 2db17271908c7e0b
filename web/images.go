package web

import (
	"fmt"
	"html/template"
	"image"
	"image/png"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

type ImagePage struct {
	*Templates
	Dset      string
	Kind      string
	Page      int
	Annotated bool
	Rows      []int
	Cols      []int
	Width     int
	Height    int
	Pages     int
	Total     int
	mon       *Monitor
}

// Base data for handler functions to view the image data sets
func NewImagePage(t *Templates, mon *Monitor, scale float64, rows, cols int) *ImagePage {
	p := &ImagePage{mon: mon, Templates: t, Page: 1, Kind: "input"}
	for _, name := range []string{"all", "annotated", "prev", "next"} {
		p.AddOption(Link{Name: name, Url: "./" + name})
	}
	if d, ok := mon.Data["train"]; ok {
		p.Width = int(float64(d.Dims[1]) * scale)
		p.Height = int(float64(d.Dims[0]) * scale)
	}
	p.Rows = seq(rows)
	p.Cols = seq(cols)
	return p
}

// Handler function for the main image page
func (p *ImagePage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.mon.Lock()
		defer p.mon.Unlock()
		vars := mux.Vars(r)
		p.Dset = vars["dset"]
		if kind := vars["kind"]; kind != "" {
			p.Kind = kind
		}
		p.Select("/images")
		sel := []string{"all"}
		if p.Annotated {
			sel = []string{"annotated"}
		}
		p.SelectOptions(sel)
		p.Total, p.Pages = p.pageCount()
		if p.Page > p.Pages || p.Page < 1 {
			p.Page = 1
		}
		name := "images"
		if _, ok := p.mon.Data[p.Dset]; !ok {
			name = "blank"
		}
		p.render(w, name, p)
	}
}

// Set option from top menu
func (p *ImagePage) Setopt() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.mon.Lock()
		defer p.mon.Unlock()
		vars := mux.Vars(r)
		p.Dset = vars["dset"]
		p.Total, p.Pages = p.pageCount()
		switch vars["opt"] {
		case "all":
			p.Annotated = false
		case "annotated":
			p.Annotated = true
		case "prev":
			p.Page = mod(p.Page-1, 1, p.Pages)
		case "next":
			p.Page = mod(p.Page+1, 1, p.Pages)
		}
		http.Redirect(w, r, "/images/"+p.Dset+"/"+p.Kind, http.StatusFound)
	}
}

func (p *ImagePage) Heading() template.HTML {
	return p.mon.heading()
}

// Kinds lists the image views: the raw input and ground truth labels plus the
// denoised and segmented model outputs once a trained model is available.
func (p *ImagePage) Kinds() []Link {
	links := []Link{}
	kinds := []string{"input", "labels"}
	if p.mon.model != nil {
		kinds = append(kinds, "denoised", "seg")
	}
	for _, kind := range kinds {
		links = append(links, Link{
			Name:     kind,
			Url:      "/images/" + p.Dset + "/" + kind,
			Selected: kind == p.Kind,
		})
	}
	return links
}

func (p *ImagePage) Dsets() []Link {
	links := []Link{}
	for _, key := range []string{"train", "valid", "test"} {
		if _, ok := p.mon.Data[key]; ok {
			links = append(links, Link{Name: key, Url: "/images/" + key + "/" + p.Kind, Selected: key == p.Dset})
		}
	}
	return links
}

func (p *ImagePage) pageCount() (nimg, pages int) {
	d, ok := p.mon.Data[p.Dset]
	if !ok {
		return 0, 1
	}
	for i := 0; i < d.Len(); i++ {
		if p.showImage(i) {
			nimg++
		}
	}
	rows, cols := len(p.Rows), len(p.Cols)
	pages = nimg / (rows * cols)
	if nimg%(rows*cols) != 0 {
		pages++
	}
	if pages < 1 {
		pages = 1
	}
	return nimg, pages
}

func (p *ImagePage) showImage(i int) bool {
	d := p.mon.Data[p.Dset]
	return !p.Annotated || !d.Masks[i].Empty()
}

// Index returns the one based image id for the given grid position.
func (p *ImagePage) Index(row, col int) int {
	d, ok := p.mon.Data[p.Dset]
	if !ok {
		return 0
	}
	rows, cols := len(p.Rows), len(p.Cols)
	index := (p.Page-1)*rows*cols + row*cols + col
	for i := 0; i < d.Len(); i++ {
		if p.showImage(i) {
			index--
			if index < 0 {
				return i + 1
			}
		}
	}
	return 0
}

// Label gives the caption under each image with the ground truth object count.
func (p *ImagePage) Label(id int) string {
	d, ok := p.mon.Data[p.Dset]
	if !ok || id < 1 || id > d.Len() {
		return ""
	}
	mask := d.Masks[id-1]
	if mask.Empty() {
		return fmt.Sprintf("%d: unlabeled", id)
	}
	return fmt.Sprintf("%d: %d objects", id, mask.MaxLabel())
}

// Handler function for the image data
func (p *ImagePage) Image() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.mon.Lock()
		defer p.mon.Unlock()
		vars := mux.Vars(r)
		dset := vars["dset"]
		id, _ := strconv.Atoi(vars["id"])
		data, ok := p.mon.Data[dset]
		if !ok || id < 1 || id > data.Len() {
			http.NotFound(w, r)
			return
		}
		m, err := p.renderImage(dset, id-1, vars["kind"])
		if err != nil {
			logError(w, err)
			return
		}
		w.Header().Set("Content-type", "image/png")
		png.Encode(w, m)
	}
}

func (p *ImagePage) renderImage(dset string, index int, kind string) (image.Image, error) {
	d := p.mon.Data[dset]
	switch kind {
	case "", "input":
		return d.Images[index].Normalise(), nil
	case "labels":
		return d.Masks[index], nil
	case "denoised", "seg":
		pred, err := p.mon.Predict(dset, index)
		if err != nil {
			return nil, err
		}
		if kind == "denoised" {
			return pred.Denoised.Normalise(), nil
		}
		threshold := p.mon.Threshold
		if threshold == 0 {
			threshold = 0.5
		}
		return pred.Segment(threshold), nil
	}
	return nil, fmt.Errorf("unknown image kind %q", kind)
}

func seq(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = i
	}
	return s
}

func mod(i, min, max int) int {
	if i < min {
		i = max
	}
	if i > max {
		i = min
	}
	return i
}
