package web

import (
	"fmt"
	"html/template"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/pkg/errors"
)

// AssetDir is the location of the html templates and static content.
var AssetDir = assetDir()

func assetDir() string {
	if dir := os.Getenv("DENOISEG_ASSETS"); dir != "" {
		return dir
	}
	return "assets"
}

// Templates bundles the parsed page templates with the main menu, the per page
// option links and the cookie store for login sessions.
type Templates struct {
	*template.Template
	Menu    []Link
	Options []Link
	store   sessions.Store
}

// Link is a menu or option entry on a page.
type Link struct {
	Url      string
	Name     string
	Selected bool
	Submit   bool
}

// NewTemplates parses the templates under AssetDir and sets up the main menu.
func NewTemplates(menu ...Link) (*Templates, error) {
	tmpl, err := template.ParseGlob(filepath.Join(AssetDir, "*.html"))
	if err != nil {
		return nil, errors.Wrap(err, "error parsing templates")
	}
	return &Templates{
		Template: tmpl,
		Menu:     menu,
		Options:  []Link{},
		store:    sessions.NewCookieStore(securecookie.GenerateRandomKey(32)),
	}, nil
}

// Clone makes a copy with its own menu and option state.
func (t *Templates) Clone() *Templates {
	c := *t
	c.Menu = append([]Link{}, t.Menu...)
	c.Options = append([]Link{}, t.Options...)
	return &c
}

// Select highlights the menu entry matching the url prefix.
func (t *Templates) Select(url string) *Templates {
	for i, l := range t.Menu {
		t.Menu[i].Selected = strings.HasPrefix(l.Url, url)
	}
	return t
}

func (t *Templates) AddOption(l Link) *Templates {
	t.Options = append(t.Options, l)
	return t
}

// SelectOptions highlights the named option links and clears the rest.
func (t *Templates) SelectOptions(names []string) *Templates {
	for i, l := range t.Options {
		sel := false
		for _, name := range names {
			sel = sel || l.Name == name
		}
		t.Options[i].Selected = sel
	}
	return t
}

func (t *Templates) render(w http.ResponseWriter, name string, data interface{}) {
	if err := t.ExecuteTemplate(w, name, data); err != nil {
		logError(w, err)
	}
}

func logError(w http.ResponseWriter, err error) {
	log.Println(err)
	http.Error(w, fmt.Sprint(err), http.StatusInternalServerError)
}
