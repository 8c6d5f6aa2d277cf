package backend

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/Masterminds/sprig/v3"
)

const pageTitle = "Open Source - GetToken Api Demo"

//go:embed templates/*.html.tmpl
var templateFS embed.FS

func parsePages() (*template.Template, error) {
	t, err := template.New("pages").Funcs(sprig.FuncMap()).ParseFS(templateFS, "templates/*.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return t, nil
}

// pageData feeds templates/index.html.tmpl
type pageData struct {
	Title      string
	User       string
	Refresh    bool
	Menus      menus
	Selections selections
	HasBundle  bool
	Token      panelState
	Portal     panelState
	Project    panelState
}

func (b *Backend) renderIndex(w io.Writer, rec *sessionRecord) error {
	return b.pages.ExecuteTemplate(w, "index.html.tmpl", pageData{
		Title:      pageTitle,
		User:       rec.User,
		Refresh:    rec.anyLoading(),
		Menus:      buildMenus(b.config),
		Selections: rec.Selections,
		HasBundle:  rec.Bundle != nil,
		Token:      rec.Token,
		Portal:     rec.Portal,
		Project:    rec.Project,
	})
}
