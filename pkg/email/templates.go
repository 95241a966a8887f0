package email

import (
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

func loadTemplates(location *time.Location) (*template.Template, error) {
	funcs := template.FuncMap{
		"date": func(t time.Time) string {
			return t.In(location).Format("02/01/2006")
		},
	}
	return template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html")
}
