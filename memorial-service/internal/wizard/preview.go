package wizard

import (
	"bytes"
	"fmt"
	"html/template"

	"memorial-server/memorial-service/internal/sanitize"
	"memorial-server/shared/models"
)

const previewTemplate = `<article class="memorial-preview">
  <header>
    <h1>{{.Name}}</h1>
    {{- if or .Basic.BirthDate .Basic.DeathDate}}
    <p class="dates">{{.Basic.BirthDate}}{{if and .Basic.BirthDate .Basic.DeathDate}} &ndash; {{end}}{{.Basic.DeathDate}}</p>
    {{- end}}
    {{- with .Basic.Headline}}
    <p class="headline">{{.}}</p>
    {{- end}}
  </header>
  {{- with .Basic.OpeningStatement}}
  <p class="opening">{{.}}</p>
  {{- end}}
  {{- with .Obituary}}
  <section class="obituary">{{.}}</section>
  {{- end}}
  {{- with .LifeStory}}
  <section class="life-story">{{.}}</section>
  {{- end}}
  {{- if .Services}}
  <section class="services">
    <ul>
    {{- range .Services}}
      <li>
        <strong>{{.Type}}</strong>{{with .Date}} {{.}}{{end}}{{with .Time}} {{.}}{{end}}
        {{- with .LocationName}} &middot; {{.}}{{end}}{{with .Address}}, {{.}}{{end}}
        {{- if .IsVirtual}} &middot; <a href="{{.VirtualURL}}" rel="nofollow">Join online</a>{{end}}
        {{- with .AdditionalInfo}}<p>{{.}}</p>{{end}}
      </li>
    {{- end}}
    </ul>
  </section>
  {{- end}}
  {{- if .Moments}}
  <section class="moments">
    {{- range .Moments}}
    <figure>
      {{- if eq .Type "video"}}
      <video src="{{.RemoteURL}}" poster="{{.ThumbnailURL}}" controls></video>
      {{- else}}
      <img src="{{or .ThumbnailURL .RemoteURL}}" alt="{{.Caption}}">
      {{- end}}
      {{- with .Caption}}<figcaption>{{.}}</figcaption>{{end}}
    </figure>
    {{- end}}
  </section>
  {{- end}}
  {{- with .AdditionalInfo}}
  <p class="additional">{{.}}</p>
  {{- end}}
</article>
`

// Renderer turns a draft into the preview markup of the review step.
// Plain fields are escaped by html/template; story sections are sanitized
// again before being marked safe.
type Renderer struct {
	tmpl *template.Template
}

func NewRenderer() (*Renderer, error) {
	tmpl, err := template.New("preview").Parse(previewTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse preview template: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

type previewData struct {
	Name           string
	Basic          models.BasicInfo
	Obituary       template.HTML
	LifeStory      template.HTML
	Services       []models.Service
	Moments        []models.Moment
	AdditionalInfo string
}

// Render renders d. In-flight uploads are left out.
func (r *Renderer) Render(d *models.Draft) (string, error) {
	services := make([]models.Service, 0, len(d.Services))
	for _, s := range d.Services {
		if !s.IsEmpty() || s.IsVirtual {
			services = append(services, s)
		}
	}
	data := previewData{
		Name:           d.DisplayName(),
		Basic:          d.Basic,
		Obituary:       template.HTML(sanitize.RichText(d.Story.ObituaryHTML, sanitize.ProfileRichText)),
		LifeStory:      template.HTML(sanitize.RichText(d.Story.LifeStoryHTML, sanitize.ProfileRichText)),
		Services:       services,
		Moments:        d.SettledMoments(),
		AdditionalInfo: d.AdditionalInfo,
	}
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render preview: %w", err)
	}
	return buf.String(), nil
}
