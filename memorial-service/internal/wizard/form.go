package wizard

import (
	"strings"

	"memorial-server/memorial-service/internal/sanitize"
	"memorial-server/shared/models"
)

// Form carries the raw fields of one or more steps. Nil sections are left alone.
type Form struct {
	Basic    *BasicForm    `json:"basic,omitempty"`
	Story    *StoryForm    `json:"story,omitempty"`
	Services *ServicesForm `json:"services,omitempty"`
	Settings *SettingsForm `json:"settings,omitempty"`
}

type BasicForm struct {
	FullName         string `json:"fullName"`
	FirstName        string `json:"firstName"`
	MiddleName       string `json:"middleName"`
	LastName         string `json:"lastName"`
	BirthDate        string `json:"birthDate"`
	DeathDate        string `json:"deathDate"`
	Headline         string `json:"headline"`
	OpeningStatement string `json:"openingStatement"`
}

type StoryForm struct {
	ObituaryHTML   string `json:"obituaryHtml"`
	LifeStoryHTML  string `json:"lifeStoryHtml"`
	AdditionalInfo string `json:"additionalInfo"`
}

type ServicesForm struct {
	Items []models.Service `json:"items"`
}

// SettingsForm leaves a stored password in place when Password is empty.
type SettingsForm struct {
	Privacy  models.Privacy `json:"privacy"`
	Password string         `json:"password"`
}

// merge overlays the non-nil sections of other.
func (f *Form) merge(other *Form) {
	if other == nil {
		return
	}
	if other.Basic != nil {
		b := *other.Basic
		f.Basic = &b
	}
	if other.Story != nil {
		s := *other.Story
		f.Story = &s
	}
	if other.Services != nil {
		items := append([]models.Service{}, other.Services.Items...)
		f.Services = &ServicesForm{Items: items}
	}
	if other.Settings != nil {
		s := *other.Settings
		f.Settings = &s
	}
}

func (b BasicForm) apply(d *models.Draft) {
	d.Basic = models.BasicInfo{
		FirstName:        sanitize.PlainTextLimit(b.FirstName, 100),
		MiddleName:       sanitize.PlainTextLimit(b.MiddleName, 100),
		LastName:         sanitize.PlainTextLimit(b.LastName, 100),
		BirthDate:        strings.TrimSpace(b.BirthDate),
		DeathDate:        strings.TrimSpace(b.DeathDate),
		Headline:         sanitize.PlainTextLimit(b.Headline, 200),
		OpeningStatement: sanitize.PlainText(b.OpeningStatement),
	}
	d.Basic.FullName = sanitize.PlainTextLimit(b.FullName, 300)
	if d.Basic.FullName == "" {
		d.Basic.FullName = d.Basic.ComposeFullName()
	}
}

func (s StoryForm) apply(d *models.Draft) {
	d.Story = models.Story{
		ObituaryHTML:  sanitize.RichText(s.ObituaryHTML, sanitize.ProfileRichText),
		LifeStoryHTML: sanitize.RichText(s.LifeStoryHTML, sanitize.ProfileRichText),
	}
	d.AdditionalInfo = sanitize.PlainText(s.AdditionalInfo)
}

func (s ServicesForm) apply(d *models.Draft) {
	out := make([]models.Service, 0, len(s.Items))
	for _, item := range s.Items {
		out = append(out, models.Service{
			Type:           item.Type,
			Date:           strings.TrimSpace(item.Date),
			Time:           sanitize.PlainTextLimit(item.Time, 20),
			LocationName:   sanitize.PlainTextLimit(item.LocationName, 200),
			Address:        sanitize.PlainTextLimit(item.Address, 300),
			AdditionalInfo: sanitize.PlainText(item.AdditionalInfo),
			IsVirtual:      item.IsVirtual,
			VirtualURL:     strings.TrimSpace(item.VirtualURL),
		})
	}
	d.Services = out
}

func (s SettingsForm) apply(d *models.Draft) {
	d.Settings.Privacy = s.Privacy
	if s.Privacy != models.PrivacyPrivate {
		d.Settings.Password = ""
		d.Settings.PasswordHash = ""
		return
	}
	if s.Password != "" {
		d.Settings.Password = s.Password
		d.Settings.PasswordHash = ""
	}
}

// formFromDraft rebuilds the form sections of a stored draft so a resumed
// session starts with the fields the user already entered.
func formFromDraft(d *models.Draft) *Form {
	return &Form{
		Basic: &BasicForm{
			FullName:         d.Basic.FullName,
			FirstName:        d.Basic.FirstName,
			MiddleName:       d.Basic.MiddleName,
			LastName:         d.Basic.LastName,
			BirthDate:        d.Basic.BirthDate,
			DeathDate:        d.Basic.DeathDate,
			Headline:         d.Basic.Headline,
			OpeningStatement: d.Basic.OpeningStatement,
		},
		Story: &StoryForm{
			ObituaryHTML:   d.Story.ObituaryHTML,
			LifeStoryHTML:  d.Story.LifeStoryHTML,
			AdditionalInfo: d.AdditionalInfo,
		},
		Services: &ServicesForm{Items: append([]models.Service{}, d.Services...)},
		Settings: &SettingsForm{Privacy: d.Settings.Privacy},
	}
}
