package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the wire and storage layout of every calendar date in a draft.
const DateLayout = "2006-01-02"

// Privacy controls who can open a published memorial.
type Privacy string

const (
	PrivacyPublic   Privacy = "public"
	PrivacyUnlisted Privacy = "unlisted"
	PrivacyPrivate  Privacy = "private"
)

// Valid reports whether p is one of the known privacy levels.
func (p Privacy) Valid() bool {
	switch p {
	case PrivacyPublic, PrivacyUnlisted, PrivacyPrivate:
		return true
	}
	return false
}

// ServiceType enumerates the kinds of gatherings a memorial can list.
type ServiceType string

const (
	ServiceFuneral           ServiceType = "funeral"
	ServiceMemorial          ServiceType = "memorial"
	ServiceVisitation        ServiceType = "visitation"
	ServiceBurial            ServiceType = "burial"
	ServiceCelebrationOfLife ServiceType = "celebration_of_life"
	ServiceReception         ServiceType = "reception"
	ServiceOther             ServiceType = "other"
)

// Valid reports whether t is a known service type.
func (t ServiceType) Valid() bool {
	switch t {
	case ServiceFuneral, ServiceMemorial, ServiceVisitation, ServiceBurial,
		ServiceCelebrationOfLife, ServiceReception, ServiceOther:
		return true
	}
	return false
}

// MomentType is the media kind of a moment.
type MomentType string

const (
	MomentPhoto MomentType = "photo"
	MomentVideo MomentType = "video"
)

// BasicInfo holds the name and life dates of the person being remembered.
// Dates use DateLayout; an empty string means "not provided".
type BasicInfo struct {
	FullName         string `json:"fullName"`
	FirstName        string `json:"firstName"`
	MiddleName       string `json:"middleName,omitempty"`
	LastName         string `json:"lastName"`
	BirthDate        string `json:"birthDate,omitempty"`
	DeathDate        string `json:"deathDate,omitempty"`
	Headline         string `json:"headline,omitempty"`
	OpeningStatement string `json:"openingStatement,omitempty"`
}

// ComposeFullName joins first, middle and last name with single spaces.
func (b BasicInfo) ComposeFullName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{b.FirstName, b.MiddleName, b.LastName} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Story holds the two long-form sections. Both are sanitized HTML.
type Story struct {
	ObituaryHTML  string `json:"obituaryHtml"`
	LifeStoryHTML string `json:"lifeStoryHtml"`
}

// Service is one gathering (funeral, visitation...) listed on the memorial.
type Service struct {
	Type           ServiceType `json:"type"`
	Date           string      `json:"date,omitempty"`
	Time           string      `json:"time,omitempty"`
	LocationName   string      `json:"locationName,omitempty"`
	Address        string      `json:"address,omitempty"`
	AdditionalInfo string      `json:"additionalInfo,omitempty"`
	IsVirtual      bool        `json:"isVirtual"`
	VirtualURL     string      `json:"virtualUrl,omitempty"`
}

// IsEmpty reports whether the user left every descriptive field blank.
func (s Service) IsEmpty() bool {
	return s.Date == "" && s.Time == "" && s.LocationName == "" && s.Address == "" &&
		s.AdditionalInfo == "" && s.VirtualURL == ""
}

// Moment is a photo or video attached to the memorial.
// While Uploading is true LocalURL points at a transient preview that must be
// revoked once RemoteURL is known.
type Moment struct {
	ID             string     `json:"id"`
	Type           MomentType `json:"type"`
	RemoteURL      string     `json:"remoteUrl,omitempty"`
	ThumbnailURL   string     `json:"thumbnailUrl,omitempty"`
	RemotePublicID string     `json:"remotePublicId,omitempty"`
	Caption        string     `json:"caption,omitempty"`
	DateTaken      string     `json:"dateTaken,omitempty"`
	FileName       string     `json:"fileName,omitempty"`
	Uploading      bool       `json:"uploading"`
	LocalURL       string     `json:"localUrl,omitempty"`
}

// Settings holds visibility options.
// The raw password only lives in memory; snapshots carry the bcrypt hash.
type Settings struct {
	Privacy      Privacy `json:"privacy"`
	Password     string  `json:"-"`
	PasswordHash string  `json:"passwordHash,omitempty"`
}

// HasPassword reports whether a password is held either raw or hashed.
func (s Settings) HasPassword() bool {
	return s.Password != "" || s.PasswordHash != ""
}

// Draft is the in-progress memorial edited by the wizard.
type Draft struct {
	ID             string    `json:"id,omitempty"`
	Basic          BasicInfo `json:"basic"`
	Story          Story     `json:"story"`
	Services       []Service `json:"services"`
	Moments        []Moment  `json:"moments"`
	Settings       Settings  `json:"settings"`
	AdditionalInfo string    `json:"additionalInfo,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// NewDraft returns an empty draft with the default privacy.
func NewDraft() *Draft {
	return &Draft{
		Services: []Service{},
		Moments:  []Moment{},
		Settings: Settings{Privacy: PrivacyPublic},
	}
}

// Clone returns a deep copy safe to hand outside the owning lock.
func (d *Draft) Clone() *Draft {
	if d == nil {
		return nil
	}
	c := *d
	c.Services = append([]Service{}, d.Services...)
	c.Moments = append([]Moment{}, d.Moments...)
	return &c
}

// DisplayName returns the full name, composing it from the parts when unset.
func (d *Draft) DisplayName() string {
	if name := strings.TrimSpace(d.Basic.FullName); name != "" {
		return name
	}
	return d.Basic.ComposeFullName()
}

// MomentIndex returns the position of the moment with id, or -1.
func (d *Draft) MomentIndex(id string) int {
	for i := range d.Moments {
		if d.Moments[i].ID == id {
			return i
		}
	}
	return -1
}

// SettledMoments returns the moments that finished uploading, in draft order.
func (d *Draft) SettledMoments() []Moment {
	out := make([]Moment, 0, len(d.Moments))
	for _, m := range d.Moments {
		if m.Uploading || m.RemoteURL == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Snapshot serialises the draft without in-flight placeholders.
func (d *Draft) Snapshot() ([]byte, error) {
	c := d.Clone()
	c.Moments = c.SettledMoments()
	c.Settings.Password = ""
	return json.Marshal(c)
}

// AssetDescriptor is what the asset store returns for an uploaded file.
type AssetDescriptor struct {
	URL          string `json:"url"`
	PublicID     string `json:"publicId"`
	ResourceType string `json:"resourceType"`
	Format       string `json:"format"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	Bytes        int64  `json:"bytes"`
	ThumbnailURL string `json:"thumbnailUrl"`
}

// MemorialRecord is the persisted parent row.
type MemorialRecord struct {
	ID               uuid.UUID       `db:"id"`
	OwnerID          uuid.UUID       `db:"owner_id"`
	FullName         string          `db:"full_name"`
	FirstName        string          `db:"first_name"`
	MiddleName       string          `db:"middle_name"`
	LastName         string          `db:"last_name"`
	BirthDate        *time.Time      `db:"birth_date"`
	DeathDate        *time.Time      `db:"death_date"`
	Headline         string          `db:"headline"`
	OpeningStatement string          `db:"opening_statement"`
	ObituaryHTML     string          `db:"obituary_html"`
	LifeStoryHTML    string          `db:"life_story_html"`
	AdditionalInfo   string          `db:"additional_info"`
	Privacy          Privacy         `db:"privacy"`
	PasswordHash     *string         `db:"password_hash"`
	Slug             *string         `db:"slug"`
	IsDraft          bool            `db:"is_draft"`
	IsPublished      bool            `db:"is_published"`
	DraftPayload     json.RawMessage `db:"draft_payload"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"`
	PublishedAt      *time.Time      `db:"published_at"`
}

// ServiceRecord is a persisted child row of a memorial.
type ServiceRecord struct {
	ID             uuid.UUID   `db:"id"`
	MemorialID     uuid.UUID   `db:"memorial_id"`
	Sequence       int         `db:"sequence"`
	Type           ServiceType `db:"service_type"`
	ServiceDate    *time.Time  `db:"service_date"`
	ServiceTime    string      `db:"service_time"`
	LocationName   string      `db:"location_name"`
	Address        string      `db:"address"`
	AdditionalInfo string      `db:"additional_info"`
	IsVirtual      bool        `db:"is_virtual"`
	VirtualURL     string      `db:"virtual_url"`
}

// MomentRecord is a persisted photo/video row of a memorial.
type MomentRecord struct {
	ID           uuid.UUID  `db:"id"`
	MemorialID   uuid.UUID  `db:"memorial_id"`
	Sequence     int        `db:"sequence"`
	Type         MomentType `db:"media_type"`
	URL          string     `db:"url"`
	ThumbnailURL string     `db:"thumbnail_url"`
	PublicID     string     `db:"public_id"`
	Caption      string     `db:"caption"`
	DateTaken    *time.Time `db:"date_taken"`
	FileName     string     `db:"file_name"`
}

// PublishedRecord identifies a memorial after a successful publish.
type PublishedRecord struct {
	ID          uuid.UUID `json:"id"`
	Slug        string    `json:"slug"`
	IsPublished bool      `json:"isPublished"`
}

// ParseDate parses a DateLayout string; empty input yields nil.
func ParseDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// FormatDate is the inverse of ParseDate.
func FormatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(DateLayout)
}
