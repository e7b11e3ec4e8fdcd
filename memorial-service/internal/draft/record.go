package draft

import (
	"encoding/json"
	"fmt"

	"memorial-server/shared/models"

	"github.com/google/uuid"
)

// ToRecord maps the draft onto the parent row. The draft's own id, if any,
// becomes the record id. Settings must already be sealed.
func ToRecord(d *models.Draft, ownerID uuid.UUID) (*models.MemorialRecord, error) {
	rec := &models.MemorialRecord{
		OwnerID:          ownerID,
		FullName:         d.DisplayName(),
		FirstName:        d.Basic.FirstName,
		MiddleName:       d.Basic.MiddleName,
		LastName:         d.Basic.LastName,
		Headline:         d.Basic.Headline,
		OpeningStatement: d.Basic.OpeningStatement,
		ObituaryHTML:     d.Story.ObituaryHTML,
		LifeStoryHTML:    d.Story.LifeStoryHTML,
		AdditionalInfo:   d.AdditionalInfo,
		Privacy:          d.Settings.Privacy,
		IsDraft:          true,
	}
	if rec.Privacy == "" {
		rec.Privacy = models.PrivacyPublic
	}
	if d.ID != "" {
		id, err := uuid.Parse(d.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: draft id %q is not a uuid", models.ErrBadRequest, d.ID)
		}
		rec.ID = id
	}

	var err error
	if rec.BirthDate, err = models.ParseDate(d.Basic.BirthDate); err != nil {
		return nil, models.NewValidationError("birthDate", "use the YYYY-MM-DD format")
	}
	if rec.DeathDate, err = models.ParseDate(d.Basic.DeathDate); err != nil {
		return nil, models.NewValidationError("deathDate", "use the YYYY-MM-DD format")
	}
	if rec.Privacy == models.PrivacyPrivate && d.Settings.PasswordHash != "" {
		hash := d.Settings.PasswordHash
		rec.PasswordHash = &hash
	}

	payload, err := d.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to serialise draft: %w", err)
	}
	rec.DraftPayload = payload
	return rec, nil
}

// FromRecord rebuilds a draft from a stored row, preferring the saved payload.
func FromRecord(rec *models.MemorialRecord) (*models.Draft, error) {
	d := models.NewDraft()
	if len(rec.DraftPayload) > 0 && string(rec.DraftPayload) != "null" {
		if err := json.Unmarshal(rec.DraftPayload, d); err != nil {
			return nil, fmt.Errorf("failed to decode draft payload of %s: %w", rec.ID, err)
		}
	} else {
		d.Basic = models.BasicInfo{
			FullName:         rec.FullName,
			FirstName:        rec.FirstName,
			MiddleName:       rec.MiddleName,
			LastName:         rec.LastName,
			BirthDate:        models.FormatDate(rec.BirthDate),
			DeathDate:        models.FormatDate(rec.DeathDate),
			Headline:         rec.Headline,
			OpeningStatement: rec.OpeningStatement,
		}
		d.Story = models.Story{ObituaryHTML: rec.ObituaryHTML, LifeStoryHTML: rec.LifeStoryHTML}
		d.AdditionalInfo = rec.AdditionalInfo
		d.Settings.Privacy = rec.Privacy
		if rec.PasswordHash != nil {
			d.Settings.PasswordHash = *rec.PasswordHash
		}
	}
	if d.Services == nil {
		d.Services = []models.Service{}
	}
	if d.Moments == nil {
		d.Moments = []models.Moment{}
	}
	d.ID = rec.ID.String()
	d.UpdatedAt = rec.UpdatedAt
	return d, nil
}

// ServiceRecords maps draft services to child rows, skipping blank entries.
func ServiceRecords(d *models.Draft) ([]models.ServiceRecord, error) {
	out := make([]models.ServiceRecord, 0, len(d.Services))
	for i, s := range d.Services {
		if s.IsEmpty() && !s.IsVirtual {
			continue
		}
		date, err := models.ParseDate(s.Date)
		if err != nil {
			return nil, models.NewValidationError(fmt.Sprintf("services[%d].date", i), "use the YYYY-MM-DD format")
		}
		out = append(out, models.ServiceRecord{
			Sequence:       len(out),
			Type:           s.Type,
			ServiceDate:    date,
			ServiceTime:    s.Time,
			LocationName:   s.LocationName,
			Address:        s.Address,
			AdditionalInfo: s.AdditionalInfo,
			IsVirtual:      s.IsVirtual,
			VirtualURL:     s.VirtualURL,
		})
	}
	return out, nil
}

// MomentRecords maps settled moments to child rows; in-flight uploads are dropped.
func MomentRecords(d *models.Draft) []models.MomentRecord {
	settled := d.SettledMoments()
	out := make([]models.MomentRecord, 0, len(settled))
	for _, m := range settled {
		// an unparsable date only loses the date, never the moment
		date, _ := models.ParseDate(m.DateTaken)
		out = append(out, models.MomentRecord{
			Sequence:     len(out),
			Type:         m.Type,
			URL:          m.RemoteURL,
			ThumbnailURL: m.ThumbnailURL,
			PublicID:     m.RemotePublicID,
			Caption:      m.Caption,
			DateTaken:    date,
			FileName:     m.FileName,
		})
	}
	return out
}
