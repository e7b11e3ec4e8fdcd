package wizard

import (
	"fmt"
	"strings"

	"memorial-server/memorial-service/internal/sanitize"
	"memorial-server/shared/models"
)

// MaxCaptionLength bounds moment captions.
const MaxCaptionLength = 500

// MomentEdit changes caption and date; nil fields are kept.
type MomentEdit struct {
	Caption   *string `json:"caption"`
	DateTaken *string `json:"dateTaken"`
}

// ReorderMoments applies a drag-and-drop order. ids must list every moment
// of the draft exactly once.
func (w *Wizard) ReorderMoments(ids []string) error {
	return w.editor.Mutate(func(d *models.Draft) error {
		if len(ids) != len(d.Moments) {
			return models.NewValidationError("order", fmt.Sprintf("expected %d moment ids, got %d", len(d.Moments), len(ids)))
		}
		seen := make(map[string]bool, len(ids))
		reordered := make([]models.Moment, 0, len(ids))
		for _, id := range ids {
			i := d.MomentIndex(id)
			if i < 0 || seen[id] {
				return models.NewValidationError("order", fmt.Sprintf("unknown or repeated moment %q", id))
			}
			seen[id] = true
			reordered = append(reordered, d.Moments[i])
		}
		d.Moments = reordered
		return nil
	})
}

// EditMoment updates the caption or date of one moment.
func (w *Wizard) EditMoment(id string, edit MomentEdit) (models.Moment, error) {
	var updated models.Moment
	err := w.editor.Mutate(func(d *models.Draft) error {
		i := d.MomentIndex(id)
		if i < 0 {
			return fmt.Errorf("moment %s: %w", id, models.ErrNotFound)
		}
		m := d.Moments[i]
		if edit.Caption != nil {
			m.Caption = sanitize.PlainTextLimit(*edit.Caption, MaxCaptionLength)
		}
		if edit.DateTaken != nil {
			date := strings.TrimSpace(*edit.DateTaken)
			if _, err := models.ParseDate(date); err != nil {
				return models.NewValidationError("dateTaken", "use the YYYY-MM-DD format")
			}
			m.DateTaken = date
		}
		d.Moments[i] = m
		updated = m
		return nil
	})
	return updated, err
}

// RemoveMoment drops a moment from the draft and returns it so the caller
// can delete its remote asset.
func (w *Wizard) RemoveMoment(id string) (models.Moment, error) {
	var removed models.Moment
	err := w.editor.Mutate(func(d *models.Draft) error {
		i := d.MomentIndex(id)
		if i < 0 {
			return fmt.Errorf("moment %s: %w", id, models.ErrNotFound)
		}
		removed = d.Moments[i]
		d.Moments = append(d.Moments[:i], d.Moments[i+1:]...)
		return nil
	})
	return removed, err
}
