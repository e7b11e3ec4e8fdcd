package draft

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"memorial-server/shared/models"
)

// ValidateDates requires at least one life date and enforces
// birthDate <= deathDate <= today on whatever is present.
func ValidateDates(b models.BasicInfo, now time.Time) error {
	if strings.TrimSpace(b.BirthDate) == "" && strings.TrimSpace(b.DeathDate) == "" {
		return models.NewValidationError("birthDate", "enter a birth date or a date of passing")
	}
	birth, err := models.ParseDate(b.BirthDate)
	if err != nil {
		return models.NewValidationError("birthDate", "use the YYYY-MM-DD format")
	}
	death, err := models.ParseDate(b.DeathDate)
	if err != nil {
		return models.NewValidationError("deathDate", "use the YYYY-MM-DD format")
	}

	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if birth != nil && birth.After(today) {
		return models.NewValidationError("birthDate", "birth date cannot be in the future")
	}
	if death != nil && death.After(today) {
		return models.NewValidationError("deathDate", "date of passing cannot be in the future")
	}
	if birth != nil && death != nil && birth.After(*death) {
		return models.NewValidationError("deathDate", "date of passing must be on or after the birth date")
	}
	return nil
}

// ValidateNameParts requires first and last name.
func ValidateNameParts(b models.BasicInfo) error {
	if strings.TrimSpace(b.FirstName) == "" {
		return models.NewValidationError("firstName", "first name is required")
	}
	if strings.TrimSpace(b.LastName) == "" {
		return models.NewValidationError("lastName", "last name is required")
	}
	return nil
}

// ValidateServices checks the non-empty entries; blank ones are dropped on save.
func ValidateServices(services []models.Service) error {
	for i, s := range services {
		if s.IsEmpty() && !s.IsVirtual {
			continue
		}
		if !s.Type.Valid() {
			return models.NewValidationError(fmt.Sprintf("services[%d].type", i), "choose a service type")
		}
		if _, err := models.ParseDate(s.Date); err != nil {
			return models.NewValidationError(fmt.Sprintf("services[%d].date", i), "use the YYYY-MM-DD format")
		}
		if s.IsVirtual {
			u, err := url.Parse(s.VirtualURL)
			if s.VirtualURL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return models.NewValidationError(fmt.Sprintf("services[%d].virtualUrl", i), "enter the http(s) link of the virtual service")
			}
		}
	}
	return nil
}

// ValidateForPublish runs every local check a publish needs, reporting the
// first offending field.
func ValidateForPublish(d *models.Draft, now time.Time) error {
	if d.DisplayName() == "" {
		return models.NewValidationError("name", "the name of your loved one is required")
	}
	if err := ValidateDates(d.Basic, now); err != nil {
		return err
	}
	if err := ValidatePrivacy(d.Settings); err != nil {
		return err
	}
	return ValidateServices(d.Services)
}
