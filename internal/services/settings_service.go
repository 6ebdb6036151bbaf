package services

import (
	"context"
	"fmt"

	"github.com/charlesng35/dentaldesk/internal/docstore"
	"github.com/charlesng35/dentaldesk/internal/repository"
	apperrors "github.com/charlesng35/dentaldesk/pkg/errors"
	"github.com/charlesng35/dentaldesk/pkg/validator"
)

const SettingsCollection = "settings"

// Settings holds clinic-wide preferences. Each owner has one settings
// document whose ID is the owner ID.
type Settings struct {
	ClinicName         string  `json:"clinicName"`
	Address            string  `json:"address"`
	Phone              string  `json:"phone"`
	Email              string  `json:"email"`
	Currency           string  `json:"currency"`
	TaxRate            float64 `json:"taxRate"`
	QuoteValidityDays  int     `json:"quoteValidityDays"`
	AppointmentMinutes int     `json:"appointmentMinutes"`
}

// DefaultSettings returns the settings used until an owner saves their own.
func DefaultSettings() Settings {
	return Settings{
		Currency:           "USD",
		QuoteValidityDays:  30,
		AppointmentMinutes: 30,
	}
}

// SettingsSchema validates settings documents. Every field is optional.
func SettingsSchema() *validator.Schema {
	return validator.NewSchema(validator.Rules{
		"clinicName":         "omitempty,max=200",
		"address":            "omitempty,max=500",
		"phone":              "omitempty,max=32",
		"email":              "omitempty,email",
		"currency":           "omitempty,len=3",
		"taxRate":            "omitempty,gte=0,lte=1",
		"quoteValidityDays":  "omitempty,gte=1,lte=365",
		"appointmentMinutes": "omitempty,gte=5,lte=480",
	})
}

// SettingsService reads and writes per-owner settings.
type SettingsService struct {
	repo *repository.Repository
}

// NewSettingsService wraps repo.
func NewSettingsService(repo *repository.Repository) (*SettingsService, error) {
	if repo == nil {
		return nil, fmt.Errorf("settings service: %w", errRepositoryRequired)
	}
	return &SettingsService{repo: repo}, nil
}

func (s *SettingsService) Repository() *repository.Repository {
	return s.repo
}

// Get returns owner's settings, falling back to defaults for anything that
// has not been saved.
func (s *SettingsService) Get(ctx context.Context, owner string) (Settings, error) {
	if owner == "" {
		return DefaultSettings(), apperrors.InvalidArgument("settings: owner is required")
	}
	doc, err := s.repo.Read(ensureContext(ctx), owner, owner)
	if err != nil {
		return DefaultSettings(), err
	}
	return settingsFrom(doc)
}

// Save merges updates into owner's settings, creating the document on
// first save.
func (s *SettingsService) Save(ctx context.Context, owner string, updates docstore.Document) (Settings, error) {
	ctx = ensureContext(ctx)
	if owner == "" {
		return DefaultSettings(), apperrors.InvalidArgument("settings: owner is required")
	}

	existing, err := s.repo.Read(ctx, owner, owner)
	if err != nil {
		return DefaultSettings(), err
	}

	var saved docstore.Document
	if existing == nil {
		data := updates.Clone()
		if data == nil {
			data = docstore.Document{}
		}
		data[docstore.FieldID] = owner
		saved, err = s.repo.Create(ctx, owner, data)
	} else {
		saved, err = s.repo.Update(ctx, owner, updates, owner)
	}
	if err != nil {
		return DefaultSettings(), err
	}
	return settingsFrom(saved)
}

func settingsFrom(doc docstore.Document) (Settings, error) {
	settings := DefaultSettings()
	if doc == nil {
		return settings, nil
	}
	stored, err := decode[Settings](doc)
	if err != nil {
		return settings, fmt.Errorf("settings service: %w", err)
	}

	if stored.ClinicName != "" {
		settings.ClinicName = stored.ClinicName
	}
	if stored.Address != "" {
		settings.Address = stored.Address
	}
	if stored.Phone != "" {
		settings.Phone = stored.Phone
	}
	if stored.Email != "" {
		settings.Email = stored.Email
	}
	if stored.Currency != "" {
		settings.Currency = stored.Currency
	}
	if _, ok := doc["taxRate"]; ok {
		settings.TaxRate = stored.TaxRate
	}
	if stored.QuoteValidityDays > 0 {
		settings.QuoteValidityDays = stored.QuoteValidityDays
	}
	if stored.AppointmentMinutes > 0 {
		settings.AppointmentMinutes = stored.AppointmentMinutes
	}
	return settings, nil
}
