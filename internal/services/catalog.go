package services

import (
	"fmt"

	"github.com/charlesng35/dentaldesk/internal/docstore"
	"github.com/charlesng35/dentaldesk/internal/errorhandler"
	"github.com/charlesng35/dentaldesk/internal/repository"
)

// Catalog holds one repository per clinic collection and the services built
// on them. Every repository shares the same store and error handler.
type Catalog struct {
	Registry *repository.Registry

	Patients       *PatientService
	Doctors        *DoctorService
	Quotes         *QuoteService
	TreatmentPlans *TreatmentPlanService
	Settings       *SettingsService
}

// NewCatalog builds and registers the clinic repositories. opts apply to
// every repository.
func NewCatalog(store docstore.Store, handler *errorhandler.Handler, opts ...repository.Option) (*Catalog, error) {
	schemas := map[string]repository.Schema{
		PatientsCollection:       PatientSchema(),
		DoctorsCollection:        DoctorSchema(),
		QuotesCollection:         QuoteSchema(),
		TreatmentPlansCollection: TreatmentPlanSchema(),
		SettingsCollection:       SettingsSchema(),
	}

	registry := repository.NewRegistry()
	repos := make(map[string]*repository.Repository, len(schemas))
	for collection, schema := range schemas {
		repoOpts := append([]repository.Option{repository.WithSchema(schema)}, opts...)
		repo, err := repository.New(collection, store, handler, repoOpts...)
		if err != nil {
			registry.Cleanup()
			return nil, fmt.Errorf("catalog: %s: %w", collection, err)
		}
		if err := registry.Register(repo); err != nil {
			repo.Cleanup()
			registry.Cleanup()
			return nil, fmt.Errorf("catalog: %w", err)
		}
		repos[collection] = repo
	}

	catalog := &Catalog{Registry: registry}
	var err error
	if catalog.Patients, err = NewPatientService(repos[PatientsCollection]); err != nil {
		return nil, err
	}
	if catalog.Doctors, err = NewDoctorService(repos[DoctorsCollection]); err != nil {
		return nil, err
	}
	if catalog.Quotes, err = NewQuoteService(repos[QuotesCollection]); err != nil {
		return nil, err
	}
	if catalog.TreatmentPlans, err = NewTreatmentPlanService(repos[TreatmentPlansCollection]); err != nil {
		return nil, err
	}
	if catalog.Settings, err = NewSettingsService(repos[SettingsCollection]); err != nil {
		return nil, err
	}
	return catalog, nil
}

// Close releases every repository's listeners and caches.
func (c *Catalog) Close() {
	if c != nil && c.Registry != nil {
		c.Registry.Cleanup()
	}
}
