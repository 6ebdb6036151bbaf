package services

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charlesng35/dentaldesk/internal/docstore"
	"github.com/charlesng35/dentaldesk/internal/repository"
	"github.com/charlesng35/dentaldesk/pkg/validator"
)

const PatientsCollection = "patients"

// Patient statuses.
const (
	PatientActive   = "active"
	PatientInactive = "inactive"
	PatientArchived = "archived"
)

// Patient is the typed view of a patient document.
type Patient struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	Email       string    `json:"email,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	DateOfBirth string    `json:"dateOfBirth,omitempty"`
	Status      string    `json:"status,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// FullName joins the patient's first and last name.
func (p Patient) FullName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// PatientSchema validates patient documents.
func PatientSchema() *validator.Schema {
	return validator.NewSchema(validator.Rules{
		"firstName":   "required,min=1,max=100",
		"lastName":    "required,min=1,max=100",
		"email":       "omitempty,email",
		"phone":       "omitempty,max=32",
		"dateOfBirth": "omitempty,datetime=2006-01-02",
		"status":      "omitempty,oneof=active inactive archived",
		"notes":       "omitempty,max=2000",
	})
}

// PatientStats summarises an owner's patients.
type PatientStats struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"byStatus"`
	NewLast30d int            `json:"newLast30Days"`
}

// PatientService adds search, statistics and export on top of the patients
// repository.
type PatientService struct {
	repo *repository.Repository
	now  func() time.Time
}

// NewPatientService wraps repo.
func NewPatientService(repo *repository.Repository) (*PatientService, error) {
	if repo == nil {
		return nil, fmt.Errorf("patient service: %w", errRepositoryRequired)
	}
	return &PatientService{repo: repo, now: time.Now}, nil
}

// Repository exposes the underlying repository.
func (s *PatientService) Repository() *repository.Repository {
	return s.repo
}

// Get returns a patient, or nil when it does not exist.
func (s *PatientService) Get(ctx context.Context, owner, id string) (*Patient, error) {
	doc, err := s.repo.Read(ensureContext(ctx), id, owner)
	if err != nil || doc == nil {
		return nil, err
	}
	patient, err := decode[Patient](doc)
	if err != nil {
		return nil, fmt.Errorf("patient service: %w", err)
	}
	return &patient, nil
}

// Search matches term against name, email and phone. An empty term lists
// every patient.
func (s *PatientService) Search(ctx context.Context, owner, term string) ([]docstore.Document, error) {
	docs, err := s.repo.FindAll(ensureContext(ctx), owner)
	if err != nil {
		return nil, err
	}

	term = normaliseTerm(term)
	out := make([]docstore.Document, 0, len(docs))
	for _, doc := range docs {
		if containsTerm(doc, term, "firstName", "lastName", "email", "phone") ||
			containsTerm(docstore.Document{"name": fullName(doc)}, term, "name") {
			out = append(out, doc)
		}
	}
	return out, nil
}

// Stats counts patients per status and those registered in the last 30 days.
func (s *PatientService) Stats(ctx context.Context, owner string) (PatientStats, error) {
	docs, err := s.repo.FindAll(ensureContext(ctx), owner)
	if err != nil {
		return PatientStats{}, err
	}

	cutoff := s.now().Add(-30 * 24 * time.Hour)
	stats := PatientStats{Total: len(docs), ByStatus: map[string]int{}}
	for _, doc := range docs {
		status, _ := doc["status"].(string)
		if status == "" {
			status = PatientActive
		}
		stats.ByStatus[status]++
		if created := doc.CreatedAt(); !created.IsZero() && created.After(cutoff) {
			stats.NewLast30d++
		}
	}
	return stats, nil
}

var patientColumns = []string{"id", "firstName", "lastName", "email", "phone", "dateOfBirth", "status", "createdAt"}

// ExportCSV writes every patient of owner, sorted by last name.
func (s *PatientService) ExportCSV(ctx context.Context, owner string, w io.Writer) error {
	docs, err := s.repo.FindAll(ensureContext(ctx), owner, repository.Sort{Field: "lastName", Order: docstore.Asc})
	if err != nil {
		return err
	}
	return writeCSV(w, patientColumns, docs)
}

func fullName(doc docstore.Document) string {
	first, _ := doc["firstName"].(string)
	last, _ := doc["lastName"].(string)
	return Patient{FirstName: first, LastName: last}.FullName()
}
