package services

import (
	"context"
	"fmt"
	"time"

	"github.com/charlesng35/dentaldesk/internal/docstore"
	"github.com/charlesng35/dentaldesk/internal/repository"
	"github.com/charlesng35/dentaldesk/pkg/validator"
)

const DoctorsCollection = "doctors"

// Doctor is the typed view of a doctor document.
type Doctor struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	FirstName     string    `json:"firstName"`
	LastName      string    `json:"lastName"`
	Specialty     string    `json:"specialty,omitempty"`
	Email         string    `json:"email,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	LicenseNumber string    `json:"licenseNumber,omitempty"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// DoctorSchema validates doctor documents.
func DoctorSchema() *validator.Schema {
	return validator.NewSchema(validator.Rules{
		"firstName":     "required,min=1,max=100",
		"lastName":      "required,min=1,max=100",
		"specialty":     "omitempty,max=100",
		"email":         "omitempty,email",
		"phone":         "omitempty,max=32",
		"licenseNumber": "omitempty,max=64",
	})
}

// DoctorService adds search and the active roster on top of the doctors
// repository.
type DoctorService struct {
	repo *repository.Repository
}

// NewDoctorService wraps repo.
func NewDoctorService(repo *repository.Repository) (*DoctorService, error) {
	if repo == nil {
		return nil, fmt.Errorf("doctor service: %w", errRepositoryRequired)
	}
	return &DoctorService{repo: repo}, nil
}

func (s *DoctorService) Repository() *repository.Repository {
	return s.repo
}

// Search matches term against name, specialty and email.
func (s *DoctorService) Search(ctx context.Context, owner, term string) ([]docstore.Document, error) {
	docs, err := s.repo.FindAll(ensureContext(ctx), owner)
	if err != nil {
		return nil, err
	}

	term = normaliseTerm(term)
	out := make([]docstore.Document, 0, len(docs))
	for _, doc := range docs {
		if containsTerm(doc, term, "firstName", "lastName", "specialty", "email") {
			out = append(out, doc)
		}
	}
	return out, nil
}

// ListActive returns active doctors ordered by last name.
func (s *DoctorService) ListActive(ctx context.Context, owner string) ([]Doctor, error) {
	docs, err := s.repo.FindAll(ensureContext(ctx), owner,
		repository.Equals{Field: "active", Value: true},
		repository.Sort{Field: "lastName", Order: docstore.Asc},
	)
	if err != nil {
		return nil, err
	}
	return decodeAll[Doctor](docs)
}
