package services

import (
	"context"
	"fmt"
	"time"

	"github.com/charlesng35/dentaldesk/internal/docstore"
	"github.com/charlesng35/dentaldesk/internal/repository"
	"github.com/charlesng35/dentaldesk/pkg/validator"
)

const TreatmentPlansCollection = "treatmentPlans"

// Treatment plan statuses.
const (
	PlanPlanned    = "planned"
	PlanInProgress = "in_progress"
	PlanCompleted  = "completed"
	PlanCancelled  = "cancelled"
)

// TreatmentStep is one procedure within a plan.
type TreatmentStep struct {
	Description string  `json:"description"`
	Tooth       string  `json:"tooth,omitempty"`
	Cost        float64 `json:"cost,omitempty"`
	Completed   bool    `json:"completed"`
}

// TreatmentPlan is the typed view of a treatment plan document.
type TreatmentPlan struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	PatientID     string          `json:"patientId"`
	DoctorID      string          `json:"doctorId,omitempty"`
	QuoteID       string          `json:"quoteId,omitempty"`
	Title         string          `json:"title"`
	Status        string          `json:"status"`
	Steps         []TreatmentStep `json:"steps,omitempty"`
	EstimatedCost float64         `json:"estimatedCost,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Progress is the completed share of steps, between 0 and 1. A completed
// plan is always 1.
func (p TreatmentPlan) Progress() float64 {
	if p.Status == PlanCompleted {
		return 1
	}
	if len(p.Steps) == 0 {
		return 0
	}
	done := 0
	for _, step := range p.Steps {
		if step.Completed {
			done++
		}
	}
	return round2(float64(done) / float64(len(p.Steps)))
}

// TreatmentPlanSchema validates treatment plan documents.
func TreatmentPlanSchema() *validator.Schema {
	return validator.NewSchema(validator.Rules{
		"patientId":     "required,min=1",
		"title":         "required,min=1,max=200",
		"doctorId":      "omitempty,min=1",
		"quoteId":       "omitempty,min=1",
		"status":        "omitempty,oneof=planned in_progress completed cancelled",
		"estimatedCost": "omitempty,gte=0",
	})
}

// TreatmentPlanStats summarises an owner's plans.
type TreatmentPlanStats struct {
	Total           int            `json:"total"`
	ByStatus        map[string]int `json:"byStatus"`
	AverageProgress float64        `json:"averageProgress"`
}

// TreatmentPlanService adds per-patient listing and statistics on top of
// the treatment plans repository.
type TreatmentPlanService struct {
	repo *repository.Repository
}

// NewTreatmentPlanService wraps repo.
func NewTreatmentPlanService(repo *repository.Repository) (*TreatmentPlanService, error) {
	if repo == nil {
		return nil, fmt.Errorf("treatment plan service: %w", errRepositoryRequired)
	}
	return &TreatmentPlanService{repo: repo}, nil
}

func (s *TreatmentPlanService) Repository() *repository.Repository {
	return s.repo
}

// ListByPatient returns a patient's plans, newest first.
func (s *TreatmentPlanService) ListByPatient(ctx context.Context, owner, patientID string) ([]TreatmentPlan, error) {
	docs, err := s.repo.FindAll(ensureContext(ctx), owner,
		repository.Equals{Field: "patientId", Value: patientID},
		repository.Sort{Field: docstore.FieldCreatedAt},
	)
	if err != nil {
		return nil, err
	}
	return decodeAll[TreatmentPlan](docs)
}

// Stats counts plans per status and averages the progress of plans that
// are not cancelled.
func (s *TreatmentPlanService) Stats(ctx context.Context, owner string) (TreatmentPlanStats, error) {
	docs, err := s.repo.FindAll(ensureContext(ctx), owner)
	if err != nil {
		return TreatmentPlanStats{}, err
	}
	plans, err := decodeAll[TreatmentPlan](docs)
	if err != nil {
		return TreatmentPlanStats{}, fmt.Errorf("treatment plan service: %w", err)
	}

	stats := TreatmentPlanStats{Total: len(plans), ByStatus: map[string]int{}}
	var (
		progress float64
		counted  int
	)
	for _, plan := range plans {
		status := plan.Status
		if status == "" {
			status = PlanPlanned
		}
		stats.ByStatus[status]++
		if status == PlanCancelled {
			continue
		}
		progress += plan.Progress()
		counted++
	}
	if counted > 0 {
		stats.AverageProgress = round2(progress / float64(counted))
	}
	return stats, nil
}
