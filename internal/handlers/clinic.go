package handlers

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/dentaldesk/internal/services"
	apperrors "github.com/charlesng35/dentaldesk/pkg/errors"
	"github.com/charlesng35/dentaldesk/pkg/response"
)

// ClinicHandler serves the entity specific endpoints that sit beside the
// generic collection routes.
type ClinicHandler struct {
	patients *services.PatientService
	doctors  *services.DoctorService
	quotes   *services.QuoteService
	plans    *services.TreatmentPlanService
	now      func() time.Time
}

func NewClinicHandler(
	patients *services.PatientService,
	doctors *services.DoctorService,
	quotes *services.QuoteService,
	plans *services.TreatmentPlanService,
) *ClinicHandler {
	return &ClinicHandler{
		patients: patients,
		doctors:  doctors,
		quotes:   quotes,
		plans:    plans,
		now:      time.Now,
	}
}

// SearchPatients handles GET /api/patients/search?q=
func (h *ClinicHandler) SearchPatients(c *gin.Context) {
	owner, ok := requireOwner(c)
	if !ok {
		return
	}
	if h.patients == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	docs, err := h.patients.Search(requestContext(c), owner, c.Query("q"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, docs, &response.Meta{Total: len(docs)})
}

// PatientStats handles GET /api/patients/stats
func (h *ClinicHandler) PatientStats(c *gin.Context) {
	owner, ok := requireOwner(c)
	if !ok {
		return
	}
	if h.patients == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	stats, err := h.patients.Stats(requestContext(c), owner)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// ExportPatients handles GET /api/patients/export
func (h *ClinicHandler) ExportPatients(c *gin.Context) {
	owner, ok := requireOwner(c)
	if !ok {
		return
	}
	if h.patients == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}
	h.exportCSV(c, "patients", func(w io.Writer) error {
		return h.patients.ExportCSV(requestContext(c), owner, w)
	})
}

// ActiveDoctors handles GET /api/doctors/active
func (h *ClinicHandler) ActiveDoctors(c *gin.Context) {
	owner, ok := requireOwner(c)
	if !ok {
		return
	}
	if h.doctors == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	doctors, err := h.doctors.ListActive(requestContext(c), owner)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, doctors, &response.Meta{Total: len(doctors)})
}

// QuoteStats handles GET /api/quotes/stats
func (h *ClinicHandler) QuoteStats(c *gin.Context) {
	owner, ok := requireOwner(c)
	if !ok {
		return
	}
	if h.quotes == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	stats, err := h.quotes.Stats(requestContext(c), owner)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// ExportQuotes handles GET /api/quotes/export
func (h *ClinicHandler) ExportQuotes(c *gin.Context) {
	owner, ok := requireOwner(c)
	if !ok {
		return
	}
	if h.quotes == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}
	h.exportCSV(c, "quotes", func(w io.Writer) error {
		return h.quotes.ExportCSV(requestContext(c), owner, w)
	})
}

// PatientRecords handles GET /api/patients/:id/records and returns the
// patient with their quotes and treatment plans.
func (h *ClinicHandler) PatientRecords(c *gin.Context) {
	owner, ok := requireOwner(c)
	if !ok {
		return
	}
	if h.patients == nil || h.quotes == nil || h.plans == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	ctx := requestContext(c)
	patientID := strings.TrimSpace(c.Param("id"))
	patient, err := h.patients.Get(ctx, owner, patientID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if patient == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	quotes, err := h.quotes.ListByPatient(ctx, owner, patientID)
	if err != nil {
		response.Error(c, err)
		return
	}
	plans, err := h.plans.ListByPatient(ctx, owner, patientID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"patient":        patient,
		"quotes":         quotes,
		"treatmentPlans": plans,
	})
}

// TreatmentPlanStats handles GET /api/treatmentPlans/stats
func (h *ClinicHandler) TreatmentPlanStats(c *gin.Context) {
	owner, ok := requireOwner(c)
	if !ok {
		return
	}
	if h.plans == nil {
		response.Error(c, apperrors.ErrNotFound)
		return
	}

	stats, err := h.plans.Stats(requestContext(c), owner)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// exportCSV buffers the export so a failure can still be reported as JSON.
func (h *ClinicHandler) exportCSV(c *gin.Context, name string, write func(io.Writer) error) {
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		response.Error(c, err)
		return
	}

	filename := fmt.Sprintf("%s-%s.csv", name, h.now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}
