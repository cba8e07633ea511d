package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/clg-aas-api/internal/dto"
	"github.com/noah-isme/clg-aas-api/internal/models"
	appErrors "github.com/noah-isme/clg-aas-api/pkg/errors"
)

type holidayStore interface {
	Create(ctx context.Context, q sqlx.ExtContext, holiday *models.Holiday) error
}

// HolidayReconciler records approved HOLIDAY_REQUEST declarations. A
// declaration never rewrites past attendance; it only affects future
// marking eligibility.
type HolidayReconciler struct {
	holidays holidayStore
}

// NewHolidayReconciler constructs the reconciler.
func NewHolidayReconciler(holidays holidayStore) *HolidayReconciler {
	return &HolidayReconciler{holidays: holidays}
}

// Reconcile implements Reconciler for HOLIDAY_REQUEST.
func (r *HolidayReconciler) Reconcile(ctx context.Context, tx sqlx.ExtContext, req *models.ApprovalRequest) (json.RawMessage, error) {
	var details dto.HolidayDetails
	if err := json.Unmarshal(req.Details, &details); err != nil {
		return nil, appErrors.Clone(appErrors.ErrReconciliation, "HOLIDAY_REQUEST details are unreadable")
	}
	date, err := time.Parse("2006-01-02", details.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrReconciliation, "HOLIDAY_REQUEST date is not YYYY-MM-DD")
	}

	holiday := &models.Holiday{
		Date:       date,
		Scope:      details.Scope,
		Reason:     details.Reason,
		DeclaredBy: req.RequestedBy,
	}
	if details.Department != "" {
		holiday.DepartmentID = &details.Department
	}
	if details.ClassID != "" {
		holiday.ClassID = &details.ClassID
	}
	if err := r.holidays.Create(ctx, tx, holiday); err != nil {
		return nil, err
	}
	return json.Marshal(holiday)
}
