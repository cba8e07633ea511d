package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/clg-aas-api/internal/models"
	appErrors "github.com/noah-isme/clg-aas-api/pkg/errors"
)

type attendanceReader interface {
	GetEntry(ctx context.Context, q sqlx.ExtContext, classID, dateKey string) (*models.AttendanceEntry, error)
	ListRecords(ctx context.Context, q sqlx.ExtContext, entryID string) ([]models.StudentRecord, error)
}

// AttendanceView is a ledger entry with its student records attached.
type AttendanceView struct {
	Entry   *models.AttendanceEntry `json:"entry"`
	Records []models.StudentRecord  `json:"records"`
}

// AttendanceService exposes read access to the ledger.
type AttendanceService struct {
	attendance attendanceReader
}

// NewAttendanceService constructs the service.
func NewAttendanceService(attendance attendanceReader) *AttendanceService {
	return &AttendanceService{attendance: attendance}
}

// Ledger loads the entry and records for a class/date pair.
func (s *AttendanceService) Ledger(ctx context.Context, classID, date string, actor *models.JWTClaims) (*AttendanceView, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role == models.RoleStudent {
		return nil, appErrors.ErrForbidden
	}
	parsed, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, appErrors.NewValidation([]appErrors.Violation{
			{Field: "date", Message: "must be YYYY-MM-DD"},
		})
	}
	dateKey := models.DateKey(parsed)

	entry, err := s.attendance.GetEntry(ctx, nil, classID, dateKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound,
				fmt.Sprintf("no attendance entry for class %s on %s", classID, dateKey))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load ledger entry")
	}
	records, err := s.attendance.ListRecords(ctx, nil, entry.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load ledger records")
	}
	return &AttendanceView{Entry: entry, Records: records}, nil
}
