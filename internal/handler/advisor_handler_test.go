package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/clg-aas-api/internal/dto"
	"github.com/noah-isme/clg-aas-api/internal/models"
	"github.com/noah-isme/clg-aas-api/internal/service"
	appErrors "github.com/noah-isme/clg-aas-api/pkg/errors"
	"github.com/noah-isme/clg-aas-api/pkg/response"
)

type advisorServiceMock struct {
	resp        *models.ReassignmentResult
	transitions []models.AssignmentTransition
	err         error
	lastReq     dto.ReassignAdvisorRequest
	lastID      string
}

func (m *advisorServiceMock) Reassign(_ context.Context, req dto.ReassignAdvisorRequest, _ *models.JWTClaims) (*models.ReassignmentResult, error) {
	m.lastReq = req
	return m.resp, m.err
}

func (m *advisorServiceMock) History(_ context.Context, assignmentID string, _ *models.JWTClaims) ([]models.AssignmentTransition, error) {
	m.lastID = assignmentID
	return m.transitions, m.err
}

type attendanceServiceMock struct {
	view *service.AttendanceView
	err  error
}

func (m *attendanceServiceMock) Ledger(_ context.Context, _, _ string, _ *models.JWTClaims) (*service.AttendanceView, error) {
	return m.view, m.err
}

func TestAdvisorHandlerReassign(t *testing.T) {
	svc := &advisorServiceMock{
		resp: &models.ReassignmentResult{
			NewAssignment: &models.ClassAssignment{ID: "asg-2", FacultyID: "fac-2"},
		},
	}
	h := NewAdvisorHandler(svc)

	body, _ := json.Marshal(dto.ReassignAdvisorRequest{
		FacultyID:    "fac-2",
		ClassID:      "cls-1",
		Batch:        "2024",
		Year:         2,
		Semester:     3,
		Section:      "A",
		DepartmentID: "dept-cse",
		Role:         "class_advisor",
	})
	c, w := testContext(t, http.MethodPut, "/advisors/reassign", body, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
	h.Reassign(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "fac-2", svc.lastReq.FacultyID)
}

func TestAdvisorHandlerReassignBadPayload(t *testing.T) {
	h := NewAdvisorHandler(&advisorServiceMock{})

	c, w := testContext(t, http.MethodPut, "/advisors/reassign", []byte(`{"facultyId":`), &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
	h.Reassign(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	require.Equal(t, "VALIDATION_ERROR", envelope.Error.Code)
}

func TestAdvisorHandlerReassignConflict(t *testing.T) {
	svc := &advisorServiceMock{
		err: appErrors.Clone(appErrors.ErrConflict, "scope was claimed by a concurrent reassignment"),
	}
	h := NewAdvisorHandler(svc)

	body, _ := json.Marshal(dto.ReassignAdvisorRequest{FacultyID: "fac-2", ClassID: "cls-1", Batch: "2024", Year: 2, Semester: 3, Section: "A", DepartmentID: "dept-cse", Role: "class_advisor"})
	c, w := testContext(t, http.MethodPut, "/advisors/reassign", body, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
	h.Reassign(c)

	require.Equal(t, http.StatusConflict, w.Code)
}

func TestAdvisorHandlerHistory(t *testing.T) {
	svc := &advisorServiceMock{
		transitions: []models.AssignmentTransition{
			{ID: "tr-1", AssignmentID: "asg-1", ToStatus: models.AssignmentActive},
		},
	}
	h := NewAdvisorHandler(svc)

	c, w := testContext(t, http.MethodGet, "/advisors/assignments/asg-1/history", nil, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
	c.Params = gin.Params{{Key: "id", Value: "asg-1"}}
	h.History(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "asg-1", svc.lastID)
	var envelope struct {
		Data []models.AssignmentTransition `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Len(t, envelope.Data, 1)
}

func TestAttendanceHandlerLedger(t *testing.T) {
	svc := &attendanceServiceMock{
		view: &service.AttendanceView{
			Entry: &models.AttendanceEntry{ID: "entry-1", ClassID: "cls-1"},
			Records: []models.StudentRecord{
				{StudentID: "stu-1", Status: models.RecordStatusPresent},
			},
		},
	}
	h := NewAttendanceHandler(svc)

	c, w := testContext(t, http.MethodGet, "/attendance/cls-1/2026-03-02", nil, &models.JWTClaims{UserID: "fac-1", Role: models.RoleFaculty})
	c.Params = gin.Params{{Key: "classId", Value: "cls-1"}, {Key: "date", Value: "2026-03-02"}}
	h.Ledger(c)

	require.Equal(t, http.StatusOK, w.Code)
	var envelope struct {
		Data service.AttendanceView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Equal(t, "entry-1", envelope.Data.Entry.ID)
	require.Len(t, envelope.Data.Records, 1)
}

func TestAttendanceHandlerLedgerNotFound(t *testing.T) {
	svc := &attendanceServiceMock{err: appErrors.Clone(appErrors.ErrNotFound, "no ledger entry for class cls-1 on 2026-03-02")}
	h := NewAttendanceHandler(svc)

	c, w := testContext(t, http.MethodGet, "/attendance/cls-1/2026-03-02", nil, &models.JWTClaims{UserID: "fac-1", Role: models.RoleFaculty})
	c.Params = gin.Params{{Key: "classId", Value: "cls-1"}, {Key: "date", Value: "2026-03-02"}}
	h.Ledger(c)

	require.Equal(t, http.StatusNotFound, w.Code)
}
