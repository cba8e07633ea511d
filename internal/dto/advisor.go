package dto

// ReassignAdvisorRequest is the administrative advisor reassignment payload.
type ReassignAdvisorRequest struct {
	FacultyID    string `json:"facultyId" validate:"required"`
	ClassID      string `json:"classId" validate:"required"`
	Batch        string `json:"batch" validate:"required"`
	Year         int    `json:"year" validate:"required,min=1"`
	Semester     int    `json:"semester" validate:"required,min=1,max=10"`
	Section      string `json:"section" validate:"required"`
	DepartmentID string `json:"departmentId" validate:"required"`
	Role         string `json:"role" validate:"required"`
	Reason       string `json:"reason"`
}
