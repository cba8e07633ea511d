package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RolePrincipal UserRole = "PRINCIPAL"
	RoleAdmin     UserRole = "ADMIN"
	RoleHOD       UserRole = "HOD"
	RoleFaculty   UserRole = "FACULTY"
	RoleStudent   UserRole = "STUDENT"
)

// AccessLevel gates what an account may do. Outgoing HODs are downgraded
// to restricted with an expiry rather than deleted.
type AccessLevel string

const (
	AccessFull       AccessLevel = "full"
	AccessRestricted AccessLevel = "restricted"
)

// User represents an application account stored in the users table.
type User struct {
	ID            string      `db:"id" json:"id"`
	Email         string      `db:"email" json:"email"`
	FullName      string      `db:"full_name" json:"full_name"`
	Role          UserRole    `db:"role" json:"role"`
	DepartmentID  *string     `db:"department_id" json:"department_id,omitempty"`
	Access        AccessLevel `db:"access" json:"access"`
	AccessExpires *time.Time  `db:"access_expires" json:"access_expires,omitempty"`
	Active        bool        `db:"active" json:"active"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at" json:"updated_at"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
