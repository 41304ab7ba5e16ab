// Package identity carries the resolved caller of a request. Authentication
// mechanics live in the middleware; services only see this value.
package identity

import (
	"context"

	"github.com/google/uuid"
)

// Role is the caller's role within the clinic.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// Caller is the authenticated identity attached to a request context.
type Caller struct {
	UserID uuid.UUID
	Role   Role
	// PatientID / DoctorID are set when the account is linked to a
	// clinical record of that kind.
	PatientID uuid.UUID
	DoctorID  uuid.UUID
}

// IsClinician reports whether the caller may decide reschedule requests and
// drive the completion wizard.
func (c Caller) IsClinician() bool {
	return c.Role == RoleDoctor || c.Role == RoleAdmin
}

type contextKey struct{}

// WithCaller attaches the caller to ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext returns the caller stored in ctx, if any.
func FromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(contextKey{}).(Caller)
	return c, ok
}
