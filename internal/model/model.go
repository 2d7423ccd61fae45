package model

import "time"

const (
	RoleSuperAdmin  = "super_admin"
	RoleTenantAdmin = "tenant_admin"
	RoleManager     = "manager"
	RolePrincipal   = "principal"
	RoleFaculty     = "faculty"
	RoleTeacher     = "teacher"
	RoleStudent     = "student"
)

var Roles = []string{
	RoleSuperAdmin,
	RoleTenantAdmin,
	RoleManager,
	RolePrincipal,
	RoleFaculty,
	RoleTeacher,
	RoleStudent,
}

func IsValidRole(role string) bool {
	for _, r := range Roles {
		if r == role {
			return true
		}
	}
	return false
}

type Tenant struct {
	ID        string
	Domain    string
	Name      string
	IsActive  bool
	CreatedAt time.Time
}

type User struct {
	ID           string
	TenantID     string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Role         string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type RefreshSession struct {
	ID        string
	UserID    string
	TenantID  string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
	UserAgent *string
	IPAddress *string
}

// Resource is a tenant-owned row returned by the generic resource routes.
type Resource map[string]interface{}
