package model

import "time"

// Role is the tenant tier of a user.  The hierarchy is provider → admin →
// operator: the provider runs the platform, admins own a centre's
// inventory and credits, operators work for exactly one admin.
type Role string

const (
    RoleProvider Role = "provider"
    RoleAdmin    Role = "admin"
    RoleOperator Role = "operator"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
    switch r {
    case RoleProvider, RoleAdmin, RoleOperator:
        return true
    }
    return false
}

// User represents an account row in the `users` table.  Providers, admins
// and operators share the table; role-specific columns are left at their
// zero value for roles that do not use them.
//
// Fields:
//  ID            – primary key identifier.
//  Name          – display name.
//  Email         – unique, lower-cased login email.
//  PasswordHash  – bcrypt hash; never serialized.
//  Role          – provider, admin or operator.
//  AdminID       – owning admin (operators only, nil otherwise).
//  CentreName    – centre display name; copied from the admin for operators.
//  Location      – centre location; copied from the admin for operators.
//  CreditBalance – purchased credits (admins only), never negative.
//  EmailVerified – whether login is allowed when verification is required.
//  IsActive      – false once the account is deleted (soft lifecycle).
//  CreatedAt     – timestamp of creation.
//  UpdatedAt     – timestamp of last update.
type User struct {
    ID            uint64    `json:"id"`             // users.id
    Name          string    `json:"name"`           // users.name
    Email         string    `json:"email"`          // users.email
    PasswordHash  string    `json:"-"`              // users.password_hash
    Role          Role      `json:"role"`           // users.role
    AdminID       *uint64   `json:"admin_id"`       // users.admin_id (nullable)
    CentreName    string    `json:"centre_name"`    // users.centre_name
    Location      string    `json:"location"`       // users.location
    CreditBalance int64     `json:"credit_balance"` // users.credit_balance
    EmailVerified bool      `json:"email_verified"` // users.email_verified
    IsActive      bool      `json:"-"`              // users.is_active
    CreatedAt     time.Time `json:"created_at"`     // users.created_at
    UpdatedAt     time.Time `json:"updated_at"`     // users.updated_at
}

// RefreshToken models an entry in the `refresh_tokens` table.  Only the
// SHA‑256 hash of the token is stored.
type RefreshToken struct {
    ID        uint64     // refresh_tokens.id
    UserID    uint64     // refresh_tokens.user_id
    TokenHash string     // refresh_tokens.token_hash
    ExpiresAt time.Time  // refresh_tokens.expires_at
    RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
    CreatedAt time.Time  // refresh_tokens.created_at
}
