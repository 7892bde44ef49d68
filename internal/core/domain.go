package core

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

type DomainType string

const (
	DomainTypeSubdomain DomainType = "subdomain"
	DomainTypeCustom    DomainType = "custom"
)

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationFailed   VerificationStatus = "failed"
)

type SSLStatus string

const (
	SSLNone         SSLStatus = "none"
	SSLProvisioning SSLStatus = "provisioning"
	SSLActive       SSLStatus = "active"
)

const (
	// MaxVerificationAttempts is the attempt count at which a pending
	// domain becomes terminally failed.
	MaxVerificationAttempts = 10

	// VerificationTokenTTL bounds how long a generated token stays usable.
	VerificationTokenTTL = 7 * 24 * time.Hour
)

// TenantDomain maps a DNS name to its owning tenant. Subdomains under the
// platform base domain are implicitly trusted; custom domains go through
// the TXT-record verification state machine.
type TenantDomain struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	TenantID   uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	DomainName string     `json:"domain_name" db:"domain_name"`
	Type       DomainType `json:"type" db:"type"`
	IsPrimary  bool       `json:"is_primary" db:"is_primary"`

	VerificationStatus    VerificationStatus `json:"verification_status" db:"verification_status"`
	VerificationToken     *string            `json:"-" db:"verification_token"`
	VerificationExpiresAt *time.Time         `json:"verification_expires_at,omitempty" db:"verification_expires_at"`
	VerificationAttempts  int                `json:"verification_attempts" db:"verification_attempts"`
	LastVerificationCheck *time.Time         `json:"last_verification_check,omitempty" db:"last_verification_check"`
	VerifiedAt            *time.Time         `json:"verified_at,omitempty" db:"verified_at"`

	SSLStatus SSLStatus `json:"ssl_status" db:"ssl_status"`

	// Version backs optimistic concurrency; bumped on every update.
	Version   int       `json:"-" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NormalizeDomainName lowercases and trims a domain for storage and lookup.
func NormalizeDomainName(domainName string) string {
	return strings.ToLower(strings.TrimSpace(domainName))
}

// GenerateVerificationToken issues a fresh token and resets the state
// machine to pending. Called on creation and whenever an expired token is
// regenerated.
func (d *TenantDomain) GenerateVerificationToken() {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}

	token := hex.EncodeToString(buf)
	expires := time.Now().UTC().Add(VerificationTokenTTL)

	d.VerificationToken = &token
	d.VerificationExpiresAt = &expires
	d.VerificationStatus = VerificationPending
	d.VerificationAttempts = 0
	d.VerifiedAt = nil
}

// MarkVerified transitions the domain to verified: the token and its
// expiry are cleared together per the both-or-neither invariant.
func (d *TenantDomain) MarkVerified() {
	now := time.Now().UTC()

	d.VerificationStatus = VerificationVerified
	d.VerificationToken = nil
	d.VerificationExpiresAt = nil
	d.VerifiedAt = &now
	d.LastVerificationCheck = &now
}

// MarkVerificationFailed records one failed attempt. Once the attempt
// count reaches MaxVerificationAttempts the domain is terminally failed
// and the loop stops retrying it.
func (d *TenantDomain) MarkVerificationFailed() {
	now := time.Now().UTC()

	d.VerificationAttempts++
	d.LastVerificationCheck = &now

	if d.VerificationAttempts >= MaxVerificationAttempts {
		d.VerificationStatus = VerificationFailed
	}
}

// TokenExpired reports whether the current token is past its deadline.
func (d *TenantDomain) TokenExpired() bool {
	return d.VerificationExpiresAt != nil && d.VerificationExpiresAt.Before(time.Now().UTC())
}

// IsServable reports whether requests may be served under this domain:
// verified ownership and an active certificate, nothing less.
func (d *TenantDomain) IsServable() bool {
	return d.VerificationStatus == VerificationVerified && d.SSLStatus == SSLActive
}
