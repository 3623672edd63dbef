// Package models defines the relational entities of the registry store.
package models

import "time"

// Package is a named module, local or mirrored, with one or more versions.
type Package struct {
	ID               int64
	Name             string
	Description      *string
	AuthorID         *int64
	Homepage         *string
	RepositoryURL    *string
	License          *string
	Keywords         *string
	OrganizationID   *int64
	IsPrivate        bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsLocallyPublished reports whether this package has a known local author,
// i.e. has moved past the mirrored-only state.
func (p *Package) IsLocallyPublished() bool {
	return p.AuthorID != nil
}

// PackageVersion holds the per-version package.json fields, normalized.
type PackageVersion struct {
	ID               int64
	PackageID        int64
	Version          string
	Description      *string
	MainFile         *string
	Scripts          *string
	Dependencies     *string
	DevDependencies  *string
	PeerDependencies *string
	Engines          *string
	Shasum           *string
	Readme           *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasNoMetadata reports whether every enrichable metadata field is absent,
// the "all-null" re-enrichment signal from the store's upsert algorithm.
func (v *PackageVersion) HasNoMetadata() bool {
	return v.Description == nil && v.MainFile == nil && v.Scripts == nil &&
		v.Dependencies == nil && v.DevDependencies == nil && v.PeerDependencies == nil &&
		v.Engines == nil && v.Shasum == nil
}

// ReadmeMissing reports whether the README is absent or empty.
func (v *PackageVersion) ReadmeMissing() bool {
	return v.Readme == nil || *v.Readme == ""
}

// PackageFile is one stored tarball, keyed by (package_version_id, filename).
type PackageFile struct {
	ID               int64
	PackageVersionID int64
	Filename         string
	SizeBytes        int64
	UpstreamURL      string
	FilePath         string
	ETag             *string
	ContentType      *string
	LastAccessed     time.Time
	AccessCount      int64
	CreatedAt        time.Time
}

// PermissionLevel is a PackageOwner's access level.
type PermissionLevel string

const (
	PermissionRead  PermissionLevel = "read"
	PermissionWrite PermissionLevel = "write"
	PermissionAdmin PermissionLevel = "admin"
)

// CanWrite reports whether this permission level allows publishing.
func (p PermissionLevel) CanWrite() bool {
	return p == PermissionWrite || p == PermissionAdmin
}

// PackageOwner grants a user a permission level on a package by name.
type PackageOwner struct {
	ID              int64
	PackageName     string
	UserID          int64
	PermissionLevel PermissionLevel
	CreatedAt       time.Time
}

// PackageTag is a mutable dist-tag, e.g. "latest" -> "4.18.2".
type PackageTag struct {
	ID          int64
	PackageName string
	TagName     string
	Version     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrganizationRole forms the total order member < admin < owner.
type OrganizationRole string

const (
	RoleMember OrganizationRole = "member"
	RoleAdmin  OrganizationRole = "admin"
	RoleOwner  OrganizationRole = "owner"
)

var roleRank = map[OrganizationRole]int{
	RoleMember: 0,
	RoleAdmin:  1,
	RoleOwner:  2,
}

// AtLeast reports whether this role outranks or equals required.
func (r OrganizationRole) AtLeast(required OrganizationRole) bool {
	return roleRank[r] >= roleRank[required]
}

// ParseOrganizationRole is case-insensitive; unknown strings yield ("", false).
func ParseOrganizationRole(s string) (OrganizationRole, bool) {
	switch OrganizationRole(lower(s)) {
	case RoleOwner:
		return RoleOwner, true
	case RoleAdmin:
		return RoleAdmin, true
	case RoleMember:
		return RoleMember, true
	default:
		return "", false
	}
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Organization is a named group of users collectively owning scoped packages.
type Organization struct {
	ID          int64
	Name        string
	DisplayName *string
	Description *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrganizationMember links a user to an organization with a role.
type OrganizationMember struct {
	ID             int64
	OrganizationID int64
	UserID         int64
	Role           OrganizationRole
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OrganizationMemberWithUser adds the member's username/email for display.
type OrganizationMemberWithUser struct {
	OrganizationMember
	Username string
	Email    string
}

// User is a registered account with a bcrypt password hash.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	IsActive     bool
}

// TokenType distinguishes interactive auth tokens from long-lived publish tokens.
type TokenType string

const (
	TokenTypeAuth    TokenType = "auth"
	TokenTypePublish TokenType = "publish"
)

// UserToken is an opaque bearer token, optionally expiring.
type UserToken struct {
	ID        int64
	UserID    int64
	Token     string
	TokenType TokenType
	CreatedAt time.Time
	ExpiresAt *time.Time
	IsActive  bool
}

// MetadataCacheRecord tracks one cached composed-metadata document.
type MetadataCacheRecord struct {
	PackageName     string
	SizeBytes       int64
	FilePath        string
	ETag            *string
	HasLocalOverlay bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastAccessed    time.Time
	AccessCount     int64
}

// CacheStatsRecord is the singleton hit/miss counter row.
type CacheStatsRecord struct {
	ID        int64
	HitCount  int64
	MissCount int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Principal is the authenticated actor for a request.
type Principal struct {
	UserID   int64
	Username string
}
