package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clefregistry/clef/internal/models"
)

func scanPackage(row interface{ Scan(...any) error }) (*models.Package, error) {
	var p models.Package
	var description, homepage, repositoryURL, license, keywords sql.NullString
	var authorID, organizationID sql.NullInt64
	if err := row.Scan(&p.ID, &p.Name, &description, &authorID, &homepage, &repositoryURL,
		&license, &keywords, &organizationID, &p.IsPrivate, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Description = fromNullString(description)
	p.AuthorID = fromNullInt64(authorID)
	p.Homepage = fromNullString(homepage)
	p.RepositoryURL = fromNullString(repositoryURL)
	p.License = fromNullString(license)
	p.Keywords = fromNullString(keywords)
	p.OrganizationID = fromNullInt64(organizationID)
	return &p, nil
}

const packageColumns = `id, name, description, author_id, homepage, repository_url, license, keywords, organization_id, is_private, created_at, updated_at`

// GetPackageByName returns ErrNotFound if no such package exists.
func (s *Store) GetPackageByName(name string) (*models.Package, error) {
	row := s.db.QueryRow(`SELECT `+packageColumns+` FROM packages WHERE name = ?`, name)
	pkg, err := scanPackage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	return pkg, nil
}

// PackageExists is a cheap existence check used by the publish pipeline's
// is_new_package / can_publish decisions.
func (s *Store) PackageExists(name string) (bool, error) {
	var exists int
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM packages WHERE name = ?)`, name).Scan(&exists)
	if err != nil {
		return false, classifySQLiteError(err)
	}
	return exists == 1, nil
}

// CreateOrGetPackage reads the package by name; if present and
// updateDescription is true and description is non-nil and differs from
// the stored value, it updates {description, author_id, updated_at}.
// Otherwise it returns the existing row unchanged. If absent, it inserts
// a new row. Always returns the current row.
func (s *Store) CreateOrGetPackage(name string, description *string, authorID *int64, updateDescription bool) (*models.Package, error) {
	existing, err := s.GetPackageByName(name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if existing != nil {
		shouldUpdate := updateDescription && description != nil &&
			(existing.Description == nil || *existing.Description != *description)
		if !shouldUpdate {
			return existing, nil
		}
		now := time.Now().UTC()
		_, err := s.db.Exec(`UPDATE packages SET description = ?, author_id = ?, updated_at = ? WHERE id = ?`,
			toNullString(description), toNullInt64(authorID), now, existing.ID)
		if err != nil {
			return nil, classifySQLiteError(err)
		}
		return s.GetPackageByName(name)
	}

	now := time.Now().UTC()
	res, err := s.db.Exec(`INSERT INTO packages (name, description, author_id, is_private, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)`, name, toNullString(description), toNullInt64(authorID), now, now)
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	_ = id
	return s.GetPackageByName(name)
}

// UpdatePackagePrivacy flips the is_private flag.
func (s *Store) UpdatePackagePrivacy(name string, isPrivate bool) error {
	_, err := s.db.Exec(`UPDATE packages SET is_private = ?, updated_at = ? WHERE name = ?`,
		isPrivate, time.Now().UTC(), name)
	return classifySQLiteError(err)
}

// LinkPackageToOrganization sets packages.organization_id.
func (s *Store) LinkPackageToOrganization(packageName string, organizationID int64) error {
	_, err := s.db.Exec(`UPDATE packages SET organization_id = ?, updated_at = ? WHERE name = ?`,
		organizationID, time.Now().UTC(), packageName)
	return classifySQLiteError(err)
}

// ExtractOrganizationName returns the scope of a scoped package name
// ("@scope/name" -> "scope"), or ("", false) for unscoped names.
func ExtractOrganizationName(packageName string) (string, bool) {
	if !strings.HasPrefix(packageName, "@") {
		return "", false
	}
	rest := packageName[1:]
	idx := strings.IndexByte(rest, '/')
	if idx <= 0 {
		return "", false
	}
	return rest[:idx], true
}

// GetOrCreateOrganizationForPackage finds or creates the organization named
// scope, adding creatorUserID as an owner-member on creation, all within a
// single transaction. It returns the organization's id.
func (s *Store) GetOrCreateOrganizationForPackage(scope string, creatorUserID *int64) (int64, error) {
	var id int64
	err := s.db.QueryRow(`SELECT id FROM organizations WHERE name = ?`, scope).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, classifySQLiteError(err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, classifySQLiteError(err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.Exec(`INSERT INTO organizations (name, created_at, updated_at) VALUES (?, ?, ?)`, scope, now, now)
	if err != nil {
		// Lost the race against a concurrent creator; re-read outside the tx.
		if classified := classifySQLiteError(err); errors.Is(classified, ErrUniqueViolation) {
			var existingID int64
			if readErr := s.db.QueryRow(`SELECT id FROM organizations WHERE name = ?`, scope).Scan(&existingID); readErr == nil {
				return existingID, nil
			}
		}
		return 0, classifySQLiteError(err)
	}
	orgID, err := res.LastInsertId()
	if err != nil {
		return 0, classifySQLiteError(err)
	}

	if creatorUserID != nil {
		_, err = tx.Exec(`INSERT INTO organization_members (organization_id, user_id, role, created_at, updated_at)
			VALUES (?, ?, 'owner', ?, ?)`, orgID, *creatorUserID, now, now)
		if err != nil {
			return 0, classifySQLiteError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, classifySQLiteError(err)
	}
	return orgID, nil
}

// PaginationParams validates/normalizes the paginated-listing inputs,
// falling back to created_at/desc for any unrecognized combination.
type PaginationParams struct {
	Limit  int
	Offset int
	Search string
	SortBy string
	Order  string
}

var allowedSortColumns = map[string]bool{"name": true, "created_at": true, "updated_at": true, "id": true}
var allowedOrders = map[string]bool{"asc": true, "desc": true}

func (p PaginationParams) normalized() (sortCol, order string) {
	sortCol = p.SortBy
	if !allowedSortColumns[sortCol] {
		sortCol = "created_at"
	}
	order = strings.ToLower(p.Order)
	if !allowedOrders[order] {
		order = "desc"
	}
	return sortCol, order
}

// GetPackagesPaginated lists packages with optional case-sensitive LIKE
// search over name/description, validated sort column/order (invalid
// values fall back to created_at/desc), returning the page and the total
// matching count.
func (s *Store) GetPackagesPaginated(p PaginationParams) ([]*models.Package, int, error) {
	sortCol, order := p.normalized()

	where := ""
	args := []any{}
	if p.Search != "" {
		where = "WHERE name LIKE ? OR description LIKE ?"
		like := "%" + p.Search + "%"
		args = append(args, like, like)
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM packages %s`, where)
	if err := s.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, classifySQLiteError(err)
	}

	query := fmt.Sprintf(`SELECT %s FROM packages %s ORDER BY %s %s LIMIT ? OFFSET ?`,
		packageColumns, where, sortCol, strings.ToUpper(order))
	args = append(args, p.Limit, p.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, classifySQLiteError(err)
	}
	defer rows.Close()

	var out []*models.Package
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, 0, classifySQLiteError(err)
		}
		out = append(out, pkg)
	}
	return out, total, rows.Err()
}

// PopularPackage is one row of the aggregated downloads-ranking query.
type PopularPackage struct {
	Name          string
	TotalAccesses int64
	VersionCount  int64
	TotalBytes    int64
}

// GetPopularPackages aggregates sum(access_count), count(distinct
// version), sum(size_bytes) across each package's files, sorted
// descending by total downloads, truncated to limit.
func (s *Store) GetPopularPackages(limit int) ([]PopularPackage, error) {
	rows, err := s.db.Query(`
		SELECT p.name,
		       COALESCE(SUM(f.access_count), 0) AS total_accesses,
		       COUNT(DISTINCT v.id) AS version_count,
		       COALESCE(SUM(f.size_bytes), 0) AS total_bytes
		FROM packages p
		JOIN package_versions v ON v.package_id = p.id
		JOIN package_files f ON f.package_version_id = v.id
		GROUP BY p.id
		ORDER BY total_accesses DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	defer rows.Close()

	var out []PopularPackage
	for rows.Next() {
		var pp PopularPackage
		if err := rows.Scan(&pp.Name, &pp.TotalAccesses, &pp.VersionCount, &pp.TotalBytes); err != nil {
			return nil, classifySQLiteError(err)
		}
		out = append(out, pp)
	}
	return out, rows.Err()
}
