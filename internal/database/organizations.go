package database

import (
	"database/sql"
	"errors"
	"time"

	"github.com/clefregistry/clef/internal/models"
)

func scanOrganization(row interface{ Scan(...any) error }) (*models.Organization, error) {
	var o models.Organization
	var displayName, description sql.NullString
	if err := row.Scan(&o.ID, &o.Name, &displayName, &description, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.DisplayName = fromNullString(displayName)
	o.Description = fromNullString(description)
	return &o, nil
}

const organizationColumns = `id, name, display_name, description, created_at, updated_at`

// GetOrganizationByName returns ErrNotFound if absent.
func (s *Store) GetOrganizationByName(name string) (*models.Organization, error) {
	row := s.db.QueryRow(`SELECT `+organizationColumns+` FROM organizations WHERE name = ?`, name)
	org, err := scanOrganization(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	return org, nil
}

// CreateOrganization validates nothing itself (callers validate the name);
// it inserts the organization and its creator as an owner-member in one
// transaction.
func (s *Store) CreateOrganization(name string, displayName, description *string, creatorUserID int64) (*models.Organization, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.Exec(`INSERT INTO organizations (name, display_name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`, name, toNullString(displayName), toNullString(description), now, now)
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	orgID, err := res.LastInsertId()
	if err != nil {
		return nil, classifySQLiteError(err)
	}

	_, err = tx.Exec(`INSERT INTO organization_members (organization_id, user_id, role, created_at, updated_at)
		VALUES (?, ?, 'owner', ?, ?)`, orgID, creatorUserID, now, now)
	if err != nil {
		return nil, classifySQLiteError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, classifySQLiteError(err)
	}
	return s.GetOrganizationByName(name)
}

// UpdateOrganization patches display_name/description.
func (s *Store) UpdateOrganization(id int64, displayName, description *string) (*models.Organization, error) {
	_, err := s.db.Exec(`UPDATE organizations SET display_name = ?, description = ?, updated_at = ? WHERE id = ?`,
		toNullString(displayName), toNullString(description), time.Now().UTC(), id)
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	row := s.db.QueryRow(`SELECT `+organizationColumns+` FROM organizations WHERE id = ?`, id)
	org, err := scanOrganization(row)
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	return org, nil
}

// DeleteOrganization refuses (ErrForeignKeyViolation) if any package still
// references this organization; otherwise deletes members then the
// organization row, transactionally.
func (s *Store) DeleteOrganization(id int64) error {
	var packageCount int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM packages WHERE organization_id = ?`, id).Scan(&packageCount); err != nil {
		return classifySQLiteError(err)
	}
	if packageCount > 0 {
		return ErrForeignKeyViolation
	}

	tx, err := s.db.Begin()
	if err != nil {
		return classifySQLiteError(err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM organization_members WHERE organization_id = ?`, id); err != nil {
		return classifySQLiteError(err)
	}
	if _, err := tx.Exec(`DELETE FROM organizations WHERE id = ?`, id); err != nil {
		return classifySQLiteError(err)
	}
	return classifySQLiteError(tx.Commit())
}

// AddOrganizationMember inserts a membership row.
func (s *Store) AddOrganizationMember(organizationID, userID int64, role models.OrganizationRole) (*models.OrganizationMember, error) {
	now := time.Now().UTC()
	_, err := s.db.Exec(`INSERT INTO organization_members (organization_id, user_id, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`, organizationID, userID, role, now, now)
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	return s.getOrganizationMember(organizationID, userID)
}

func (s *Store) getOrganizationMember(organizationID, userID int64) (*models.OrganizationMember, error) {
	var m models.OrganizationMember
	err := s.db.QueryRow(`SELECT id, organization_id, user_id, role, created_at, updated_at
		FROM organization_members WHERE organization_id = ? AND user_id = ?`, organizationID, userID).
		Scan(&m.ID, &m.OrganizationID, &m.UserID, &m.Role, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	return &m, nil
}

// UpdateOrganizationMemberRole changes an existing member's role.
func (s *Store) UpdateOrganizationMemberRole(organizationID, userID int64, role models.OrganizationRole) (*models.OrganizationMember, error) {
	_, err := s.db.Exec(`UPDATE organization_members SET role = ?, updated_at = ? WHERE organization_id = ? AND user_id = ?`,
		role, time.Now().UTC(), organizationID, userID)
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	return s.getOrganizationMember(organizationID, userID)
}

// RemoveOrganizationMember deletes a membership row, refusing
// (ErrCheckViolation) if the member being removed is the last remaining
// owner.
func (s *Store) RemoveOrganizationMember(organizationID, userID int64) error {
	member, err := s.getOrganizationMember(organizationID, userID)
	if err != nil {
		return err
	}

	if member.Role == models.RoleOwner {
		var ownerCount int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM organization_members WHERE organization_id = ? AND role = 'owner'`,
			organizationID).Scan(&ownerCount); err != nil {
			return classifySQLiteError(err)
		}
		if ownerCount <= 1 {
			return checkViolation("cannot remove the last owner from an organization")
		}
	}

	_, err = s.db.Exec(`DELETE FROM organization_members WHERE organization_id = ? AND user_id = ?`, organizationID, userID)
	return classifySQLiteError(err)
}

// GetOrganizationMembers lists members joined with their username/email.
func (s *Store) GetOrganizationMembers(organizationID int64) ([]models.OrganizationMemberWithUser, error) {
	rows, err := s.db.Query(`
		SELECT m.id, m.organization_id, m.user_id, m.role, m.created_at, m.updated_at, u.username, u.email
		FROM organization_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.organization_id = ?`, organizationID)
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	defer rows.Close()

	var out []models.OrganizationMemberWithUser
	for rows.Next() {
		var m models.OrganizationMemberWithUser
		if err := rows.Scan(&m.ID, &m.OrganizationID, &m.UserID, &m.Role, &m.CreatedAt, &m.UpdatedAt, &m.Username, &m.Email); err != nil {
			return nil, classifySQLiteError(err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CheckOrganizationPermission reports whether user's role meets or
// exceeds required; an unknown/absent membership defaults to false.
func (s *Store) CheckOrganizationPermission(organizationID, userID int64, required models.OrganizationRole) (bool, error) {
	member, err := s.getOrganizationMember(organizationID, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return member.Role.AtLeast(required), nil
}

// CountPackagesForOrganization is used by the management API's
// package_count field.
func (s *Store) CountPackagesForOrganization(organizationID int64) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM packages WHERE organization_id = ?`, organizationID).Scan(&count)
	if err != nil {
		return 0, classifySQLiteError(err)
	}
	return count, nil
}
