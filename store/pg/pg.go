// Package pg implements the credential store on PostgreSQL via
// database/sql and the pgx stdlib driver.
package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/commercekit/identity/store"
)

const uniqueViolation = "23505"

// Store implements store.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// New wraps an open database handle. The caller owns the pool.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return store.ErrConflict
	}
	return err
}

// Subjects -----------------------------------------------------------------

func (s *Store) GetSubject(ctx context.Context, id string) (store.Subject, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, identifier, password_hash, role_id, active, verified, last_login_at, created_at
		 from subjects where id=$1`, id)
	return scanSubject(row)
}

func (s *Store) GetSubjectByIdentifier(ctx context.Context, identifier string) (store.Subject, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, identifier, password_hash, role_id, active, verified, last_login_at, created_at
		 from subjects where identifier=$1`, identifier)
	return scanSubject(row)
}

func scanSubject(row *sql.Row) (store.Subject, error) {
	var (
		sub       store.Subject
		roleID    sql.NullString
		lastLogin sql.NullTime
	)
	if err := row.Scan(&sub.ID, &sub.Identifier, &sub.PasswordHash, &roleID,
		&sub.Active, &sub.Verified, &lastLogin, &sub.CreatedAt); err != nil {
		return store.Subject{}, mapErr(err)
	}
	sub.RoleID = roleID.String
	if lastLogin.Valid {
		sub.LastLoginAt = lastLogin.Time
	}
	return sub, nil
}

func (s *Store) SetSubjectRole(ctx context.Context, subjectID, roleID string) error {
	var role sql.NullString
	if roleID != "" {
		role = sql.NullString{String: roleID, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`update subjects set role_id=$2 where id=$1`, subjectID, role)
	if err != nil {
		return mapErr(err)
	}
	return requireAffected(res)
}

func (s *Store) TouchLastLogin(ctx context.Context, subjectID string) error {
	res, err := s.db.ExecContext(ctx,
		`update subjects set last_login_at=now() where id=$1`, subjectID)
	if err != nil {
		return mapErr(err)
	}
	return requireAffected(res)
}

// Roles --------------------------------------------------------------------

func (s *Store) GetRole(ctx context.Context, id string) (store.Role, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, created_at, updated_at from roles where id=$1`, id)
	var role store.Role
	if err := row.Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return store.Role{}, mapErr(err)
	}
	return role, nil
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (store.Role, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, created_at, updated_at from roles where name=$1`, name)
	var role store.Role
	if err := row.Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return store.Role{}, mapErr(err)
	}
	return role, nil
}

func (s *Store) CreateRole(ctx context.Context, role store.Role) error {
	_, err := s.db.ExecContext(ctx,
		`insert into roles(id, name, created_at, updated_at) values($1,$2,$3,$4)`,
		role.ID, role.Name, role.CreatedAt, role.UpdatedAt)
	return mapErr(err)
}

func (s *Store) DeleteRole(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id=$1`, id); err != nil {
		return mapErr(err)
	}
	res, err := tx.ExecContext(ctx, `delete from roles where id=$1`, id)
	if err != nil {
		return mapErr(err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ReplaceRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id=$1`, roleID); err != nil {
		return mapErr(err)
	}
	for _, pid := range permissionIDs {
		if _, err := tx.ExecContext(ctx,
			`insert into role_permissions(role_id, permission_id) values($1,$2)`, roleID, pid); err != nil {
			return mapErr(err)
		}
	}
	return tx.Commit()
}

func (s *Store) AddRolePermission(ctx context.Context, link store.RolePermission) error {
	_, err := s.db.ExecContext(ctx,
		`insert into role_permissions(role_id, permission_id) values($1,$2)`,
		link.RoleID, link.PermissionID)
	return mapErr(err)
}

func (s *Store) RemoveRolePermission(ctx context.Context, link store.RolePermission) error {
	res, err := s.db.ExecContext(ctx,
		`delete from role_permissions where role_id=$1 and permission_id=$2`,
		link.RoleID, link.PermissionID)
	if err != nil {
		return mapErr(err)
	}
	return requireAffected(res)
}

// Permissions --------------------------------------------------------------

func (s *Store) CreatePermission(ctx context.Context, perm store.Permission) error {
	_, err := s.db.ExecContext(ctx,
		`insert into permissions(id, name, resource, action) values($1,$2,$3,$4)`,
		perm.ID, perm.Name, perm.Resource, perm.Action)
	return mapErr(err)
}

func (s *Store) GetPermissionByName(ctx context.Context, name string) (store.Permission, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, resource, action from permissions where name=$1`, name)
	var p store.Permission
	if err := row.Scan(&p.ID, &p.Name, &p.Resource, &p.Action); err != nil {
		return store.Permission{}, mapErr(err)
	}
	return p, nil
}

func (s *Store) PermissionsForRole(ctx context.Context, roleID string) ([]store.Permission, error) {
	if _, err := s.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`select p.id, p.name, p.resource, p.action from permissions p
		 join role_permissions rp on rp.permission_id=p.id
		 where rp.role_id=$1 order by p.name`, roleID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var perms []store.Permission
	for rows.Next() {
		var p store.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Resource, &p.Action); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// Refresh tokens -----------------------------------------------------------

func (s *Store) CreateRefreshToken(ctx context.Context, token store.RefreshToken) error {
	var parent sql.NullString
	if token.ParentID != "" {
		parent = sql.NullString{String: token.ParentID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, lineage_id, subject_id, token_hash, parent_id, revoked, expires_at, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		token.ID, token.LineageID, token.SubjectID, token.TokenHash, parent,
		token.Revoked, token.ExpiresAt, token.CreatedAt)
	return mapErr(err)
}

func (s *Store) GetRefreshTokenByHash(ctx context.Context, tokenHash string) (store.RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, lineage_id, subject_id, token_hash, parent_id, revoked, expires_at, created_at
		 from refresh_tokens where token_hash=$1`, tokenHash)
	var (
		tok    store.RefreshToken
		parent sql.NullString
	)
	if err := row.Scan(&tok.ID, &tok.LineageID, &tok.SubjectID, &tok.TokenHash,
		&parent, &tok.Revoked, &tok.ExpiresAt, &tok.CreatedAt); err != nil {
		return store.RefreshToken{}, mapErr(err)
	}
	tok.ParentID = parent.String
	return tok, nil
}

func (s *Store) RevokeRefreshToken(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true where id=$1`, id)
	if err != nil {
		return mapErr(err)
	}
	return requireAffected(res)
}

func (s *Store) RevokeLineage(ctx context.Context, lineageID string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true where lineage_id=$1 and revoked=false`, lineageID)
	return mapErr(err)
}

func (s *Store) RevokeAllForSubject(ctx context.Context, subjectID string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true where subject_id=$1 and revoked=false`, subjectID)
	return mapErr(err)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
