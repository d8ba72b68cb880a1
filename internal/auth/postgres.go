package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var _ Store = (*PGStore)(nil)

const uniqueViolation = "23505"

// PGStore implements Store using PostgreSQL through database/sql and pgx.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users(context.Context) UserStore                 { return &pgUsers{db: s.db} }
func (s *PGStore) TenantRoles(context.Context) TenantRoleStore     { return &pgTenantRoles{db: s.db} }
func (s *PGStore) RefreshTokens(context.Context) RefreshTokenStore { return &pgRefreshTokens{db: s.db} }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// User store ---------------------------------------------------------------
type pgUsers struct{ db *sql.DB }

const userColumns = `id, email, password_hash, first_name, last_name, phone, role, is_active,
	email_verified, oauth_provider, oauth_id, two_factor_enabled, two_factor_secret,
	last_login_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u                                         User
		hash, first, last, phone, provider, extID sql.NullString
		secret                                    sql.NullString
		role                                      string
		lastLogin                                 sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &hash, &first, &last, &phone, &role, &u.Active,
		&u.EmailVerified, &provider, &extID, &u.TwoFactorEnabled, &secret,
		&lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	parsed, err := ParseRole(role)
	if err != nil {
		return nil, err
	}
	u.Role = parsed
	u.PasswordHash, u.FirstName, u.LastName, u.Phone = hash.String, first.String, last.String, phone.String
	u.OAuthProvider, u.OAuthID, u.TwoFactorSecret = provider.String, extID.String, secret.String
	if lastLogin.Valid {
		u.LastLoginAt = lastLogin.Time
	}
	return &u, nil
}

func (s *pgUsers) Create(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, email, password_hash, first_name, last_name, phone, role, is_active,
			email_verified, oauth_provider, oauth_id, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		u.ID, u.Email, nullString(u.PasswordHash), nullString(u.FirstName), nullString(u.LastName),
		nullString(u.Phone), u.Role.String(), u.Active, u.EmailVerified,
		nullString(u.OAuthProvider), nullString(u.OAuthID), u.CreatedAt, u.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	return err
}

func (s *pgUsers) Find(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id=$1`, id))
}

func (s *pgUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email=$1`, email))
}

func (s *pgUsers) FindByOAuth(ctx context.Context, provider, externalID string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where oauth_provider=$1 and oauth_id=$2`, provider, externalID))
}

func (s *pgUsers) RecordLogin(ctx context.Context, id string, prev, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`update users set last_login_at=$3, updated_at=$3
		 where id=$1 and last_login_at is not distinct from $2`,
		id, nullTime(prev), at,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *pgUsers) UpdateRole(ctx context.Context, id string, role Role) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`update users set role=$2, updated_at=now() where id=$1 returning `+userColumns,
		id, role.String()))
}

func (s *pgUsers) LinkOAuth(ctx context.Context, id, provider, externalID string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set oauth_provider=$2, oauth_id=$3, email_verified=true, updated_at=now() where id=$1`,
		id, provider, externalID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Tenant role store --------------------------------------------------------
type pgTenantRoles struct{ db *sql.DB }

func (s *pgTenantRoles) Find(ctx context.Context, userID, tenantID string) (Role, error) {
	var role string
	err := s.db.QueryRowContext(ctx,
		`select role from user_roles where user_id=$1 and tenant_id=$2`, userID, tenantID,
	).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return ParseRole(role)
}

func (s *pgTenantRoles) Upsert(ctx context.Context, tr TenantRole) error {
	_, err := s.db.ExecContext(ctx,
		`insert into user_roles(user_id, tenant_id, role, created_at) values($1,$2,$3,$4)
		 on conflict (user_id, tenant_id) do update set role = excluded.role`,
		tr.UserID, tr.TenantID, tr.Role.String(), tr.CreatedAt,
	)
	return err
}

// Refresh token store ------------------------------------------------------
type pgRefreshTokens struct{ db *sql.DB }

func scanRefreshToken(row rowScanner) (*RefreshToken, error) {
	var t RefreshToken
	if err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt, &t.Revoked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *pgRefreshTokens) Insert(ctx context.Context, tok *RefreshToken) error {
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, user_id, token_hash, expires_at, created_at, is_revoked)
		 values($1,$2,$3,$4,$5,false)`,
		tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt, tok.CreatedAt,
	)
	return err
}

func (s *pgRefreshTokens) FindByToken(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	return scanRefreshToken(s.db.QueryRowContext(ctx,
		`select id, user_id, token_hash, expires_at, created_at, is_revoked
		 from refresh_tokens where token_hash=$1`, tokenHash))
}

func (s *pgRefreshTokens) FindByUserAndToken(ctx context.Context, userID, tokenHash string) (*RefreshToken, error) {
	return scanRefreshToken(s.db.QueryRowContext(ctx,
		`select id, user_id, token_hash, expires_at, created_at, is_revoked
		 from refresh_tokens where user_id=$1 and token_hash=$2`, userID, tokenHash))
}

func (s *pgRefreshTokens) Revoke(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`update refresh_tokens set is_revoked=true where id=$1 and not is_revoked`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
