package data

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	domainauth "github.com/astracore/astracore/internal/domain/auth"
	apperrors "github.com/astracore/astracore/internal/errors"
	"github.com/astracore/astracore/internal/ports"
)

const profileColumns = `id, role, first_name, last_name, phone, avatar_url, created_at, updated_at`

// ProfileRepo provides database operations for user_profiles.
type ProfileRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

var _ ports.ProfileStore = (*ProfileRepo)(nil)

// NewProfileRepo creates a new ProfileRepo with real time provider.
func NewProfileRepo(db *sql.DB) *ProfileRepo {
	return &ProfileRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewProfileRepoWithTimeProvider creates a new ProfileRepo with a custom time provider (useful for tests).
func NewProfileRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *ProfileRepo {
	return &ProfileRepo{DB: db, timeProvider: tp}
}

// Fetch returns the profile whose id equals userID.
func (r *ProfileRepo) Fetch(ctx context.Context, userID string) (domainauth.Profile, error) {
	if err := r.check(userID); err != nil {
		return domainauth.Profile{}, err
	}

	row := r.DB.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM user_profiles WHERE id = $1`, userID)
	p, err := scanProfile(row)
	if err != nil {
		mapped := apperrors.MapDBError(err)
		if apperrors.IsNotFound(mapped) {
			return domainauth.Profile{}, apperrors.Wrap(ErrProfileNotFound, apperrors.ErrCodeNotFound, "profile not found")
		}
		if mapped != err {
			return domainauth.Profile{}, mapped
		}
		return domainauth.Profile{}, fmt.Errorf("fetch profile: %w", err)
	}
	return p, nil
}

// Create inserts p. An existing row for the same id yields a Conflict error.
func (r *ProfileRepo) Create(ctx context.Context, p domainauth.Profile) (domainauth.Profile, error) {
	if err := r.check(p.ID); err != nil {
		return domainauth.Profile{}, err
	}
	if p.Role == "" {
		p.Role = domainauth.DefaultRole
	}
	if !p.Role.Valid() {
		return domainauth.Profile{}, apperrors.ValidationField("role", fmt.Sprintf("unknown role %q", p.Role))
	}

	now := r.timeProvider.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}

	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO user_profiles (id, role, first_name, last_name, phone, avatar_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+profileColumns,
		p.ID,
		string(p.Role),
		strings.TrimSpace(p.FirstName),
		strings.TrimSpace(p.LastName),
		strings.TrimSpace(p.Phone),
		strings.TrimSpace(p.AvatarURL),
		p.CreatedAt,
		p.UpdatedAt,
	)
	out, err := scanProfile(row)
	if err != nil {
		mapped := apperrors.MapDBError(err)
		if apperrors.IsConflict(mapped) {
			return domainauth.Profile{}, apperrors.Wrap(ErrProfileExists, apperrors.ErrCodeConflict, "profile already exists")
		}
		if mapped != err {
			return domainauth.Profile{}, mapped
		}
		return domainauth.Profile{}, fmt.Errorf("create profile: %w", err)
	}
	return out, nil
}

// Update writes the non-nil fields of upd and bumps updated_at. The role column is never touched.
// An empty update returns the stored profile unchanged.
func (r *ProfileRepo) Update(
	ctx context.Context,
	userID string,
	upd domainauth.ProfileUpdate,
) (domainauth.Profile, error) {
	if err := r.check(userID); err != nil {
		return domainauth.Profile{}, err
	}
	upd = upd.Normalize()
	if upd.IsEmpty() {
		return r.Fetch(ctx, userID)
	}

	row := r.DB.QueryRowContext(ctx, `
		UPDATE user_profiles SET
			first_name = COALESCE($2, first_name),
			last_name  = COALESCE($3, last_name),
			phone      = COALESCE($4, phone),
			avatar_url = COALESCE($5, avatar_url),
			updated_at = $6
		WHERE id = $1
		RETURNING `+profileColumns,
		userID,
		nullable(upd.FirstName),
		nullable(upd.LastName),
		nullable(upd.Phone),
		nullable(upd.AvatarURL),
		r.timeProvider.Now(),
	)
	out, err := scanProfile(row)
	if err != nil {
		mapped := apperrors.MapDBError(err)
		if apperrors.IsNotFound(mapped) {
			return domainauth.Profile{}, apperrors.Wrap(ErrProfileNotFound, apperrors.ErrCodeNotFound, "profile not found")
		}
		if mapped != err {
			return domainauth.Profile{}, mapped
		}
		return domainauth.Profile{}, fmt.Errorf("update profile: %w", err)
	}
	return out, nil
}

// SetRole changes a profile's role. Only the admin CLI calls this; self-service updates cannot.
func (r *ProfileRepo) SetRole(ctx context.Context, userID string, role domainauth.Role) (domainauth.Profile, error) {
	if err := r.check(userID); err != nil {
		return domainauth.Profile{}, err
	}
	if !role.Valid() {
		return domainauth.Profile{}, apperrors.ValidationField("role", fmt.Sprintf("unknown role %q", role))
	}
	row := r.DB.QueryRowContext(ctx, `
		UPDATE user_profiles SET role = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+profileColumns,
		userID, string(role), r.timeProvider.Now())
	out, err := scanProfile(row)
	if err != nil {
		mapped := apperrors.MapDBError(err)
		if apperrors.IsNotFound(mapped) {
			return domainauth.Profile{}, apperrors.Wrap(ErrProfileNotFound, apperrors.ErrCodeNotFound, "profile not found")
		}
		return domainauth.Profile{}, mapped
	}
	return out, nil
}

func (r *ProfileRepo) check(userID string) error {
	if r == nil || r.DB == nil {
		return ErrDBNotConfigured
	}
	if strings.TrimSpace(userID) == "" {
		return apperrors.Wrap(ErrUserIDRequired, apperrors.ErrCodeValidation, "user id is required")
	}
	return nil
}

func scanProfile(row *sql.Row) (domainauth.Profile, error) {
	var (
		p    domainauth.Profile
		role string
	)
	if err := row.Scan(
		&p.ID,
		&role,
		&p.FirstName,
		&p.LastName,
		&p.Phone,
		&p.AvatarURL,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return domainauth.Profile{}, err
	}
	// Rows written outside this service may carry a role the build does not know.
	// Keep the raw value; the permission table denies it everywhere.
	p.Role = domainauth.Role(role)
	return p, nil
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
