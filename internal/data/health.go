package data

import (
	"context"
	"database/sql"
	"errors"
	"time"

	apperrors "github.com/astracore/astracore/internal/errors"
)

// HealthProbe checks that the profile store is reachable.
type HealthProbe struct {
	DB      *sql.DB
	Timeout time.Duration
}

// Check reads one row from user_profiles and reports the round-trip latency.
// An empty table is healthy.
func (h HealthProbe) Check(ctx context.Context) (time.Duration, error) {
	if h.DB == nil {
		return 0, ErrDBNotConfigured
	}
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var one int
	err := h.DB.QueryRowContext(ctx, `SELECT 1 FROM user_profiles LIMIT 1`).Scan(&one)
	latency := time.Since(start)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		mapped := apperrors.MapDBError(err)
		if apperrors.GetCode(mapped) == "" {
			mapped = apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "profile store unavailable")
		}
		return latency, mapped
	}
	return latency, nil
}
