package repository

import (
	"context"
	"database/sql"
	"errors"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"time"
	"token-keeper/config"
	"token-keeper/internal/autherr"
	"token-keeper/internal/model"
	"token-keeper/internal/security"
	"token-keeper/internal/util"
)

const refreshTokenColumns = `jti, user_id, token_hash, device_id, device_name, ip_address, user_agent, platform, browser,
	issued_at, expires_at, last_used_at, status, revoked_at, revoked_reason, parent_token_jti, family_id`

const revokeSet = `SET status = 'revoked', revoked_at = $2, revoked_reason = $3`

var errInvalidRefreshParams = errors.New("jti, token hash, user id and expiry are required")

type RefreshTokenRepository struct {
	*config.Database
	clock util.Clock
	log   *zap.SugaredLogger
}

func NewRefreshTokenRepository(database *config.Database, clock util.Clock, log *zap.SugaredLogger) *RefreshTokenRepository {
	return &RefreshTokenRepository{Database: database, clock: clock, log: log}
}

// Create : stores a new active refresh token. A token without a family starts its own.
func (r *RefreshTokenRepository) Create(ctx context.Context, params model.RefreshTokenParams) (*model.RefreshToken, error) {
	errCtx := autherr.NewContext().WithUser(params.UserID).WithJTI(params.JTI)

	token, err := r.create(ctx, r.DB, params)
	if errors.Is(err, errInvalidRefreshParams) {
		return nil, autherr.NewTokenGenerationError(autherr.GenerationPayloadInvalid, errCtx, err)
	}
	if err != nil {
		return nil, r.storageError(autherr.RefreshStorageFailed, "failed to store refresh token", err, errCtx)
	}
	return token, nil
}

// BatchCreate inserts all tokens or none of them.
func (r *RefreshTokenRepository) BatchCreate(ctx context.Context, params []model.RefreshTokenParams) ([]*model.RefreshToken, error) {
	if len(params) == 0 {
		return nil, nil
	}
	errCtx := autherr.NewContext().With("batch_size", len(params))

	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, r.storageError(autherr.RefreshStorageFailed, "failed to begin transaction", err, errCtx)
	}

	tokens := make([]*model.RefreshToken, 0, len(params))
	for i, p := range params {
		token, err := r.create(ctx, tx, p)
		if err != nil {
			_ = tx.Rollback()
			return nil, r.storageError(autherr.RefreshStorageFailed, "failed to store refresh token batch", err,
				errCtx.WithJTI(p.JTI).With("batch_index", i))
		}
		tokens = append(tokens, token)
	}

	if err := tx.Commit(); err != nil {
		return nil, r.storageError(autherr.RefreshStorageFailed, "failed to commit refresh token batch", err, errCtx)
	}
	return tokens, nil
}

func (r *RefreshTokenRepository) create(ctx context.Context, exec sqlx.ExtContext, params model.RefreshTokenParams) (*model.RefreshToken, error) {
	if params.JTI == "" || params.TokenHash == "" || params.UserID <= 0 || params.ExpiresAt.IsZero() {
		return nil, errInvalidRefreshParams
	}

	now := r.clock.Now()
	token := &model.RefreshToken{
		JTI:        params.JTI,
		UserID:     params.UserID,
		TokenHash:  params.TokenHash,
		DeviceInfo: params.Device,
		IssuedAt:   now,
		ExpiresAt:  params.ExpiresAt,
		Status:     model.StatusActive,
		FamilyID:   params.FamilyID,
	}
	if token.FamilyID == "" {
		token.FamilyID = params.JTI
	}
	if params.ParentJTI != "" {
		parent := params.ParentJTI
		token.ParentTokenJTI = &parent
	}

	query := `
		INSERT INTO refresh_tokens (jti, user_id, token_hash, device_id, device_name, ip_address, user_agent, platform, browser,
			issued_at, expires_at, status, parent_token_jti, family_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'active', $12, $13)
	`
	_, err := exec.ExecContext(ctx, query,
		token.JTI,
		token.UserID,
		token.TokenHash,
		token.DeviceID,
		token.DeviceName,
		token.IPAddress,
		token.UserAgent,
		token.Platform,
		token.Browser,
		token.IssuedAt,
		token.ExpiresAt,
		token.ParentTokenJTI,
		token.FamilyID,
	)
	if err != nil {
		return nil, err
	}
	return token, nil
}

// FindByJTI returns nil, nil when the token does not exist.
func (r *RefreshTokenRepository) FindByJTI(ctx context.Context, jti string) (*model.RefreshToken, error) {
	return r.findOne(ctx, `SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE jti = $1`, jti,
		autherr.NewContext().WithJTI(jti))
}

func (r *RefreshTokenRepository) FindByTokenHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error) {
	return r.findOne(ctx, `SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE token_hash = $1`, tokenHash,
		autherr.NewContext())
}

func (r *RefreshTokenRepository) findOne(ctx context.Context, query string, arg any, errCtx autherr.ErrorContext) (*model.RefreshToken, error) {
	var token model.RefreshToken
	err := r.DB.GetContext(ctx, &token, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, r.storageError(autherr.RefreshStorageFailed, "failed to load refresh token", err, errCtx)
	}
	return &token, nil
}

// FindActiveByUserID : unrevoked and unexpired tokens, newest first
func (r *RefreshTokenRepository) FindActiveByUserID(ctx context.Context, userID int64) ([]model.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens
		WHERE user_id = $1 AND status = 'active' AND expires_at > $2
		ORDER BY issued_at DESC`

	tokens := []model.RefreshToken{}
	if err := r.DB.SelectContext(ctx, &tokens, query, userID, r.clock.Now()); err != nil {
		return nil, r.storageError(autherr.RefreshStorageFailed, "failed to list active refresh tokens", err,
			autherr.NewContext().WithUser(userID))
	}
	return tokens, nil
}

// FindByFamilyID returns the whole rotation chain, oldest first.
func (r *RefreshTokenRepository) FindByFamilyID(ctx context.Context, familyID string) ([]model.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE family_id = $1 ORDER BY issued_at ASC`

	tokens := []model.RefreshToken{}
	if err := r.DB.SelectContext(ctx, &tokens, query, familyID); err != nil {
		return nil, r.storageError(autherr.RefreshStorageFailed, "failed to list token family", err,
			autherr.NewContext().With("family_id", familyID))
	}
	return tokens, nil
}

func (r *RefreshTokenRepository) CountActiveByUserID(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := r.DB.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM refresh_tokens WHERE user_id = $1 AND status = 'active' AND expires_at > $2`,
		userID, r.clock.Now())
	if err != nil {
		return 0, r.storageError(autherr.RefreshStorageFailed, "failed to count active refresh tokens", err,
			autherr.NewContext().WithUser(userID))
	}
	return count, nil
}

func (r *RefreshTokenRepository) UpdateLastUsed(ctx context.Context, jti string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE refresh_tokens SET last_used_at = $2 WHERE jti = $1 AND status = 'active'`, jti, r.clock.Now())
	if err != nil {
		return r.storageError(autherr.RefreshStorageFailed, "failed to update last use", err,
			autherr.NewContext().WithJTI(jti))
	}
	return nil
}

// Revoke is idempotent: revoking a revoked or unknown token reports false without error.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, jti string, reason model.RevocationReason) (bool, error) {
	rows, err := r.revoke(ctx, r.DB, `UPDATE refresh_tokens `+revokeSet+` WHERE jti = $1 AND status = 'active'`, jti, reason)
	if err != nil {
		return false, r.storageError(autherr.RefreshStorageFailed, "failed to revoke refresh token", err,
			autherr.NewContext().WithJTI(jti).With("reason", reason))
	}
	return rows > 0, nil
}

// RevokeAllByUserID revokes every active token of the user except excludeJTI, if given.
func (r *RefreshTokenRepository) RevokeAllByUserID(ctx context.Context, userID int64, reason model.RevocationReason, excludeJTI string) (int64, error) {
	query := `UPDATE refresh_tokens ` + revokeSet + ` WHERE user_id = $1 AND status = 'active' AND jti <> $4`
	rows, err := r.revoke(ctx, r.DB, query, userID, reason, excludeJTI)
	if err != nil {
		return 0, r.storageError(autherr.RefreshStorageFailed, "failed to revoke user refresh tokens", err,
			autherr.NewContext().WithUser(userID).With("reason", reason))
	}
	return rows, nil
}

func (r *RefreshTokenRepository) RevokeAllByDevice(ctx context.Context, userID int64, deviceID string, reason model.RevocationReason) (int64, error) {
	query := `UPDATE refresh_tokens ` + revokeSet + ` WHERE user_id = $1 AND status = 'active' AND device_id = $4`
	rows, err := r.revoke(ctx, r.DB, query, userID, reason, deviceID)
	if err != nil {
		return 0, r.storageError(autherr.RefreshStorageFailed, "failed to revoke device refresh tokens", err,
			autherr.NewContext().WithUser(userID).WithDevice(deviceID).With("reason", reason))
	}
	return rows, nil
}

func (r *RefreshTokenRepository) RevokeFamily(ctx context.Context, familyID string, reason model.RevocationReason) (int64, error) {
	query := `UPDATE refresh_tokens ` + revokeSet + ` WHERE family_id = $1 AND status = 'active'`
	rows, err := r.revoke(ctx, r.DB, query, familyID, reason)
	if err != nil {
		return 0, r.storageError(autherr.RefreshStorageFailed, "failed to revoke token family", err,
			autherr.NewContext().With("family_id", familyID).With("reason", reason))
	}
	return rows, nil
}

// BatchRevoke is a single statement, so it either applies to every listed active token or to none.
func (r *RefreshTokenRepository) BatchRevoke(ctx context.Context, jtis []string, reason model.RevocationReason) (int64, error) {
	if len(jtis) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In(
		`UPDATE refresh_tokens SET status = 'revoked', revoked_at = ?, revoked_reason = ? WHERE status = 'active' AND jti IN (?)`,
		r.clock.Now(), string(reason), jtis)
	if err == nil {
		var result sql.Result
		result, err = r.DB.ExecContext(ctx, r.DB.Rebind(query), args...)
		if err == nil {
			return result.RowsAffected()
		}
	}
	return 0, r.storageError(autherr.RefreshStorageFailed, "failed to batch revoke refresh tokens", err,
		autherr.NewContext().With("batch_size", len(jtis)).With("reason", reason))
}

// revoke runs a revoke statement whose $2 and $3 are revoked_at and revoked_reason.
func (r *RefreshTokenRepository) revoke(ctx context.Context, exec sqlx.ExtContext, query string, key any, reason model.RevocationReason, extra ...any) (int64, error) {
	args := append([]any{key, r.clock.Now(), string(reason)}, extra...)
	result, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// IsExpired is fail-closed: an unknown token or a failed lookup counts as expired.
func (r *RefreshTokenRepository) IsExpired(ctx context.Context, jti string) (bool, error) {
	var expiresAt time.Time
	err := r.DB.GetContext(ctx, &expiresAt, `SELECT expires_at FROM refresh_tokens WHERE jti = $1`, jti)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return true, r.storageError(autherr.RefreshStorageFailed, "failed to check refresh token expiry", err,
			autherr.NewContext().WithJTI(jti))
	}
	return !expiresAt.After(r.clock.Now()), nil
}

// IsRevoked is true only for a stored revoked status. A failed lookup also reports true.
func (r *RefreshTokenRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var status model.TokenStatus
	err := r.DB.GetContext(ctx, &status, `SELECT status FROM refresh_tokens WHERE jti = $1`, jti)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return true, r.storageError(autherr.RefreshStorageFailed, "failed to check refresh token status", err,
			autherr.NewContext().WithJTI(jti))
	}
	return status == model.StatusRevoked, nil
}

// IsValid : exists, unexpired and active. Both checks must pass on their own.
func (r *RefreshTokenRepository) IsValid(ctx context.Context, jti string) (bool, error) {
	expired, err := r.IsExpired(ctx, jti)
	if err != nil || expired {
		return false, err
	}
	revoked, err := r.IsRevoked(ctx, jti)
	if err != nil || revoked {
		return false, err
	}
	return true, nil
}

// Rotate spends the presented token and stores its successor in the same family.
// Presenting a token that was already spent by an earlier rotation revokes the whole
// family and fails with already_used.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, request model.RotationRequest) (*model.RefreshToken, error) {
	errCtx := autherr.NewContext().WithUser(request.UserID).WithJTI(request.OldJTI).WithDevice(request.Device.DeviceID)

	old, err := r.FindByJTI(ctx, request.OldJTI)
	if err != nil {
		return nil, err
	}
	if old == nil {
		return nil, autherr.NewRefreshTokenError(autherr.RefreshNotFound, errCtx, nil)
	}
	errCtx = errCtx.With("family_id", old.FamilyID)

	if request.PresentedHash != "" && !security.HashesEqual(old.TokenHash, request.PresentedHash) {
		return nil, autherr.NewRefreshTokenError(autherr.RefreshNotFound, errCtx, nil).
			WithMessage("presented refresh token does not match the stored one")
	}

	now := r.clock.Now()
	switch {
	case old.WasRotated():
		r.revokeChain(ctx, old)
		return nil, autherr.NewRefreshTokenError(autherr.RefreshAlreadyUsed, errCtx, nil)
	case old.IsRevoked():
		return nil, autherr.NewRefreshTokenError(autherr.RefreshRevoked, errCtx, nil)
	case old.IsExpired(now):
		return nil, autherr.NewTokenExpiredError(model.TokenTypeRefresh, old.ExpiresAt, now, errCtx)
	case old.UserID != request.UserID:
		return nil, autherr.NewRefreshTokenError(autherr.RefreshUserMismatch, errCtx.With("stored_user_id", old.UserID), nil)
	case !old.DeviceInfo.Matches(request.Device):
		return nil, autherr.NewRefreshTokenError(autherr.RefreshDeviceMismatch, errCtx.With("stored_device_id", old.DeviceID), nil)
	case request.ExpectedFamilyID != "" && request.ExpectedFamilyID != old.FamilyID:
		return nil, autherr.NewRefreshTokenError(autherr.RefreshFamilyMismatch, errCtx, nil)
	}

	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, r.storageError(autherr.RefreshStorageFailed, "failed to begin rotation", err, errCtx)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET status = 'revoked', revoked_at = $2, revoked_reason = 'rotation', last_used_at = $2
		WHERE jti = $1 AND status = 'active'
	`, old.JTI, now)
	if err != nil {
		_ = tx.Rollback()
		return nil, r.storageError(autherr.RefreshStorageFailed, "failed to revoke rotated token", err, errCtx)
	}
	if rows, err := result.RowsAffected(); err != nil || rows == 0 {
		_ = tx.Rollback()
		r.log.Warnw("refresh token rotated concurrently", errCtx.Fields()...)
		return nil, autherr.NewRefreshTokenError(autherr.RefreshRotationFailed, errCtx, err)
	}

	next := request.Next
	next.UserID = old.UserID
	next.ParentJTI = old.JTI
	next.FamilyID = old.FamilyID

	created, err := r.create(ctx, tx, next)
	if err != nil {
		_ = tx.Rollback()
		return nil, r.storageError(autherr.RefreshStorageFailed, "failed to store rotated token", err, errCtx.With("next_jti", next.JTI))
	}

	if err := tx.Commit(); err != nil {
		return nil, r.storageError(autherr.RefreshStorageFailed, "failed to commit rotation", err, errCtx)
	}
	return created, nil
}

// revokeChain : reuse of a spent link kills the whole family, or every token of the
// user on that device when the family is unknown.
func (r *RefreshTokenRepository) revokeChain(ctx context.Context, reused *model.RefreshToken) {
	var (
		rows int64
		err  error
	)
	if reused.FamilyID != "" {
		rows, err = r.RevokeFamily(ctx, reused.FamilyID, model.ReasonSecurityBreach)
	} else {
		rows, err = r.RevokeAllByDevice(ctx, reused.UserID, reused.DeviceID, model.ReasonSecurityBreach)
	}
	if err != nil {
		r.log.Errorw("failed to revoke token chain after reuse", "jti", reused.JTI, "family_id", reused.FamilyID, "error", err)
		return
	}
	r.log.Warnw("refresh token reuse detected, chain revoked",
		"jti", reused.JTI, "user_id", reused.UserID, "family_id", reused.FamilyID, "revoked", rows)
}

// Cleanup hard-deletes tokens with expires_at strictly before the cutoff.
func (r *RefreshTokenRepository) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	return r.deleteWhere(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, before)
}

// CleanupRevoked hard-deletes tokens revoked more than days ago. A revoked row is kept
// while its token is still unexpired, otherwise a replayed spent token would come back
// as not_found instead of already_used.
func (r *RefreshTokenRepository) CleanupRevoked(ctx context.Context, days int) (int64, error) {
	now := r.clock.Now()
	cutoff := now.AddDate(0, 0, -days)
	return r.deleteWhere(ctx, `
		DELETE FROM refresh_tokens
		WHERE status = 'revoked' AND revoked_at < $1 AND expires_at < $2
	`, cutoff, now)
}

func (r *RefreshTokenRepository) deleteWhere(ctx context.Context, query string, cutoff time.Time, args ...any) (int64, error) {
	result, err := r.DB.ExecContext(ctx, query, append([]any{cutoff}, args...)...)
	if err == nil {
		var rows int64
		if rows, err = result.RowsAffected(); err == nil {
			return rows, nil
		}
	}
	return 0, r.storageError(autherr.RefreshDeletionFailed, "failed to delete refresh tokens", err,
		autherr.NewContext().With("cutoff", cutoff))
}

func (r *RefreshTokenRepository) GetUserTokenStats(ctx context.Context, userID int64) (*model.UserTokenStats, error) {
	query := `
		SELECT $1::bigint AS user_id,
		       COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE status = 'active' AND expires_at > $2) AS active,
		       COUNT(*) FILTER (WHERE status = 'revoked') AS revoked,
		       COUNT(*) FILTER (WHERE status = 'active' AND expires_at <= $2) AS expired,
		       COUNT(DISTINCT NULLIF(device_id, '')) AS devices,
		       MAX(last_used_at) AS last_used_at,
		       MAX(issued_at) AS last_issued_at
		FROM refresh_tokens
		WHERE user_id = $1
	`
	var stats model.UserTokenStats
	if err := r.DB.GetContext(ctx, &stats, query, userID, r.clock.Now()); err != nil {
		return nil, r.storageError(autherr.RefreshStorageFailed, "failed to load user token stats", err,
			autherr.NewContext().WithUser(userID))
	}
	return &stats, nil
}

func (r *RefreshTokenRepository) GetSystemStats(ctx context.Context) (*model.SystemTokenStats, error) {
	query := `
		SELECT COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE status = 'active' AND expires_at > $1) AS active,
		       COUNT(*) FILTER (WHERE status = 'revoked') AS revoked,
		       COUNT(*) FILTER (WHERE status = 'active' AND expires_at <= $1) AS expired,
		       COUNT(DISTINCT user_id) AS unique_users,
		       COUNT(DISTINCT NULLIF(device_id, '')) AS unique_devices,
		       COUNT(DISTINCT family_id) AS families
		FROM refresh_tokens
	`
	var stats model.SystemTokenStats
	if err := r.DB.GetContext(ctx, &stats, query, r.clock.Now()); err != nil {
		return nil, r.storageError(autherr.RefreshStorageFailed, "failed to load system token stats", err, autherr.NewContext())
	}
	return &stats, nil
}

func (r *RefreshTokenRepository) storageError(reason autherr.RefreshReason, message string, err error, errCtx autherr.ErrorContext) error {
	return autherr.NewRefreshTokenError(reason, errCtx, util.LogError(r.log, message, err, errCtx.Fields()...))
}
