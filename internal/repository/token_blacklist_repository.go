package repository

import (
	"context"
	"database/sql"
	"errors"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"strings"
	"time"
	"token-keeper/config"
	"token-keeper/internal/metrics"
	"token-keeper/internal/model"
	"token-keeper/internal/ports"
	"token-keeper/internal/util"
)

const (
	blacklistColumns = `jti, token_type, user_id, device_id, expires_at, blacklisted_at, reason, metadata`

	uniqueViolation = "23505"

	defaultPageSize = 50
	maxPageSize     = 1000
)

// TokenBlacklistRepository : revocation registry for access and refresh tokens.
// IsBlacklisted and IsTokenHashBlacklisted fail open, everything else reports errors.
type TokenBlacklistRepository struct {
	*config.Database
	cache            ports.BlacklistCache
	clock            util.Clock
	metrics          *metrics.Recorder
	log              *zap.SugaredLogger
	maxEntries       int64
	purgeHorizonDays int
}

// NewTokenBlacklistRepository : cache may be nil.
func NewTokenBlacklistRepository(database *config.Database, cache ports.BlacklistCache, cfg config.BlacklistConfig,
	clock util.Clock, recorder *metrics.Recorder, log *zap.SugaredLogger) *TokenBlacklistRepository {
	purgeHorizon := cfg.PurgeHorizonDays
	if purgeHorizon <= 0 {
		purgeHorizon = 30
	}
	return &TokenBlacklistRepository{
		Database:         database,
		cache:            cache,
		clock:            clock,
		metrics:          recorder,
		log:              log,
		maxEntries:       cfg.MaxEntries,
		purgeHorizonDays: purgeHorizon,
	}
}

// AddToBlacklist reports false without error when the jti is already blacklisted;
// the existing entry is left untouched.
func (r *TokenBlacklistRepository) AddToBlacklist(ctx context.Context, entry model.TokenBlacklistEntry) (bool, error) {
	entry = r.stamp(entry)

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO token_blacklist (`+blacklistColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entryArgs(entry)...)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return false, nil
		}
		return false, util.LogError(r.log, "failed to blacklist token", err, "jti", entry.JTI)
	}

	r.cacheAdd(ctx, entry.JTI, entry.ExpiresAt)
	return true, nil
}

// IsBlacklisted is fail-open: a failed lookup is logged, counted and reported as false.
func (r *TokenBlacklistRepository) IsBlacklisted(ctx context.Context, jti string) bool {
	if r.cache != nil {
		if cached, err := r.cache.IsBlacklisted(ctx, jti); err == nil && cached {
			return true
		}
	}

	var expiresAt time.Time
	err := r.DB.GetContext(ctx, &expiresAt, `SELECT expires_at FROM token_blacklist WHERE jti = $1`, jti)
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	if err != nil {
		r.failOpen("jti", err)
		return false
	}

	r.cacheAdd(ctx, jti, expiresAt)
	return true
}

// IsTokenHashBlacklisted looks a refresh token up by its stored hash. Fail-open like IsBlacklisted.
func (r *TokenBlacklistRepository) IsTokenHashBlacklisted(ctx context.Context, tokenHash string) bool {
	var exists bool
	err := r.DB.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1
			FROM token_blacklist AS b
			JOIN refresh_tokens AS t ON t.jti = b.jti
			WHERE t.token_hash = $1
		)
	`, tokenHash)
	if err != nil {
		r.failOpen("token_hash", err)
		return false
	}
	return exists
}

func (r *TokenBlacklistRepository) RemoveFromBlacklist(ctx context.Context, jti string) (bool, error) {
	result, err := r.DB.ExecContext(ctx, `DELETE FROM token_blacklist WHERE jti = $1`, jti)
	if err != nil {
		return false, util.LogError(r.log, "failed to remove token from blacklist", err, "jti", jti)
	}
	r.cacheRemove(ctx, jti)

	rows, err := result.RowsAffected()
	if err != nil {
		return false, util.LogError(r.log, "failed to check blacklist removal", err, "jti", jti)
	}
	return rows > 0, nil
}

// FindByJTI returns nil, nil when the jti is not blacklisted.
func (r *TokenBlacklistRepository) FindByJTI(ctx context.Context, jti string) (*model.TokenBlacklistEntry, error) {
	var entry model.TokenBlacklistEntry
	err := r.DB.GetContext(ctx, &entry, `SELECT `+blacklistColumns+` FROM token_blacklist WHERE jti = $1`, jti)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, util.LogError(r.log, "failed to load blacklist entry", err, "jti", jti)
	}
	return &entry, nil
}

func (r *TokenBlacklistRepository) FindByUserID(ctx context.Context, userID int64, limit, offset int) ([]model.TokenBlacklistEntry, error) {
	return r.Search(ctx, model.BlacklistSearchCriteria{UserID: &userID, IncludeExpired: true}, limit, offset)
}

func (r *TokenBlacklistRepository) FindByDeviceID(ctx context.Context, deviceID string, limit, offset int) ([]model.TokenBlacklistEntry, error) {
	return r.Search(ctx, model.BlacklistSearchCriteria{DeviceID: &deviceID, IncludeExpired: true}, limit, offset)
}

func (r *TokenBlacklistRepository) FindByReason(ctx context.Context, reason model.RevocationReason, limit, offset int) ([]model.TokenBlacklistEntry, error) {
	value := string(reason)
	return r.Search(ctx, model.BlacklistSearchCriteria{Reason: &value, IncludeExpired: true}, limit, offset)
}

// Search : newest first. limit <= 0 means the default page size.
func (r *TokenBlacklistRepository) Search(ctx context.Context, criteria model.BlacklistSearchCriteria, limit, offset int) ([]model.TokenBlacklistEntry, error) {
	var (
		where []string
		args  []any
	)
	if criteria.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *criteria.UserID)
	}
	if criteria.DeviceID != nil {
		where, args = append(where, "device_id = ?"), append(args, *criteria.DeviceID)
	}
	if criteria.TokenType != nil {
		where, args = append(where, "token_type = ?"), append(args, string(*criteria.TokenType))
	}
	if criteria.Reason != nil {
		where, args = append(where, "reason = ?"), append(args, *criteria.Reason)
	}
	if criteria.BlacklistedAfter != nil {
		where, args = append(where, "blacklisted_at >= ?"), append(args, *criteria.BlacklistedAfter)
	}
	if criteria.BlacklistedBefore != nil {
		where, args = append(where, "blacklisted_at < ?"), append(args, *criteria.BlacklistedBefore)
	}
	if !criteria.IncludeExpired {
		where, args = append(where, "expires_at > ?"), append(args, r.clock.Now())
	}

	query := `SELECT ` + blacklistColumns + ` FROM token_blacklist`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY blacklisted_at DESC, jti LIMIT ? OFFSET ?`
	args = append(args, pageSize(limit), max(offset, 0))

	entries := []model.TokenBlacklistEntry{}
	if err := r.DB.SelectContext(ctx, &entries, r.DB.Rebind(query), args...); err != nil {
		return nil, util.LogError(r.log, "failed to search blacklist", err)
	}
	return entries, nil
}

func (r *TokenBlacklistRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.DB.GetContext(ctx, &count, `SELECT COUNT(*) FROM token_blacklist`); err != nil {
		return 0, util.LogError(r.log, "failed to count blacklist entries", err)
	}
	return count, nil
}

// BatchAddToBlacklist inserts every entry in one transaction. Already blacklisted jtis
// are skipped; any other failure rolls the whole batch back.
func (r *TokenBlacklistRepository) BatchAddToBlacklist(ctx context.Context, entries []model.TokenBlacklistEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return 0, util.LogError(r.log, "failed to begin blacklist batch", err)
	}

	var added int64
	for i := range entries {
		entries[i] = r.stamp(entries[i])
		rows, err := r.insertIgnoringDuplicates(ctx, tx, entries[i])
		if err != nil {
			_ = tx.Rollback()
			return 0, util.LogError(r.log, "failed to blacklist token batch", err, "jti", entries[i].JTI)
		}
		added += rows
	}

	if err := tx.Commit(); err != nil {
		return 0, util.LogError(r.log, "failed to commit blacklist batch", err)
	}

	for _, entry := range entries {
		r.cacheAdd(ctx, entry.JTI, entry.ExpiresAt)
	}
	return added, nil
}

// BatchIsBlacklisted answers for every requested jti. Fail-open: on error all are false.
func (r *TokenBlacklistRepository) BatchIsBlacklisted(ctx context.Context, jtis []string) map[string]bool {
	result := make(map[string]bool, len(jtis))
	for _, jti := range jtis {
		result[jti] = false
	}
	if len(jtis) == 0 {
		return result
	}

	query, args, err := sqlx.In(`SELECT jti FROM token_blacklist WHERE jti IN (?)`, jtis)
	if err != nil {
		r.failOpen("batch", err)
		return result
	}

	var found []string
	if err := r.DB.SelectContext(ctx, &found, r.DB.Rebind(query), args...); err != nil {
		r.failOpen("batch", err)
		return result
	}
	for _, jti := range found {
		result[jti] = true
	}
	return result
}

func (r *TokenBlacklistRepository) BatchRemoveFromBlacklist(ctx context.Context, jtis []string) (int64, error) {
	if len(jtis) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In(`DELETE FROM token_blacklist WHERE jti IN (?)`, jtis)
	if err != nil {
		return 0, util.LogError(r.log, "failed to build blacklist batch removal", err)
	}
	result, err := r.DB.ExecContext(ctx, r.DB.Rebind(query), args...)
	if err != nil {
		return 0, util.LogError(r.log, "failed to remove tokens from blacklist", err, "count", len(jtis))
	}
	r.cacheRemove(ctx, jtis...)

	return result.RowsAffected()
}

type activeRefreshToken struct {
	JTI       string    `db:"jti"`
	UserID    int64     `db:"user_id"`
	DeviceID  string    `db:"device_id"`
	ExpiresAt time.Time `db:"expires_at"`
}

// BlacklistAllUserTokens blacklists every live refresh token of the user, so access
// tokens issued alongside them stop working at once. Rows spent by rotation are
// included: access tokens minted with them are still within their lifetime.
func (r *TokenBlacklistRepository) BlacklistAllUserTokens(ctx context.Context, userID int64, reason model.RevocationReason, excludeJTI string) (int64, error) {
	return r.blacklistRefreshTokens(ctx, `
		SELECT jti, user_id, device_id, expires_at
		FROM refresh_tokens
		WHERE user_id = $1 AND (status = 'active' OR revoked_reason = 'rotation') AND expires_at > $2 AND jti <> $3
	`, reason, model.Metadata{"scope": "user"}, userID, r.clock.Now(), excludeJTI)
}

// BlacklistAllDeviceTokens is scoped to the owner of the device. A userID of 0
// covers the device for every user and is meant for operator tooling only.
func (r *TokenBlacklistRepository) BlacklistAllDeviceTokens(ctx context.Context, userID int64, deviceID string, reason model.RevocationReason) (int64, error) {
	if userID <= 0 {
		return r.blacklistRefreshTokens(ctx, `
			SELECT jti, user_id, device_id, expires_at
			FROM refresh_tokens
			WHERE device_id = $1 AND (status = 'active' OR revoked_reason = 'rotation') AND expires_at > $2
		`, reason, model.Metadata{"scope": "device"}, deviceID, r.clock.Now())
	}

	return r.blacklistRefreshTokens(ctx, `
		SELECT jti, user_id, device_id, expires_at
		FROM refresh_tokens
		WHERE user_id = $1 AND device_id = $2 AND (status = 'active' OR revoked_reason = 'rotation') AND expires_at > $3
	`, reason, model.Metadata{"scope": "device"}, userID, deviceID, r.clock.Now())
}

// BlacklistFamilyTokens covers every unexpired token of the family, revoked ones included:
// an access token may still point at a refresh token that was rotated away.
func (r *TokenBlacklistRepository) BlacklistFamilyTokens(ctx context.Context, familyID string, reason model.RevocationReason) (int64, error) {
	return r.blacklistRefreshTokens(ctx, `
		SELECT jti, user_id, device_id, expires_at
		FROM refresh_tokens
		WHERE family_id = $1 AND expires_at > $2
	`, reason, model.Metadata{"scope": "family", "family_id": familyID}, familyID, r.clock.Now())
}

func (r *TokenBlacklistRepository) blacklistRefreshTokens(ctx context.Context, selectQuery string, reason model.RevocationReason, metadata model.Metadata, args ...any) (int64, error) {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return 0, util.LogError(r.log, "failed to begin cascade blacklist", err)
	}

	tokens := []activeRefreshToken{}
	if err := sqlx.SelectContext(ctx, tx, &tokens, selectQuery, args...); err != nil {
		_ = tx.Rollback()
		return 0, util.LogError(r.log, "failed to list refresh tokens to blacklist", err, "reason", reason)
	}

	var added int64
	for _, token := range tokens {
		entry := model.NewBlacklistEntry(token.JTI, model.TokenTypeRefresh, token.ExpiresAt, reason).
			WithUser(token.UserID).
			WithDevice(token.DeviceID)
		entry.Metadata = metadata
		entry = r.stamp(entry)

		rows, err := r.insertIgnoringDuplicates(ctx, tx, entry)
		if err != nil {
			_ = tx.Rollback()
			return 0, util.LogError(r.log, "failed to blacklist refresh token", err, "jti", token.JTI, "reason", reason)
		}
		added += rows
	}

	if err := tx.Commit(); err != nil {
		return 0, util.LogError(r.log, "failed to commit cascade blacklist", err, "reason", reason)
	}

	for _, token := range tokens {
		r.cacheAdd(ctx, token.JTI, token.ExpiresAt)
	}
	return added, nil
}

// Cleanup drops entries whose token expired before the cutoff.
func (r *TokenBlacklistRepository) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	return r.deleteWhere(ctx, `DELETE FROM token_blacklist WHERE expires_at < $1`, before)
}

func (r *TokenBlacklistRepository) CleanupExpiredEntries(ctx context.Context) (int64, error) {
	return r.Cleanup(ctx, r.clock.Now())
}

// CleanupOldEntries drops entries blacklisted more than days ago, expired or not.
func (r *TokenBlacklistRepository) CleanupOldEntries(ctx context.Context, days int) (int64, error) {
	cutoff := r.clock.Now().AddDate(0, 0, -days)
	return r.deleteWhere(ctx, `DELETE FROM token_blacklist WHERE blacklisted_at < $1`, cutoff)
}

func (r *TokenBlacklistRepository) deleteWhere(ctx context.Context, query string, cutoff time.Time) (int64, error) {
	result, err := r.DB.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, util.LogError(r.log, "failed to clean up blacklist", err, "cutoff", cutoff)
	}
	return result.RowsAffected()
}

// IsSizeExceeded is always false when no maximum is configured.
func (r *TokenBlacklistRepository) IsSizeExceeded(ctx context.Context) (bool, error) {
	if r.maxEntries <= 0 {
		return false, nil
	}
	count, err := r.Count(ctx)
	if err != nil {
		return false, err
	}
	return count > r.maxEntries, nil
}

func (r *TokenBlacklistRepository) GetSizeInfo(ctx context.Context) (*model.BlacklistSizeInfo, error) {
	var info model.BlacklistSizeInfo
	err := r.DB.GetContext(ctx, &info, `
		SELECT COUNT(*) AS total_entries,
		       COUNT(*) FILTER (WHERE expires_at <= $1) AS expired_entries,
		       COUNT(*) FILTER (WHERE token_type = 'access') AS access_entries,
		       COUNT(*) FILTER (WHERE token_type = 'refresh') AS refresh_entries,
		       MIN(blacklisted_at) AS oldest_entry
		FROM token_blacklist
	`, r.clock.Now())
	if err != nil {
		return nil, util.LogError(r.log, "failed to load blacklist size", err)
	}

	info.MaxEntries = r.maxEntries
	info.Exceeded = r.maxEntries > 0 && info.TotalEntries > r.maxEntries
	return &info, nil
}

// Optimize removes expired entries, then, if the table is still over its maximum,
// entries older than the purge horizon even when their token has not expired yet.
// Storage is compacted whenever something was removed.
func (r *TokenBlacklistRepository) Optimize(ctx context.Context) (*model.OptimizeResult, error) {
	result := &model.OptimizeResult{}

	expired, err := r.CleanupExpiredEntries(ctx)
	if err != nil {
		return nil, err
	}
	result.ExpiredRemoved = expired

	exceeded, err := r.IsSizeExceeded(ctx)
	if err != nil {
		return nil, err
	}
	if exceeded {
		old, err := r.CleanupOldEntries(ctx, r.purgeHorizonDays)
		if err != nil {
			return nil, err
		}
		result.OldRemoved = old
		r.log.Warnw("blacklist over capacity, purged entries past horizon",
			"removed", old, "horizon_days", r.purgeHorizonDays, "max_entries", r.maxEntries)
	}

	if result.ExpiredRemoved+result.OldRemoved > 0 {
		if _, err := r.DB.ExecContext(ctx, `VACUUM ANALYZE token_blacklist`); err != nil {
			r.log.Warnw("failed to compact blacklist table", "error", err)
		} else {
			result.Compacted = true
		}
	}

	size, err := r.Count(ctx)
	if err != nil {
		return nil, err
	}
	result.SizeAfter = size
	return result, nil
}

func (r *TokenBlacklistRepository) insertIgnoringDuplicates(ctx context.Context, exec sqlx.ExtContext, entry model.TokenBlacklistEntry) (int64, error) {
	result, err := exec.ExecContext(ctx, `
		INSERT INTO token_blacklist (`+blacklistColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (jti) DO NOTHING
	`, entryArgs(entry)...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *TokenBlacklistRepository) stamp(entry model.TokenBlacklistEntry) model.TokenBlacklistEntry {
	if entry.BlacklistedAt.IsZero() {
		entry.BlacklistedAt = r.clock.Now()
	}
	if entry.Metadata == nil {
		entry.Metadata = model.Metadata{}
	}
	return entry
}

func (r *TokenBlacklistRepository) failOpen(lookup string, err error) {
	r.metrics.BlacklistFailOpen()
	r.log.Errorw("blacklist lookup failed, treating token as not blacklisted", "lookup", lookup, "error", err)
}

func (r *TokenBlacklistRepository) cacheAdd(ctx context.Context, jti string, expiresAt time.Time) {
	if r.cache == nil {
		return
	}
	_ = r.cache.Add(ctx, jti, expiresAt)
}

func (r *TokenBlacklistRepository) cacheRemove(ctx context.Context, jtis ...string) {
	if r.cache == nil {
		return
	}
	_ = r.cache.Remove(ctx, jtis...)
}

func entryArgs(entry model.TokenBlacklistEntry) []any {
	return []any{
		entry.JTI,
		string(entry.TokenType),
		entry.UserID,
		entry.DeviceID,
		entry.ExpiresAt,
		entry.BlacklistedAt,
		entry.Reason,
		entry.Metadata,
	}
}

func pageSize(limit int) int {
	switch {
	case limit <= 0:
		return defaultPageSize
	case limit > maxPageSize:
		return maxPageSize
	default:
		return limit
	}
}
