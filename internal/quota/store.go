package quota

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	dbutil "github.com/taskfoundry/aigov/internal/db"
	"github.com/taskfoundry/aigov/internal/models"
	"github.com/taskfoundry/aigov/internal/settings"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrQuotaNotFound indicates no quota record exists for the requested scope.
var ErrQuotaNotFound = errors.New("quota: record not found")

// UsageDelta carries the metered quantities of one recorded attempt.
type UsageDelta struct {
	Requests     int64  // Requests to add, normally 1.
	Tokens       int64  // Tokens to add.
	CostMicros   int64  // Cost to add in micros.
	Decisions    int64  // Decisions to add, normally 1.
	AgentKind    string // Breakdown key by agent kind.
	DecisionKind string // Breakdown key by decision kind.
}

// Store owns quota records. All counter mutations go through ApplyUsage so
// concurrent increments against one scope never lose updates; raw rows are
// never handed out for mutation.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore constructs a Store.
func NewStore(db *gorm.DB) *Store {
	if db == nil {
		return nil
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// EnsureForOrganization creates the organization-level quota record when
// missing and returns it. New records start on the given tier with its stock
// limits and the period window containing the current time.
func (s *Store) EnsureForOrganization(ctx context.Context, organizationID uint64, tier string) (*models.Quota, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("quota: store not initialized")
	}
	if organizationID == 0 {
		return nil, &ValidationError{Field: "organization_id", Reason: "must be non-zero"}
	}
	tier = NormalizeTier(tier)
	limits, ok := LimitsForTier(tier)
	if !ok {
		return nil, &ValidationError{Field: "tier", Reason: "unknown tier " + tier}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := s.now()
	start, end := periodBounds(now, 0)

	var row models.Quota
	errFind := s.db.WithContext(ctx).
		Where("organization_id = ? AND user_id IS NULL", organizationID).
		First(&row).Error
	if errFind == nil {
		return &row, nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, errFind
	}

	row = models.Quota{
		OrganizationID:    organizationID,
		Tier:              tier,
		IsActive:          tier != TierDisabled,
		MaxRequests:       limits.MaxRequests,
		MaxTokens:         limits.MaxTokens,
		MaxCostMicros:     limits.MaxCostMicros,
		AgentBreakdown:    datatypes.JSON([]byte(`{}`)),
		DecisionBreakdown: datatypes.JSON([]byte(`{}`)),
		PeriodStart:       start,
		PeriodEnd:         end,
	}
	if errCreate := s.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		return nil, errCreate
	}
	return &row, nil
}

// CreateUserOverride provisions a user-level override record inside an
// organization. The override shadows the organization record for that user.
func (s *Store) CreateUserOverride(ctx context.Context, organizationID, userID uint64, tier string) (*models.Quota, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("quota: store not initialized")
	}
	if organizationID == 0 {
		return nil, &ValidationError{Field: "organization_id", Reason: "must be non-zero"}
	}
	if userID == 0 {
		return nil, &ValidationError{Field: "user_id", Reason: "must be non-zero"}
	}
	tier = NormalizeTier(tier)
	limits, ok := LimitsForTier(tier)
	if !ok {
		return nil, &ValidationError{Field: "tier", Reason: "unknown tier " + tier}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	start, end := periodBounds(s.now(), 0)
	row := models.Quota{
		OrganizationID:    organizationID,
		UserID:            &userID,
		Tier:              tier,
		IsActive:          tier != TierDisabled,
		MaxRequests:       limits.MaxRequests,
		MaxTokens:         limits.MaxTokens,
		MaxCostMicros:     limits.MaxCostMicros,
		AgentBreakdown:    datatypes.JSON([]byte(`{}`)),
		DecisionBreakdown: datatypes.JSON([]byte(`{}`)),
		PeriodStart:       start,
		PeriodEnd:         end,
	}
	if errCreate := s.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		return nil, errCreate
	}
	return &row, nil
}

// OrganizationEnabled reports whether the tenant itself is enabled. A missing
// organization row does not block: entitlements live on quota records, and
// this flag is the administrative kill switch on top of them.
func (s *Store) OrganizationEnabled(ctx context.Context, organizationID uint64) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("quota: store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var row models.Organization
	errFind := s.db.WithContext(ctx).Select("is_enabled").First(&row, organizationID).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return true, nil
	}
	if errFind != nil {
		return false, errFind
	}
	return row.IsEnabled, nil
}

// RemoveUserOverride deletes a user-level override so the user falls back to
// the organization record.
func (s *Store) RemoveUserOverride(ctx context.Context, organizationID, userID uint64) error {
	if s == nil || s.db == nil {
		return errors.New("quota: store not initialized")
	}
	if organizationID == 0 || userID == 0 {
		return &ValidationError{Field: "scope", Reason: "organization_id and user_id must be non-zero"}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	res := s.db.WithContext(ctx).
		Where("organization_id = ? AND user_id = ?", organizationID, userID).
		Delete(&models.Quota{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrQuotaNotFound
	}
	return nil
}

// Resolve returns the quota record governing the given scope: the user-level
// override when one exists, otherwise the organization record. A record whose
// period has elapsed is rolled over before being returned.
func (s *Store) Resolve(ctx context.Context, organizationID uint64, userID *uint64) (*models.Quota, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("quota: store not initialized")
	}
	if organizationID == 0 {
		return nil, &ValidationError{Field: "organization_id", Reason: "must be non-zero"}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var row models.Quota
	if userID != nil && *userID != 0 {
		errFind := s.db.WithContext(ctx).
			Where("organization_id = ? AND user_id = ?", organizationID, *userID).
			First(&row).Error
		if errFind == nil {
			return s.rolloverIfElapsed(ctx, &row)
		}
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, errFind
		}
	}

	errFind := s.db.WithContext(ctx).
		Where("organization_id = ? AND user_id IS NULL", organizationID).
		First(&row).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, ErrQuotaNotFound
	}
	if errFind != nil {
		return nil, errFind
	}
	return s.rolloverIfElapsed(ctx, &row)
}

// Get fetches one quota row by ID.
func (s *Store) Get(ctx context.Context, quotaID uint64) (*models.Quota, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("quota: store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var row models.Quota
	errFind := s.db.WithContext(ctx).First(&row, quotaID).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, ErrQuotaNotFound
	}
	if errFind != nil {
		return nil, errFind
	}
	return &row, nil
}

// ApplyUsage atomically adds a usage delta to one quota scope. The row is
// locked for the duration of the transaction (PostgreSQL) or serialized by
// the single-writer transaction (SQLite); counter increments use SQL
// expressions so no concurrent update is lost. The derived quota_exceeded
// flag is recomputed and persisted in the same transaction. An elapsed period
// is rolled over before the delta lands, so usage never bleeds across
// periods.
func (s *Store) ApplyUsage(ctx context.Context, quotaID uint64, delta UsageDelta) error {
	if s == nil || s.db == nil {
		return errors.New("quota: store not initialized")
	}
	if quotaID == 0 {
		return &ValidationError{Field: "quota_id", Reason: "must be non-zero"}
	}
	if delta.Requests < 0 || delta.Tokens < 0 || delta.CostMicros < 0 || delta.Decisions < 0 {
		return &ValidationError{Field: "delta", Reason: "metered quantities must be non-negative"}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := s.now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.Quota
		if errFind := s.lockRow(tx).First(&row, quotaID).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return ErrQuotaNotFound
			}
			return errFind
		}

		if !now.Before(row.PeriodEnd) {
			if errRoll := s.rolloverLocked(tx, &row, now); errRoll != nil {
				return errRoll
			}
		}

		agentBreakdown, errAgent := incrementBreakdown(row.AgentBreakdown, delta.AgentKind, delta.Requests)
		if errAgent != nil {
			return errAgent
		}
		decisionBreakdown, errDecision := incrementBreakdown(row.DecisionBreakdown, delta.DecisionKind, delta.Decisions)
		if errDecision != nil {
			return errDecision
		}

		requestsUsed := row.RequestsUsed + delta.Requests
		tokensUsed := row.TokensUsed + delta.Tokens
		costUsed := row.CostMicrosUsed + delta.CostMicros

		exceeded := exceedsAnyLimit(&row, requestsUsed, tokensUsed, costUsed)

		return tx.Model(&models.Quota{}).
			Where("id = ?", row.ID).
			Updates(map[string]any{
				"requests_used":      gorm.Expr("requests_used + ?", delta.Requests),
				"tokens_used":        gorm.Expr("tokens_used + ?", delta.Tokens),
				"cost_micros_used":   gorm.Expr("cost_micros_used + ?", delta.CostMicros),
				"decisions_made":     gorm.Expr("decisions_made + ?", delta.Decisions),
				"agent_breakdown":    agentBreakdown,
				"decision_breakdown": decisionBreakdown,
				"quota_exceeded":     exceeded,
				"updated_at":         now,
			}).Error
	})
}

// UpdateTier changes a quota's tier and limits. Stock limits apply unless the
// tier is custom and explicit limits are provided. Moving to the disabled
// tier suspends the scope without deleting history.
func (s *Store) UpdateTier(ctx context.Context, quotaID uint64, tier string, custom *TierLimits) error {
	if s == nil || s.db == nil {
		return errors.New("quota: store not initialized")
	}
	tier = NormalizeTier(tier)
	limits, ok := LimitsForTier(tier)
	if !ok {
		return &ValidationError{Field: "tier", Reason: "unknown tier " + tier}
	}
	if tier == TierCustom {
		if custom == nil {
			return &ValidationError{Field: "limits", Reason: "custom tier requires explicit limits"}
		}
		limits = *custom
	}
	if ctx == nil {
		ctx = context.Background()
	}

	updates := map[string]any{
		"tier":            tier,
		"max_requests":    limits.MaxRequests,
		"max_tokens":      limits.MaxTokens,
		"max_cost_micros": limits.MaxCostMicros,
		"is_active":       tier != TierDisabled,
		"updated_at":      s.now(),
	}
	res := s.db.WithContext(ctx).Model(&models.Quota{}).Where("id = ?", quotaID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrQuotaNotFound
	}
	return nil
}

// SetActive toggles the isActive flag without changing the tier.
func (s *Store) SetActive(ctx context.Context, quotaID uint64, active bool) error {
	if s == nil || s.db == nil {
		return errors.New("quota: store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	res := s.db.WithContext(ctx).Model(&models.Quota{}).
		Where("id = ?", quotaID).
		Updates(map[string]any{"is_active": active, "updated_at": s.now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrQuotaNotFound
	}
	return nil
}

// RolloverElapsed rolls over every quota whose period has ended. It returns
// the number of records rolled over; the background sweeper calls this so
// idle scopes reset on time even when no request touches them.
func (s *Store) RolloverElapsed(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("quota: store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := s.now()
	var ids []uint64
	if errFind := s.db.WithContext(ctx).Model(&models.Quota{}).
		Where("period_end <= ?", now).
		Order("id ASC").
		Pluck("id", &ids).Error; errFind != nil {
		return 0, errFind
	}

	rolled := 0
	for _, id := range ids {
		errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var row models.Quota
			if errFind := s.lockRow(tx).First(&row, id).Error; errFind != nil {
				return errFind
			}
			if now.Before(row.PeriodEnd) {
				return nil
			}
			return s.rolloverLocked(tx, &row, now)
		})
		if errTx != nil {
			log.WithError(errTx).Warnf("quota store: rollover failed (quota=%d)", id)
			continue
		}
		rolled++
	}
	return rolled, nil
}

// rolloverIfElapsed re-reads the row under lock and rolls it over when its
// period has ended. The returned record always covers the current period.
func (s *Store) rolloverIfElapsed(ctx context.Context, row *models.Quota) (*models.Quota, error) {
	now := s.now()
	if now.Before(row.PeriodEnd) {
		return row, nil
	}

	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked models.Quota
		if errFind := s.lockRow(tx).First(&locked, row.ID).Error; errFind != nil {
			return errFind
		}
		if now.Before(locked.PeriodEnd) {
			*row = locked
			return nil
		}
		if errRoll := s.rolloverLocked(tx, &locked, now); errRoll != nil {
			return errRoll
		}
		*row = locked
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return row, nil
}

// rolloverLocked archives the elapsed period and resets counters in place.
// The caller must hold the row lock. The period only ever advances; a quota
// already in a later period is left untouched.
func (s *Store) rolloverLocked(tx *gorm.DB, row *models.Quota, now time.Time) error {
	if tx == nil || row == nil {
		return errors.New("quota: nil tx or row")
	}
	if now.Before(row.PeriodEnd) {
		return nil
	}

	if settings.BoolValue(settings.ArchiveOnRolloverKey, settings.DefaultArchiveOnRollover) {
		archive := models.QuotaArchive{
			QuotaID:           row.ID,
			OrganizationID:    row.OrganizationID,
			UserID:            row.UserID,
			Tier:              row.Tier,
			PeriodStart:       row.PeriodStart,
			PeriodEnd:         row.PeriodEnd,
			RequestsUsed:      row.RequestsUsed,
			TokensUsed:        row.TokensUsed,
			DecisionsMade:     row.DecisionsMade,
			CostMicrosUsed:    row.CostMicrosUsed,
			AgentBreakdown:    row.AgentBreakdown,
			DecisionBreakdown: row.DecisionBreakdown,
			ArchivedAt:        now,
		}
		if errCreate := tx.Create(&archive).Error; errCreate != nil {
			return errCreate
		}
	}

	start, end := advancePeriod(row.PeriodStart, row.PeriodEnd, row.PeriodDays, now)
	emptyMap := datatypes.JSON([]byte(`{}`))
	if errUpdate := tx.Model(&models.Quota{}).
		Where("id = ?", row.ID).
		Updates(map[string]any{
			"requests_used":      0,
			"tokens_used":        0,
			"cost_micros_used":   0,
			"decisions_made":     0,
			"agent_breakdown":    emptyMap,
			"decision_breakdown": emptyMap,
			"quota_exceeded":     false,
			"period_start":       start,
			"period_end":         end,
			"updated_at":         now,
		}).Error; errUpdate != nil {
		return errUpdate
	}

	row.RequestsUsed = 0
	row.TokensUsed = 0
	row.CostMicrosUsed = 0
	row.DecisionsMade = 0
	row.AgentBreakdown = emptyMap
	row.DecisionBreakdown = emptyMap
	row.QuotaExceeded = false
	row.PeriodStart = start
	row.PeriodEnd = end
	return nil
}

// lockRow applies a row lock on dialects that support it. SQLite serializes
// writers on its own, and rejects FOR UPDATE syntax.
func (s *Store) lockRow(tx *gorm.DB) *gorm.DB {
	if dbutil.IsSQLite(tx) {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// exceedsAnyLimit reports whether the projected usage reaches any configured
// limit on the record.
func exceedsAnyLimit(row *models.Quota, requestsUsed, tokensUsed, costUsed int64) bool {
	if row.MaxRequests > 0 && requestsUsed >= row.MaxRequests {
		return true
	}
	if row.MaxTokens > 0 && tokensUsed >= row.MaxTokens {
		return true
	}
	if row.MaxCostMicros > 0 && costUsed >= row.MaxCostMicros {
		return true
	}
	return false
}

// periodBounds returns the period window containing now. A zero periodDays
// means calendar months in UTC.
func periodBounds(now time.Time, periodDays int) (time.Time, time.Time) {
	now = now.UTC()
	if periodDays > 0 {
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 0, periodDays)
	}
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// advancePeriod moves a period window forward until it contains now. It never
// moves backward.
func advancePeriod(start, end time.Time, periodDays int, now time.Time) (time.Time, time.Time) {
	if start.IsZero() || end.IsZero() || !end.After(start) {
		return periodBounds(now, periodDays)
	}
	for !now.Before(end) {
		start = end
		if periodDays > 0 {
			end = start.AddDate(0, 0, periodDays)
		} else {
			end = start.AddDate(0, 1, 0)
		}
	}
	return start, end
}

// incrementBreakdown adds n to one key of a JSON counter map. Empty keys and
// non-positive increments leave the map unchanged.
func incrementBreakdown(raw datatypes.JSON, key string, n int64) (datatypes.JSON, error) {
	if key == "" || n <= 0 {
		if len(raw) == 0 {
			return datatypes.JSON([]byte(`{}`)), nil
		}
		return raw, nil
	}

	counts := map[string]int64{}
	if len(raw) > 0 {
		if errUnmarshal := json.Unmarshal(raw, &counts); errUnmarshal != nil {
			return nil, errUnmarshal
		}
	}
	counts[key] += n

	encoded, errMarshal := json.Marshal(counts)
	if errMarshal != nil {
		return nil, errMarshal
	}
	return datatypes.JSON(encoded), nil
}
