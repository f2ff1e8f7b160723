package quota

import (
	"context"
	"errors"
	"time"
)

// Authorization is the opaque grant returned by the gate. It carries the
// resolved quota scope so the recorder does not re-resolve it.
type Authorization struct {
	QuotaID        uint64    // Resolved quota row.
	OrganizationID uint64    // Tenant scope.
	UserID         *uint64   // Set when a user override governs the scope.
	Tier           string    // Tier at grant time.
	GrantedAt      time.Time // Grant timestamp.
}

// Gate checks, before any metered operation, whether a scope is AI-enabled
// and has remaining quota. Checks are read-only so a failed downstream
// operation never corrupts the counters.
//
// Enforcement is a soft limit: Authorize evaluates currently recorded usage,
// not reservations, so two concurrent grants against one remaining unit can
// both pass and overshoot the limit by the number of in-flight operations.
// Deployments that need hard limits must replace this with a
// reserve-then-commit scheme that releases capacity on failure.
type Gate struct {
	store *Store
	now   func() time.Time
}

// NewGate constructs a Gate over a quota store.
func NewGate(store *Store) *Gate {
	if store == nil {
		return nil
	}
	return &Gate{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Authorize resolves the quota scope and fails typed when the tenant or scope
// is disabled, or the scope is out of quota. A missing quota record is treated
// as disabled: only onboarded organizations hold AI entitlements.
func (g *Gate) Authorize(ctx context.Context, organizationID uint64, userID *uint64) (*Authorization, error) {
	if g == nil || g.store == nil {
		return nil, errors.New("quota: gate not initialized")
	}
	if organizationID == 0 {
		return nil, &ValidationError{Field: "organization_id", Reason: "must be non-zero"}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	enabled, errEnabled := g.store.OrganizationEnabled(ctx, organizationID)
	if errEnabled != nil {
		return nil, errEnabled
	}
	if !enabled {
		return nil, &AIDisabledError{OrganizationID: organizationID, UserID: userID}
	}

	row, errResolve := g.store.Resolve(ctx, organizationID, userID)
	if errResolve != nil {
		if errors.Is(errResolve, ErrQuotaNotFound) {
			return nil, &AIDisabledError{OrganizationID: organizationID, UserID: userID}
		}
		return nil, errResolve
	}

	if NormalizeTier(row.Tier) == TierDisabled || !row.IsActive {
		return nil, &AIDisabledError{OrganizationID: organizationID, UserID: row.UserID}
	}

	// The quota_exceeded flag is maintained by the recorder; checking the
	// dimensions directly as well keeps the gate correct when an admin has
	// raised limits since the flag was last recomputed.
	if row.MaxRequests > 0 && row.RequestsUsed >= row.MaxRequests {
		return nil, &QuotaExceededError{
			OrganizationID: organizationID,
			UserID:         row.UserID,
			Dimension:      DimensionRequests,
			Used:           row.RequestsUsed,
			Limit:          row.MaxRequests,
		}
	}
	if row.MaxTokens > 0 && row.TokensUsed >= row.MaxTokens {
		return nil, &QuotaExceededError{
			OrganizationID: organizationID,
			UserID:         row.UserID,
			Dimension:      DimensionTokens,
			Used:           row.TokensUsed,
			Limit:          row.MaxTokens,
		}
	}
	if row.MaxCostMicros > 0 && row.CostMicrosUsed >= row.MaxCostMicros {
		return nil, &QuotaExceededError{
			OrganizationID: organizationID,
			UserID:         row.UserID,
			Dimension:      DimensionCost,
			Used:           row.CostMicrosUsed,
			Limit:          row.MaxCostMicros,
		}
	}

	return &Authorization{
		QuotaID:        row.ID,
		OrganizationID: organizationID,
		UserID:         row.UserID,
		Tier:           row.Tier,
		GrantedAt:      g.now(),
	}, nil
}
