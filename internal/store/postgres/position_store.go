package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/vaultbot/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const positionSelectCols = `owner, order_id, feed_id, side,
	size, entry_price, collateral, leverage,
	required_margin, maintenance_margin, liquidation_price,
	status, health_score, unrealized_pnl,
	claimable_rewards, total_rewards_earned, is_claimed,
	created_at, expires_at, last_health_check, last_reward_claim,
	settled_at, final_price, payout_percentage, final_pnl, settlement_amount, total_fees`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p                  domain.Position
		side, status       string
		settledAt          *time.Time
		finalPrice, payout *uint64
		finalPnL           *int64
		amount, fees       *uint64
	)
	err := row.Scan(
		&p.Owner, &p.OrderID, &p.FeedID, &side,
		&p.Size, &p.EntryPrice, &p.Collateral, &p.Leverage,
		&p.RequiredMargin, &p.MaintenanceMargin, &p.LiquidationPrice,
		&status, &p.HealthScore, &p.UnrealizedPnL,
		&p.ClaimableRewards, &p.TotalRewardsEarned, &p.IsClaimed,
		&p.CreatedAt, &p.ExpiresAt, &p.LastHealthCheck, &p.LastRewardClaim,
		&settledAt, &finalPrice, &payout, &finalPnL, &amount, &fees,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)
	p.CreatedAt = p.CreatedAt.UTC()
	p.ExpiresAt = p.ExpiresAt.UTC()
	p.LastHealthCheck = p.LastHealthCheck.UTC()
	p.LastRewardClaim = p.LastRewardClaim.UTC()
	if settledAt != nil {
		p.Settlement = &domain.SettlementData{
			SettledAt:        settledAt.UTC(),
			FinalPrice:       deref(finalPrice),
			PayoutPercentage: deref(payout),
			FinalPnL:         deref(finalPnL),
			SettlementAmount: deref(amount),
			TotalFees:        deref(fees),
		}
	}
	return p, nil
}

func deref[T any](v *T) T {
	var zero T
	if v == nil {
		return zero
	}
	return *v
}

// settlementArgs returns the nullable settlement columns.
func settlementArgs(s *domain.SettlementData) []any {
	if s == nil {
		return []any{nil, nil, nil, nil, nil, nil}
	}
	return []any{s.SettledAt, s.FinalPrice, s.PayoutPercentage, s.FinalPnL, s.SettlementAmount, s.TotalFees}
}

func getPosition(ctx context.Context, q querier, key domain.PositionKey, forUpdate bool) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE owner = $1 AND order_id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	p, err := scanPosition(q.QueryRow(ctx, query, key.Owner, key.OrderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: position %s: %w", key, domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", key, err)
	}
	return p, nil
}

func insertPosition(ctx context.Context, q querier, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			owner, order_id, feed_id, side,
			size, entry_price, collateral, leverage,
			required_margin, maintenance_margin, liquidation_price,
			status, health_score, unrealized_pnl,
			claimable_rewards, total_rewards_earned, is_claimed,
			created_at, expires_at, last_health_check, last_reward_claim,
			settled_at, final_price, payout_percentage, final_pnl, settlement_amount, total_fees
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11,
			$12, $13, $14,
			$15, $16, $17,
			$18, $19, $20, $21,
			$22, $23, $24, $25, $26, $27
		)`

	args := []any{
		p.Owner, p.OrderID, p.FeedID, string(p.Side),
		p.Size, p.EntryPrice, p.Collateral, p.Leverage,
		p.RequiredMargin, p.MaintenanceMargin, p.LiquidationPrice,
		string(p.Status), p.HealthScore, p.UnrealizedPnL,
		p.ClaimableRewards, p.TotalRewardsEarned, p.IsClaimed,
		p.CreatedAt, p.ExpiresAt, p.LastHealthCheck, p.LastRewardClaim,
	}
	args = append(args, settlementArgs(p.Settlement)...)
	if _, err := q.Exec(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: position %s: %w", p.Key(), domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert position %s: %w", p.Key(), err)
	}
	return nil
}

// updatePosition replaces the mutable fields of a position. Identity, side
// and entry terms never change after open.
func updatePosition(ctx context.Context, q querier, p domain.Position) error {
	const query = `
		UPDATE positions SET
			liquidation_price    = $3,
			status               = $4,
			health_score         = $5,
			unrealized_pnl       = $6,
			claimable_rewards    = $7,
			total_rewards_earned = $8,
			is_claimed           = $9,
			last_health_check    = $10,
			last_reward_claim    = $11,
			settled_at           = $12,
			final_price          = $13,
			payout_percentage    = $14,
			final_pnl            = $15,
			settlement_amount    = $16,
			total_fees           = $17,
			updated_at           = NOW()
		WHERE owner = $1 AND order_id = $2`

	args := []any{
		p.Owner, p.OrderID,
		p.LiquidationPrice, string(p.Status), p.HealthScore, p.UnrealizedPnL,
		p.ClaimableRewards, p.TotalRewardsEarned, p.IsClaimed,
		p.LastHealthCheck, p.LastRewardClaim,
	}
	args = append(args, settlementArgs(p.Settlement)...)
	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.Key(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: position %s: %w", p.Key(), domain.ErrNotFound)
	}
	return nil
}

// buildPositionQuery renders filter as a SELECT ordered oldest first.
func buildPositionQuery(f domain.PositionFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Owner != "" {
		where = append(where, "owner = "+next(f.Owner))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		where = append(where, "status = ANY("+next(statuses)+")")
	}
	if f.Before != nil {
		where = append(where, "created_at < "+next(*f.Before))
	}

	query := `SELECT ` + positionSelectCols + ` FROM positions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, owner, order_id"
	if f.Limit > 0 {
		query += " LIMIT " + next(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + next(f.Offset)
	}
	return query, args
}

func listPositions(ctx context.Context, q querier, f domain.PositionFilter) ([]domain.Position, error) {
	query, args := buildPositionQuery(f)
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	positions := []domain.Position{}
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return positions, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
