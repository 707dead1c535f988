package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ipick/shop-analytics/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements CommerceStore on the synced commerce tables.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) ListShops(ctx context.Context, domain string) ([]models.Shop, error) {
	sql := `
		SELECT id, coalesce(domain, ''), coalesce(myshopify_domain, ''), coalesce(name, ''),
			   coalesce(email, ''), coalesce(currency, ''), coalesce(plan_name, ''), created_at
		FROM shops`
	var args []any
	if domain != "" {
		sql += ` WHERE domain = $1 OR myshopify_domain = $1`
		args = append(args, domain)
	}
	sql += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list shops: %w", err)
	}
	defer rows.Close()

	var shops []models.Shop
	for rows.Next() {
		var sh models.Shop
		var createdAt *time.Time
		if err := rows.Scan(&sh.ID, &sh.Domain, &sh.MyshopifyDomain, &sh.Name,
			&sh.Email, &sh.Currency, &sh.PlanName, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan shop: %w", err)
		}
		sh.CreatedAt = formatTime(createdAt)
		shops = append(shops, sh)
	}
	return shops, rows.Err()
}

func (s *PostgresStore) ListOrders(ctx context.Context, q Query) ([]models.Order, error) {
	where, args := scopeClause(q, "shop_id", "created_at")
	args = append(args, q.limit(0))

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, coalesce(name, ''), coalesce(email, ''), created_at, coalesce(total_price::text, ''),
			   coalesce(currency, ''), coalesce(financial_status, ''), coalesce(fulfillment_status, ''),
			   coalesce(source_url, ''), coalesce(source_name, ''), coalesce(shop_id, '')
		FROM orders %s
		ORDER BY created_at DESC
		LIMIT $%d
	`, where, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var o models.Order
		var createdAt *time.Time
		if err := rows.Scan(&o.ID, &o.Name, &o.Email, &createdAt, &o.TotalPrice,
			&o.Currency, &o.FinancialStatus, &o.FulfillmentStatus,
			&o.SourceURL, &o.SourceName, &o.ShopID); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		o.CreatedAt = formatTime(createdAt)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) ListCheckouts(ctx context.Context, q Query) ([]models.Checkout, error) {
	where, args := scopeClause(q, "shop_id", "created_at")
	args = append(args, q.limit(0))

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, coalesce(email, ''), coalesce(name, ''), coalesce(token, ''), created_at, completed_at,
			   coalesce(total_price::text, ''), coalesce(currency, ''), coalesce(source_url, ''),
			   coalesce(source_name, ''), coalesce(processing_status, ''), coalesce(shop_id, '')
		FROM checkouts %s
		ORDER BY created_at DESC
		LIMIT $%d
	`, where, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkouts: %w", err)
	}
	defer rows.Close()

	var checkouts []models.Checkout
	for rows.Next() {
		var c models.Checkout
		var createdAt, completedAt *time.Time
		if err := rows.Scan(&c.ID, &c.Email, &c.Name, &c.Token, &createdAt, &completedAt,
			&c.TotalPrice, &c.Currency, &c.SourceURL,
			&c.SourceName, &c.ProcessingStatus, &c.ShopID); err != nil {
			return nil, fmt.Errorf("failed to scan checkout: %w", err)
		}
		c.CreatedAt = formatTime(createdAt)
		c.CompletedAt = formatTime(completedAt)
		checkouts = append(checkouts, c)
	}
	return checkouts, rows.Err()
}

func (s *PostgresStore) ListReferrals(ctx context.Context, q Query) ([]models.Referral, error) {
	where, args := referralScope(q)
	args = append(args, q.limit(0))

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, coalesce(referral_id, ''), coalesce(business_domain, ''), clicked_at,
			   coalesce(utm_source, ''), coalesce(utm_medium, ''), coalesce(utm_campaign, ''),
			   coalesce(conversion_status, ''), conversion_value, coalesce(shop_id, '')
		FROM business_referrals %s
		ORDER BY clicked_at DESC
		LIMIT $%d
	`, where, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list referrals: %w", err)
	}
	defer rows.Close()

	var referrals []models.Referral
	for rows.Next() {
		var r models.Referral
		var clickedAt *time.Time
		if err := rows.Scan(&r.ID, &r.ReferralID, &r.BusinessDomain, &clickedAt,
			&r.UTMSource, &r.UTMMedium, &r.UTMCampaign,
			&r.ConversionStatus, &r.ConversionValue, &r.ShopID); err != nil {
			return nil, fmt.Errorf("failed to scan referral: %w", err)
		}
		r.ClickedAt = formatTime(clickedAt)
		referrals = append(referrals, r)
	}
	return referrals, rows.Err()
}

// Health pings the pool.
func (s *PostgresStore) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// scopeClause builds a WHERE clause for shop and time filters using
// positional pgx arguments. An empty shopCol skips the shop filter.
func scopeClause(q Query, shopCol, timeCol string) (string, []any) {
	var conds []string
	var args []any

	if shopCol != "" && len(q.ShopIDs) > 0 {
		args = append(args, q.ShopIDs)
		conds = append(conds, fmt.Sprintf("%s = ANY($%d)", shopCol, len(args)))
	}
	if !q.Start.IsZero() {
		args = append(args, q.Start)
		conds = append(conds, fmt.Sprintf("%s >= $%d", timeCol, len(args)))
	}
	if !q.End.IsZero() {
		args = append(args, q.End)
		conds = append(conds, fmt.Sprintf("%s <= $%d", timeCol, len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// referralScope filters referrals by resolved shop ids. The raw
// business_domain column is matched only when no shop ids are given.
func referralScope(q Query) (string, []any) {
	where, args := scopeClause(q, "shop_id", "clicked_at")
	if len(q.ShopIDs) == 0 && q.BusinessDomain != "" {
		args = append(args, q.BusinessDomain)
		where = andClause(where, fmt.Sprintf("business_domain = $%d", len(args)))
	}
	return where, args
}

func andClause(where, cond string) string {
	if where == "" {
		return "WHERE " + cond
	}
	return where + " AND " + cond
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
