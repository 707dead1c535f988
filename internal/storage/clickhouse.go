package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/ipick/shop-analytics/internal/models"
)

// ClickHouseJourneyStore reads journey events from the analytics store.
type ClickHouseJourneyStore struct {
	conn driver.Conn
}

func NewClickHouseJourneyStore(conn driver.Conn) *ClickHouseJourneyStore {
	return &ClickHouseJourneyStore{conn: conn}
}

func (s *ClickHouseJourneyStore) ListJourneyEvents(ctx context.Context, q Query) ([]models.JourneyEvent, error) {
	var conds []string
	var args []any

	if len(q.ReferralIDs) > 0 {
		conds = append(conds, "business_referral IN (?)")
		args = append(args, q.ReferralIDs)
	}
	if !q.Start.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, q.Start)
	}
	if !q.End.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, q.End)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, q.limit(MaxJourneyEvents))

	rows, err := s.conn.Query(ctx, fmt.Sprintf(`
		SELECT id, session_id, user_id, event_type, timestamp,
			page_url, page_title, product_id, product_name, cart_value, discount_code,
			utm_source, utm_medium, utm_campaign, business_referral,
			device_type, browser_name, country, ip_address
		FROM customer_journey
		%s
		ORDER BY timestamp DESC
		LIMIT ?
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journey events: %w", err)
	}
	defer rows.Close()

	var events []models.JourneyEvent
	for rows.Next() {
		var (
			e  models.JourneyEvent
			at time.Time
		)
		if err := rows.Scan(
			&e.ID, &e.SessionID, &e.UserID, &e.EventType, &at,
			&e.PageURL, &e.PageTitle, &e.ProductID, &e.ProductName, &e.CartValue, &e.DiscountCode,
			&e.UTMSource, &e.UTMMedium, &e.UTMCampaign, &e.BusinessReferral,
			&e.DeviceType, &e.BrowserName, &e.Country, &e.IPAddress,
		); err != nil {
			return nil, fmt.Errorf("failed to scan journey event: %w", err)
		}
		e.Timestamp = at.UTC().Format(time.RFC3339Nano)
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during journey query: %w", err)
	}
	return events, nil
}
