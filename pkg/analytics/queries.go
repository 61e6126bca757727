package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ReferrerCount struct {
	Referrer string `json:"referrer"`
	Count    int64  `json:"count"`
}

type CountryCount struct {
	Country string `json:"country"`
	Count   int64  `json:"count"`
}

type LabelCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

type DeviceBreakdown struct {
	Desktop int64 `json:"desktop"`
	Mobile  int64 `json:"mobile"`
	Tablet  int64 `json:"tablet"`
	Unknown int64 `json:"unknown"`
}

type ClickSummary struct {
	TotalClicks      int64           `json:"total_clicks"`
	UniqueVisitors   int64           `json:"unique_visitors"`
	TopReferrers     []ReferrerCount `json:"top_referrers"`
	TopCountries     []CountryCount  `json:"top_countries"`
	DeviceBreakdown  DeviceBreakdown `json:"device_breakdown"`
	BrowserBreakdown []LabelCount    `json:"browser_breakdown"`
	OSBreakdown      []LabelCount    `json:"os_breakdown"`
}

type TimeSeriesPoint struct {
	Date           time.Time `json:"date"`
	Clicks         int64     `json:"clicks"`
	UniqueVisitors int64     `json:"unique_visitors"`
}

type Granularity string

const (
	GranularityHour Granularity = "hour"
	GranularityDay  Granularity = "day"
	GranularityWeek Granularity = "week"
)

// Queries serves the dashboard's range reads over click_events. It leans on
// the (link_id, clicked_at) index for every query.
type Queries struct {
	pool *pgxpool.Pool
}

func NewQueries(pool *pgxpool.Pool) *Queries {
	return &Queries{pool: pool}
}

func defaultRange(from, to time.Time) (time.Time, time.Time) {
	if to.IsZero() {
		to = time.Now()
	}
	if from.IsZero() {
		from = to.Add(-30 * 24 * time.Hour)
	}
	return from, to
}

func (q *Queries) Summary(ctx context.Context, linkID uuid.UUID, from, to time.Time) (*ClickSummary, error) {
	from, to = defaultRange(from, to)

	summary := &ClickSummary{}
	row := q.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT ip)
		FROM click_events
		WHERE link_id = $1 AND clicked_at >= $2 AND clicked_at < $3`,
		linkID, from, to)
	if err := row.Scan(&summary.TotalClicks, &summary.UniqueVisitors); err != nil {
		return nil, fmt.Errorf("click summary: %w", err)
	}

	referrers, err := q.topStrings(ctx, "COALESCE(referrer, 'Direct')", linkID, from, to)
	if err != nil {
		return nil, err
	}
	for _, r := range referrers {
		summary.TopReferrers = append(summary.TopReferrers, ReferrerCount{Referrer: r.Label, Count: r.Count})
	}

	countries, err := q.topStrings(ctx, "COALESCE(country, 'Unknown')", linkID, from, to)
	if err != nil {
		return nil, err
	}
	for _, c := range countries {
		summary.TopCountries = append(summary.TopCountries, CountryCount{Country: c.Label, Count: c.Count})
	}

	devices, err := q.topStrings(ctx, "device_type", linkID, from, to)
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		switch d.Label {
		case "desktop":
			summary.DeviceBreakdown.Desktop = d.Count
		case "mobile":
			summary.DeviceBreakdown.Mobile = d.Count
		case "tablet":
			summary.DeviceBreakdown.Tablet = d.Count
		default:
			summary.DeviceBreakdown.Unknown += d.Count
		}
	}

	if summary.BrowserBreakdown, err = q.topStrings(ctx, "COALESCE(browser, 'Unknown')", linkID, from, to); err != nil {
		return nil, err
	}
	if summary.OSBreakdown, err = q.topStrings(ctx, "COALESCE(os, 'Unknown')", linkID, from, to); err != nil {
		return nil, err
	}
	return summary, nil
}

func (q *Queries) topStrings(ctx context.Context, expr string, linkID uuid.UUID, from, to time.Time) ([]LabelCount, error) {
	// expr is one of the fixed column expressions above, never user input.
	query := fmt.Sprintf(`
		SELECT %s AS label, COUNT(*) AS count
		FROM click_events
		WHERE link_id = $1 AND clicked_at >= $2 AND clicked_at < $3
		GROUP BY label
		ORDER BY count DESC
		LIMIT 10`, expr)

	rows, err := q.pool.Query(ctx, query, linkID, from, to)
	if err != nil {
		return nil, fmt.Errorf("click breakdown: %w", err)
	}
	defer rows.Close()

	var out []LabelCount
	for rows.Next() {
		var lc LabelCount
		if err := rows.Scan(&lc.Label, &lc.Count); err != nil {
			return nil, err
		}
		out = append(out, lc)
	}
	return out, rows.Err()
}

func (q *Queries) TimeSeries(ctx context.Context, linkID uuid.UUID, from, to time.Time, granularity Granularity) ([]TimeSeriesPoint, error) {
	from, to = defaultRange(from, to)

	switch granularity {
	case GranularityHour, GranularityDay, GranularityWeek:
	default:
		granularity = GranularityDay
	}

	// granularity is constrained to the three constants above before it is
	// interpolated into date_trunc.
	query := fmt.Sprintf(`
		SELECT date_trunc('%s', clicked_at) AS bucket, COUNT(*), COUNT(DISTINCT ip)
		FROM click_events
		WHERE link_id = $1 AND clicked_at >= $2 AND clicked_at < $3
		GROUP BY bucket
		ORDER BY bucket`, granularity)

	rows, err := q.pool.Query(ctx, query, linkID, from, to)
	if err != nil {
		return nil, fmt.Errorf("click time series: %w", err)
	}
	defer rows.Close()

	var points []TimeSeriesPoint
	for rows.Next() {
		var p TimeSeriesPoint
		if err := rows.Scan(&p.Date, &p.Clicks, &p.UniqueVisitors); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
