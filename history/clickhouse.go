package history

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/evdnx/gopairs/config"
	"github.com/evdnx/gopairs/logger"
	"github.com/evdnx/gopairs/types"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// ClickHouse reads candles from a table with columns
// (symbol, ts, open, high, low, close, volume).
type ClickHouse struct {
	db    *sql.DB
	table string
	l     logger.Logger
}

// OpenClickHouse opens a connection pool from cfg and verifies it with a ping.
func OpenClickHouse(ctx context.Context, cfg config.ClickHouse, l logger.Logger) (*ClickHouse, error) {
	db := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		DialTimeout: cfg.DialTimeout,
		ReadTimeout: cfg.ReadTimeout,
	})
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close() // best-effort close
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	return NewClickHouse(db, cfg.Table, l)
}

// NewClickHouse wraps an existing pool.
func NewClickHouse(db *sql.DB, table string, l logger.Logger) (*ClickHouse, error) {
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("clickhouse: invalid table name %q", table)
	}
	if l == nil {
		l = logger.NewNop()
	}
	return &ClickHouse{db: db, table: table, l: l}, nil
}

// historyQuery buckets rows server-side and returns the newest count buckets
// at or before the cut-off, newest first.
func historyQuery(table string, barSize time.Duration) string {
	secs := int64(barSize / time.Second)
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf(`
        SELECT toStartOfInterval(ts, INTERVAL %d SECOND) AS bucket,
               argMin(open, ts), max(high), min(low), argMax(close, ts), sum(volume)
        FROM %s
        WHERE symbol = ? AND ts <= ?
        GROUP BY bucket
        ORDER BY bucket DESC
        LIMIT ?
    `, secs, table)
}

func (c *ClickHouse) History(ctx context.Context, instrument string, count int, barSize time.Duration, until time.Time) ([]types.Candle, error) {
	if count <= 0 {
		return nil, nil
	}
	q := historyQuery(c.table, barSize)
	rows, err := c.db.QueryContext(ctx, q, instrument, until, count)
	if err != nil {
		c.l.Error("clickhouse history query error",
			logger.String("table", c.table),
			logger.String("symbol", instrument),
			logger.Err(err),
		)
		return nil, fmt.Errorf("history query: %w", err)
	}
	defer rows.Close()

	out := make([]types.Candle, 0, count)
	for rows.Next() {
		var k types.Candle
		if err := rows.Scan(&k.Time, &k.Open, &k.High, &k.Low, &k.Close, &k.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		k.Time = k.Time.UTC()
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Close releases the connection pool.
func (c *ClickHouse) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
