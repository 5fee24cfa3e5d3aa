package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"optionscalp/internal/model"
)

// Reader provides read-only access to the bar and sentiment history that
// backs replay sessions.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := open(dbPath, 2)
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (r *Reader) DB() *sql.DB { return r.db }

// Bars returns the bars of symbol with from <= ts < to, oldest first.
func (r *Reader) Bars(ctx context.Context, symbol string, from, to time.Time) ([]model.Candle, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM ohlcv
		WHERE symbol = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC
	`, symbol, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlite query ohlcv: %w", err)
	}
	defer rows.Close()

	var bars []model.Candle
	for rows.Next() {
		c := model.Candle{Symbol: symbol}
		var tsUnix int64
		if err := rows.Scan(&tsUnix, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan ohlcv: %w", err)
		}
		c.OpenTime = time.Unix(tsUnix, 0).UTC()
		bars = append(bars, c)
	}
	return bars, rows.Err()
}

// PCRHistory returns the sentiment observations of symbol in [from, to],
// oldest first.
func (r *Reader) PCRHistory(ctx context.Context, symbol string, from, to time.Time) ([]model.PCRPoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, pcr, buildup
		FROM pcr_history
		WHERE symbol = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`, symbol, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlite query pcr_history: %w", err)
	}
	defer rows.Close()

	var points []model.PCRPoint
	for rows.Next() {
		var (
			p       model.PCRPoint
			tsUnix  int64
			buildup string
		)
		if err := rows.Scan(&tsUnix, &p.PCR, &buildup); err != nil {
			return nil, fmt.Errorf("sqlite scan pcr_history: %w", err)
		}
		p.TS = time.Unix(tsUnix, 0).UTC()
		p.Buildup = model.ParseBuildup(buildup)
		points = append(points, p)
	}
	return points, rows.Err()
}

// Days lists the distinct IST dates with bars for symbol, newest first.
func (r *Reader) Days(ctx context.Context, symbol string, ist *time.Location) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT ts FROM ohlcv WHERE symbol = ? ORDER BY ts DESC`, symbol)
	if err != nil {
		return nil, fmt.Errorf("sqlite query days: %w", err)
	}
	defer rows.Close()

	var (
		days []string
		last string
	)
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		d := time.Unix(ts, 0).In(ist).Format("2006-01-02")
		if d != last {
			days = append(days, d)
			last = d
		}
	}
	return days, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
