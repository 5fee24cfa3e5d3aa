package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"optionscalp/internal/model"
)

// Journal persists the paper-trade lifecycle for analysis and audit.
// Each trade is one row, upserted on open and again on close.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) the trades table in dbPath.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := open(dbPath, 1)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id          TEXT PRIMARY KEY,
		session     TEXT NOT NULL,
		strategy    TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		leg         TEXT NOT NULL,
		reason      TEXT,
		entry_price REAL NOT NULL,
		entry_time  DATETIME NOT NULL,
		stop_loss   REAL NOT NULL,
		target      REAL NOT NULL,
		status      TEXT NOT NULL,
		exit_price  REAL,
		exit_time   DATETIME,
		exit_reason TEXT,
		pnl         REAL,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_session ON trades(session);
	CREATE INDEX IF NOT EXISTS idx_trades_strategy ON trades(strategy);
	CREATE INDEX IF NOT EXISTS idx_trades_entry_time ON trades(entry_time);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened trade journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// SaveTrade inserts t, or updates the row when the trade is already known.
func (j *Journal) SaveTrade(ctx context.Context, session string, t model.Trade) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var exitTime sql.NullString
	if !t.ExitTime.IsZero() {
		exitTime = sql.NullString{String: t.ExitTime.UTC().Format(time.RFC3339), Valid: true}
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO trades (id, session, strategy, symbol, leg, reason, entry_price, entry_time,
			stop_loss, target, status, exit_price, exit_time, exit_reason, pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status      = excluded.status,
			exit_price  = excluded.exit_price,
			exit_time   = excluded.exit_time,
			exit_reason = excluded.exit_reason,
			pnl         = excluded.pnl,
			updated_at  = CURRENT_TIMESTAMP`,
		t.ID, session, t.Strategy, t.Symbol, string(t.Leg), t.Reason,
		t.EntryPrice, t.EntryTime.UTC().Format(time.RFC3339),
		t.StopLoss, t.Target, string(t.Status),
		t.ExitPrice, exitTime, string(t.ExitReason), t.PnL,
	)
	if err != nil {
		return fmt.Errorf("journal save %s: %w", t.ID, err)
	}
	return nil
}

// TradeRecord is a journaled trade with its session.
type TradeRecord struct {
	Session string `json:"session"`
	model.Trade
}

// GetTrades returns the last limit trades, newest entry first. An empty
// session lists every session.
func (j *Journal) GetTrades(ctx context.Context, session string, limit int) ([]TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, session, strategy, symbol, leg, reason, entry_price, entry_time,
			stop_loss, target, status, exit_price, exit_time, exit_reason, pnl
		FROM trades
		WHERE ? = '' OR session = ?
		ORDER BY entry_time DESC, id
		LIMIT ?`, session, session, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var (
			r                 TradeRecord
			leg, status       string
			entryTime         string
			exitTime, exitWhy sql.NullString
			exitPrice, pnl    sql.NullFloat64
			reason            sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Session, &r.Strategy, &r.Symbol, &leg, &reason,
			&r.EntryPrice, &entryTime, &r.StopLoss, &r.Target, &status,
			&exitPrice, &exitTime, &exitWhy, &pnl); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		r.Leg = model.Leg(leg)
		r.Status = model.TradeStatus(status)
		r.Reason = reason.String
		r.EntryTime, _ = time.Parse(time.RFC3339, entryTime)
		if exitTime.Valid {
			r.ExitTime, _ = time.Parse(time.RFC3339, exitTime.String)
		}
		r.ExitReason = model.ExitReason(exitWhy.String)
		r.ExitPrice = exitPrice.Float64
		r.PnL = pnl.Float64
		out = append(out, r)
	}
	return out, rows.Err()
}

// DB returns the underlying sql.DB for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
