package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"optionscalp/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/market.db"
}

// Writer seeds the ohlcv and pcr_history tables.
type Writer struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// open applies the WAL DSN shared by every handle on the database.
func open(path string, conns int) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
	return db, nil
}

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := open(cfg.DBPath, 1)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS ohlcv (
			symbol TEXT    NOT NULL,
			ts     INTEGER NOT NULL,
			open   REAL    NOT NULL,
			high   REAL    NOT NULL,
			low    REAL    NOT NULL,
			close  REAL    NOT NULL,
			volume INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (symbol, ts)
		);

		CREATE TABLE IF NOT EXISTS pcr_history (
			symbol  TEXT    NOT NULL,
			ts      INTEGER NOT NULL,
			pcr     REAL    NOT NULL,
			buildup TEXT    NOT NULL DEFAULT '',
			PRIMARY KEY (symbol, ts)
		);
	`)
	return err
}

// SaveBars upserts bars in a single transaction.
func (w *Writer) SaveBars(ctx context.Context, bars []model.Candle) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO ohlcv (symbol, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range bars {
		if _, err := stmt.ExecContext(ctx, c.Symbol, c.OpenTime.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert bar %s@%d: %w", c.Symbol, c.OpenTime.Unix(), err)
		}
	}

	return tx.Commit()
}

// SavePCR upserts sentiment observations for symbol.
func (w *Writer) SavePCR(ctx context.Context, symbol string, points []model.PCRPoint) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO pcr_history (symbol, ts, pcr, buildup)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, symbol, p.TS.Unix(), p.PCR, string(p.Buildup)); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert pcr %s@%d: %w", symbol, p.TS.Unix(), err)
		}
	}

	return tx.Commit()
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
