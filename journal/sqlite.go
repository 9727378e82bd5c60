package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/perps/pkg/id"
)

type SQLite struct {
	db *sql.DB
}

var _ Ledger = (*SQLite)(nil)

func NewSQLite(path string) (*SQLite, error) {
	if !strings.HasPrefix(path, ":memory:") && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// Workers share one handle; a single connection keeps writers from
	// tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) InsertOpen(rec TradeRecord) (string, error) {
	if rec.Symbol == "" {
		return "", fmt.Errorf("journal: symbol is required")
	}
	if rec.ID == "" {
		rec.ID = id.New()
	}
	if rec.OpenTime.IsZero() {
		rec.OpenTime = time.Now()
	}

	_, err := j.db.Exec(`
		INSERT INTO trades
		(id, symbol, side, entry_price, quantity, capital_snapshot, confidence,
		 sl_price, tp_price, status, open_time, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Symbol, rec.Side, rec.EntryPrice, rec.Quantity,
		rec.CapitalSnapshot, rec.Confidence, rec.SLPrice, rec.TPPrice,
		StatusOpen, rec.OpenTime.UTC(), rec.Reason,
	)
	if err != nil {
		return "", fmt.Errorf("journal: insert %s: %w", rec.Symbol, err)
	}
	return rec.ID, nil
}

func (j *SQLite) FindOpen(symbol string) (*TradeRecord, error) {
	row := j.db.QueryRow(`
		SELECT `+tradeColumns+`
		FROM trades
		WHERE symbol = ? AND status = ?
		ORDER BY open_time DESC
		LIMIT 1`, symbol, StatusOpen)

	rec, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (j *SQLite) MarkClosed(tradeID string, exitTime time.Time, exitPrice, realizedPnl float64) error {
	res, err := j.db.Exec(`
		UPDATE trades
		SET status = ?, exit_time = ?, exit_price = ?, realized_pnl = ?
		WHERE id = ? AND status = ?`,
		StatusClosed, exitTime.UTC(), exitPrice, realizedPnl, tradeID, StatusOpen,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("open trade %q not found", tradeID)
	}
	return nil
}

func (j *SQLite) ListRecent(limit int) ([]TradeRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.Query(`
		SELECT `+tradeColumns+`
		FROM trades
		ORDER BY open_time DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (j *SQLite) Close() error {
	return j.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(s scanner) (TradeRecord, error) {
	var (
		rec      TradeRecord
		status   string
		exitTime sql.NullTime
	)
	err := s.Scan(
		&rec.ID,
		&rec.Symbol,
		&rec.Side,
		&rec.EntryPrice,
		&rec.Quantity,
		&rec.CapitalSnapshot,
		&rec.Confidence,
		&rec.SLPrice,
		&rec.TPPrice,
		&status,
		&rec.OpenTime,
		&rec.ExitPrice,
		&exitTime,
		&rec.RealizedPnl,
		&rec.Reason,
	)
	if err != nil {
		return TradeRecord{}, err
	}
	rec.Status = Status(status)
	if exitTime.Valid {
		rec.ExitTime = exitTime.Time
	}
	return rec, nil
}

func collect(rows *sql.Rows) ([]TradeRecord, error) {
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
