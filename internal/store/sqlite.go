package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"smartcfd/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ RunStore = (*SQLiteStore)(nil)
var _ HeartbeatStore = (*SQLiteStore)(nil)
var _ TradeGroupStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at TEXT NOT NULL,
	stopped_at TEXT,
	status     TEXT NOT NULL,
	note       TEXT
);

CREATE TABLE IF NOT EXISTS heartbeats (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	ts          TEXT NOT NULL,
	ok          INTEGER NOT NULL,
	latency_ms  REAL,
	status_code INTEGER,
	error       TEXT,
	note        TEXT
);

CREATE TABLE IF NOT EXISTS trade_groups (
	gid               TEXT PRIMARY KEY,
	symbol            TEXT NOT NULL,
	side              TEXT NOT NULL,
	status            TEXT NOT NULL,
	entry_order_id    TEXT,
	entry_filled_qty  REAL NOT NULL DEFAULT 0,
	tp_order_id       TEXT,
	sl_order_id       TEXT,
	open_qty          REAL NOT NULL DEFAULT 0,
	take_profit_price REAL,
	stop_loss_price   REAL,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL,
	note              TEXT
);

CREATE INDEX IF NOT EXISTS idx_trade_groups_status ON trade_groups(status);
CREATE INDEX IF NOT EXISTS idx_heartbeats_ts ON heartbeats(ts);
`

// SQLiteStore implements RunStore, HeartbeatStore, and TradeGroupStore
// backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema if needed, and returns a ready-to-use SQLiteStore. The connection
// pool is capped at one connection: the engine is the single writer and
// SQLite serializes writes anyway.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Timestamps are stored as RFC3339Nano text in UTC.
const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// StartRun inserts a new run with status "running" and returns its id.
func (s *SQLiteStore) StartRun(ctx context.Context, note string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (started_at, status, note) VALUES (?, ?, ?)`,
		formatTime(time.Now()), "running", note)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}
	return res.LastInsertId()
}

// FinishRun stamps the run's stopped_at and final status.
func (s *SQLiteStore) FinishRun(ctx context.Context, id int64, status, note string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET stopped_at = ?, status = ?, note = ? WHERE id = ?`,
		formatTime(time.Now()), status, note, id)
	if err != nil {
		return fmt.Errorf("finishing run %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRuns returns the most recent runs, newest first, up to limit.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, stopped_at, status, note
		   FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var startedAt string
		var stoppedAt, note sql.NullString
		if err := rows.Scan(&r.ID, &startedAt, &stoppedAt, &r.Status, &note); err != nil {
			return nil, err
		}
		r.StartedAt = parseTime(startedAt)
		r.StoppedAt = parseTime(stoppedAt.String)
		r.Note = note.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ---------------------------------------------------------------------------
// HeartbeatStore implementation
// ---------------------------------------------------------------------------

// SaveHeartbeat inserts a heartbeat and returns its id.
func (s *SQLiteStore) SaveHeartbeat(ctx context.Context, hb Heartbeat) (int64, error) {
	ts := hb.TS
	if ts.IsZero() {
		ts = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO heartbeats (ts, ok, latency_ms, status_code, error, note)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		formatTime(ts), boolToInt(hb.OK), hb.LatencyMS, hb.StatusCode, hb.Error, hb.Note)
	if err != nil {
		return 0, fmt.Errorf("inserting heartbeat: %w", err)
	}
	return res.LastInsertId()
}

// ListHeartbeats returns the most recent heartbeats, newest first.
func (s *SQLiteStore) ListHeartbeats(ctx context.Context, limit int) ([]Heartbeat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, ok, latency_ms, status_code, error, note
		   FROM heartbeats ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing heartbeats: %w", err)
	}
	defer rows.Close()

	var hbs []Heartbeat
	for rows.Next() {
		var hb Heartbeat
		var ts string
		var ok int
		var latency sql.NullFloat64
		var statusCode sql.NullInt64
		var errText, note sql.NullString
		if err := rows.Scan(&hb.ID, &ts, &ok, &latency, &statusCode, &errText, &note); err != nil {
			return nil, err
		}
		hb.TS = parseTime(ts)
		hb.OK = ok != 0
		hb.LatencyMS = latency.Float64
		hb.StatusCode = int(statusCode.Int64)
		hb.Error = errText.String
		hb.Note = note.String
		hbs = append(hbs, hb)
	}
	return hbs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ---------------------------------------------------------------------------
// TradeGroupStore implementation
// ---------------------------------------------------------------------------

// SaveTradeGroup inserts a new trade group.
func (s *SQLiteStore) SaveTradeGroup(ctx context.Context, g *domain.TradeGroup) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trade_groups
		 (gid, symbol, side, status, entry_order_id, entry_filled_qty,
		  tp_order_id, sl_order_id, open_qty, take_profit_price,
		  stop_loss_price, created_at, updated_at, note)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.GID, g.Symbol, string(g.Side), string(g.Status), g.EntryOrderID,
		g.EntryFilledQty, g.TPOrderID, g.SLOrderID, g.OpenQty,
		g.TakeProfitPrice, g.StopLossPrice,
		formatTime(g.CreatedAt), formatTime(g.UpdatedAt), g.Note)
	if err != nil {
		return fmt.Errorf("inserting trade group %s: %w", g.GID, err)
	}
	return nil
}

// UpdateTradeGroupEntry records the entry order id.
func (s *SQLiteStore) UpdateTradeGroupEntry(ctx context.Context, gid, entryOrderID string) error {
	return s.updateGroup(ctx, gid,
		`UPDATE trade_groups SET entry_order_id = ?, updated_at = ? WHERE gid = ?`,
		entryOrderID, formatTime(time.Now()), gid)
}

// UpdateTradeGroupExits records both exit leg order ids.
func (s *SQLiteStore) UpdateTradeGroupExits(ctx context.Context, gid, tpOrderID, slOrderID string) error {
	return s.updateGroup(ctx, gid,
		`UPDATE trade_groups SET tp_order_id = ?, sl_order_id = ?, updated_at = ? WHERE gid = ?`,
		tpOrderID, slOrderID, formatTime(time.Now()), gid)
}

// UpdateTradeGroupLevels records the derived take-profit and stop-loss prices.
func (s *SQLiteStore) UpdateTradeGroupLevels(ctx context.Context, gid string, takeProfit, stopLoss float64) error {
	return s.updateGroup(ctx, gid,
		`UPDATE trade_groups SET take_profit_price = ?, stop_loss_price = ?, updated_at = ? WHERE gid = ?`,
		takeProfit, stopLoss, formatTime(time.Now()), gid)
}

// UpdateTradeGroupStatus transitions the group. An empty note leaves the
// stored note untouched.
func (s *SQLiteStore) UpdateTradeGroupStatus(ctx context.Context, gid string, status domain.GroupStatus, note string) error {
	if note == "" {
		return s.updateGroup(ctx, gid,
			`UPDATE trade_groups SET status = ?, updated_at = ? WHERE gid = ?`,
			string(status), formatTime(time.Now()), gid)
	}
	return s.updateGroup(ctx, gid,
		`UPDATE trade_groups SET status = ?, note = ?, updated_at = ? WHERE gid = ?`,
		string(status), note, formatTime(time.Now()), gid)
}

// UpdateTradeGroupFill records the confirmed entry fill quantity.
func (s *SQLiteStore) UpdateTradeGroupFill(ctx context.Context, gid string, filledQty, openQty float64) error {
	return s.updateGroup(ctx, gid,
		`UPDATE trade_groups SET entry_filled_qty = ?, open_qty = ?, updated_at = ? WHERE gid = ?`,
		filledQty, openQty, formatTime(time.Now()), gid)
}

func (s *SQLiteStore) updateGroup(ctx context.Context, gid, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating trade group %s: %w", gid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const tradeGroupColumns = `gid, symbol, side, status, entry_order_id,
	entry_filled_qty, tp_order_id, sl_order_id, open_qty,
	take_profit_price, stop_loss_price, created_at, updated_at, note`

// GetTradeGroup retrieves a group by gid.
func (s *SQLiteStore) GetTradeGroup(ctx context.Context, gid string) (*domain.TradeGroup, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tradeGroupColumns+` FROM trade_groups WHERE gid = ?`, gid)
	g, err := scanTradeGroup(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting trade group %s: %w", gid, err)
	}
	return g, nil
}

// ListTradeGroupsByStatus returns groups in the given status, newest first.
func (s *SQLiteStore) ListTradeGroupsByStatus(ctx context.Context, status domain.GroupStatus) ([]domain.TradeGroup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tradeGroupColumns+` FROM trade_groups WHERE status = ? ORDER BY rowid DESC`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("listing trade groups by status %s: %w", status, err)
	}
	defer rows.Close()
	return collectTradeGroups(rows)
}

// ListTradeGroups returns all groups, newest first.
func (s *SQLiteStore) ListTradeGroups(ctx context.Context) ([]domain.TradeGroup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tradeGroupColumns+` FROM trade_groups ORDER BY rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing trade groups: %w", err)
	}
	defer rows.Close()
	return collectTradeGroups(rows)
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTradeGroup(sc scanner) (*domain.TradeGroup, error) {
	var g domain.TradeGroup
	var side, status, createdAt, updatedAt string
	var entryOrderID, tpOrderID, slOrderID, note sql.NullString
	var takeProfit, stopLoss sql.NullFloat64

	err := sc.Scan(&g.GID, &g.Symbol, &side, &status, &entryOrderID,
		&g.EntryFilledQty, &tpOrderID, &slOrderID, &g.OpenQty,
		&takeProfit, &stopLoss, &createdAt, &updatedAt, &note)
	if err != nil {
		return nil, err
	}

	g.Side = domain.OrderSide(side)
	g.Status = domain.GroupStatus(status)
	g.EntryOrderID = entryOrderID.String
	g.TPOrderID = tpOrderID.String
	g.SLOrderID = slOrderID.String
	g.TakeProfitPrice = takeProfit.Float64
	g.StopLossPrice = stopLoss.Float64
	g.CreatedAt = parseTime(createdAt)
	g.UpdatedAt = parseTime(updatedAt)
	g.Note = note.String
	return &g, nil
}

func collectTradeGroups(rows *sql.Rows) ([]domain.TradeGroup, error) {
	var groups []domain.TradeGroup
	for rows.Next() {
		g, err := scanTradeGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}
