package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fieldbot/gofield/internal/domain"
)

// Store 场历史与设置的持久化（SQLite）
//
// 核心组件不依赖 Store：它通过 events.Sink 被动接收生命周期事件。
// 读取接口供 HTTP 状态 API 使用。
type Store struct {
	db *sql.DB
}

// Open 打开（必要时创建）数据库并执行迁移
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("storage: db path is required")
	}
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	role TEXT NOT NULL,
	price REAL NOT NULL,
	amount REAL NOT NULL,
	filled REAL NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	tier INTEGER NOT NULL DEFAULT 0,
	entry_order_id TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	role TEXT NOT NULL,
	amount REAL NOT NULL,
	price REAL NOT NULL,
	profit_pct REAL NOT NULL DEFAULT 0,
	ts TEXT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS volatility_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	volatility REAL NOT NULL,
	price REAL NOT NULL,
	ts TEXT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_vol_symbol ON volatility_history(symbol)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// SaveOrder 插入或更新订单行
func (s *Store) SaveOrder(ctx context.Context, o domain.Order) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO orders (id,symbol,side,role,price,amount,filled,status,tier,entry_order_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET filled=excluded.filled, status=excluded.status, updated_at=excluded.updated_at
`, o.OrderID, o.Symbol, string(o.Side), string(o.Role), o.RequestedPrice, o.RequestedAmount,
		o.FilledAmount, string(o.Status), o.Tier, o.EntryOrderID,
		o.CreatedAt.Format(time.RFC3339Nano), time.Now().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	return nil
}

// ListOrders 按创建时间倒序返回订单
func (s *Store) ListOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id,symbol,side,role,price,amount,filled,status,tier,entry_order_id,created_at
FROM orders ORDER BY created_at DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		var o domain.Order
		var side, role, status, createdAt string
		var entryID sql.NullString
		if err := rows.Scan(&o.OrderID, &o.Symbol, &side, &role, &o.RequestedPrice, &o.RequestedAmount,
			&o.FilledAmount, &status, &o.Tier, &entryID, &createdAt); err != nil {
			return nil, err
		}
		o.Side = domain.Side(side)
		o.Role = domain.Role(role)
		o.Status = domain.OrderStatus(status)
		if entryID.Valid {
			o.EntryOrderID = entryID.String
		}
		o.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, o)
	}
	return out, rows.Err()
}

// InsertTrade 追加一条成交记录
func (s *Store) InsertTrade(ctx context.Context, t domain.TradeRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO trades (order_id,symbol,side,role,amount,price,profit_pct,ts)
VALUES (?,?,?,?,?,?,?,?)
`, t.OrderID, t.Symbol, string(t.Side), string(t.Role), t.Amount, t.Price, t.ProfitPct,
		t.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// ListTrades 按时间倒序返回成交记录
func (s *Store) ListTrades(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT order_id,symbol,side,role,amount,price,profit_pct,ts
FROM trades ORDER BY ts DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		var side, role, ts string
		if err := rows.Scan(&t.OrderID, &t.Symbol, &side, &role, &t.Amount, &t.Price, &t.ProfitPct, &ts); err != nil {
			return nil, err
		}
		t.Side = domain.Side(side)
		t.Role = domain.Role(role)
		t.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, t)
	}
	return out, rows.Err()
}

// InsertVolatility 记录一次扫描结果
func (s *Store) InsertVolatility(ctx context.Context, c domain.VolatilityCandidate) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO volatility_history (symbol,volatility,price,ts) VALUES (?,?,?,?)
`, c.Symbol, c.VolatilityPct, c.LastPrice, c.ObservedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert volatility: %w", err)
	}
	return nil
}

// ListVolatility 返回某交易对最近的波动率历史
func (s *Store) ListVolatility(ctx context.Context, symbol string, limit int) ([]domain.VolatilityCandidate, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT symbol,volatility,price,ts FROM volatility_history
WHERE symbol = ? ORDER BY ts DESC LIMIT ?
`, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.VolatilityCandidate
	for rows.Next() {
		var c domain.VolatilityCandidate
		var ts string
		if err := rows.Scan(&c.Symbol, &c.VolatilityPct, &c.LastPrice, &ts); err != nil {
			return nil, err
		}
		c.ObservedAt, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetSetting 写入设置项
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO settings (key,value) VALUES (?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value
`, key, value)
	return err
}

// GetSetting 读取设置项；不存在时返回 ("", false)
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}
