// Package persistence provides SQLite-based ledger snapshots.
package persistence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/econsim/internal/economy"
	"github.com/talgya/econsim/internal/engine"
)

// DB wraps a SQLite connection for ledger persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		agent_id TEXT PRIMARY KEY,
		currency REAL NOT NULL,
		health INTEGER NOT NULL,
		labor_capacity INTEGER NOT NULL,
		labor_used INTEGER NOT NULL,
		failed_food_cycles INTEGER NOT NULL,
		inventory_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS offers (
		pos INTEGER PRIMARY KEY,
		offer_id TEXT NOT NULL,
		seller_id TEXT NOT NULL,
		good TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS requests (
		pos INTEGER PRIMARY KEY,
		request_id TEXT NOT NULL,
		buyer_id TEXT NOT NULL,
		good TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		max_price REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transactions (
		pos INTEGER PRIMARY KEY,
		transaction_id TEXT NOT NULL,
		seller_id TEXT NOT NULL,
		buyer_id TEXT NOT NULL,
		good TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price REAL NOT NULL,
		via_market INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS prices (
		good TEXT PRIMARY KEY,
		price REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS decision_logs (
		cycle INTEGER NOT NULL,
		agent_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		entry TEXT NOT NULL,
		PRIMARY KEY (cycle, agent_id, seq)
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cycle INTEGER NOT NULL,
		description TEXT NOT NULL,
		category TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_cycle ON events(cycle);
	CREATE INDEX IF NOT EXISTS idx_logs_cycle ON decision_logs(cycle);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// HasState reports whether a saved ledger exists.
func (db *DB) HasState() bool {
	_, err := db.GetMeta("cycle")
	return err == nil
}

// SaveState writes the full ledger as one atomic snapshot. Order books and
// transactions keep their submission order through the pos column; matching
// depends on it after a restore.
func (db *DB) SaveState(l *economy.Ledger) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := saveAgents(tx, l); err != nil {
		return fmt.Errorf("save agents: %w", err)
	}
	if err := saveOrders(tx, l); err != nil {
		return fmt.Errorf("save orders: %w", err)
	}
	if err := savePrices(tx, l); err != nil {
		return fmt.Errorf("save prices: %w", err)
	}
	if err := saveLogs(tx, l); err != nil {
		return fmt.Errorf("save logs: %w", err)
	}

	meta := map[string]string{
		"cycle":       strconv.FormatUint(l.Cycle, 10),
		"offer_seq":   strconv.FormatUint(l.OfferSeq, 10),
		"request_seq": strconv.FormatUint(l.RequestSeq, 10),
	}
	for key, value := range meta {
		if _, err := tx.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)", key, value); err != nil {
			return fmt.Errorf("save meta %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Debug("ledger saved", "cycle", l.Cycle, "agents", len(l.Agents),
		"offers", len(l.Offers), "requests", len(l.Requests))
	return nil
}

func saveAgents(tx *sqlx.Tx, l *economy.Ledger) error {
	if _, err := tx.Exec("DELETE FROM agents"); err != nil {
		return err
	}
	stmt, err := tx.Preparex(`INSERT INTO agents
		(agent_id, currency, health, labor_capacity, labor_used, failed_food_cycles, inventory_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range l.AgentIDs() {
		a := l.Agents[id]
		invJSON, _ := json.Marshal(a.Inventory)
		if _, err := stmt.Exec(a.ID, a.Currency, a.Health, a.LaborCapacity, a.LaborUsed, a.FailedFoodCycles, string(invJSON)); err != nil {
			return fmt.Errorf("insert agent %s: %w", a.ID, err)
		}
	}
	return nil
}

func saveOrders(tx *sqlx.Tx, l *economy.Ledger) error {
	for _, table := range []string{"offers", "requests", "transactions"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return err
		}
	}

	for pos, o := range l.Offers {
		if _, err := tx.Exec(`INSERT INTO offers (pos, offer_id, seller_id, good, quantity, price)
			VALUES (?, ?, ?, ?, ?, ?)`,
			pos, o.ID, o.SellerID, o.Good, o.Quantity, o.Price); err != nil {
			return fmt.Errorf("insert offer %s: %w", o.ID, err)
		}
	}
	for pos, r := range l.Requests {
		if _, err := tx.Exec(`INSERT INTO requests (pos, request_id, buyer_id, good, quantity, max_price)
			VALUES (?, ?, ?, ?, ?, ?)`,
			pos, r.ID, r.BuyerID, r.Good, r.Quantity, r.MaxPrice); err != nil {
			return fmt.Errorf("insert request %s: %w", r.ID, err)
		}
	}
	for pos, t := range l.Transactions {
		viaMarket := 0
		if t.ViaMarket {
			viaMarket = 1
		}
		if _, err := tx.Exec(`INSERT INTO transactions
			(pos, transaction_id, seller_id, buyer_id, good, quantity, price, via_market)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			pos, t.ID, t.SellerID, t.BuyerID, t.Good, t.Quantity, t.Price, viaMarket); err != nil {
			return fmt.Errorf("insert transaction %s: %w", t.ID, err)
		}
	}
	return nil
}

func savePrices(tx *sqlx.Tx, l *economy.Ledger) error {
	if _, err := tx.Exec("DELETE FROM prices"); err != nil {
		return err
	}
	for good, price := range l.Prices {
		if _, err := tx.Exec("INSERT INTO prices (good, price) VALUES (?, ?)", good, price); err != nil {
			return fmt.Errorf("insert price %s: %w", good, err)
		}
	}
	return nil
}

func saveLogs(tx *sqlx.Tx, l *economy.Ledger) error {
	if _, err := tx.Exec("DELETE FROM decision_logs"); err != nil {
		return err
	}
	stmt, err := tx.Preparex("INSERT INTO decision_logs (cycle, agent_id, seq, entry) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for cycle, agents := range l.CycleLogs {
		for agentID, entries := range agents {
			for seq, entry := range entries {
				if _, err := stmt.Exec(cycle, agentID, seq, entry); err != nil {
					return err
				}
			}
		}
	}
	// The unfinalized buffer is stored under the current cycle; load
	// recognizes it by the cycle number.
	for agentID, entries := range l.Decisions {
		for seq, entry := range entries {
			if _, err := stmt.Exec(l.Cycle, agentID, seq, entry); err != nil {
				return err
			}
		}
	}
	return nil
}

type agentRow struct {
	AgentID          string  `db:"agent_id"`
	Currency         float64 `db:"currency"`
	Health           int     `db:"health"`
	LaborCapacity    int     `db:"labor_capacity"`
	LaborUsed        int     `db:"labor_used"`
	FailedFoodCycles int     `db:"failed_food_cycles"`
	InventoryJSON    string  `db:"inventory_json"`
}

type offerRow struct {
	Pos      int     `db:"pos"`
	OfferID  string  `db:"offer_id"`
	SellerID string  `db:"seller_id"`
	Good     string  `db:"good"`
	Quantity int     `db:"quantity"`
	Price    float64 `db:"price"`
}

type requestRow struct {
	Pos       int     `db:"pos"`
	RequestID string  `db:"request_id"`
	BuyerID   string  `db:"buyer_id"`
	Good      string  `db:"good"`
	Quantity  int     `db:"quantity"`
	MaxPrice  float64 `db:"max_price"`
}

type transactionRow struct {
	Pos           int     `db:"pos"`
	TransactionID string  `db:"transaction_id"`
	SellerID      string  `db:"seller_id"`
	BuyerID       string  `db:"buyer_id"`
	Good          string  `db:"good"`
	Quantity      int     `db:"quantity"`
	Price         float64 `db:"price"`
	ViaMarket     int     `db:"via_market"`
}

type logRow struct {
	Cycle   uint64 `db:"cycle"`
	AgentID string `db:"agent_id"`
	Seq     int    `db:"seq"`
	Entry   string `db:"entry"`
}

// LoadState reconstructs the ledger from the last snapshot.
func (db *DB) LoadState() (*economy.Ledger, error) {
	l := economy.NewLedger()

	cycleStr, err := db.GetMeta("cycle")
	if err != nil {
		return nil, fmt.Errorf("load meta: %w", err)
	}
	if l.Cycle, err = strconv.ParseUint(cycleStr, 10, 64); err != nil {
		return nil, fmt.Errorf("parse cycle: %w", err)
	}
	if s, err := db.GetMeta("offer_seq"); err == nil {
		l.OfferSeq, _ = strconv.ParseUint(s, 10, 64)
	}
	if s, err := db.GetMeta("request_seq"); err == nil {
		l.RequestSeq, _ = strconv.ParseUint(s, 10, 64)
	}

	var agents []agentRow
	if err := db.conn.Select(&agents, "SELECT * FROM agents"); err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}
	for _, row := range agents {
		a := &economy.AgentState{
			ID:               row.AgentID,
			Currency:         row.Currency,
			Health:           row.Health,
			LaborCapacity:    row.LaborCapacity,
			LaborUsed:        row.LaborUsed,
			FailedFoodCycles: row.FailedFoodCycles,
			Inventory:        make(map[string]int),
		}
		if err := json.Unmarshal([]byte(row.InventoryJSON), &a.Inventory); err != nil {
			return nil, fmt.Errorf("agent %s inventory: %w", row.AgentID, err)
		}
		l.Agents[a.ID] = a
	}

	var offers []offerRow
	if err := db.conn.Select(&offers, "SELECT * FROM offers ORDER BY pos"); err != nil {
		return nil, fmt.Errorf("load offers: %w", err)
	}
	for _, row := range offers {
		l.Offers = append(l.Offers, &economy.Offer{
			ID: row.OfferID, SellerID: row.SellerID, Good: row.Good,
			Quantity: row.Quantity, Price: row.Price,
		})
	}

	var requests []requestRow
	if err := db.conn.Select(&requests, "SELECT * FROM requests ORDER BY pos"); err != nil {
		return nil, fmt.Errorf("load requests: %w", err)
	}
	for _, row := range requests {
		l.Requests = append(l.Requests, &economy.Request{
			ID: row.RequestID, BuyerID: row.BuyerID, Good: row.Good,
			Quantity: row.Quantity, MaxPrice: row.MaxPrice,
		})
	}

	var txRows []transactionRow
	if err := db.conn.Select(&txRows, "SELECT * FROM transactions ORDER BY pos"); err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	for _, row := range txRows {
		l.Transactions = append(l.Transactions, &economy.Transaction{
			ID: row.TransactionID, SellerID: row.SellerID, BuyerID: row.BuyerID,
			Good: row.Good, Quantity: row.Quantity, Price: row.Price,
			ViaMarket: row.ViaMarket != 0,
		})
	}

	rows, err := db.conn.Queryx("SELECT good, price FROM prices")
	if err != nil {
		return nil, fmt.Errorf("load prices: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var good string
		var price float64
		if err := rows.Scan(&good, &price); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		l.Prices[good] = price
	}

	var logs []logRow
	if err := db.conn.Select(&logs, "SELECT * FROM decision_logs ORDER BY cycle, agent_id, seq"); err != nil {
		return nil, fmt.Errorf("load logs: %w", err)
	}
	for _, row := range logs {
		if row.Cycle == l.Cycle {
			l.Decisions[row.AgentID] = append(l.Decisions[row.AgentID], row.Entry)
			continue
		}
		if l.CycleLogs[row.Cycle] == nil {
			l.CycleLogs[row.Cycle] = make(map[string][]string)
		}
		l.CycleLogs[row.Cycle][row.AgentID] = append(l.CycleLogs[row.Cycle][row.AgentID], row.Entry)
	}

	slog.Info("ledger restored", "cycle", l.Cycle, "agents", len(l.Agents),
		"offers", len(l.Offers), "requests", len(l.Requests))
	return l, nil
}

// SaveEvents appends events to the database.
func (db *DB) SaveEvents(events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range events {
		_, err := tx.Exec(
			"INSERT INTO events (cycle, description, category) VALUES (?, ?, ?)",
			e.Cycle, e.Description, e.Category,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RecentEvents returns the most recent N events.
func (db *DB) RecentEvents(limit int) ([]engine.Event, error) {
	var events []engine.Event
	err := db.conn.Select(&events,
		"SELECT cycle, description, category FROM events ORDER BY id DESC LIMIT ?",
		limit,
	)
	return events, err
}

// SaveMeta stores a key-value pair.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM meta WHERE key = ?", key)
	return value, err
}
