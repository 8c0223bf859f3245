package store

import (
	"database/sql"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/ryazanovegor/oliva-space/internal/db"
	"github.com/ryazanovegor/oliva-space/internal/domain"
	"github.com/ryazanovegor/oliva-space/internal/migrate"
)

// SQLiteStore persists snapshots into an SQLite database. Each Save replaces
// the accounts and tasks tables inside one transaction, so the on-disk state
// is always a complete snapshot.
type SQLiteStore struct {
	DB *sql.DB
}

// OpenSQLiteStore opens the database at path and applies migrations.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	conn, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &SQLiteStore{DB: conn}, nil
}

func (s *SQLiteStore) Close() error {
	return s.DB.Close()
}

func (s *SQLiteStore) Load() (domain.Snapshot, error) {
	snap := domain.EmptySnapshot()

	rows, err := s.DB.Query(`SELECT identity, balance FROM accounts`)
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var acc domain.Account
		var balance string
		if err := rows.Scan(&acc.Identity, &balance); err != nil {
			return domain.Snapshot{}, err
		}
		if acc.Balance, err = decimal.NewFromString(balance); err != nil {
			return domain.Snapshot{}, fmt.Errorf("account %s: bad balance: %w", acc.Identity, err)
		}
		snap.Accounts[acc.Identity] = acc
	}
	if err := rows.Err(); err != nil {
		return domain.Snapshot{}, err
	}

	taskRows, err := s.DB.Query(`SELECT id, customer_id, performer_id, text, price, status, created_at FROM tasks ORDER BY id`)
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer taskRows.Close()
	for taskRows.Next() {
		var t domain.Task
		var performer sql.NullString
		var price, status string
		if err := taskRows.Scan(&t.ID, &t.CustomerID, &performer, &t.Text, &price, &status, &t.CreatedAt); err != nil {
			return domain.Snapshot{}, err
		}
		if performer.Valid {
			v := performer.String
			t.PerformerID = &v
		}
		if t.Price, err = decimal.NewFromString(price); err != nil {
			return domain.Snapshot{}, fmt.Errorf("task %d: bad price: %w", t.ID, err)
		}
		if t.Status, err = domain.ParseStatus(status); err != nil {
			return domain.Snapshot{}, err
		}
		snap.Tasks = append(snap.Tasks, t)
	}
	if err := taskRows.Err(); err != nil {
		return domain.Snapshot{}, err
	}

	var nextID string
	err = s.DB.QueryRow(`SELECT value FROM meta WHERE key='next_task_id'`).Scan(&nextID)
	if err == sql.ErrNoRows {
		return snap, nil
	}
	if err != nil {
		return domain.Snapshot{}, err
	}
	if snap.NextTaskID, err = strconv.ParseInt(nextID, 10, 64); err != nil {
		return domain.Snapshot{}, fmt.Errorf("bad next_task_id %q: %w", nextID, err)
	}
	return snap, nil
}

func (s *SQLiteStore) Save(snap domain.Snapshot) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM accounts`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM tasks`); err != nil {
		return err
	}
	for _, acc := range snap.Accounts {
		if _, err := tx.Exec(`INSERT INTO accounts(identity, balance) VALUES (?,?)`,
			acc.Identity, acc.Balance.String()); err != nil {
			return err
		}
	}
	for _, t := range snap.Tasks {
		if _, err := tx.Exec(`INSERT INTO tasks(id, customer_id, performer_id, text, price, status, created_at) VALUES (?,?,?,?,?,?,?)`,
			t.ID, t.CustomerID, nullable(t.PerformerID), t.Text, t.Price.String(), string(t.Status), t.CreatedAt); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`INSERT INTO meta(key, value) VALUES ('next_task_id', ?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value`, strconv.FormatInt(snap.NextTaskID, 10)); err != nil {
		return err
	}
	return tx.Commit()
}

func nullable(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
