// Package store persists push subscriptions and the delivery log in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store wraps the SQLite handle holding subscriptions and delivery history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database at path with WAL mode and
// busy timeout, and runs migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func migrate(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id         TEXT PRIMARY KEY,
			topic      TEXT NOT NULL DEFAULT '',
			endpoint   TEXT NOT NULL,
			key_p256dh TEXT NOT NULL,
			key_auth   TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			UNIQUE(endpoint)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_topic ON subscriptions(topic)`,
		`CREATE TABLE IF NOT EXISTS delivery_log (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			subscription_id TEXT NOT NULL,
			sent_at         TEXT NOT NULL DEFAULT (datetime('now')),
			status_code     INTEGER NOT NULL,
			error           TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_log_sent_at ON delivery_log(sent_at)`,
	}
	for _, s := range statements {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// Subscription represents a stored push subscription.
type Subscription struct {
	ID        string `json:"id"`
	Topic     string `json:"topic"`
	Endpoint  string `json:"endpoint"`
	KeyP256dh string `json:"key_p256dh,omitempty"`
	KeyAuth   string `json:"key_auth,omitempty"`
	CreatedAt string `json:"created_at"`
}

// UpsertSubscription inserts or updates a subscription by endpoint.
// Returns the subscription ID and whether it was newly created.
func (s *Store) UpsertSubscription(ctx context.Context, topic, endpoint, p256dh, auth string) (id string, created bool, err error) {
	newID := uuid.NewString()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, topic, endpoint, key_p256dh, key_auth)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET
			topic = excluded.topic,
			key_p256dh = excluded.key_p256dh,
			key_auth = excluded.key_auth
	`, newID, topic, endpoint, p256dh, auth)
	if err != nil {
		return "", false, fmt.Errorf("upsert subscription: %w", err)
	}

	// RowsAffected is 1 for both branches of the upsert; the stored ID
	// tells them apart.
	var actualID string
	err = s.db.QueryRowContext(ctx, `SELECT id FROM subscriptions WHERE endpoint = ?`, endpoint).Scan(&actualID)
	if err != nil {
		return "", false, fmt.Errorf("lookup subscription id: %w", err)
	}

	return actualID, actualID == newID, nil
}

// SubscriptionsByTopic returns subscriptions matching the given topic.
// If topic is empty, returns all subscriptions.
func (s *Store) SubscriptionsByTopic(ctx context.Context, topic string) ([]Subscription, error) {
	const cols = `SELECT id, topic, endpoint, key_p256dh, key_auth, created_at FROM subscriptions`
	return s.query(ctx, cols, topic, func(rows *sql.Rows, sub *Subscription) error {
		return rows.Scan(&sub.ID, &sub.Topic, &sub.Endpoint, &sub.KeyP256dh, &sub.KeyAuth, &sub.CreatedAt)
	})
}

// ListSubscriptions returns subscriptions for the admin listing (no keys).
func (s *Store) ListSubscriptions(ctx context.Context, topic string) ([]Subscription, error) {
	const cols = `SELECT id, topic, endpoint, created_at FROM subscriptions`
	return s.query(ctx, cols, topic, func(rows *sql.Rows, sub *Subscription) error {
		return rows.Scan(&sub.ID, &sub.Topic, &sub.Endpoint, &sub.CreatedAt)
	})
}

func (s *Store) query(ctx context.Context, selectCols, topic string, scan func(*sql.Rows, *Subscription) error) ([]Subscription, error) {
	var rows *sql.Rows
	var err error
	if topic == "" {
		rows, err = s.db.QueryContext(ctx, selectCols+` ORDER BY created_at, id`)
	} else {
		rows, err = s.db.QueryContext(ctx, selectCols+` WHERE topic = ? ORDER BY created_at, id`, topic)
	}
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		if err := scan(rows, &sub); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// DeleteByEndpoint removes a subscription by its endpoint URL.
func (s *Store) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE endpoint = ?`, endpoint)
	return err
}

// DeleteByID removes a subscription by its ID.
func (s *Store) DeleteByID(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	return err
}

// LogDelivery records a delivery attempt in the delivery_log table.
func (s *Store) LogDelivery(ctx context.Context, subscriptionID string, statusCode int, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO delivery_log (subscription_id, status_code, error) VALUES (?, ?, ?)`,
		subscriptionID, statusCode, errMsg)
	return err
}

// DeliveryCount returns the number of logged attempts for a subscription.
func (s *Store) DeliveryCount(ctx context.Context, subscriptionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM delivery_log WHERE subscription_id = ?`, subscriptionID).Scan(&n)
	return n, err
}

// ErrNegativeRetention is returned by PurgeDeliveryLog for a negative age,
// which would place the cutoff in the future.
var ErrNegativeRetention = errors.New("retention must not be negative")

// PurgeDeliveryLog deletes delivery_log entries older than the given duration.
// Returns the number of rows deleted.
func (s *Store) PurgeDeliveryLog(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan < 0 {
		return 0, ErrNegativeRetention
	}
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.DateTime)
	result, err := s.db.ExecContext(ctx, `DELETE FROM delivery_log WHERE sent_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
