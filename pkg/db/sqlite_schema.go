package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// sqliteSchema mirrors the goose migrations for local and test databases.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
  user_id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  credits_balance INTEGER NOT NULL DEFAULT 50 CHECK (credits_balance >= 0),
  subscription_tier TEXT NOT NULL DEFAULT 'free',
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  last_login DATETIME,
  is_active INTEGER NOT NULL DEFAULT 1
);`,
	`CREATE TABLE IF NOT EXISTS usage_logs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id TEXT NOT NULL REFERENCES users(user_id),
  action TEXT NOT NULL,
  credits_used INTEGER NOT NULL DEFAULT 0 CHECK (credits_used >= 0),
  metadata TEXT,
  "timestamp" DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);`,
	`CREATE INDEX IF NOT EXISTS idx_usage_logs_user_ts ON usage_logs (user_id, "timestamp");`,
	`CREATE TABLE IF NOT EXISTS payments (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id TEXT NOT NULL REFERENCES users(user_id),
  amount TEXT NOT NULL,
  currency TEXT NOT NULL DEFAULT 'USD',
  credits_purchased INTEGER NOT NULL CHECK (credits_purchased > 0),
  payment_method TEXT NOT NULL,
  transaction_id TEXT,
  status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'completed', 'failed')),
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE (payment_method, transaction_id)
);`,
	`CREATE INDEX IF NOT EXISTS idx_payments_user_id ON payments (user_id);`,
}

// ApplySQLiteSchema creates the tables when missing.
func ApplySQLiteSchema(ctx context.Context, conn *gorm.DB) error {
	for _, stmt := range sqliteSchema {
		if err := conn.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("applying sqlite schema: %w", err)
		}
	}
	return nil
}
