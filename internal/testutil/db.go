// Package testutil provides the in-memory database harness shared by
// service tests. Production runs PostgreSQL; tests run sqlite with the row
// locking clauses stripped, since sqlite serializes writers anyway.
package testutil

import (
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE users (
		id INTEGER PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		phone_number TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		full_name TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE admin_users (
		id INTEGER PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE invitations (
		id INTEGER PRIMARY KEY,
		email TEXT NOT NULL,
		token TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'PENDING',
		invited_by INTEGER,
		expires_at DATETIME NOT NULL,
		accepted_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE referral_links (
		id INTEGER PRIMARY KEY,
		owner_user_id INTEGER NOT NULL UNIQUE,
		code TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		click_count INTEGER NOT NULL DEFAULT 0,
		conversion_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE referrals (
		id INTEGER PRIMARY KEY,
		referral_link_id INTEGER NOT NULL,
		external_referred_id TEXT,
		status TEXT NOT NULL DEFAULT 'PENDING',
		earnings_emitted_count INTEGER NOT NULL DEFAULT 0,
		signed_up_at DATETIME,
		converted_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX uidx_referrals_placeholder
		ON referrals (referral_link_id)
		WHERE status = 'PENDING' AND external_referred_id IS NULL`,
	`CREATE TABLE processed_events (
		id INTEGER PRIMARY KEY,
		idempotency_key TEXT NOT NULL UNIQUE,
		event_type TEXT NOT NULL,
		referral_id INTEGER,
		payload TEXT,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE payments (
		id INTEGER PRIMARY KEY,
		batch_id TEXT NOT NULL,
		payee_user_id INTEGER NOT NULL,
		total_amount_cents INTEGER NOT NULL,
		currency TEXT NOT NULL DEFAULT 'KES',
		status TEXT NOT NULL DEFAULT 'PENDING_DISBURSEMENT',
		idempotency_token TEXT NOT NULL UNIQUE,
		mpesa_transaction_id TEXT UNIQUE,
		failure_reason TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		approved_by INTEGER,
		approved_at DATETIME,
		first_attempted_at DATETIME,
		processed_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE earnings (
		id INTEGER PRIMARY KEY,
		referral_id INTEGER NOT NULL,
		payee_user_id INTEGER NOT NULL,
		payment_id INTEGER,
		cycle_index INTEGER NOT NULL,
		amount_cents INTEGER NOT NULL,
		currency TEXT NOT NULL DEFAULT 'KES',
		status TEXT NOT NULL DEFAULT 'SCHEDULED',
		due_date DATETIME NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT earnings_referral_id_cycle_index_key UNIQUE (referral_id, cycle_index)
	)`,
}

// OpenDB returns a fresh in-memory database with the full schema applied.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	stripLockClauses(gdb)

	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("unwrap sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := gdb.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return gdb
}

// stripLockClauses removes FOR UPDATE clauses sqlite does not parse.
func stripLockClauses(gdb *gorm.DB) {
	rewrite := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if !strings.Contains(sql, "FOR UPDATE") {
			return
		}
		sql = strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
		sql = strings.ReplaceAll(sql, "FOR UPDATE", "")
		d.Statement.SQL.Reset()
		d.Statement.SQL.WriteString(sql)
	}
	_ = gdb.Callback().Query().Before("gorm:query").Register("sqlite_strip_lock", rewrite)
	_ = gdb.Callback().Row().Before("gorm:row").Register("sqlite_strip_lock_row", rewrite)
}
