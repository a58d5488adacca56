package database

import (
	"fmt"

	"brokerage-backend/models"

	"gorm.io/gorm"
)

// Migrate applies (idempotent) schema migrations:
// - AutoMigrate (tables/columns/index tags)
// - Money column types (NUMERIC(12,2))
// - Unique index backing atomic idempotency reservation
// - Basic CHECK constraints on amounts
func Migrate(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		// --- AutoMigrate tables/columns/index tags (non-destructive) ---
		if err := tx.AutoMigrate(
			&models.User{},
			&models.SigningKey{},
			&models.IdempotencyRecord{},
			&models.Payment{},
			&models.LedgerEntry{},
		); err != nil {
			return fmt.Errorf("automigrate failed: %w", err)
		}

		// --- Enforce money columns as NUMERIC(12,2) (idempotent ALTERs) ---
		alters := []string{
			`ALTER TABLE payments       ALTER COLUMN amount TYPE numeric(12,2)`,
			`ALTER TABLE ledger_entries ALTER COLUMN amount TYPE numeric(12,2)`,
		}
		for _, stmt := range alters {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("money type migration failed on: %s - %w", stmt, err)
			}
		}

		// --- Indexes (idempotent). The unique key index is what makes
		// concurrent reservation collide instead of double-executing. ---
		indexes := []string{
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_idempotency_records_key ON idempotency_records (key)`,
			`CREATE INDEX IF NOT EXISTS idx_ledger_payment_created ON ledger_entries (payment_id, created_at)`,
		}
		for _, stmt := range indexes {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("index migration failed on: %s - %w", stmt, err)
			}
		}

		// --- Basic CHECK constraints (idempotent) ---
		checks := []string{
			`DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM pg_constraint
					WHERE conrelid = 'payments'::regclass
					  AND conname  = 'chk_payments_amount_nonneg'
				) THEN
					ALTER TABLE payments
					ADD CONSTRAINT chk_payments_amount_nonneg
					CHECK (amount >= 0);
				END IF;
			END $$;`,
			`DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM pg_constraint
					WHERE conrelid = 'ledger_entries'::regclass
					  AND conname  = 'chk_ledger_entries_amount_nonneg'
				) THEN
					ALTER TABLE ledger_entries
					ADD CONSTRAINT chk_ledger_entries_amount_nonneg
					CHECK (amount >= 0);
				END IF;
			END $$;`,
		}
		for _, stmt := range checks {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("check constraint migration failed: %w", err)
			}
		}

		return nil
	})
}
