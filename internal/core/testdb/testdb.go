// Package testdb opens an isolated in-memory sqlite database with every table migrated.
// It is imported by tests only.
package testdb

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/frahmantamala/enrollment-payments/internal/core/datamodel/audit"
	"github.com/frahmantamala/enrollment-payments/internal/core/datamodel/enrollment"
	"github.com/frahmantamala/enrollment-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/enrollment-payments/internal/core/datamodel/webhook"
)

// Models lists every persisted row type in migration order.
func Models() []interface{} {
	return []interface{}{
		&enrollment.Course{},
		&enrollment.Application{},
		&enrollment.Enrollment{},
		&enrollment.InstallmentPlan{},
		&enrollment.Installment{},
		&payment.Payment{},
		&webhook.Event{},
		&audit.Entry{},
	}
}

// Open returns a fresh database. A single connection keeps transactions and the
// in-memory schema on the same handle.
func Open() (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, err
	}
	return db, nil
}

// MustOpen panics on failure; for ginkgo BeforeEach blocks.
func MustOpen() *gorm.DB {
	db, err := Open()
	if err != nil {
		panic(err)
	}
	return db
}
