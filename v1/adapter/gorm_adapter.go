package adapter

import (
	"context"
	stdErrors "errors"
	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultGormTableName = "verrou"

// lockRow is the GORM model of the lock table.
type lockRow struct {
	Key        string `gorm:"column:key;primaryKey;size:255"`
	Owner      string `gorm:"column:owner;size:255;not null"`
	Expiration *int64 `gorm:"column:expiration"`
}

// GormAdapter implements DatabaseAdapter with GORM, so any dialect GORM
// supports can hold locks.
type GormAdapter struct {
	db        *gorm.DB
	tableName string
}

// GormOption configures a GormAdapter.
type GormOption func(*GormAdapter)

// WithGormTableName sets the lock table name.
func WithGormTableName(name string) GormOption {
	return func(a *GormAdapter) {
		if name != "" {
			a.tableName = name
		}
	}
}

// NewGormAdapter returns a GormAdapter over db.
func NewGormAdapter(db *gorm.DB, opts ...GormOption) *GormAdapter {
	a := &GormAdapter{db: db, tableName: defaultGormTableName}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewGormStore is a shortcut for NewDatabaseStore(NewGormAdapter(db, opts...)).
func NewGormStore(db *gorm.DB, opts ...GormOption) *DatabaseStore {
	return NewDatabaseStore(NewGormAdapter(db, opts...))
}

// TableName returns the lock table name.
func (a *GormAdapter) TableName() string {
	return a.tableName
}

func (a *GormAdapter) table(ctx context.Context) *gorm.DB {
	return a.db.WithContext(ctx).Table(a.tableName)
}

// CreateTableIfNotExists implements DatabaseAdapter.
func (a *GormAdapter) CreateTableIfNotExists(ctx context.Context) error {
	db := a.db.WithContext(ctx)
	if db.Migrator().HasTable(a.tableName) {
		return nil
	}
	if err := db.Table(a.tableName).AutoMigrate(&lockRow{}); err != nil {
		if db.Migrator().HasTable(a.tableName) {
			slog.Debug("verrou: lock table created concurrently", "table", a.tableName, "error", err)
			return nil
		}
		return err
	}
	return nil
}

// InsertLock implements DatabaseAdapter.
func (a *GormAdapter) InsertLock(ctx context.Context, rec LockRecord) (bool, error) {
	row := lockRow{Key: rec.Key, Owner: rec.Owner, Expiration: rec.Expiration}
	res := a.table(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// AcquireExpiredLock implements DatabaseAdapter.
func (a *GormAdapter) AcquireExpiredLock(ctx context.Context, rec LockRecord, now int64) (bool, error) {
	var expiration any
	if rec.Expiration != nil {
		expiration = *rec.Expiration
	}
	res := a.table(ctx).
		Where(clause.Eq{Column: "key", Value: rec.Key}).
		Where(clause.Lte{Column: "expiration", Value: now}).
		Updates(map[string]any{"owner": rec.Owner, "expiration": expiration})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// DeleteLock implements DatabaseAdapter.
func (a *GormAdapter) DeleteLock(ctx context.Context, key, owner string) (int64, error) {
	res := a.table(ctx).
		Where(clause.Eq{Column: "key", Value: key}).
		Where(clause.Eq{Column: "owner", Value: owner}).
		Delete(&lockRow{})
	return res.RowsAffected, res.Error
}

// ForceDeleteLock implements DatabaseAdapter.
func (a *GormAdapter) ForceDeleteLock(ctx context.Context, key string) error {
	return a.table(ctx).Where(clause.Eq{Column: "key", Value: key}).Delete(&lockRow{}).Error
}

// ExtendLock implements DatabaseAdapter.
func (a *GormAdapter) ExtendLock(ctx context.Context, key, owner string, expiration, now int64) (int64, error) {
	res := a.table(ctx).
		Where(clause.Eq{Column: "key", Value: key}).
		Where(clause.Eq{Column: "owner", Value: owner}).
		Where(clause.Or(
			clause.Eq{Column: "expiration", Value: nil},
			clause.Gt{Column: "expiration", Value: now},
		)).
		Update("expiration", expiration)
	return res.RowsAffected, res.Error
}

// GetLock implements DatabaseAdapter.
func (a *GormAdapter) GetLock(ctx context.Context, key string) (*LockRecord, error) {
	var row lockRow
	err := a.table(ctx).Where(clause.Eq{Column: "key", Value: key}).Take(&row).Error
	if stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &LockRecord{Key: row.Key, Owner: row.Owner, Expiration: row.Expiration}, nil
}

// Close implements DatabaseAdapter.
func (a *GormAdapter) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
