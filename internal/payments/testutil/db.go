package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"adserver.com/internal/payments/repo"
)

type DBHandle struct {
	DB   *gorm.DB
	Repo *repo.Repo
}

// NewDB 每个测试一个独立的内存库。:memory: 每条连接都是新库，所以只留一条连接
func NewDB(t *testing.T) (*gorm.DB, *repo.Repo) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	r := repo.New(db)
	require.NoError(t, r.AutoMigrate(context.Background()))
	return db, r
}
