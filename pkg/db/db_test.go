package db

import (
	"testing"

	"smallbiznis-academy/pkg/config"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestDialect(t *testing.T) {
	for typ, want := range map[string]string{
		"":         "postgres",
		"postgres": "postgres",
		"MySQL":    "mysql",
		"sqlite":   "sqlite",
	} {
		cfg := &config.Config{}
		cfg.Database.Type = typ
		require.Equal(t, want, Dialect(cfg).Name(), typ)
	}
}

type widget struct {
	ID   string `gorm:"primaryKey"`
	Name string
}

type gadget struct {
	ID string `gorm:"primaryKey"`
}

func TestAutoMigrateGroups(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:automigrate?mode=memory&cache=shared"), &gorm.Config{
		Logger: NewGormLogger(gormlogger.Silent, false),
	})
	require.NoError(t, err)

	require.NoError(t, AutoMigrate(conn))
	require.NoError(t, AutoMigrate(conn, Models{&widget{}}, Models{&gadget{}}))
	require.True(t, conn.Migrator().HasTable(&widget{}))
	require.True(t, conn.Migrator().HasTable(&gadget{}))
}
