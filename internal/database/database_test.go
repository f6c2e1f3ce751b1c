package database

import (
	"io"
	"path/filepath"
	"testing"

	"billing-service/internal/config"
	"billing-service/internal/model"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteMigratesSchema(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	db, err := New(config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "billing.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for _, m := range []interface{}{&model.Payment{}, &model.MembershipBalance{}, &model.ProcessedEvent{}} {
		assert.True(t, db.DB.Migrator().HasTable(m))
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(config.DatabaseConfig{Driver: "oracle"}, logrus.New())
	assert.Error(t, err)
}
