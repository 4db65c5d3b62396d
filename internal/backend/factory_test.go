package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paytrack/internal/config"
	"paytrack/internal/storage"
	"paytrack/internal/storage/memory"
)

func TestBackendType_IsValid(t *testing.T) {
	assert.True(t, SQLiteBackend.IsValid())
	assert.True(t, MemoryBackend.IsValid())
	assert.False(t, BackendType("sheets").IsValid())
	assert.Equal(t, []string{"sqlite", "memory"}, GetBackendTypeStrings())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"memory", Config{Type: MemoryBackend}, false},
		{"sqlite with path", Config{Type: SQLiteBackend, SQLiteDBPath: "x.db"}, false},
		{"sqlite without path", Config{Type: SQLiteBackend}, true},
		{"unknown type", Config{Type: "mongo"}, true},
		{"amqp without queue", Config{Type: MemoryBackend, AMQPURL: "amqp://localhost", AMQPExchange: "x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	_, err := FromAppConfig(nil)
	assert.Error(t, err)

	cfg, err := FromAppConfig(&config.Config{
		DataBackend:      "sqlite",
		SQLiteDBPath:     "data/paytrack.db",
		AMQPURL:          "amqp://localhost",
		AMQPExchange:     "paytrack",
		AMQPTriggerQueue: "generation_requests",
		AMQPEventsQueue:  "occurrence_events",
	})
	require.NoError(t, err)
	assert.Equal(t, SQLiteBackend, cfg.Type)
	assert.Equal(t, "occurrence_events", cfg.AMQPEventsQueue)

	_, err = FromAppConfig(&config.Config{DataBackend: "sheets"})
	assert.Error(t, err)
}

func TestFactory_CreateMemoryBackend(t *testing.T) {
	result, err := NewFactory(nil).CreateBackend(context.Background(), Config{Type: MemoryBackend})
	require.NoError(t, err)

	assert.IsType(t, &memory.Store{}, result.Backend)
	assert.Nil(t, result.AMQP)
	assert.Nil(t, result.Notifier)
	assert.NoError(t, result.Cleanup())
}

func TestFactory_CreateSQLiteBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paytrack.db")

	result, err := NewFactory(nil).CreateBackend(context.Background(), Config{Type: SQLiteBackend, SQLiteDBPath: path})
	require.NoError(t, err)
	defer result.Cleanup()

	assert.IsType(t, &storage.SQLiteRepository{}, result.Backend)
	users, err := result.Backend.ListUserIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, users)
}
