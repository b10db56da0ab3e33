package postgres

import (
	"testing"
	"time"

	"permission-service/internal/config"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
)

func TestRetryConnectOnFailed_AbortsWhileConnectionHealthy(t *testing.T) {
	DB_Status = true
	defer func() { DB_Status = false }()

	var db *sqlx.DB
	done := make(chan struct{})
	go func() {
		RetryConnectOnFailed(time.Millisecond, &db, config.PostgresConfig{})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("retry loop must return immediately while the connection is healthy")
	}
	assert.Nil(t, db, "an aborted retry must not replace the connection")
}
