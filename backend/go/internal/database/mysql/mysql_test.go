package mysql

import (
	"testing"

	"DocSage/backend/go/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestDSN(t *testing.T) {
	dsn := DSN(&config.MySQLConfig{Address: "db:3306", Username: "rag", Password: "secret", Database: "docs"})
	assert.Equal(t, "rag:secret@tcp(db:3306)/docs?charset=utf8mb4&parseTime=True&loc=UTC", dsn)
}
