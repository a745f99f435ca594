package postgres

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDSN(t *testing.T) {
	dsn := DSN(Options{Host: "db", Port: 5432, User: "app", Password: `p'a ss`, Name: "pipeline"})
	assert.Equal(t, `host='db' port=5432 user='app' password='p\'a ss' dbname='pipeline' sslmode=disable`, dsn)

	dsn = DSN(Options{Host: "db", Port: 5432, SSLMode: "require"})
	assert.True(t, strings.HasSuffix(dsn, "sslmode=require"))
}

func TestSchemaStatements(t *testing.T) {
	var n int
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) != "" {
			n++
		}
	}
	assert.Equal(t, 7, n)
	assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS analyses")
}
