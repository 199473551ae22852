package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckReadOnly(t *testing.T) {
	tests := []struct {
		name  string
		query string
		ok    bool
	}{
		{"select", "SELECT layer, z, count(*) FROM viewshed_tiles GROUP BY ALL", true},
		{"trailing semicolon", "select 1;", true},
		{"cte", "WITH t AS (SELECT 1 AS x) SELECT x FROM t", true},
		{"from first", "FROM viewshed_tiles LIMIT 5", true},
		{"describe", "DESCRIBE viewshed_tiles", true},
		{"literal in where", "SELECT * FROM viewshed_tiles WHERE layer = 'DELETE FROM x'", true},
		{"literal in select list", "SELECT 'a', 'b' FROM viewshed_tiles", true},
		{"values", "SELECT * FROM (VALUES ('a'), ('b')) v(x)", true},
		{"comments", "-- count\nSELECT /* all */ count(*) FROM viewshed_tiles", true},
		{"quoted identifier", `SELECT "delete" FROM viewshed_tiles`, true},

		{"empty", "  ", false},
		{"create", "CREATE TABLE pwned AS SELECT 1 AS x", false},
		{"delete", "DELETE FROM viewshed_tiles", false},
		{"insert lowercase", "insert into viewshed_tiles values (1)", false},
		{"cte write", "WITH t AS (SELECT 1) INSERT INTO x SELECT * FROM t", false},
		{"stacked", "SELECT 1; DROP TABLE viewshed_tiles", false},
		{"attach", "ATTACH '/tmp/x.db'", false},
		{"pragma", "PRAGMA database_list", false},
		{"copy", "COPY viewshed_tiles TO '/tmp/out.csv'", false},
		{"read_csv", "SELECT * FROM read_csv('/etc/passwd')", false},
		{"parquet_scan", "SELECT * FROM parquet_scan('x.parquet')", false},
		{"replacement scan", "SELECT * FROM '/etc/passwd'", false},
		{"replacement scan after comma", "SELECT * FROM viewshed_tiles, 'x.csv'", false},
		{"quoted path", `SELECT * FROM "data.csv"`, false},
		{"getenv", "SELECT getenv('HOME')", false},
		{"explain write", "EXPLAIN ANALYZE DELETE FROM viewshed_tiles", false},
		{"unterminated", "SELECT 'oops", false},
		{"unterminated comment", "SELECT 1 /* oops", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckReadOnly(tt.query)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrNotReadOnly)
			}
		})
	}
}
