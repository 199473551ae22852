package api

import (
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-viewshed/internal/db"
)

func TestWithoutDatabase(t *testing.T) {
	_, api := humatest.New(t)
	RegisterRoutes(api, &Services{})
	NewDBHandler(nil).RegisterRoutes(api)

	assert.Equal(t, http.StatusOK, api.Get("/health").Code)

	resp := api.Get("/api/v1/tiles")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `[]`, resp.Body.String())

	assert.Equal(t, http.StatusServiceUnavailable, api.Get("/api/v1/coverage/tokyoTower").Code)
	assert.Equal(t, http.StatusServiceUnavailable, api.Get("/api/v1/tables").Code)
	assert.Equal(t, http.StatusServiceUnavailable,
		api.Post("/api/v1/query", map[string]any{"query": "SELECT 1"}).Code)
}

func TestQuery_RejectsEmpty(t *testing.T) {
	_, api := humatest.New(t)
	NewDBHandler(nil).RegisterRoutes(api)

	resp := api.Post("/api/v1/query", map[string]any{"query": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestQuery_ReadOnly(t *testing.T) {
	conn, err := db.Open(db.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = conn.Exec("CREATE TABLE viewshed_tiles (layer VARCHAR, z INTEGER)")
	require.NoError(t, err)
	_, err = conn.Exec("INSERT INTO viewshed_tiles VALUES ('skytree', 13)")
	require.NoError(t, err)

	_, api := humatest.New(t)
	NewDBHandler(conn).RegisterRoutes(api)

	for _, q := range []string{
		"CREATE TABLE pwned AS SELECT 1 AS x",
		"DELETE FROM viewshed_tiles",
		"SELECT 1; DROP TABLE viewshed_tiles",
		"SELECT * FROM read_csv('/etc/passwd')",
	} {
		resp := api.Post("/api/v1/query", map[string]any{"query": q})
		assert.Equal(t, http.StatusForbidden, resp.Code, q)
	}

	resp := api.Get("/api/v1/tables")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"tables":["viewshed_tiles"]}`, resp.Body.String())

	resp = api.Post("/api/v1/query", map[string]any{"query": "SELECT layer, z FROM viewshed_tiles"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"count":1`)
	assert.Contains(t, resp.Body.String(), `"skytree"`)
}
