package filestore_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ErlanBelekov/table-sync/internal/domain"
	"github.com/ErlanBelekov/table-sync/internal/infrastructure/filestore"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestTaskFile_Load(t *testing.T) {
	path := writeFile(t, t.TempDir(), "tasks.json", `[
		{"name": "stock", "query": "SELECT * FROM stock", "fixed_times": ["08:00", "14:00"], "format": "csv"},
		{"name": "orders", "query": "SELECT * FROM orders", "type_rules": {"total": "numeric"}, "interval": 600}
	]`)

	cfgs, err := filestore.NewTaskFile(path, slog.Default()).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, cfgs, 2)

	assert.Equal(t, "stock", cfgs[0].Name)
	assert.Equal(t, domain.FormatCSV, cfgs[0].EffectiveFormat())
	assert.Equal(t, []string{"08:00", "14:00"}, cfgs[0].FixedTimes)
	assert.Equal(t, domain.KindNumeric, cfgs[1].TypeRules["total"])
	assert.Equal(t, domain.FormatXLSX, cfgs[1].EffectiveFormat())
}

func TestTaskFile_MissingIsNoConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")

	_, err := filestore.NewTaskFile(path, slog.Default()).Load(context.Background())
	assert.ErrorIs(t, err, domain.ErrNoTaskConfig)
}

func TestTaskFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"malformed json", `[{"name": "a",`, nil},
		{"unknown field", `[{"name": "a", "query": "q", "sheet": "x"}]`, nil},
		{"missing query", `[{"name": "a"}]`, domain.ErrInvalidTaskConfig},
		{"bad clock", `[{"name": "a", "query": "q", "fixed_times": ["24:00"]}]`, domain.ErrInvalidTaskConfig},
		{"bad cron", `[{"name": "a", "query": "q", "cron": "every day"}]`, domain.ErrInvalidTaskConfig},
		{"bad format", `[{"name": "a", "query": "q", "format": "xls"}]`, domain.ErrInvalidTaskConfig},
		{"bad rule", `[{"name": "a", "query": "q", "type_rules": {"x": "money"}}]`, domain.ErrInvalidTaskConfig},
		{"path in name", `[{"name": "../a", "query": "q"}]`, domain.ErrInvalidTaskConfig},
		{"duplicate", `[{"name": "a", "query": "q"}, {"name": "a", "query": "r"}]`, domain.ErrDuplicateTask},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "tasks.json", tt.content)

			_, err := filestore.NewTaskFile(path, slog.Default()).Load(context.Background())
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestCredentialFile_Encrypted(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "secret.key")
	key, err := filestore.GenerateKey(keyPath)
	require.NoError(t, err)

	sealed, err := filestore.Seal(map[string]string{
		"HOST":     "db.internal",
		"PORT":     "5432",
		"USER":     "sync",
		"PASSWORD": "hunter2",
		"DATABASE": "",
	}, key)
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", sealed["PASSWORD"])

	data, err := json.Marshal(sealed)
	require.NoError(t, err)
	credPath := writeFile(t, dir, "credentials.json", string(data))

	params, err := filestore.NewCredentialFile(credPath, keyPath, slog.Default()).Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionParams{
		Host: "db.internal", Port: "5432", User: "sync", Password: "hunter2",
	}, params)
}

func TestCredentialFile_WrongKey(t *testing.T) {
	dir := t.TempDir()
	key, err := filestore.GenerateKey(filepath.Join(dir, "a.key"))
	require.NoError(t, err)
	otherKey := filepath.Join(dir, "b.key")
	_, err = filestore.GenerateKey(otherKey)
	require.NoError(t, err)

	sealed, err := filestore.Seal(map[string]string{"host": "h", "port": "1", "user": "u", "password": "p"}, key)
	require.NoError(t, err)
	data, _ := json.Marshal(sealed)
	credPath := writeFile(t, dir, "credentials.json", string(data))

	_, err = filestore.NewCredentialFile(credPath, otherKey, slog.Default()).Get(context.Background())
	assert.ErrorIs(t, err, filestore.ErrDecryptCredential)
}

func TestCredentialFile_PlainAndIncomplete(t *testing.T) {
	dir := t.TempDir()

	full := writeFile(t, dir, "full.json", `{"host": "h", "port": "1", "user": "u", "password": "p", "database": null}`)
	params, err := filestore.NewCredentialFile(full, "", slog.Default()).Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "h", params.Host)
	assert.Empty(t, params.Database)

	partial := writeFile(t, dir, "partial.json", `{"host": "h", "user": "u"}`)
	_, err = filestore.NewCredentialFile(partial, "", slog.Default()).Get(context.Background())
	assert.ErrorIs(t, err, filestore.ErrIncompleteCredentials)
}

func TestGenerateKey_DoesNotOverwrite(t *testing.T) {
	path := writeFile(t, t.TempDir(), "secret.key", "existing")

	_, err := filestore.GenerateKey(path)
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "existing", string(data))
}
