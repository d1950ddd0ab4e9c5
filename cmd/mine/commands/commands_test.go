package commands

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeDiscord(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /guilds/1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": "1", "name": "Test Guild"}`))
	})
	mux.HandleFunc("GET /guilds/1/channels", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id": "9", "name": "Text", "type": 4},
			{"id": "10", "name": "general", "type": 0, "parent_id": "9"},
			{"id": "11", "name": "secret", "type": 0, "parent_id": "9"},
			{"id": "12", "name": "lounge", "type": 2}
		]`))
	})
	mux.HandleFunc("GET /channels/10/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("before") != "" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(`[
			{"id": "1002", "channel_id": "10", "timestamp": "2024-03-01T12:05:00+00:00",
			 "content": "second <#11>", "author": {"id": "A", "username": "alice", "global_name": "Alice"}},
			{"id": "1001", "channel_id": "10", "timestamp": "2024-03-01T12:00:00Z",
			 "content": "first message", "author": {"id": "B", "username": "bob", "discriminator": "1234"}}
		]`))
	})
	mux.HandleFunc("GET /channels/11/messages", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message": "Missing Access", "code": 50001}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, args ...string) map[string]interface{} {
	t.Helper()

	var buf bytes.Buffer
	stdout = &buf
	t.Cleanup(func() { stdout = os.Stdout })

	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())

	out := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out), buf.String())
	return out
}

func TestFetchThenQuery(t *testing.T) {
	srv := fakeDiscord(t)
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("DISCORD_USER_TOKEN", "test-token")
	t.Setenv("DISCORD_API_BASE", srv.URL)

	global := []string{
		"--db", filepath.Join(dir, "mine.db"),
		"--config", filepath.Join(dir, "absent"),
		"--log-level", "error",
		"--format", "json",
	}

	channels := run(t, append([]string{"channels", "--server", "1", "--save"}, global...)...)
	assert.Equal(t, float64(2), channels["crawlable_count"])

	fetched := run(t, append([]string{"fetch", "--server", "1", "--output-dir", filepath.Join(dir, "out")}, global...)...)
	assert.Equal(t, "partial", fetched["status"])
	assert.Equal(t, "Test Guild", fetched["server_name"])
	assert.Equal(t, float64(2), fetched["total_messages"])
	assert.Equal(t, float64(2), fetched["total_users"])
	assert.Equal(t, float64(1), fetched["failed_channels"])

	summaries := fetched["channels"].([]interface{})
	require.Len(t, summaries, 2)
	assert.Equal(t, "general", summaries[0].(map[string]interface{})["channel_name"])
	assert.Contains(t, summaries[1].(map[string]interface{})["error"], "403")

	outDir := fetched["output_dir"].(string)
	for _, name := range []string{"complete_user_data.json", "user_statistics.json", "user_summary.csv", "README.md"} {
		assert.FileExists(t, filepath.Join(outDir, name))
	}

	users := run(t, append([]string{"users"}, global...)...)
	assert.Equal(t, float64(2), users["user_count"])

	messages := run(t, append([]string{"messages", "--author", "A"}, global...)...)
	assert.Equal(t, float64(1), messages["message_count"])

	stats := run(t, append([]string{"stats"}, global...)...)
	database := stats["database"].(map[string]interface{})
	assert.Equal(t, float64(2), database["message_count"])
	assert.Equal(t, float64(3), database["channel_count"])
	assert.Equal(t, float64(1), database["run_count"])
	assert.NotNil(t, stats["latest_run"])
}

func TestFetchRequiresToken(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("DISCORD_USER_TOKEN", "")

	rootCmd.SetArgs([]string{"fetch", "--server", "1", "--config", filepath.Join(dir, "absent"), "--db", filepath.Join(dir, "mine.db")})
	err := rootCmd.Execute()
	assert.ErrorContains(t, err, "no token configured")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a b", truncate("a\nb", 10))
	assert.Equal(t, "héllo w...", truncate("héllo world", 10))
}
