package app

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shop-assistant/internal/config"
)

const catalogCSV = `product_id,name,category,price,description,features,brand,image_url,rating
P1,Cotton Pajama Set,Sleepwear,39.99,Soft cotton set,breathable|pockets,Cozy,https://cdn.example.com/p1.jpg,4.6
P2,Silk Robe,Loungewear,59,Light robe,,,,
`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T, llmURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "products.csv")
	require.NoError(t, os.WriteFile(path, []byte(catalogCSV), 0o600))

	return &config.Config{
		Port:    "8080",
		Catalog: config.CatalogConfig{Path: path, Limit: 50},
		Store: config.StoreConfig{
			Backend:       config.BackendMemory,
			SQLitePath:    filepath.Join(dir, "state.db"),
			HistoryWindow: 10,
			SessionTTL:    time.Hour,
			SessionMax:    100,
			DeliveryTTL:   time.Hour,
			DeliveryMax:   100,
		},
		Turn: config.TurnConfig{
			MaxMessageLength:  4000,
			SendDelay:         -1,
			ModelTimeout:      5 * time.Second,
			MaxQuestionLength: 1000,
		},
		OpenAI:   config.OpenAIConfig{APIKey: "sk-test", Model: "gpt-test", BaseURL: llmURL},
		WhatsApp: config.WhatsAppConfig{From: "whatsapp:+14155238886", VerifyToken: "verify"},
	}
}

func fakeLLM(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"index":   0,
				"message": map[string]string{"role": "assistant", "content": reply},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func postChat(t *testing.T, h http.Handler, body string) map[string]any {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat/message", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestNew_MemoryBackend(t *testing.T) {
	llm := fakeLLM(t, "The **Silk Robe** is lovely.")
	a, err := New(t.Context(), testConfig(t, llm.URL), quietLogger())
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close()) }()

	rec := httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"products":2`)

	out := postChat(t, a.Handler, `{"message":"something light","sessionId":"s1"}`)
	require.Equal(t, "The **Silk Robe** is lovely.", out["message"])
	require.Len(t, out["messages"], 2)

	rec = httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/whatsapp/health", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code, "demo mode has no twilio credentials")
}

func TestNew_SQLiteBackendKeepsHistory(t *testing.T) {
	llm := fakeLLM(t, "Try the pajama set.")
	cfg := testConfig(t, llm.URL)
	cfg.Store.Backend = config.BackendSQLite

	a, err := New(t.Context(), cfg, quietLogger())
	require.NoError(t, err)

	postChat(t, a.Handler, `{"message":"pajamas","sessionId":"s1"}`)
	out := postChat(t, a.Handler, `{"message":"in blue?","sessionId":"s1"}`)
	require.Len(t, out["messages"], 1, "welcome is sent only on the first turn")
	require.NoError(t, a.Close())

	reopened, err := New(t.Context(), cfg, quietLogger())
	require.NoError(t, err)
	defer func() { require.NoError(t, reopened.Close()) }()
	out = postChat(t, reopened.Handler, `{"message":"and a robe?","sessionId":"s1"}`)
	require.Len(t, out["messages"], 1)
}

func TestNew_MissingCatalogServesEmpty(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Catalog.Path = filepath.Join(t.TempDir(), "missing.csv")

	a, err := New(t.Context(), cfg, quietLogger())
	require.NoError(t, err)
	defer a.Close()

	rec := httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/products", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())
}

func TestNew_BadMessagesFile(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.MessagesFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := New(t.Context(), cfg, quietLogger())
	require.ErrorContains(t, err, "messages file")
}
