package webstatic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comcore-chat/comcore/internal/codemgr"
	"github.com/comcore-chat/comcore/internal/config"
	"github.com/comcore-chat/comcore/internal/dispatcher"
	"github.com/comcore-chat/comcore/internal/mailer"
	"github.com/comcore-chat/comcore/internal/registry"
	"github.com/comcore-chat/comcore/internal/store/sqlitestore"
)

func newTestServer(t *testing.T) (*Server, *sqlitestore.Store, *config.Config) {
	t.Helper()
	ctx := context.Background()

	st, err := sqlitestore.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Initialize(ctx))
	t.Cleanup(func() { st.Close(ctx) })

	cfg := config.DefaultConfig()
	cfg.UploadDir = t.TempDir()

	codes := codemgr.NewManager(mailer.NewRecordingMailer())
	reg := registry.New(st)
	disp := dispatcher.New(st, codes, reg, cfg.UploadDir, cfg.MaxUploadSize)
	return New(cfg, disp), st, cfg
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestIndexAndStylesheet(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := get(t, s, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Comcore")

	rec = get(t, s, "/style.css")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/css")
}

func TestJoinPage(t *testing.T) {
	s, st, _ := newTestServer(t)
	ctx := context.Background()

	alice, err := st.CreateAccount(ctx, "Alice", "alice@x", "h")
	require.NoError(t, err)
	g, err := st.CreateGroup(ctx, "Book Club", alice.ID)
	require.NoError(t, err)
	require.NoError(t, st.AddGroupInviteCode(ctx, g.ID, "abcDEF2345", 0))

	rec := get(t, s, "/join/abcDEF2345")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Book Club")
	assert.Contains(t, rec.Body.String(), "abcDEF2345")

	rec = get(t, s, "/join/nosuchcode")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid or has expired")
}

func TestDownload(t *testing.T) {
	s, _, cfg := newTestServer(t)

	require.NoError(t, os.WriteFile(filepath.Join(cfg.UploadDir, "f.txt"), []byte("payload"), 0644))

	rec := get(t, s, "/uploads/f.txt")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "payload", rec.Body.String())

	rec = get(t, s, "/uploads/missing.txt")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
