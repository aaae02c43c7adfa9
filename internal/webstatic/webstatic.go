// Package webstatic is the orthogonal HTTP surface: the
// index and join pages, the stylesheet, and uploaded-file download. The
// join page resolves invite links through the same dispatcher helper the
// protocol engine uses, so both surfaces agree on validity.
package webstatic

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/comcore-chat/comcore/internal/config"
	"github.com/comcore-chat/comcore/internal/dispatcher"
	"github.com/comcore-chat/comcore/internal/logger"
)

// Server serves the static site.
type Server struct {
	cfg  *config.Config
	disp *dispatcher.Dispatcher
	log  *logger.Logger
	srv  *http.Server
}

// New constructs the static site server.
func New(cfg *config.Config, disp *dispatcher.Dispatcher) *Server {
	s := &Server{
		cfg:  cfg,
		disp: disp,
		log:  logger.Global().WithPrefix("webstatic"),
	}

	router := httprouter.New()
	router.GET("/", s.handleIndex)
	router.GET("/style.css", s.handleStylesheet)
	router.GET("/join/:code", s.handleJoin)
	router.GET("/uploads/:name", s.handleDownload)

	s.srv = &http.Server{
		Addr:         cfg.StaticSiteAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start serves in the background until Stop.
func (s *Server) Start() {
	go func() {
		s.log.Info("static site on %s", s.cfg.StaticSiteAddr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("static site: %v", err)
		}
	}()
}

// Handler exposes the routing table, for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Stop drains the HTTP server.
func (s *Server) Stop(ctx context.Context) {
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Error("static site shutdown: %v", err)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, nil); err != nil {
		s.log.Error("render index: %v", err)
	}
}

func (s *Server) handleStylesheet(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	fmt.Fprint(w, stylesheet)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	code := params.ByName("code")
	valid, name, expire, err := s.disp.InviteLinkInfo(r.Context(), code)
	if err != nil {
		s.log.Error("resolve invite link: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	data := joinPage{Code: code, Valid: valid, GroupName: name}
	if expire != 0 {
		data.Expires = time.UnixMilli(expire).UTC().Format(time.RFC1123)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := joinTemplate.Execute(w, data); err != nil {
		s.log.Error("render join page: %v", err)
	}
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	name := filepath.Base(params.ByName("name"))
	if name == "." || name == ".." || name == "/" {
		http.NotFound(w, r)
		return
	}

	path := filepath.Join(s.cfg.UploadDir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, path)
}

type joinPage struct {
	Code      string
	Valid     bool
	GroupName string
	Expires   string
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>Comcore</title><link rel="stylesheet" href="/style.css"></head>
<body>
<h1>Comcore</h1>
<p>Group collaboration: chat, tasks, calendars and polls, on your own server.</p>
<p>Connect with a Comcore client to get started.</p>
</body>
</html>
`))

var joinTemplate = template.Must(template.New("join").Parse(`<!DOCTYPE html>
<html>
<head><title>Join group - Comcore</title><link rel="stylesheet" href="/style.css"></head>
<body>
{{if .Valid}}
<h1>Join {{.GroupName}}</h1>
<p>Open a Comcore client and enter the invite code <code>{{.Code}}</code> to join.</p>
{{if .Expires}}<p>This invite expires {{.Expires}}.</p>{{end}}
{{else}}
<h1>Invite not found</h1>
<p>This invite link is invalid or has expired.</p>
{{end}}
</body>
</html>
`))

const stylesheet = `body {
	font-family: sans-serif;
	max-width: 40rem;
	margin: 4rem auto;
	padding: 0 1rem;
	color: #222;
}
h1 { color: #354a67; }
code {
	background: #eef1f5;
	padding: 0.15rem 0.4rem;
	border-radius: 4px;
}
`
