// Command tabauthd is a minimal HTTP front for the coordinator: login
// and logout endpoints, guarded admin/checker pages, a session
// inspection endpoint, and Prometheus metrics. It exists to exercise
// the library end to end, not to be the production app server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	tabauth "github.com/prosecheck/tabauth"
	promexport "github.com/prosecheck/tabauth/metrics/export/prometheus"
	"github.com/prosecheck/tabauth/middleware"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	addr := envOr("TABAUTH_LISTEN_ADDR", ":8085")
	redisAddr := envOr("TABAUTH_REDIS_ADDR", "127.0.0.1:6379")
	signingKey := os.Getenv("TABAUTH_SIGNING_KEY")
	if signingKey == "" {
		logger.Fatal("TABAUTH_SIGNING_KEY is required")
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()

	cfg := tabauth.Config{}
	cfg.Token.SigningKey = []byte(signingKey)

	coord, err := tabauth.New().
		WithConfig(cfg).
		WithRedis(rdb, "ta").
		WithEventSink(tabauth.NewJSONWriterSink(os.Stdout)).
		Build()
	if err != nil {
		logger.Fatal("failed to build coordinator", zap.Error(err))
	}
	defer coord.Close()

	srv := &server{coord: coord, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login", srv.handleLogin)
	mux.HandleFunc("POST /api/logout", srv.handleLogout)
	mux.HandleFunc("POST /api/logout-all", srv.handleLogoutAll)
	mux.HandleFunc("GET /api/session", srv.handleSession)
	mux.HandleFunc("GET /api/sessions", srv.handleSessions)
	mux.HandleFunc("GET /admin/", srv.handlePage("admin panel"))
	mux.HandleFunc("GET /checker/", srv.handlePage("grammar checker"))
	mux.HandleFunc("GET /login.html", srv.handlePage("login"))
	mux.Handle("GET /metrics", promexport.NewExporter(coord).Handler())

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           middleware.Guard(coord)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
	logger.Info("stopped")
}

type server struct {
	coord  *tabauth.Coordinator
	logger *zap.Logger
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var resp tabauth.LoginResponse
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}

	user, err := tabauth.NormalizeLogin(resp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec, err := s.coord.Login(r.Context(), user)
	if err != nil {
		s.logger.Warn("login failed", zap.Error(err))
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}

	token, err := s.coord.IssueTabToken(r.Context())
	if err != nil {
		s.logger.Warn("token mint failed", zap.Error(err))
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.coord.Config().Token.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, rec)
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ok, err := s.coord.Logout(r.Context())
	if err != nil {
		s.logger.Warn("logout failed", zap.Error(err))
		http.Error(w, "logout failed", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:   s.coord.Config().Token.CookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	writeJSON(w, map[string]bool{"loggedOut": ok})
}

func (s *server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.LogoutAll(r.Context()); err != nil {
		s.logger.Warn("logout-all failed", zap.Error(err))
		http.Error(w, "logout failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSession(w http.ResponseWriter, r *http.Request) {
	cur, err := s.coord.CurrentUser(r.Context())
	if err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	if cur == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, cur)
}

func (s *server) handleSessions(w http.ResponseWriter, r *http.Request) {
	admin, err := s.coord.IsAdmin(r.Context())
	if err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	if !admin {
		http.Error(w, "unauthorized", http.StatusForbidden)
		return
	}

	infos, err := s.coord.Registry().SessionsInfo(r.Context())
	if err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, infos)
}

func (s *server) handlePage(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var username string
		if cur, err := s.coord.CurrentUser(r.Context()); err == nil && cur != nil {
			username = cur.Username
		}
		writeJSON(w, map[string]string{"page": name, "username": username})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
