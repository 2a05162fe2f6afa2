package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/guysoft/craftbeerpibot/internal/config"
	"github.com/guysoft/craftbeerpibot/internal/telegram"
	"github.com/guysoft/craftbeerpibot/internal/telemetry"
)

var ErrServerClosed = http.ErrServerClosed

type SessionCounter interface {
	Len() int
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthServer struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	startedAt  time.Time
	sessions   SessionCounter
	store      Pinger
}

type serviceCheck struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type healthResponse struct {
	UptimeSeconds  int64        `json:"uptimeSeconds"`
	ActiveSessions int          `json:"activeSessions"`
	Telegram       serviceCheck `json:"telegram"`
	Storage        serviceCheck `json:"storage"`
}

type sensorStatus struct {
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
	Unit  string `json:"unit,omitempty"`
	Error string `json:"error,omitempty"`
}

func NewHealthServer(cfg config.Config, logger *slog.Logger, sessions SessionCounter, store Pinger) *HealthServer {
	server := &HealthServer{cfg: cfg, logger: logger, startedAt: time.Now(), sessions: sessions, store: store}
	server.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HealthPort),
		Handler:           server.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server
}

func (s *HealthServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.healthHandler)
	r.Get("/status", s.statusHandler)
	return r
}

func (s *HealthServer) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *HealthServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res := healthResponse{UptimeSeconds: int64(time.Since(s.startedAt).Seconds())}
	if s.sessions != nil {
		res.ActiveSessions = s.sessions.Len()
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		err := telegram.CheckConnectivity(ctx, s.cfg.APIBaseURL, telegram.ConnectivityTimeout)
		res.Telegram = checkFromErr(err)
	}()

	go func() {
		defer wg.Done()
		if s.store == nil {
			res.Storage = serviceCheck{OK: false, Error: "storage disabled"}
			return
		}
		res.Storage = checkFromErr(s.store.Ping(ctx))
	}()

	wg.Wait()
	s.writeJSON(w, http.StatusOK, res)
}

func (s *HealthServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	readings, err := telemetry.ReadAll(s.cfg.TelemetryLogDir, s.cfg.TelemetryLogPattern)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	sensors := make([]sensorStatus, 0, len(readings))
	for _, reading := range readings {
		item := sensorStatus{Name: reading.Name}
		if reading.Err != nil {
			item.Error = reading.Err.Error()
		} else {
			item.Value = reading.Sample.Value
			item.Unit = reading.Sample.Unit
		}
		sensors = append(sensors, item)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sensors": sensors})
}

func (s *HealthServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode json response failed", "error", err)
	}
}

func checkFromErr(err error) serviceCheck {
	if err == nil {
		return serviceCheck{OK: true}
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		msg = "unknown error"
	}
	return serviceCheck{OK: false, Error: msg}
}

func IsServerClosed(err error) bool {
	return errors.Is(err, ErrServerClosed)
}
