// Package health — /healthz (процесс жив) и /readyz (зависимости отвечают).
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

// Pinger — зависимость, доступность которой проверяет /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc адаптирует функцию к Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

const readyTimeout = 2 * time.Second

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RegisterRoutes — только /healthz.
func RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", liveness).Methods(http.MethodGet)
}

// RegisterRoutesWithDB — /healthz и /readyz: SQL ping плюс дополнительные проверки по имени.
func RegisterRoutesWithDB(r *mux.Router, db *gorm.DB, extra map[string]Pinger) {
	checks := map[string]Pinger{}
	if db != nil {
		checks["sql"] = PingFunc(func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		})
	}
	for name, p := range extra {
		if p != nil {
			checks[name] = p
		}
	}
	RegisterRoutes(r)
	r.Handle("/readyz", Readiness(checks)).Methods(http.MethodGet)
}

// Readiness выполняет все проверки; 503, если хотя бы одна не прошла.
func Readiness(checks map[string]Pinger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		status := http.StatusOK
		result := map[string]string{}
		for name, p := range checks {
			if err := p.Ping(ctx); err != nil {
				result[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			result[name] = "ok"
		}
		overall := "ok"
		if status != http.StatusOK {
			overall = "unavailable"
		}
		writeJSON(w, status, map[string]any{"status": overall, "checks": result})
	})
}
