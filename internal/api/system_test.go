package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/crmchat/internal/store"
	"github.com/go-chi/chi/v5"
)

func TestSystem_Health(t *testing.T) {
	down := PingerFunc(func(context.Context) error { return errors.New("down") })
	up := PingerFunc(func(context.Context) error { return nil })

	tests := []struct {
		name       string
		store      Pinger
		chat       Pinger
		wantStatus int
		want       healthResponse
	}{
		{"all up", store.NewMemory(), up, http.StatusOK, healthResponse{"ok", "ok", "ok"}},
		{"chat disabled", store.NewMemory(), nil, http.StatusOK, healthResponse{"ok", "ok", "disabled"}},
		{"chat down", store.NewMemory(), down, http.StatusOK, healthResponse{"ok", "ok", "unavailable"}},
		{"store down", down, up, http.StatusServiceUnavailable, healthResponse{"degraded", "unavailable", "ok"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := chi.NewRouter()
			NewSystemHandler(tt.store, tt.chat, ClientConfig{}).RegisterHealth(r)

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := decode[healthResponse](t, rec); got != tt.want {
				t.Errorf("body = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSystem_Config(t *testing.T) {
	want := ClientConfig{WelcomeMessage: "Hi", ChatEnabled: true, RealtimeEnabled: true}
	r := chi.NewRouter()
	r.Route("/api", NewSystemHandler(store.NewMemory(), nil, want).RegisterRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	if got := decode[ClientConfig](t, rec); got != want {
		t.Errorf("config = %+v, want %+v", got, want)
	}
}
