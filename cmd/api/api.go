package main

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/config"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/store"
)

type application struct {
	addr     string
	settings *config.Settings
	store    *store.Storage
}

func (app *application) mount() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", app.healthCheckHandler)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/runs", app.handleListRuns)
			r.Get("/runs/{id}/checks", app.handleGetRunChecks)
		})
		r.Get("/indicators", app.handleListIndicators)
		r.Get("/rankings/priority", app.handleGetPriorityRanking)
	})

	return r
}

func (app *application) run(mux http.Handler) error {
	srv := &http.Server{
		Addr:         app.addr,
		Handler:      mux,
		WriteTimeout: time.Second * 120,
		ReadTimeout:  time.Second * 40,
		IdleTimeout:  time.Minute,
	}

	log.Printf("Server started on %s", app.addr)
	return srv.ListenAndServe()
}
