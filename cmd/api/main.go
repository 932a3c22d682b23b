package main

import (
	"log"

	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/config"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/db"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/env"
	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/store"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		log.Panic(err)
	}

	pool, err := db.New(
		settings.DatabaseURL,
		settings.DBMaxOpen,
		settings.DBMaxIdle,
		settings.DBMaxIdleAge)
	if err != nil {
		log.Panic(err)
	}
	defer pool.Close()
	log.Printf("Database connection pool established")

	storage := store.NewStorage(pool)

	app := &application{
		addr:     env.GetString("ADDR", ":8080"),
		settings: settings,
		store:    storage,
	}

	mux := app.mount()

	log.Fatal(app.run(mux))
}
