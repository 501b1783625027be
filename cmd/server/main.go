package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medication-reminder/internal/config"
	"medication-reminder/internal/database"
	"medication-reminder/internal/handlers"
	"medication-reminder/internal/history"
	"medication-reminder/internal/medication"
	"medication-reminder/internal/middleware"
	"medication-reminder/internal/notify"
	"medication-reminder/internal/scheduler"
	"medication-reminder/internal/service"
	"medication-reminder/internal/services"
	"medication-reminder/internal/state"
	"medication-reminder/internal/stats"
	"medication-reminder/internal/store"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Open the durable store
	docStore, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer docStore.Close()

	clock := scheduler.System()

	historyStore := history.New(docStore, clock)
	historyStore.Load()

	stateRegistry := state.NewRegistry()
	notifier := notify.NewManager()
	notifier.Register(notify.NewLogChannel())

	registry := medication.NewRegistry()
	svc := service.New(registry)

	// Telegram channel (optional)
	var telegram *notify.TelegramChannel
	if cfg.Telegram.Enabled {
		telegram, err = notify.NewTelegramChannel(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			log.Fatalf("Failed to configure telegram channel: %v", err)
		}
		telegram.OnAction = func(action, entityID string, minutes *int) {
			svc.HandleNotificationAction(service.ActionEvent{
				Action: action,
				Data:   service.ActionEventData{EntityID: entityID, Minutes: minutesValue(minutes)},
			})
		}
		if err := telegram.Start(context.Background()); err != nil {
			log.Fatalf("Failed to start telegram channel: %v", err)
		}
		defer telegram.Stop()
		notifier.Register(telegram)
	}

	// Activate configured medications with their derived sensors
	entries, err := config.LoadMedications(cfg.Medications.Path)
	if err != nil {
		log.Fatalf("Failed to load medications: %v", err)
	}
	var sensors []interface{ Close() }
	for _, entry := range entries {
		m, err := medication.New(medication.Config{
			Name:               entry.Name,
			Dose:               entry.Dose,
			Times:              entry.Times,
			SnoozeMinutes:      entry.SnoozeMinutes,
			NotifyServices:     entry.NotifyServices,
			NagIntervalMinutes: entry.NagIntervalMinutes,
			NagMax:             entry.NagMax,
			RefillThreshold:    entry.RefillThreshold,
			UnitsPerIntake:     entry.UnitsPerIntake,
		}, historyStore, notifier, stateRegistry, clock)
		if err != nil {
			log.Fatalf("Failed to create medication %q: %v", entry.Name, err)
		}
		if err := registry.Add(m); err != nil {
			log.Fatalf("Failed to register medication %q: %v", entry.Name, err)
		}
		m.Start()

		timesPerDay := len(m.Config().Times)
		adherence := stats.NewAdherenceSensor(m.ID(), entry.Name, timesPerDay, historyStore, stateRegistry, clock)
		adherence.Start()
		statsSensor := stats.NewStatsSensor(m.ID(), entry.Name, timesPerDay, historyStore, stateRegistry, clock)
		statsSensor.Start()
		sensors = append(sensors, adherence, statsSensor)

		log.Printf("Activated %s (entry %s) at %v", m.ID(), m.EntryID(), m.Config().Times)
	}
	defer registry.CloseAll()
	defer func() {
		for _, s := range sensors {
			s.Close()
		}
	}()

	// Nightly maintenance sweep
	if cfg.Maintenance.Enabled {
		maintenance := services.NewMaintenanceService(historyStore, registry)
		if err := maintenance.Start(cfg.Maintenance.Schedule); err != nil {
			log.Fatalf("Failed to start maintenance service: %v", err)
		}
		defer maintenance.Stop()
	}

	rateLimiter := middleware.NewRateLimiter(cfg.Security.RateLimitRequests, cfg.Security.RateLimitWindow)

	// Initialize router
	r := chi.NewRouter()

	// Apply global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(rateLimiter.Middleware)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://localhost:*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Link"},
		MaxAge:         300,
	}))

	r.Get("/health", handlers.HandleHealth())

	r.Route("/api", func(r chi.Router) {
		r.Route("/services/medication", func(r chi.Router) {
			r.Post("/mark_taken", handlers.HandleMarkTaken(svc))
			r.Post("/mark_skipped", handlers.HandleMarkSkipped(svc))
			r.Post("/mark_snoozed", handlers.HandleMarkSnoozed(svc))
			r.Post("/mark_pending", handlers.HandleMarkPending(svc))
			r.Post("/refill_set", handlers.HandleRefillSet(svc))
			r.Post("/refill_add", handlers.HandleRefillAdd(svc))
			r.Post("/refill_acknowledge", handlers.HandleRefillAcknowledge(svc))
		})

		r.Post("/events/notification_action", handlers.HandleNotificationEvent(svc))

		r.Get("/states", handlers.HandleGetStates(stateRegistry))
		r.Get("/states/{entityID}", handlers.HandleGetState(stateRegistry))
		r.Get("/medications/{entityID}/history", handlers.HandleGetHistory(historyStore, registry))

		r.Get("/export/pdf", handlers.HandleExportPDF(registry, historyStore))
		r.Get("/export/csv", handlers.HandleExportCSV(registry, historyStore))
	})

	addr := ":" + cfg.Server.Port
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Medication reminder server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for shutdown signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "file":
		return store.NewFileStore(cfg.Store.Path)
	default:
		db, err := database.Open(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		s, err := store.NewSQLiteStore(db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return s, nil
	}
}

func minutesValue(minutes *int) any {
	if minutes == nil {
		return nil
	}
	return *minutes
}
