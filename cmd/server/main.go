package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/greenfelt/backend/internal/config"
	"github.com/greenfelt/backend/internal/database"
	"github.com/greenfelt/backend/internal/handlers"
	mW "github.com/greenfelt/backend/internal/middleware"
	"github.com/greenfelt/backend/internal/models"
	"github.com/greenfelt/backend/internal/services"
)

// @title Greenfelt Floor API
// @version 1.0
// @description Table session ledger and shift accounting for casino floors
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	casinoCfg := config.LoadCasinoConfig()

	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	authService := services.NewAuthService(db, redisClient)
	sessionService := services.NewSessionService(db, redisClient, casinoCfg)
	chipService := services.NewChipService(db)
	shiftService := services.NewShiftService(db)
	rakeService := services.NewRakeService(db)
	staffService := services.NewStaffService(db)
	adjustmentService := services.NewAdjustmentService(db)
	reportService := services.NewReportService(db, casinoCfg)
	historyHandler := handlers.NewHistoryHandler(services.NewHistoryService(db))

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/account", authService.GetAccount)

			// Session lifecycle and staffing
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireCapability(models.CapRunSessions))

				r.Post("/sessions", sessionService.Create)
				r.Get("/sessions/open", sessionService.GetOpen)
				r.Post("/sessions/{sessionId}/close", sessionService.Close)

				r.Get("/sessions/{sessionId}/staff", shiftService.GetStaff)
				r.Post("/sessions/{sessionId}/dealers", shiftService.AddDealer)
				r.Post("/sessions/{sessionId}/dealers/remove", shiftService.RemoveDealer)
				r.Post("/sessions/{sessionId}/dealers/replace", shiftService.ReplaceDealer)
				r.Post("/sessions/{sessionId}/waiters", shiftService.AddWaiter)
				r.Post("/sessions/{sessionId}/waiters/remove", shiftService.RemoveWaiter)
				r.Post("/assignments/{assignmentId}/rake-entries", shiftService.AddRakeEntry)

				r.Get("/staff/dealers/available", staffService.AvailableDealers)
				r.Get("/staff/waiters/available", staffService.AvailableWaiters)
			})

			// Seat and chip operations
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireCapability(models.CapOperateSeats))

				r.Get("/sessions/{sessionId}/seats", sessionService.ListSeats)
				r.Put("/sessions/{sessionId}/seats/{seatNo}", sessionService.AssignPlayer)
				r.Delete("/sessions/{sessionId}/seats/{seatNo}", sessionService.ClearSeat)

				r.Post("/sessions/{sessionId}/chips", chipService.AddChips)
				r.Post("/sessions/{sessionId}/chips/undo", chipService.UndoLast)
				r.Get("/sessions/{sessionId}/credit", chipService.SessionCredit)
			})

			// Directory administration
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireCapability(models.CapManageTables))

				r.Post("/tables", staffService.CreateTable)
				r.Get("/tables", staffService.ListTables)
			})
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireCapability(models.CapManageUsers))

				r.Post("/staff", staffService.CreateStaff)
				r.Get("/staff", staffService.ListStaff)
				r.Patch("/staff/{userId}", staffService.UpdateStaff)
			})

			// Balance ledger
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireCapability(models.CapAdjustBalance))

				r.Post("/adjustments", adjustmentService.CreateAdjustment)
				r.Get("/adjustments", adjustmentService.ListAdjustments)
			})
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireCapability(models.CapCloseCredit))

				r.Post("/sessions/{sessionId}/close-credit", adjustmentService.CloseCredit)
			})

			// Reports and audit trails
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireCapability(models.CapViewReports))

				r.Get("/reports/day", reportService.GetDaySummary)
				r.Get("/sessions/{sessionId}/rake", rakeService.GetSessionRake)
				r.Get("/sessions/{sessionId}/name-changes", historyHandler.GetNameChanges)
				r.Get("/sessions/{sessionId}/seats/{seatNo}/ops", historyHandler.GetSeatOperations)
				r.Get("/sessions/{sessionId}/purchases", historyHandler.GetPurchases)
			})
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
