// cmd/server/main.go
package main

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/ecellhub/email-engine/internal/config"
	"github.com/ecellhub/email-engine/internal/db"
	"github.com/ecellhub/email-engine/internal/dispatch"
	"github.com/ecellhub/email-engine/internal/handler"
	"github.com/ecellhub/email-engine/internal/queue"
	"github.com/ecellhub/email-engine/internal/repository"
	"github.com/ecellhub/email-engine/internal/resolver"
	"github.com/ecellhub/email-engine/internal/service"
)

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ No .env file found, relying on OS environment variables")
	}

	cfg := config.Load()

	conn, err := db.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database init failed: %v", err)
	}
	log.Println("✅ Connected to database")

	logRepo := &repository.EmailLogRepository{DB: conn}
	userRepo := &repository.UserRepository{DB: conn}
	templateRepo := &repository.TemplateRepository{DB: conn}

	transport := dispatch.NewSMTPTransport(cfg.SMTP, cfg.DispatchConcurrency)
	defer transport.Close()
	engine := dispatch.NewEngine(transport, cfg.DispatchConcurrency, cfg.SendTimeout)

	emailService := &service.EmailService{
		Logs:      logRepo,
		Templates: templateRepo,
		Resolver:  resolver.NewResolver(userRepo),
		Engine:    engine,
	}
	statsService := &service.StatsService{Logs: logRepo}

	var publisher queue.Publisher
	if cfg.AMQPURL != "" {
		q, err := queue.Dial(cfg.AMQPURL)
		if err != nil {
			log.Fatalf("queue init failed: %v", err)
		}
		defer q.Close()
		publisher = q
	} else {
		log.Println("⚠️ AMQP_URL not set, bulk sending disabled")
	}

	emailHandler := &handler.EmailHandler{
		Service:   emailService,
		Stats:     statsService,
		Transport: transport,
		Queue:     publisher,
	}
	templateHandler := &handler.TemplateHandler{Service: emailService}

	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"OK"}`))
	})

	// Email routes
	r.Post("/emails/send", emailHandler.SendEmail)
	r.Post("/emails/send-bulk", emailHandler.SendBulkEmail)
	r.Get("/emails/logs", emailHandler.ListLogs)
	r.Get("/emails/logs/{id}", emailHandler.GetLog)
	r.Get("/emails/stats", emailHandler.GetStats)
	r.Get("/emails/test-connection", emailHandler.TestConnection)
	r.Post("/emails/resend-failed/{logId}", emailHandler.ResendFailed)

	// Template routes
	r.Post("/templates/{id}/preview", templateHandler.Preview)

	log.Println("🚀 Server running on :" + cfg.Port)
	log.Fatal(http.ListenAndServe(":"+cfg.Port, r))
}
