// cmd/worker/main.go
package main

import (
	"context"
	"errors"
	"log"

	"github.com/joho/godotenv"

	"github.com/ecellhub/email-engine/internal/config"
	"github.com/ecellhub/email-engine/internal/db"
	"github.com/ecellhub/email-engine/internal/dispatch"
	appErrors "github.com/ecellhub/email-engine/internal/errors"
	"github.com/ecellhub/email-engine/internal/queue"
	"github.com/ecellhub/email-engine/internal/repository"
	"github.com/ecellhub/email-engine/internal/resolver"
	"github.com/ecellhub/email-engine/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ No .env file found, relying on OS environment variables")
	}

	cfg := config.Load()
	if cfg.AMQPURL == "" {
		log.Fatal("AMQP_URL is required for the worker")
	}

	conn, err := db.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database init failed: %v", err)
	}

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

	q, err := queue.Dial(cfg.AMQPURL)
	if err != nil {
		log.Fatalf("queue init failed: %v", err)
	}
	defer q.Close()

	log.Println("Worker running, waiting for dispatch jobs...")

	err = q.Consume(func(job queue.DispatchJob) error {
		log.Println("📩 Processing dispatch job:", job.JobID)

		result, err := emailService.Send(context.Background(), job.Request)
		if err != nil {
			var validationErr *appErrors.ValidationError
			if errors.As(err, &validationErr) {
				// Not retryable; requeueing would never change the outcome.
				log.Printf("⚠️ Dispatch job %s rejected: %v", job.JobID, err)
				return nil
			}
			log.Printf("⚠️ Dispatch job %s failed: %v", job.JobID, err)
			return err
		}

		log.Printf("✅ Dispatch job %s completed: log %s, %d sent, %d failed",
			job.JobID, result.Log.ID, result.Log.SuccessCount, result.Log.FailureCount)
		return nil
	})
	if err != nil {
		log.Fatalf("consumer stopped: %v", err)
	}
}
