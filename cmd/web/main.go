package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"drp/internal/app"
	"drp/internal/db"
	"drp/internal/respondent"
	"drp/internal/submission"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Printf("config error: %v", err)
		os.Exit(1)
	}
	ctx := context.Background()

	dbConn, err := db.OpenPostgresWithConfig(ctx, cfg.DBDSN, db.PostgresConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifeMins) * time.Minute,
	})
	if err != nil {
		log.Printf("database error: %v", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	if err := db.EnsureSchema(ctx, dbConn); err != nil {
		log.Printf("schema error: %v", err)
		os.Exit(1)
	}

	files, err := submission.NewDiskStore(cfg.UploadDir)
	if err != nil {
		log.Printf("upload dir error: %v", err)
		os.Exit(1)
	}

	deps := app.Deps{Files: files}
	if cfg.RedisAddr != "" {
		client, err := app.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Printf("redis unavailable, using in-memory rate limits: %v", err)
		} else {
			defer client.Close()
			deps.PublicLimiter = app.NewRedisRateLimiter(client, cfg.PublicRateLimit, cfg.RateLimitWindow)
			deps.LoginLimiter = app.NewRedisRateLimiter(client, cfg.LoginRateLimit, cfg.RateLimitWindow)
		}
	}
	if mailer := respondent.NewSMTPMailer(respondent.SMTPConfig{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		User: cfg.SMTPUser,
		Pass: cfg.SMTPPass,
		From: cfg.SMTPFrom,
	}); mailer != nil {
		deps.Mailer = mailer
	} else {
		log.Printf("SMTP_HOST not set, invitation mail disabled")
	}

	r := app.NewRouter(cfg, dbConn, deps)

	log.Printf("drp web listening on %s", cfg.HTTPAddr)
	if err := http.ListenAndServe(cfg.HTTPAddr, r); err != nil {
		log.Printf("server stopped: %v", err)
		os.Exit(1)
	}
}
