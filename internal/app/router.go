package app

import (
	"database/sql"
	"net/http"

	"drp/internal/app/observability"
	"drp/internal/audit"
	"drp/internal/auth"
	"drp/internal/export"
	"drp/internal/questionnaire"
	"drp/internal/respondent"
	"drp/internal/submission"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Deps are the collaborators main builds before the router.
type Deps struct {
	Files         submission.FileStore
	PublicLimiter Limiter
	LoginLimiter  Limiter
	Mailer        respondent.InvitationMailer
}

func NewRouter(cfg Config, db *sql.DB, deps Deps) http.Handler {
	if deps.PublicLimiter == nil {
		deps.PublicLimiter = NewIPRateLimiter(cfg.PublicRateLimit, cfg.RateLimitWindow)
	}
	if deps.LoginLimiter == nil {
		deps.LoginLimiter = NewIPRateLimiter(cfg.LoginRateLimit, cfg.RateLimitWindow)
	}

	collector := observability.NewCollector(db)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(collector.Middleware)
	r.Use(CORSMiddleware(cfg.FrontendOrigin))

	auditLog := audit.NewLogger(db)

	authSvc := auth.NewService(db, auth.ServiceConfig{
		JWTSecret: cfg.JWTSecret,
		TokenTTL:  cfg.JWTTTL,
	})
	authHandler := auth.NewHandler(authSvc)

	questionnaireSvc := questionnaire.NewService(db, auditLog, deps.Files)
	questionnaireHandler := questionnaire.NewHandler(questionnaireSvc)

	respondentSvc := respondent.NewService(db, respondent.ServiceConfig{
		Audit:         auditLog,
		Files:         deps.Files,
		Mailer:        deps.Mailer,
		PublicBaseURL: cfg.PublicBaseURL,
	})
	respondentHandler := respondent.NewHandler(respondentSvc)

	submissionSvc := submission.NewService(submission.NewPostgresStore(db), submission.ServiceConfig{
		Files:        deps.Files,
		Audit:        auditLog,
		MaxFileBytes: cfg.UploadMaxBytes,
	})
	submissionHandler := submission.NewHandler(submissionSvc, cfg.UploadMaxBytes)

	exportSvc := export.NewService(db, auditLog, deps.Files)
	exportHandler := export.NewHandler(exportSvc)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/metrics", collector.MetricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		api.Group(func(login chi.Router) {
			login.Use(RateLimitMiddleware(deps.LoginLimiter, "login"))
			login.Post("/auth/register", authHandler.Register)
			login.Post("/auth/login", authHandler.Login)
		})

		api.Route("/r/{token}", func(pub chi.Router) {
			pub.Use(RateLimitMiddleware(deps.PublicLimiter, "public"))
			pub.Get("/", submissionHandler.Form)
			pub.Post("/access", submissionHandler.Access)
			pub.Get("/submission", submissionHandler.GetSubmission)
			pub.Put("/autosave", submissionHandler.Autosave)
			pub.Post("/submit", submissionHandler.Submit)
			pub.Post("/files", submissionHandler.UploadFile)
			pub.Get("/files/{fileID}", submissionHandler.DownloadFile)
			pub.Delete("/files/{fileID}", submissionHandler.DeleteFile)
		})

		api.Group(func(secure chi.Router) {
			secure.Use(authHandler.RequireAuth)
			secure.Use(CSRFMiddleware(cfg.CSRFEnforced))
			secure.Get("/auth/me", authHandler.Me)

			secure.Get("/templates", questionnaireHandler.ListTemplates)
			secure.Post("/templates", questionnaireHandler.CreateTemplate)
			secure.Get("/templates/{templateID}", questionnaireHandler.GetTemplate)
			secure.Put("/templates/{templateID}", questionnaireHandler.UpdateTemplate)

			secure.Get("/questionnaires", questionnaireHandler.List)
			secure.Post("/questionnaires", questionnaireHandler.Create)
			secure.Route("/questionnaires/{id}", func(q chi.Router) {
				q.Get("/", questionnaireHandler.Get)
				q.Put("/", questionnaireHandler.UpdateMetadata)
				q.Delete("/", questionnaireHandler.Delete)
				q.Put("/definition", questionnaireHandler.UpdateDefinition)
				q.Post("/archive", questionnaireHandler.Archive)
				q.Post("/clone", questionnaireHandler.Clone)
				q.Post("/publish", questionnaireHandler.Publish)
				q.Get("/versions", questionnaireHandler.ListVersions)
				q.Get("/versions/{version}", questionnaireHandler.GetVersion)
				q.Get("/dashboard", questionnaireHandler.Dashboard)

				q.Get("/export", exportHandler.Download)
				q.Get("/export/preview", exportHandler.Preview)

				q.Get("/respondents", respondentHandler.List)
				q.Post("/respondents", respondentHandler.Create)
				q.Post("/respondents/import", respondentHandler.Import)
				q.Post("/respondents/import-excel", respondentHandler.ImportExcel)
				q.Get("/respondents/export-excel", respondentHandler.ExportExcel)
				q.Put("/respondents/validity", respondentHandler.BulkUpdateValidity)
				q.Post("/respondents/invitations", respondentHandler.SendInvitations)
				q.Put("/respondents/{respondentID}", respondentHandler.Update)
				q.Delete("/respondents/{respondentID}", respondentHandler.Delete)
				q.Post("/respondents/{respondentID}/rotate-token", respondentHandler.RotateToken)
				q.Post("/respondents/{respondentID}/lock", respondentHandler.Lock)
				q.Post("/respondents/{respondentID}/unlock", respondentHandler.Unlock)
				q.Post("/respondents/{respondentID}/rebind", respondentHandler.Rebind)
				q.Get("/respondents/{respondentID}/submission", respondentHandler.SubmissionDetail)
			})

			secure.Group(func(admin chi.Router) {
				admin.Use(authHandler.RequireRoles(auth.RoleAdmin))
				admin.Get("/admin/users", authHandler.ListUsers)
				admin.Put("/admin/users/{id}", authHandler.UpdateUser)
			})
		})
	})

	return r
}
