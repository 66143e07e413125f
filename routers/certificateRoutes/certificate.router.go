package certificateRoutes

import (
	certificateControllers "constancias/controllers/certificate"
	"constancias/middleware"
	"constancias/models"
	certificateValidators "constancias/validators/certificate"

	"github.com/gofiber/fiber/v2"
)

func SetupCertificateRoutes(app *fiber.App, h *certificateControllers.CertificateHandler) {
	certificateGroup := app.Group("/constancias")

	certificateGroup.Get("/verify/:code", certificateValidators.VerifyCode(), h.Verify)

	certificateGroup.Post("/issue", middleware.JWTMiddleware, middleware.CheckPermissionMiddleware(models.PermissionIssue), certificateValidators.IssueCertificate(), h.Issue)
	certificateGroup.Post("/preview", middleware.JWTMiddleware, middleware.CheckPermissionMiddleware(models.PermissionIssue), certificateValidators.PreviewCertificate(), h.Preview)
	certificateGroup.Post("/batch", middleware.JWTMiddleware, middleware.CheckPermissionMiddleware(models.PermissionIssue), certificateValidators.IssueBatch(), h.IssueBatch)
	certificateGroup.Post("/import", middleware.JWTMiddleware, middleware.CheckPermissionMiddleware(models.PermissionImport), certificateValidators.ImportRoster(), h.ImportRoster)

	app.Post("/students", middleware.JWTMiddleware, middleware.CheckPermissionMiddleware(models.PermissionStudents), certificateValidators.CreateStudent(), h.CreateStudent)
	app.Get("/students/:studentId/certificates", middleware.JWTMiddleware, middleware.CheckPermissionMiddleware(models.PermissionStudents), h.StudentCertificates)
	app.Get("/admin/batches", middleware.JWTMiddleware, middleware.CheckPermissionMiddleware(models.PermissionMetrics), certificateValidators.Page(), h.Batches)
	app.Get("/admin/metrics", middleware.JWTMiddleware, middleware.CheckPermissionMiddleware(models.PermissionMetrics), h.Metrics)
}
