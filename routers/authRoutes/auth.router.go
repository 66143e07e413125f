package authRoutes

import (
	authControllers "constancias/controllers/auth"
	"constancias/middleware"
	"constancias/models"
	authValidators "constancias/validators/auth"

	"github.com/gofiber/fiber/v2"
)

func SetupAuthRoutes(app *fiber.App) {
	authGroup := app.Group("/auth")

	authGroup.Post("/login", authValidators.Login(), authControllers.Login)
	authGroup.Get("/login/history", middleware.JWTMiddleware, authValidators.LoginHistoryList(), authControllers.LoginHistoryList)
	authGroup.Put("/change/login/password", middleware.JWTMiddleware, authValidators.ChangeLoginPassword(), authControllers.ChangeLoginPassword)
	authGroup.Post("/staff", middleware.JWTMiddleware, middleware.CheckPermissionMiddleware(models.PermissionManageStaff), authValidators.CreateStaff(), authControllers.CreateStaff)
}
