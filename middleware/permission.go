package middleware

import (
	"constancias/database"
	"constancias/models"
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// CheckPermissionMiddleware returns a middleware that checks if the staff
// account has the required permission. ADMIN accounts pass every check.
func CheckPermissionMiddleware(requiredPermission string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		staffID, ok := c.Locals("staffId").(uint)
		if !ok {
			return JsonResponse(c, fiber.StatusUnauthorized, false, "Unauthorized: Staff ID not found", nil)
		}
		if role, _ := c.Locals("role").(string); role == models.RoleAdmin {
			return c.Next()
		}

		var permission models.Permission
		err := database.Database.Db.Where("staff_id = ? AND permission = ? AND is_deleted = ?",
			staffID, requiredPermission, false).First(&permission).Error

		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return JsonResponse(c, fiber.StatusForbidden, false, "You do not have permission to access this resource!", nil)
			}
			return JsonResponse(c, fiber.StatusInternalServerError, false, "Server error while checking permissions!", nil)
		}

		return c.Next()
	}
}
