package middleware

import (
	"constancias/config"
	"constancias/database"
	"constancias/models"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setup(t *testing.T) *fiber.App {
	t.Helper()
	config.AppConfig = &config.Config{JWTKey: "test-secret"}

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Staff{}, &models.Permission{}))
	sqlDB, _ := db.DB()
	t.Cleanup(func() { sqlDB.Close() })
	database.Database = database.DbInstance{Db: db}

	app := fiber.New()
	app.Get("/issue", JWTMiddleware, CheckPermissionMiddleware(models.PermissionIssue), func(c *fiber.Ctx) error {
		return JsonResponse(c, fiber.StatusOK, true, "ok", fiber.Map{"staffId": c.Locals("staffId")})
	})
	return app
}

func get(t *testing.T, app *fiber.App, auth string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/issue", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestJWTMiddlewareRejects(t *testing.T) {
	app := setup(t)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"staffId": 1, "exp": time.Now().Add(-time.Hour).Unix(),
	})
	expiredToken, err := expired.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"staffId": 1}).SignedString([]byte("other-secret"))
	require.NoError(t, err)

	noStaff, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"role": "ADMIN"}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	for name, header := range map[string]string{
		"missing":    "",
		"not bearer": "Token abc",
		"garbage":    "Bearer abc.def.ghi",
		"expired":    "Bearer " + expiredToken,
		"forged":     "Bearer " + forged,
		"no staff":   "Bearer " + noStaff,
	} {
		assert.Equal(t, fiber.StatusUnauthorized, get(t, app, header), name)
	}
}

func TestCheckPermissionMiddleware(t *testing.T) {
	app := setup(t)
	db := database.Database.Db

	staff := models.Staff{Name: "Laura", Email: "laura@escuela.edu.mx", Role: models.RoleStaff, Password: "x"}
	require.NoError(t, db.Create(&staff).Error)

	token, err := GenerateJWT(staff.ID, staff.Name, staff.Role, staff.Email)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, get(t, app, "Bearer "+token))

	require.NoError(t, db.Create(&models.Permission{StaffID: staff.ID, Role: staff.Role, Permission: models.PermissionIssue}).Error)
	assert.Equal(t, fiber.StatusOK, get(t, app, "Bearer "+token))

	adminToken, err := GenerateJWT(99, "Admin", models.RoleAdmin, "admin@escuela.edu.mx")
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, get(t, app, "Bearer "+adminToken))
}
