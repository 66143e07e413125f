package authController_test

import (
	"bytes"
	"constancias/config"
	authController "constancias/controllers/auth"
	"constancias/database"
	"constancias/models"
	authRoutes "constancias/routers/authRoutes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const adminEmail = "admin@escuela.edu.mx"
const adminPassword = "cambiame123"

func setup(t *testing.T) *fiber.App {
	t.Helper()
	config.AppConfig = &config.Config{JWTKey: "test-secret", SaltRound: bcrypt.MinCost}

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	database.Database = database.DbInstance{Db: db}

	require.NoError(t, authController.EnsureAdmin(db, adminEmail, adminPassword))

	app := fiber.New()
	authRoutes.SetupAuthRoutes(app)
	return app
}

func call(t *testing.T, app *fiber.App, method, path, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func login(t *testing.T, app *fiber.App, email, password string) string {
	t.Helper()
	status, out := call(t, app, http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": password})
	require.Equal(t, fiber.StatusOK, status, out["message"])
	return out["data"].(map[string]interface{})["token"].(string)
}

func TestEnsureAdminRunsOnce(t *testing.T) {
	setup(t)
	require.NoError(t, authController.EnsureAdmin(database.Database.Db, "otro@escuela.edu.mx", adminPassword))

	var staff []models.Staff
	require.NoError(t, database.Database.Db.Find(&staff).Error)
	require.Len(t, staff, 1)
	assert.Equal(t, models.RoleAdmin, staff[0].Role)

	var permissions int64
	database.Database.Db.Model(&models.Permission{}).Where("staff_id = ?", staff[0].ID).Count(&permissions)
	assert.EqualValues(t, 5, permissions)
}

func TestLoginAndHistory(t *testing.T) {
	app := setup(t)

	token := login(t, app, "ADMIN@escuela.edu.mx", adminPassword)
	assert.NotEmpty(t, token)

	status, out := call(t, app, http.MethodGet, "/auth/login/history?page=1&limit=10", token, nil)
	require.Equal(t, fiber.StatusOK, status)
	data := out["data"].(map[string]interface{})
	assert.Len(t, data["loginTracking"], 1)

	status, _ = call(t, app, http.MethodGet, "/auth/login/history?page=0&limit=10", token, nil)
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
}

func TestLoginBlocksAfterRepeatedFailures(t *testing.T) {
	app := setup(t)

	for i := 0; i < 3; i++ {
		status, _ := call(t, app, http.MethodPost, "/auth/login", "", map[string]string{"email": adminEmail, "password": "incorrecta"})
		assert.Equal(t, fiber.StatusUnauthorized, status)
	}

	status, out := call(t, app, http.MethodPost, "/auth/login", "", map[string]string{"email": adminEmail, "password": adminPassword})
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Contains(t, out["message"], "blocked")
}

func TestCreateStaffRequiresPermission(t *testing.T) {
	app := setup(t)
	adminToken := login(t, app, adminEmail, adminPassword)

	newStaff := map[string]string{"name": "Laura", "email": "laura@escuela.edu.mx", "password": "constancias1"}
	status, _ := call(t, app, http.MethodPost, "/auth/staff", adminToken, newStaff)
	assert.Equal(t, fiber.StatusCreated, status)

	status, _ = call(t, app, http.MethodPost, "/auth/staff", adminToken, newStaff)
	assert.Equal(t, fiber.StatusConflict, status)

	staffToken := login(t, app, "laura@escuela.edu.mx", "constancias1")
	status, _ = call(t, app, http.MethodPost, "/auth/staff", staffToken,
		map[string]string{"name": "Pedro", "email": "pedro@escuela.edu.mx", "password": "constancias1"})
	assert.Equal(t, fiber.StatusForbidden, status)

	status, _ = call(t, app, http.MethodPost, "/auth/staff", "", newStaff)
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestChangeLoginPassword(t *testing.T) {
	app := setup(t)
	token := login(t, app, adminEmail, adminPassword)

	status, _ := call(t, app, http.MethodPut, "/auth/change/login/password", token, map[string]string{
		"currentPassword": "equivocada", "newPassword": "nuevaClave1", "cnfPassword": "nuevaClave1",
	})
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = call(t, app, http.MethodPut, "/auth/change/login/password", token, map[string]string{
		"currentPassword": adminPassword, "newPassword": "nuevaClave1", "cnfPassword": "nuevaClave1",
	})
	assert.Equal(t, fiber.StatusOK, status)

	login(t, app, adminEmail, "nuevaClave1")
}
