package authController

import (
	"constancias/config"
	"constancias/database"
	"constancias/middleware"
	"constancias/models"
	authValidator "constancias/validators/auth"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	maxFailedLogins = 3
	blockDuration   = 5 * time.Minute
	failureWindow   = 15 * time.Minute
)

func Login(c *fiber.Ctx) error {
	reqData, ok := c.Locals("validatedLogin").(*authValidator.LoginRequest)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request data!", nil)
	}

	db := database.Database.Db

	var staff models.Staff
	email := strings.ToLower(strings.TrimSpace(reqData.Email))
	if err := db.Where("email = ? AND is_deleted = ?", email, false).First(&staff).Error; err != nil {
		return middleware.JsonResponse(c, fiber.StatusUnauthorized, false, "Invalid credentials!", nil)
	}

	if staff.IsBlocked && staff.BlockedUntil != nil && staff.BlockedUntil.After(time.Now()) {
		return middleware.JsonResponse(c, fiber.StatusUnauthorized, false, "Your account is temporarily blocked. Try again later.", nil)
	}

	if staff.LastFailedLogin != nil && time.Since(*staff.LastFailedLogin) > failureWindow {
		staff.FailedLoginAttempts = 0
		staff.LastFailedLogin = nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(staff.Password), []byte(reqData.Password)); err != nil {
		staff.FailedLoginAttempts++
		now := time.Now()
		staff.LastFailedLogin = &now

		if staff.FailedLoginAttempts >= maxFailedLogins {
			staff.IsBlocked = true
			unblockTime := now.Add(blockDuration)
			staff.BlockedUntil = &unblockTime
		}

		if err := db.Save(&staff).Error; err != nil {
			log.Printf("[AUTH] Error saving failed login for staff %d: %v", staff.ID, err)
		}
		return middleware.JsonResponse(c, fiber.StatusUnauthorized, false, "Wrong Password", nil)
	}

	now := time.Now()
	staff.LastLogin = &now
	staff.FailedLoginAttempts = 0
	staff.LastFailedLogin = nil
	staff.IsBlocked = false
	staff.BlockedUntil = nil
	if err := db.Save(&staff).Error; err != nil {
		log.Printf("[AUTH] Error saving last login time: %v", err)
	}

	ip := c.IP()
	if forwarded := c.Get("X-Forwarded-For"); forwarded != "" {
		ip = forwarded
	}
	loginTracking := models.LoginTracking{
		StaffID:   staff.ID,
		IPAddress: ip,
		Device:    c.Get("User-Agent"),
		Timestamp: now,
	}
	if err := db.Create(&loginTracking).Error; err != nil {
		log.Printf("[AUTH] Error saving login tracking details: %v", err)
	}

	token, err := middleware.GenerateJWT(staff.ID, staff.Name, staff.Role, staff.Email)
	if err != nil {
		return middleware.JsonResponse(c, fiber.StatusInternalServerError, false, "Failed to generate token", nil)
	}

	return middleware.JsonResponse(c, fiber.StatusOK, true, "Login successful.", fiber.Map{
		"staff": staff,
		"token": token,
	})
}

func CreateStaff(c *fiber.Ctx) error {
	reqData, ok := c.Locals("validatedStaff").(*authValidator.CreateStaffRequest)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request data!", nil)
	}

	staff, err := RegisterStaff(database.Database.Db, reqData.Name, reqData.Email, reqData.Password, reqData.Role)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return middleware.JsonResponse(c, fiber.StatusConflict, false, "Email is already registered!", nil)
	}
	if err != nil {
		log.Printf("[AUTH] Error creating staff: %v", err)
		return middleware.JsonResponse(c, fiber.StatusInternalServerError, false, "Failed to create staff account!", nil)
	}

	return middleware.JsonResponse(c, fiber.StatusCreated, true, "Staff account created.", staff)
}

// RegisterStaff creates a staff account and its default permissions in one
// transaction.
func RegisterStaff(db *gorm.DB, name, email, password, role string) (*models.Staff, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), config.AppConfig.SaltRound)
	if err != nil {
		return nil, err
	}

	staff := models.Staff{
		Name:     strings.TrimSpace(name),
		Email:    strings.ToLower(strings.TrimSpace(email)),
		Role:     role,
		Password: string(hashedPassword),
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Staff{}).Where("email = ?", staff.Email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return gorm.ErrDuplicatedKey
		}
		if err := tx.Create(&staff).Error; err != nil {
			return err
		}
		return SeedPermissions(tx, staff.Role, staff.ID)
	})
	if err != nil {
		return nil, err
	}
	return &staff, nil
}

// SeedPermissions seeds default permissions for a given role and staff ID
func SeedPermissions(db *gorm.DB, role string, staffID uint) error {
	var permissionRecords []models.Permission
	for _, p := range getDefaultPermissions(role) {
		permissionRecords = append(permissionRecords, models.Permission{
			StaffID:    staffID,
			Role:       role,
			Permission: p,
		})
	}
	return db.Create(&permissionRecords).Error
}

// getDefaultPermissions returns the permissions a new account starts with
func getDefaultPermissions(role string) []string {
	permissions := []string{
		models.PermissionIssue,
		models.PermissionImport,
		models.PermissionStudents,
	}
	if role == models.RoleAdmin {
		permissions = append(permissions, models.PermissionMetrics, models.PermissionManageStaff)
	}
	return permissions
}

// EnsureAdmin creates the bootstrap ADMIN account when no staff exists yet.
func EnsureAdmin(db *gorm.DB, email, password string) error {
	if email == "" || password == "" {
		return nil
	}
	var count int64
	if err := db.Model(&models.Staff{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if _, err := RegisterStaff(db, "Administrador", email, password, models.RoleAdmin); err != nil {
		return err
	}
	log.Printf("[AUTH] Bootstrap admin %s created", email)
	return nil
}

func LoginHistoryList(c *fiber.Ctx) error {
	staffID, ok := c.Locals("staffId").(uint)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusUnauthorized, false, "Unauthorized!", nil)
	}

	reqData, ok := c.Locals("validatedLoginHistory").(*authValidator.LoginHistoryRequest)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request data!", nil)
	}

	offset := (*reqData.Page - 1) * (*reqData.Limit)

	var loginTracking []models.LoginTracking
	var total int64

	db := database.Database.Db
	if err := db.Where("staff_id = ? AND is_deleted = ?", staffID, false).
		Order("id DESC").
		Offset(offset).
		Limit(*reqData.Limit).
		Find(&loginTracking).
		Error; err != nil {
		return middleware.JsonResponse(c, fiber.StatusInternalServerError, false, "Failed to fetch login history!", nil)
	}

	db.Model(&models.LoginTracking{}).Where("staff_id = ? AND is_deleted = ?", staffID, false).Count(&total)

	response := map[string]interface{}{
		"loginTracking": loginTracking,
		"pagination": map[string]interface{}{
			"total": total,
			"page":  *reqData.Page,
			"limit": *reqData.Limit,
		},
	}

	return middleware.JsonResponse(c, fiber.StatusOK, true, "Login History List.", response)
}

func ChangeLoginPassword(c *fiber.Ctx) error {
	staffID, ok := c.Locals("staffId").(uint)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusUnauthorized, false, "Invalid staff session!", nil)
	}

	reqData, ok := c.Locals("validatedPassword").(*authValidator.ChangePasswordRequest)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request data!", nil)
	}

	db := database.Database.Db

	var staff models.Staff
	if err := db.Where("id = ? AND is_deleted = ?", staffID, false).First(&staff).Error; err != nil {
		return middleware.JsonResponse(c, fiber.StatusUnauthorized, false, "Staff account not found!", nil)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(staff.Password), []byte(reqData.CurrentPassword)); err != nil {
		return middleware.JsonResponse(c, fiber.StatusUnauthorized, false, "Current password is incorrect!", nil)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(reqData.NewPassword), config.AppConfig.SaltRound)
	if err != nil {
		return middleware.JsonResponse(c, fiber.StatusInternalServerError, false, "Failed to hash password!", nil)
	}

	if err := db.Model(&staff).Update("password", string(hashedPassword)).Error; err != nil {
		log.Printf("[AUTH] Error updating staff password: %v", err)
		return middleware.JsonResponse(c, fiber.StatusInternalServerError, false, "Failed to update password!", nil)
	}

	return middleware.JsonResponse(c, fiber.StatusOK, true, "Password changed successfully.", nil)
}
