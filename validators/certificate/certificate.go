package certificateValidator

import (
	"constancias/middleware"
	"constancias/models"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// MaxBatchSize bounds one synchronous batch request.
const MaxBatchSize = 500

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationErrors maps each failing field to a message.
func validationErrors(err error) map[string]string {
	out := make(map[string]string)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out["body"] = err.Error()
		return out
	}
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			out[fe.Field()] = "This field is required!"
		case "gt":
			out[fe.Field()] = fmt.Sprintf("Must be greater than %s!", fe.Param())
		case "gte":
			out[fe.Field()] = fmt.Sprintf("Must be at least %s!", fe.Param())
		case "lte":
			out[fe.Field()] = fmt.Sprintf("Must be at most %s!", fe.Param())
		case "len":
			out[fe.Field()] = fmt.Sprintf("Must be exactly %s characters long!", fe.Param())
		default:
			out[fe.Field()] = "Invalid value!"
		}
	}
	return out
}

type StudentRequest struct {
	StudentID  string `json:"student_id" validate:"required"`
	NationalID string `json:"national_id" validate:"required,len=18"`
	FullName   string `json:"full_name" validate:"required"`
}

// PreviewRequest is a certificate to render without issuing it. The code is
// supplied by the caller; ValidationURL, when set, is printed as a QR code.
type PreviewRequest struct {
	FullName         string `json:"full_name" validate:"required"`
	CourseName       string `json:"course_name" validate:"required"`
	Hours            int    `json:"hours" validate:"required,gt=0"`
	CourseStartDate  string `json:"start_date"`
	CourseEndDate    string `json:"end_date"`
	IssueDate        string `json:"issue_date"`
	VerificationCode string `json:"verification_code" validate:"required"`
	ValidationURL    string `json:"validation_url" validate:"omitempty,url"`
}

func (p *PreviewRequest) Record() models.CertificateRecord {
	return models.CertificateRecord{
		FullName:         p.FullName,
		CourseName:       p.CourseName,
		Hours:            p.Hours,
		CourseStartDate:  p.CourseStartDate,
		CourseEndDate:    p.CourseEndDate,
		IssueDate:        p.IssueDate,
		VerificationCode: p.VerificationCode,
	}
}

type PageRequest struct {
	Page  int `query:"page" json:"page" validate:"required,gte=1"`
	Limit int `query:"limit" json:"limit" validate:"required,gte=1,lte=100"`
}

// IssueCertificate validator middleware
func IssueCertificate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqData := new(models.CertificateRecord)
		if err := c.BodyParser(reqData); err != nil {
			return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request body!", nil)
		}

		reqData.FullName = strings.TrimSpace(reqData.FullName)
		reqData.CourseName = strings.TrimSpace(reqData.CourseName)
		reqData.NationalID = strings.ToUpper(strings.TrimSpace(reqData.NationalID))

		if err := validate.Struct(reqData); err != nil {
			return middleware.ValidationErrorResponse(c, validationErrors(err))
		}

		c.Locals("validatedRecord", reqData)
		return c.Next()
	}
}

// PreviewCertificate validator middleware
func PreviewCertificate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqData := new(PreviewRequest)
		if err := c.BodyParser(reqData); err != nil {
			return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request body!", nil)
		}

		reqData.FullName = strings.TrimSpace(reqData.FullName)
		reqData.CourseName = strings.TrimSpace(reqData.CourseName)
		reqData.VerificationCode = strings.ToUpper(strings.TrimSpace(reqData.VerificationCode))
		reqData.ValidationURL = strings.TrimSpace(reqData.ValidationURL)

		if err := validate.Struct(reqData); err != nil {
			return middleware.ValidationErrorResponse(c, validationErrors(err))
		}

		c.Locals("validatedPreview", reqData)
		return c.Next()
	}
}

// IssueBatch validator middleware. Records are checked one by one during
// issuance so that one bad row does not reject the whole batch.
func IssueBatch() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var records []models.CertificateRecord
		if err := c.BodyParser(&records); err != nil {
			return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request body!", nil)
		}

		errors := make(map[string]string)
		if len(records) == 0 {
			errors["records"] = "At least one certificate is required!"
		} else if len(records) > MaxBatchSize {
			errors["records"] = fmt.Sprintf("A batch accepts at most %d certificates!", MaxBatchSize)
		}
		if len(errors) > 0 {
			return middleware.ValidationErrorResponse(c, errors)
		}

		c.Locals("validatedRecords", records)
		return c.Next()
	}
}

// ImportRoster validator middleware
func ImportRoster() fiber.Handler {
	return func(c *fiber.Ctx) error {
		file, err := c.FormFile("file")
		if err != nil {
			return middleware.ValidationErrorResponse(c, map[string]string{"file": "An .xlsx file is required!"})
		}
		if !strings.EqualFold(filepath.Ext(file.Filename), ".xlsx") {
			return middleware.ValidationErrorResponse(c, map[string]string{"file": "Only .xlsx files are supported!"})
		}

		c.Locals("validatedRoster", file)
		return c.Next()
	}
}

// CreateStudent validator middleware
func CreateStudent() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqData := new(StudentRequest)
		if err := c.BodyParser(reqData); err != nil {
			return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request body!", nil)
		}

		reqData.StudentID = strings.TrimSpace(reqData.StudentID)
		reqData.NationalID = strings.ToUpper(strings.TrimSpace(reqData.NationalID))
		reqData.FullName = strings.TrimSpace(reqData.FullName)

		if err := validate.Struct(reqData); err != nil {
			return middleware.ValidationErrorResponse(c, validationErrors(err))
		}

		c.Locals("validatedStudent", reqData)
		return c.Next()
	}
}

// VerifyCode validator middleware
func VerifyCode() fiber.Handler {
	return func(c *fiber.Ctx) error {
		code := strings.TrimSpace(c.Params("code"))
		if code == "" {
			return middleware.ValidationErrorResponse(c, map[string]string{"code": "Verification code is required!"})
		}
		c.Locals("validatedCode", strings.ToUpper(code))
		return c.Next()
	}
}

// Page validator middleware
func Page() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqData := &PageRequest{Page: 1, Limit: 20}
		if err := c.QueryParser(reqData); err != nil {
			return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request query!", nil)
		}
		if err := validate.Struct(reqData); err != nil {
			return middleware.ValidationErrorResponse(c, validationErrors(err))
		}

		c.Locals("validatedPage", reqData)
		return c.Next()
	}
}
