package certificateController

import (
	"constancias/metrics"
	"constancias/middleware"
	"constancias/models"
	"constancias/services/issuance"
	"constancias/services/registry"
	"constancias/services/render"
	"constancias/utils"
	certificateValidator "constancias/validators/certificate"
	"context"
	"errors"
	"fmt"
	"mime/multipart"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Issuer interface {
	IssueOne(ctx context.Context, rec models.CertificateRecord) (issuance.Outcome, error)
	IssueBatch(ctx context.Context, records []models.CertificateRecord) ([]issuance.Outcome, error)
}

type Registry interface {
	CreateOrGetStudent(ctx context.Context, studentID, nationalID, fullName string) (registry.StudentResult, error)
	FindByCode(ctx context.Context, code string) (*models.Certificate, error)
	CertificatesOf(ctx context.Context, studentID string) ([]models.Certificate, error)
	ListBatches(ctx context.Context, offset, limit int) ([]models.IssuanceLog, int64, error)
}

type Previewer interface {
	Render(ctx context.Context, doc render.Document) ([]byte, error)
}

type CertificateHandler struct {
	issuer          Issuer
	registry        Registry
	previewer       Previewer
	qr              issuance.QREncoder
	metrics         *metrics.Collector
	maxRowsPerSheet int
	logger          *zap.Logger
}

func NewCertificateHandler(issuer Issuer, reg Registry, previewer Previewer, mc *metrics.Collector, maxRowsPerSheet int, logger *zap.Logger) *CertificateHandler {
	return &CertificateHandler{
		issuer:          issuer,
		registry:        reg,
		previewer:       previewer,
		qr:              issuance.QRDataURL,
		metrics:         mc,
		maxRowsPerSheet: maxRowsPerSheet,
		logger:          logger.With(zap.String("handler", "certificate")),
	}
}

// Summary is derived from the outcome table; the pipeline does not count.
type Summary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

func Summarize(outcomes []issuance.Outcome) Summary {
	s := Summary{Total: len(outcomes)}
	for _, o := range outcomes {
		if o.Success {
			s.Succeeded++
		}
	}
	s.Failed = s.Total - s.Succeeded
	return s
}

func (h *CertificateHandler) Issue(c *fiber.Ctx) error {
	rec, ok := c.Locals("validatedRecord").(*models.CertificateRecord)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request data!", nil)
	}

	ctx := issuance.WithSource(c.UserContext(), "api")
	outcome, err := h.issuer.IssueOne(ctx, *rec)
	if err != nil {
		return h.batchError(c, err, outcome)
	}

	return middleware.JsonResponse(c, fiber.StatusCreated, true, "Certificate issued.", fiber.Map{
		"url":               outcome.URL,
		"verification_code": outcome.VerificationCode,
		"registered":        outcome.Registered,
		"warning":           outcome.Warning,
	})
}

// Preview renders one certificate as a PDF download. Nothing is allocated,
// uploaded or registered.
func (h *CertificateHandler) Preview(c *fiber.Ctx) error {
	req, ok := c.Locals("validatedPreview").(*certificateValidator.PreviewRequest)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request data!", nil)
	}

	doc := render.Document{CertificateRecord: req.Record()}
	if doc.IssueDate == "" {
		doc.IssueDate = utils.Today()
	}
	if req.ValidationURL != "" {
		qr, err := h.qr(req.ValidationURL)
		if err != nil {
			h.logger.Warn("QR generation failed, previewing without it", zap.Error(err))
		} else {
			doc.QRCode = qr
		}
	}

	pdf, err := h.previewer.Render(c.UserContext(), doc)
	if err != nil {
		h.metrics.Add("preview", "failed", 1)
		h.logger.Error("Preview failed", zap.String("code", doc.VerificationCode), zap.Error(err))
		return middleware.JsonResponse(c, fiber.StatusBadGateway, false, "Failed to render the certificate!", nil)
	}
	h.metrics.Add("preview", "rendered", 1)

	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, issuance.ArtifactFilename(doc.FullName, "")))
	return c.Status(fiber.StatusOK).Send(pdf)
}

func (h *CertificateHandler) IssueBatch(c *fiber.Ctx) error {
	records, ok := c.Locals("validatedRecords").([]models.CertificateRecord)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request data!", nil)
	}
	return h.runBatch(c, issuance.WithSource(c.UserContext(), "api"), records)
}

func (h *CertificateHandler) ImportRoster(c *fiber.Ctx) error {
	file, ok := c.Locals("validatedRoster").(*multipart.FileHeader)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request data!", nil)
	}

	f, err := file.Open()
	if err != nil {
		return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Failed to read the uploaded file!", nil)
	}
	defer f.Close()

	records, err := utils.ParseRoster(f, h.maxRowsPerSheet)
	if err != nil {
		h.logger.Warn("Roster rejected", zap.String("file", file.Filename), zap.Error(err))
		return middleware.ValidationErrorResponse(c, map[string]string{"file": "The workbook could not be read!"})
	}
	if len(records) == 0 {
		return middleware.ValidationErrorResponse(c, map[string]string{"file": "No completed courses found in the workbook!"})
	}

	h.logger.Info("Roster parsed", zap.String("file", file.Filename), zap.Int("records", len(records)))
	return h.runBatch(c, issuance.WithSource(c.UserContext(), "import"), records)
}

func (h *CertificateHandler) runBatch(c *fiber.Ctx, ctx context.Context, records []models.CertificateRecord) error {
	outcomes, err := h.issuer.IssueBatch(ctx, records)
	if err != nil {
		return h.batchError(c, err, issuance.Outcome{})
	}

	summary := Summarize(outcomes)
	message := "Batch processed."
	if summary.Failed > 0 {
		message = "Batch processed with failures."
	}
	return middleware.JsonResponse(c, fiber.StatusOK, true, message, fiber.Map{
		"outcomes": outcomes,
		"summary":  summary,
	})
}

func (h *CertificateHandler) batchError(c *fiber.Ctx, err error, outcome issuance.Outcome) error {
	switch {
	case errors.Is(err, issuance.ErrEmptyBatch):
		return middleware.ValidationErrorResponse(c, map[string]string{"records": err.Error()})
	case errors.Is(err, issuance.ErrCounterUnavailable):
		h.logger.Error("Issuance aborted", zap.Error(err))
		return middleware.JsonResponse(c, fiber.StatusServiceUnavailable, false, "The certificate registry is unavailable, try again later!", nil)
	case errors.Is(err, issuance.ErrRenderFailed):
		h.logger.Error("Issuance aborted", zap.Error(err))
		return middleware.JsonResponse(c, fiber.StatusBadGateway, false, "Certificates could not be rendered!", nil)
	case errors.Is(err, issuance.ErrNotIssued):
		return middleware.JsonResponse(c, fiber.StatusBadGateway, false, outcome.Error, outcome)
	default:
		h.logger.Error("Issuance failed", zap.Error(err))
		return middleware.JsonResponse(c, fiber.StatusInternalServerError, false, "Failed to issue certificates!", nil)
	}
}

func (h *CertificateHandler) Verify(c *fiber.Ctx) error {
	code, ok := c.Locals("validatedCode").(string)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request data!", nil)
	}

	cert, err := h.registry.FindByCode(c.UserContext(), code)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		h.metrics.Add("verify", "not_found", 1)
		return middleware.JsonResponse(c, fiber.StatusNotFound, false, "No certificate matches this verification code.", nil)
	}
	if err != nil {
		h.logger.Error("Verification lookup failed", zap.String("code", code), zap.Error(err))
		return middleware.JsonResponse(c, fiber.StatusInternalServerError, false, "Failed to verify the certificate!", nil)
	}

	h.metrics.Add("verify", "found", 1)
	return middleware.JsonResponse(c, fiber.StatusOK, true, "Valid certificate.", fiber.Map{
		"verification_code": cert.VerificationCode,
		"full_name":         cert.Student.FullName,
		"student_id":        cert.Student.StudentID,
		"course_name":       cert.CourseName,
		"hours":             cert.Hours,
		"issue_date":        cert.IssueDate,
		"expiry_date":       cert.ExpiryDate,
		"url":               cert.ArtifactURL,
	})
}

func (h *CertificateHandler) CreateStudent(c *fiber.Ctx) error {
	reqData, ok := c.Locals("validatedStudent").(*certificateValidator.StudentRequest)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request data!", nil)
	}

	student, err := h.registry.CreateOrGetStudent(c.UserContext(), reqData.StudentID, reqData.NationalID, reqData.FullName)
	if err != nil {
		var rerr *registry.Error
		if errors.As(err, &rerr) && rerr.Kind == registry.KindMissingFields {
			fields := make(map[string]string, len(rerr.Fields))
			for _, f := range rerr.Fields {
				fields[f] = "This field is required!"
			}
			return middleware.ValidationErrorResponse(c, fields)
		}
		h.logger.Error("Student registration failed", zap.Error(err))
		return middleware.JsonResponse(c, fiber.StatusInternalServerError, false, "Failed to register the student!", nil)
	}

	if student.Created {
		return middleware.JsonResponse(c, fiber.StatusCreated, true, "Student registered.", student)
	}
	return middleware.JsonResponse(c, fiber.StatusOK, true, "Student already registered.", student)
}

func (h *CertificateHandler) Metrics(c *fiber.Ctx) error {
	return middleware.JsonResponse(c, fiber.StatusOK, true, "Issuance metrics.", fiber.Map{
		"counters":  h.metrics.Counters(),
		"latencies": h.metrics.Latencies(),
	})
}

func (h *CertificateHandler) StudentCertificates(c *fiber.Ctx) error {
	studentID := c.Params("studentId")

	certs, err := h.registry.CertificatesOf(c.UserContext(), studentID)
	if err != nil {
		h.logger.Error("Listing certificates failed", zap.String("student_id", studentID), zap.Error(err))
		return middleware.JsonResponse(c, fiber.StatusInternalServerError, false, "Failed to fetch certificates!", nil)
	}
	if len(certs) == 0 {
		return middleware.JsonResponse(c, fiber.StatusNotFound, false, "No certificates found for this student!", nil)
	}

	return middleware.JsonResponse(c, fiber.StatusOK, true, "Certificates fetched successfully.", fiber.Map{
		"certificates": certs,
	})
}

func (h *CertificateHandler) Batches(c *fiber.Ctx) error {
	reqData, ok := c.Locals("validatedPage").(*certificateValidator.PageRequest)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request data!", nil)
	}

	offset := (reqData.Page - 1) * reqData.Limit
	entries, total, err := h.registry.ListBatches(c.UserContext(), offset, reqData.Limit)
	if err != nil {
		h.logger.Error("Listing batches failed", zap.Error(err))
		return middleware.JsonResponse(c, fiber.StatusInternalServerError, false, "Failed to fetch batches!", nil)
	}

	return middleware.JsonResponse(c, fiber.StatusOK, true, "Batch history.", fiber.Map{
		"batches": entries,
		"pagination": fiber.Map{
			"total": total,
			"page":  reqData.Page,
			"limit": reqData.Limit,
		},
	})
}
