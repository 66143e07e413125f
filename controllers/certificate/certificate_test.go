package certificateController

import (
	"bytes"
	"constancias/metrics"
	"constancias/models"
	"constancias/services/issuance"
	"constancias/services/registry"
	certificateValidator "constancias/validators/certificate"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubIssuer struct {
	err     error
	batches [][]models.CertificateRecord
	sources []string
}

func (s *stubIssuer) IssueBatch(ctx context.Context, records []models.CertificateRecord) ([]issuance.Outcome, error) {
	s.batches = append(s.batches, records)
	s.sources = append(s.sources, issuance.SourceFrom(ctx))
	if s.err != nil {
		return nil, s.err
	}
	outcomes := make([]issuance.Outcome, len(records))
	for i, r := range records {
		outcomes[i] = issuance.Outcome{Name: r.FullName, VerificationCode: fmt.Sprintf("ENS-%03d", i+1)}
		if r.FullName == "FALLA" {
			outcomes[i].Error = "upload failed"
			continue
		}
		outcomes[i].Success = true
		outcomes[i].Registered = true
		outcomes[i].URL = "https://blob.test/" + r.FullName + ".pdf"
	}
	return outcomes, nil
}

func (s *stubIssuer) IssueOne(ctx context.Context, rec models.CertificateRecord) (issuance.Outcome, error) {
	outcomes, err := s.IssueBatch(ctx, []models.CertificateRecord{rec})
	if err != nil {
		return issuance.Outcome{}, err
	}
	if !outcomes[0].Success {
		return outcomes[0], fmt.Errorf("%w: %s", issuance.ErrNotIssued, outcomes[0].Error)
	}
	return outcomes[0], nil
}

type stubRegistry struct {
	students map[string]bool
	certs    map[string]*models.Certificate
	err      error
}

func (s *stubRegistry) CreateOrGetStudent(ctx context.Context, studentID, nationalID, fullName string) (registry.StudentResult, error) {
	if s.err != nil {
		return registry.StudentResult{}, s.err
	}
	created := !s.students[studentID]
	s.students[studentID] = true
	return registry.StudentResult{ID: 1, StudentID: studentID, NationalID: nationalID, FullName: fullName, Created: created}, nil
}

func (s *stubRegistry) FindByCode(ctx context.Context, code string) (*models.Certificate, error) {
	if cert, ok := s.certs[code]; ok {
		return cert, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubRegistry) CertificatesOf(ctx context.Context, studentID string) ([]models.Certificate, error) {
	var out []models.Certificate
	for _, cert := range s.certs {
		if cert.Student.StudentID == studentID {
			out = append(out, *cert)
		}
	}
	return out, nil
}

func (s *stubRegistry) ListBatches(ctx context.Context, offset, limit int) ([]models.IssuanceLog, int64, error) {
	entries := []models.IssuanceLog{{Source: "api", Total: 3}, {Source: "import", Total: 1}}
	if offset >= len(entries) {
		return nil, int64(len(entries)), nil
	}
	end := offset + limit
	if end > len(entries) {
		end = len(entries)
	}
	return entries[offset:end], int64(len(entries)), nil
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func setup(t *testing.T) (*fiber.App, *stubIssuer, *stubRegistry) {
	t.Helper()
	issuer := &stubIssuer{}
	reg := &stubRegistry{
		students: map[string]bool{},
		certs: map[string]*models.Certificate{
			"ENS-202-PRI-20250228-041": {
				Student:          models.Student{StudentID: "20231234", FullName: "ANA LOPEZ"},
				CourseName:       "PRIMEROS AUXILIOS",
				VerificationCode: "ENS-202-PRI-20250228-041",
				Hours:            20,
				ArtifactURL:      "https://blob.test/ana.pdf",
			},
		},
	}
	h := NewCertificateHandler(issuer, reg, nil, metrics.NewCollector(), 0, zap.NewNop())

	app := fiber.New()
	app.Post("/issue", certificateValidator.IssueCertificate(), h.Issue)
	app.Post("/batch", certificateValidator.IssueBatch(), h.IssueBatch)
	app.Post("/import", certificateValidator.ImportRoster(), h.ImportRoster)
	app.Get("/verify/:code", certificateValidator.VerifyCode(), h.Verify)
	app.Post("/students", certificateValidator.CreateStudent(), h.CreateStudent)
	app.Get("/metrics", h.Metrics)
	app.Get("/students/:studentId/certificates", h.StudentCertificates)
	app.Get("/batches", certificateValidator.Page(), h.Batches)
	return app, issuer, reg
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	return do(t, app, req)
}

func do(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, envelope) {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func TestIssue(t *testing.T) {
	app, issuer, _ := setup(t)

	resp, env := doJSON(t, app, http.MethodPost, "/issue", map[string]interface{}{
		"full_name": "  ANA  ", "course_name": "Ética", "hours": 10, "national_id": "lopa000101mdfxxx01",
	})
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.True(t, env.Status)

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "https://blob.test/ANA.pdf", data["url"])
	assert.Equal(t, "ENS-001", data["verification_code"])

	require.Len(t, issuer.batches, 1)
	assert.Equal(t, "LOPA000101MDFXXX01", issuer.batches[0][0].NationalID)
	assert.Equal(t, "api", issuer.sources[0])
}

func TestIssueValidation(t *testing.T) {
	app, issuer, _ := setup(t)

	resp, env := doJSON(t, app, http.MethodPost, "/issue", map[string]interface{}{
		"full_name": "ANA", "hours": 0, "national_id": "SHORT",
	})
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)

	var fields map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &fields))
	assert.Contains(t, fields, "course_name")
	assert.Contains(t, fields, "hours")
	assert.Contains(t, fields, "national_id")
	assert.Empty(t, issuer.batches)
}

func TestIssueUploadFailure(t *testing.T) {
	app, _, _ := setup(t)

	resp, env := doJSON(t, app, http.MethodPost, "/issue", map[string]interface{}{
		"full_name": "FALLA", "course_name": "Ética", "hours": 10,
	})
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
	assert.False(t, env.Status)
	assert.Equal(t, "upload failed", env.Message)
}

func TestIssueBatchSummary(t *testing.T) {
	app, _, _ := setup(t)

	resp, env := doJSON(t, app, http.MethodPost, "/batch", []map[string]interface{}{
		{"full_name": "ANA", "course_name": "Uno", "hours": 1},
		{"full_name": "FALLA", "course_name": "Dos", "hours": 1},
		{"full_name": "EVA", "course_name": "Tres", "hours": 1},
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var data struct {
		Outcomes []issuance.Outcome `json:"outcomes"`
		Summary  Summary            `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Len(t, data.Outcomes, 3)
	assert.Equal(t, "FALLA", data.Outcomes[1].Name)
	assert.Equal(t, Summary{Total: 3, Succeeded: 2, Failed: 1}, data.Summary)
}

func TestIssueBatchEmpty(t *testing.T) {
	app, issuer, _ := setup(t)

	resp, _ := doJSON(t, app, http.MethodPost, "/batch", []map[string]interface{}{})
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
	assert.Empty(t, issuer.batches)
}

func TestIssueBatchAborted(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: timeout", issuance.ErrCounterUnavailable), fiber.StatusServiceUnavailable},
		{fmt.Errorf("%w: chromium", issuance.ErrRenderFailed), fiber.StatusBadGateway},
		{errors.New("boom"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			app, issuer, _ := setup(t)
			issuer.err = tt.err

			resp, env := doJSON(t, app, http.MethodPost, "/batch", []map[string]interface{}{
				{"full_name": "ANA", "course_name": "Uno", "hours": 1},
			})
			assert.Equal(t, tt.code, resp.StatusCode)
			assert.False(t, env.Status)
		})
	}
}

func TestImportRoster(t *testing.T) {
	app, issuer, _ := setup(t)

	f := excelize.NewFile()
	rows := [][]interface{}{
		{"Nombre", "Matrícula", "CURP", `[Ética] (10) {01/marzo/2025} "31/marzo/2025"`},
		{"Ana", "111", "AAAA000101MDFXXX01", "REALIZADO"},
		{"Beto", "222", "BBBB000101MDFXXX01", "REALIZADO"},
	}
	for r, row := range rows {
		ref, _ := excelize.CoordinatesToCellName(1, r+1)
		require.NoError(t, f.SetSheetRow("Sheet1", ref, &row))
	}
	book, err := f.WriteToBuffer()
	require.NoError(t, err)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "grupo-a.xlsx")
	require.NoError(t, err)
	_, err = part.Write(book.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, env := do(t, app, req)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode, env.Message)

	require.Len(t, issuer.batches, 1)
	assert.Len(t, issuer.batches[0], 2)
	assert.Equal(t, "import", issuer.sources[0])
}

func TestImportRosterRejectsOtherFiles(t *testing.T) {
	app, _, _ := setup(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("file", "grupo.csv")
	part.Write([]byte("a,b"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, _ := do(t, app, req)
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
}

func TestVerify(t *testing.T) {
	app, _, _ := setup(t)

	resp, env := doJSON(t, app, http.MethodGet, "/verify/ens-202-pri-20250228-041", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "ANA LOPEZ", data["full_name"])
	assert.Equal(t, "https://blob.test/ana.pdf", data["url"])

	resp, _ = doJSON(t, app, http.MethodGet, "/verify/ENS-000", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestCreateStudent(t *testing.T) {
	app, _, reg := setup(t)
	body := map[string]string{"student_id": "20231234", "national_id": "LOPA000101MDFXXX01", "full_name": "Ana"}

	resp, _ := doJSON(t, app, http.MethodPost, "/students", body)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/students", body)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	reg.err = &registry.Error{Kind: registry.KindMissingFields, Fields: []string{"full_name"}}
	resp, env := doJSON(t, app, http.MethodPost, "/students", body)
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, string(env.Data), "full_name")
}

func TestMetrics(t *testing.T) {
	app, _, _ := setup(t)

	doJSON(t, app, http.MethodGet, "/verify/ENS-000", nil)
	resp, env := doJSON(t, app, http.MethodGet, "/metrics", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(env.Data), "not_found")
}

func TestStudentCertificates(t *testing.T) {
	app, _, _ := setup(t)

	resp, env := doJSON(t, app, http.MethodGet, "/students/20231234/certificates", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(env.Data), "PRIMEROS AUXILIOS")

	resp, _ = doJSON(t, app, http.MethodGet, "/students/999/certificates", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestBatches(t *testing.T) {
	app, _, _ := setup(t)

	resp, env := doJSON(t, app, http.MethodGet, "/batches?page=2&limit=1", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var data struct {
		Batches    []models.IssuanceLog   `json:"batches"`
		Pagination map[string]interface{} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Len(t, data.Batches, 1)
	assert.Equal(t, "import", data.Batches[0].Source)
	assert.EqualValues(t, 2, data.Pagination["total"])

	resp, _ = doJSON(t, app, http.MethodGet, "/batches?limit=500", nil)
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
}
