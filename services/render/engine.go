package render

import (
	"bytes"
	"constancias/models"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gofiber/template/html/v2"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templatesFS embed.FS

const convertPath = "/forms/chromium/convert/html"

var ErrEngineClosed = errors.New("render: engine closed")

// Document is a record ready to render, QRCode is a data URL or empty.
type Document struct {
	models.CertificateRecord
	QRCode string
}

// Engine renders certificates to PDF through a Gotenberg (headless Chromium)
// service. The HTTP client and the parsed templates are created on first use
// and shared by every document until Close.
type Engine struct {
	baseURL string
	timeout time.Duration
	logger  *zap.Logger

	once    sync.Once
	initErr error
	client  *resty.Client
	views   *html.Engine

	mu     sync.RWMutex
	closed bool
}

func NewEngine(baseURL string, timeout time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		baseURL: baseURL,
		timeout: timeout,
		logger:  logger.With(zap.String("service", "render")),
	}
}

func (e *Engine) init() error {
	e.once.Do(func() {
		sub, err := fs.Sub(templatesFS, "templates")
		if err != nil {
			e.initErr = err
			return
		}
		views := html.NewFileSystem(http.FS(sub), ".html")
		if err := views.Load(); err != nil {
			e.initErr = fmt.Errorf("load templates: %w", err)
			return
		}
		e.views = views
		e.client = resty.New().SetBaseURL(e.baseURL)
		e.logger.Info("Render engine started", zap.String("url", e.baseURL))
	})
	return e.initErr
}

// session is the per-document slice of the engine: its own deadline and
// request, released after the document regardless of outcome.
type session struct {
	req    *resty.Request
	cancel context.CancelFunc
}

func (e *Engine) acquire(ctx context.Context) (*session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	if err := e.init(); err != nil {
		return nil, err
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		return &session{req: e.client.R().SetContext(ctx), cancel: cancel}, nil
	}
	return &session{req: e.client.R().SetContext(ctx), cancel: func() {}}, nil
}

func (s *session) release() { s.cancel() }

// Render produces the PDF of one certificate.
func (e *Engine) Render(ctx context.Context, doc Document) ([]byte, error) {
	s, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.release()

	page, err := e.page(doc)
	if err != nil {
		return nil, err
	}

	resp, err := s.req.
		SetFileReader("files", "index.html", bytes.NewReader(page)).
		SetMultipartFormData(map[string]string{
			"paperWidth":      "8.5",
			"paperHeight":     "11",
			"marginTop":       "0.5",
			"marginBottom":    "0.5",
			"marginLeft":      "0.5",
			"marginRight":     "0.5",
			"printBackground": "true",
		}).
		Post(convertPath)
	if err != nil {
		return nil, fmt.Errorf("convert: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("convert: %s: %s", resp.Status(), truncate(resp.String(), 200))
	}
	if len(resp.Body()) == 0 {
		return nil, errors.New("convert: empty document")
	}
	return resp.Body(), nil
}

// RenderBatch renders docs in order with the shared engine. The first
// failure aborts the whole batch.
func (e *Engine) RenderBatch(ctx context.Context, docs []Document) ([][]byte, error) {
	out := make([][]byte, 0, len(docs))
	for i, doc := range docs {
		pdf, err := e.Render(ctx, doc)
		if err != nil {
			return nil, fmt.Errorf("document %d (%s): %w", i, doc.FullName, err)
		}
		out = append(out, pdf)
	}
	e.logger.Debug("Batch rendered", zap.Int("documents", len(out)))
	return out, nil
}

func (e *Engine) page(doc Document) ([]byte, error) {
	period := ""
	if doc.CourseStartDate != "" && doc.CourseEndDate != "" {
		period = fmt.Sprintf("del %s al %s", doc.CourseStartDate, doc.CourseEndDate)
	}
	binding := map[string]interface{}{
		"FullName":         doc.FullName,
		"CourseName":       doc.CourseName,
		"Hours":            doc.Hours,
		"Period":           period,
		"StudentID":        doc.StudentID,
		"NationalID":       doc.NationalID,
		"IssueDate":        doc.IssueDate,
		"ExpiryDate":       doc.ExpiryDate,
		"VerificationCode": doc.VerificationCode,
		// data: URLs are filtered by html/template unless marked safe
		"QRCode": template.URL(doc.QRCode),
	}

	var buf bytes.Buffer
	if err := e.views.Render(&buf, "certificate", binding); err != nil {
		return nil, fmt.Errorf("template: %w", err)
	}
	return buf.Bytes(), nil
}

// Close releases the shared HTTP client. Call once at shutdown.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	if e.client != nil {
		e.client.GetClient().CloseIdleConnections()
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
