package issuance

import (
	"constancias/metrics"
	"constancias/models"
	"constancias/services/registry"
	"constancias/services/render"
	"constancias/services/storage"
	"constancias/utils"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

type CounterSource interface {
	NextCounter(ctx context.Context) (int, error)
}

type Renderer interface {
	RenderBatch(ctx context.Context, docs []render.Document) ([][]byte, error)
}

type ArtifactStore interface {
	UploadBatch(ctx context.Context, artifacts []storage.Artifact) []storage.UploadOutcome
}

type Registry interface {
	CreateOrGetStudent(ctx context.Context, studentID, nationalID, fullName string) (registry.StudentResult, error)
	RegisterCertificate(ctx context.Context, p registry.CertificatePayload) (uint, error)
}

type Journal interface {
	RecordBatch(ctx context.Context, entry *models.IssuanceLog) error
}

// Deps are the collaborators of an Issuer. Journal and Metrics are optional.
type Deps struct {
	Counter       CounterSource
	Renderer      Renderer
	Store         ArtifactStore
	Registry      Registry
	Journal       Journal
	Codes         *CodeAllocator
	QR            QREncoder
	VerifyBaseURL string
	Metrics       *metrics.Collector
	Logger        *zap.Logger
}

// Issuer runs the issuance pipeline.
type Issuer struct {
	counter       CounterSource
	renderer      Renderer
	store         ArtifactStore
	registry      Registry
	journal       Journal
	codes         *CodeAllocator
	qr            QREncoder
	verifyBaseURL string
	metrics       *metrics.Collector
	logger        *zap.Logger
}

func NewIssuer(d Deps) *Issuer {
	if d.Codes == nil {
		d.Codes = NewCodeAllocator(DefaultCodePrefix)
	}
	if d.QR == nil {
		d.QR = QRDataURL
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Issuer{
		counter:       d.Counter,
		renderer:      d.Renderer,
		store:         d.Store,
		registry:      d.Registry,
		journal:       d.Journal,
		codes:         d.Codes,
		qr:            d.QR,
		verifyBaseURL: d.VerifyBaseURL,
		metrics:       d.Metrics,
		logger:        d.Logger.With(zap.String("service", "issuance")),
	}
}

// Outcome is the per-record result of a batch. Success follows the upload:
// a record whose registry write was rejected as a duplicate is still a
// success, with Registered=false and the reason in Warning.
type Outcome struct {
	Name             string `json:"name"`
	VerificationCode string `json:"verification_code,omitempty"`
	Success          bool   `json:"success"`
	URL              string `json:"url,omitempty"`
	Error            string `json:"error,omitempty"`
	Registered       bool   `json:"registered"`
	Warning          string `json:"warning,omitempty"`
}

type sourceKey struct{}

// WithSource tags the batches issued with ctx (api, import, inbox, cli) in
// the issuance journal.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

// SourceFrom returns the source set with WithSource, "api" when unset.
func SourceFrom(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok && s != "" {
		return s
	}
	return "api"
}

// item carries one valid record through the stages.
type item struct {
	index      int
	rec        models.CertificateRecord
	filename   string
	qr         string
	pdf        []byte
	upload     storage.UploadOutcome
	registered bool
	warning    string
}

// IssueBatch issues every record and returns one Outcome per record in input
// order. Each stage finishes for the whole batch before the next one starts.
// The returned error is set only when the batch aborted (empty input, counter
// unavailable, rendering failed); no outcomes are returned in that case.
func (s *Issuer) IssueBatch(ctx context.Context, records []models.CertificateRecord) ([]Outcome, error) {
	if len(records) == 0 {
		return nil, ErrEmptyBatch
	}

	batchID := uuid.New()
	log := s.logger.With(zap.String("batch_id", batchID.String()), zap.Int("records", len(records)))
	start := time.Now()
	s.metrics.Add("batches", SourceFrom(ctx), 1)

	outcomes := make([]Outcome, len(records))
	items := make([]*item, 0, len(records))
	for i, rec := range records {
		outcomes[i].Name = rec.FullName
		if problem := checkRecord(rec); problem != "" {
			outcomes[i].Error = problem
			continue
		}
		items = append(items, &item{index: i, rec: rec})
	}

	if len(items) > 0 {
		if err := s.allocate(ctx, items); err != nil {
			log.Error("Batch aborted", zap.Error(err))
			return nil, err
		}
		s.enrich(ctx, log, items)
		if err := s.render(ctx, items); err != nil {
			log.Error("Batch aborted", zap.Error(err))
			return nil, err
		}
		s.upload(ctx, items)
		s.persist(ctx, log, items)
	}

	for _, it := range items {
		o := &outcomes[it.index]
		o.VerificationCode = it.rec.VerificationCode
		o.Registered = it.registered
		o.Warning = it.warning
		if it.upload.Success && it.upload.URL != "" {
			o.Success = true
			o.URL = it.upload.URL
			continue
		}
		o.Error = it.upload.Error
		if o.Error == "" {
			o.Error = "unknown error"
		}
	}

	succeeded := 0
	for _, o := range outcomes {
		if o.Success {
			succeeded++
		}
	}
	s.metrics.Add("records", "succeeded", int64(succeeded))
	s.metrics.Add("records", "failed", int64(len(outcomes)-succeeded))
	s.metrics.Since("batch", start)

	log.Info("Batch finished",
		zap.Int("succeeded", succeeded),
		zap.Int("failed", len(outcomes)-succeeded),
		zap.Duration("took", time.Since(start)),
	)

	s.record(ctx, log, batchID, outcomes, succeeded)
	return outcomes, nil
}

// IssueOne issues a single record through the same pipeline.
func (s *Issuer) IssueOne(ctx context.Context, rec models.CertificateRecord) (Outcome, error) {
	outcomes, err := s.IssueBatch(ctx, []models.CertificateRecord{rec})
	if err != nil {
		return Outcome{}, err
	}
	o := outcomes[0]
	if !o.Success {
		return o, fmt.Errorf("%w: %s", ErrNotIssued, o.Error)
	}
	return o, nil
}

// allocate reads the counter once and gives the items the sequences base,
// base+1, ... in input order. Rejected records take no sequence.
func (s *Issuer) allocate(ctx context.Context, items []*item) error {
	start := time.Now()
	defer s.metrics.Since("allocate", start)

	base := 0
	for _, it := range items {
		if it.rec.VerificationCode == "" {
			next, err := s.counter.NextCounter(ctx)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrCounterUnavailable, err)
			}
			base = next
			break
		}
	}

	for offset, it := range items {
		it.rec.VerificationCode = s.codes.Allocate(base, offset, it.rec)
		if strings.TrimSpace(it.rec.IssueDate) == "" {
			it.rec.IssueDate = utils.Today()
		}
		it.filename = ArtifactFilename(it.rec.FullName, it.rec.VerificationCode)
	}
	return nil
}

// enrich attaches a QR code to every item in parallel. The QR points at
// VerifyBaseURL+filename, not at the URL the store returns later.
// A QR failure leaves that one certificate without a QR.
func (s *Issuer) enrich(ctx context.Context, log *zap.Logger, items []*item) {
	start := time.Now()
	defer s.metrics.Since("enrich", start)

	var g errgroup.Group
	for _, it := range items {
		it := it
		g.Go(func() error {
			qr, err := s.qr(s.verifyBaseURL + it.filename)
			if err != nil {
				s.metrics.Add("qr", "failed", 1)
				log.Warn("QR generation failed, continuing without it",
					zap.String("file", it.filename), zap.Error(err))
				return nil
			}
			it.qr = qr
			return nil
		})
	}
	_ = g.Wait()
}

// render makes one batch call; any failure aborts the batch.
func (s *Issuer) render(ctx context.Context, items []*item) error {
	start := time.Now()
	defer s.metrics.Since("render", start)

	docs := make([]render.Document, len(items))
	for i, it := range items {
		docs[i] = render.Document{CertificateRecord: it.rec, QRCode: it.qr}
	}

	pdfs, err := s.renderer.RenderBatch(ctx, docs)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}
	if len(pdfs) != len(items) {
		return fmt.Errorf("%w: got %d documents for %d records", ErrRenderFailed, len(pdfs), len(items))
	}
	for i, it := range items {
		it.pdf = pdfs[i]
	}
	return nil
}

func (s *Issuer) upload(ctx context.Context, items []*item) {
	start := time.Now()
	defer s.metrics.Since("upload", start)

	artifacts := make([]storage.Artifact, len(items))
	for i, it := range items {
		artifacts[i] = storage.Artifact{Name: it.filename, Data: it.pdf}
	}

	results := s.store.UploadBatch(ctx, artifacts)
	for i, it := range items {
		if i < len(results) {
			it.upload = results[i]
			continue
		}
		it.upload = storage.UploadOutcome{Filename: it.filename, Error: "no upload result"}
	}
}

// persist registers uploaded certificates ONE AT A TIME, IN INPUT ORDER.
//
// Do not parallelize this loop. Two certificates of the same student written
// concurrently both miss the student lookup and race on the unique
// constraints, and all but one of them are lost. Nothing here is fatal to the
// batch and nothing here changes an outcome's Success.
func (s *Issuer) persist(ctx context.Context, log *zap.Logger, items []*item) {
	start := time.Now()
	defer s.metrics.Since("persist", start)

	for _, it := range items {
		if !it.upload.Success || it.upload.URL == "" {
			continue
		}

		err := s.register(ctx, it)
		switch {
		case err == nil:
			it.registered = true
			s.metrics.Add("persist", "registered", 1)
		case registry.IsConflict(err):
			it.warning = err.Error()
			s.metrics.Add("persist", registry.KindOf(err).String(), 1)
			log.Warn("Certificate not registered",
				zap.String("code", it.rec.VerificationCode),
				zap.Stringer("kind", registry.KindOf(err)),
				zap.Error(err),
			)
		default:
			s.metrics.Add("persist", "error", 1)
			log.Error("Registering certificate failed",
				zap.String("code", it.rec.VerificationCode),
				zap.Stringer("kind", registry.KindOf(err)),
				zap.Error(err),
			)
		}
	}
}

func (s *Issuer) register(ctx context.Context, it *item) error {
	student, err := s.registry.CreateOrGetStudent(ctx, it.rec.StudentID, it.rec.NationalID, it.rec.FullName)
	if err != nil {
		return err
	}

	expiry := it.rec.ExpiryDate
	if strings.TrimSpace(expiry) == "" {
		expiry = utils.Today()
	}

	_, err = s.registry.RegisterCertificate(ctx, registry.CertificatePayload{
		StudentRef:       student.ID,
		CourseName:       it.rec.CourseName,
		VerificationCode: it.rec.VerificationCode,
		IssueDate:        it.rec.IssueDate,
		ExpiryDate:       expiry,
		Hours:            it.rec.Hours,
		ArtifactURL:      it.upload.URL,
	})
	return err
}

// record writes the journal row. Its failure never changes the outcomes.
func (s *Issuer) record(ctx context.Context, log *zap.Logger, batchID uuid.UUID, outcomes []Outcome, succeeded int) {
	if s.journal == nil {
		return
	}
	report, err := json.Marshal(outcomes)
	if err != nil {
		log.Error("Encoding batch report failed", zap.Error(err))
		return
	}
	entry := &models.IssuanceLog{
		BatchID:   batchID,
		Source:    SourceFrom(ctx),
		Total:     len(outcomes),
		Succeeded: succeeded,
		Failed:    len(outcomes) - succeeded,
		Report:    datatypes.JSON(report),
	}
	if err := s.journal.RecordBatch(ctx, entry); err != nil {
		log.Error("Writing issuance journal failed", zap.Error(err))
	}
}

var recordValidator = newRecordValidator()

func newRecordValidator() *validator.Validate {
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

// checkRecord returns why a record cannot be issued, or "" when it can.
// Missing fields are reported before malformed ones.
func checkRecord(rec models.CertificateRecord) string {
	rec.FullName = strings.TrimSpace(rec.FullName)
	rec.CourseName = strings.TrimSpace(rec.CourseName)
	rec.NationalID = strings.TrimSpace(rec.NationalID)

	err := recordValidator.StructPartial(rec, "FullName", "CourseName", "Hours", "NationalID")
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ""
	}

	var missing, invalid []string
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			missing = append(missing, fe.Field())
			continue
		}
		invalid = append(invalid, fe.Field())
	}
	if len(missing) > 0 {
		return "missing required fields: " + strings.Join(missing, ", ")
	}
	return "invalid fields: " + strings.Join(invalid, ", ")
}
