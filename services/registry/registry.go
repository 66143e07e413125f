package registry

import (
	"constancias/models"
	"constancias/utils"
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Registry records students and certificates. It enforces the two
// certificate uniqueness rules before inserting so that conflicts come back
// as typed errors instead of driver messages.
type Registry struct {
	db        *gorm.DB
	saltRound int
	logger    *zap.Logger
}

func New(db *gorm.DB, saltRound int, logger *zap.Logger) *Registry {
	if saltRound < bcrypt.MinCost {
		saltRound = bcrypt.DefaultCost
	}
	return &Registry{
		db:        db,
		saltRound: saltRound,
		logger:    logger.With(zap.String("service", "registry")),
	}
}

// StudentResult is the student a certificate will be attached to.
type StudentResult struct {
	ID         uint   `json:"id"`
	StudentID  string `json:"student_id"`
	NationalID string `json:"national_id"`
	FullName   string `json:"full_name"`
	Created    bool   `json:"created"`
}

// CertificatePayload is the certificate row to insert. Dates may be ISO or
// localized text.
type CertificatePayload struct {
	StudentRef       uint
	CourseName       string
	VerificationCode string
	IssueDate        string
	ExpiryDate       string
	Hours            int
	ArtifactURL      string
}

// CreateOrGetStudent looks the student up by student id and creates it when
// absent, with the student id as initial password. An existing student is
// the success path (Created=false), not an error.
func (r *Registry) CreateOrGetStudent(ctx context.Context, studentID, nationalID, fullName string) (StudentResult, error) {
	var missing []string
	if strings.TrimSpace(studentID) == "" {
		missing = append(missing, "student_id")
	}
	if strings.TrimSpace(nationalID) == "" {
		missing = append(missing, "national_id")
	}
	if strings.TrimSpace(fullName) == "" {
		missing = append(missing, "full_name")
	}
	if len(missing) > 0 {
		return StudentResult{}, &Error{Kind: KindMissingFields, Fields: missing}
	}

	cleanID := strings.ToUpper(strings.TrimSpace(studentID))
	cleanNational := strings.ToUpper(strings.TrimSpace(nationalID))
	cleanName := strings.ToUpper(strings.TrimSpace(fullName))

	db := r.db.WithContext(ctx)

	existing, err := r.findStudent(db, cleanID)
	if err != nil {
		return StudentResult{}, other("find student", err)
	}
	if existing != nil {
		return StudentResult{ID: existing.ID, StudentID: cleanID, NationalID: cleanNational, FullName: cleanName}, nil
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(cleanID), r.saltRound)
	if err != nil {
		return StudentResult{}, other("hash password", err)
	}

	student := models.Student{
		StudentID:  cleanID,
		NationalID: cleanNational,
		FullName:   cleanName,
		Password:   string(hashed),
	}
	if err := db.Create(&student).Error; err != nil {
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return StudentResult{}, other("create student", err)
		}
		// another writer created it between our lookup and insert
		existing, ferr := r.findStudent(db, cleanID)
		if ferr != nil || existing == nil {
			return StudentResult{}, other("create student", err)
		}
		return StudentResult{ID: existing.ID, StudentID: cleanID, NationalID: cleanNational, FullName: cleanName}, nil
	}

	r.logger.Info("Student created", zap.Uint("id", student.ID), zap.String("student_id", cleanID))
	return StudentResult{ID: student.ID, StudentID: cleanID, NationalID: cleanNational, FullName: cleanName, Created: true}, nil
}

func (r *Registry) findStudent(db *gorm.DB, studentID string) (*models.Student, error) {
	var student models.Student
	err := db.Where("student_id = ?", studentID).First(&student).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &student, nil
}

// RegisterCertificate validates and normalizes p, rejects a second
// certificate of the same course for the student (KindDuplicateCourse) or a
// reused verification code (KindDuplicateCode), in that order, and inserts.
func (r *Registry) RegisterCertificate(ctx context.Context, p CertificatePayload) (uint, error) {
	var missing []string
	if p.StudentRef == 0 {
		missing = append(missing, "student_ref")
	}
	if strings.TrimSpace(p.CourseName) == "" {
		missing = append(missing, "course_name")
	}
	if strings.TrimSpace(p.VerificationCode) == "" {
		missing = append(missing, "verification_code")
	}
	if strings.TrimSpace(p.IssueDate) == "" {
		missing = append(missing, "issue_date")
	}
	if strings.TrimSpace(p.ExpiryDate) == "" {
		missing = append(missing, "expiry_date")
	}
	if p.Hours <= 0 {
		missing = append(missing, "hours")
	}
	if strings.TrimSpace(p.ArtifactURL) == "" {
		missing = append(missing, "artifact_url")
	}
	if len(missing) > 0 {
		return 0, &Error{Kind: KindMissingFields, Fields: missing}
	}

	course := strings.ToUpper(strings.TrimSpace(p.CourseName))
	db := r.db.WithContext(ctx)

	taken, err := r.exists(db, "student_ref = ? AND course_name = ?", p.StudentRef, course)
	if err != nil {
		return 0, other("check course", err)
	}
	if taken {
		return 0, &Error{Kind: KindDuplicateCourse, Course: course}
	}

	taken, err = r.exists(db, "verification_code = ?", p.VerificationCode)
	if err != nil {
		return 0, other("check verification code", err)
	}
	if taken {
		return 0, &Error{Kind: KindDuplicateCode, Code: p.VerificationCode}
	}

	cert := models.Certificate{
		StudentRef:       p.StudentRef,
		CourseName:       course,
		VerificationCode: p.VerificationCode,
		IssueDate:        utils.NormalizeDate(p.IssueDate),
		ExpiryDate:       utils.NormalizeDate(p.ExpiryDate),
		Hours:            p.Hours,
		ArtifactURL:      p.ArtifactURL,
	}
	if err := db.Create(&cert).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// lost a race against a writer outside this process
			if dup, _ := r.exists(db, "verification_code = ?", p.VerificationCode); dup {
				return 0, &Error{Kind: KindDuplicateCode, Code: p.VerificationCode, Err: err}
			}
			return 0, &Error{Kind: KindDuplicateCourse, Course: course, Err: err}
		}
		return 0, other("insert certificate", err)
	}

	return cert.ID, nil
}

func (r *Registry) exists(db *gorm.DB, query string, args ...interface{}) (bool, error) {
	var count int64
	if err := db.Model(&models.Certificate{}).Where(query, args...).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// NextCounter returns the first sequence a new batch may use: one past the
// larger of the row id counter and the highest sequence segment already
// stored in a verification code. It is read once per batch and never written
// here.
func (r *Registry) NextCounter(ctx context.Context) (int, error) {
	db := r.db.WithContext(ctx)
	var next sql.NullInt64

	var err error
	if db.Dialector.Name() == "mysql" {
		err = db.Raw(
			"SELECT AUTO_INCREMENT FROM information_schema.TABLES WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?",
			models.Certificate{}.TableName(),
		).Scan(&next).Error
	} else {
		err = db.Raw("SELECT COALESCE(MAX(id), 0) + 1 FROM " + models.Certificate{}.TableName()).Scan(&next).Error
	}
	if err != nil {
		return 0, err
	}

	counter := 1
	if next.Valid && next.Int64 > 1 {
		counter = int(next.Int64)
	}

	seq, err := r.maxSequence(db)
	if err != nil {
		return 0, err
	}
	if seq+1 > counter {
		counter = seq + 1
	}
	return counter, nil
}

// maxSequence scans every stored code, soft-deleted ones included since they
// still hold the unique index, for the largest trailing numeric segment.
func (r *Registry) maxSequence(db *gorm.DB) (int, error) {
	var codes []string
	if err := db.Unscoped().Model(&models.Certificate{}).Pluck("verification_code", &codes).Error; err != nil {
		return 0, err
	}
	max := 0
	for _, code := range codes {
		if seq, ok := sequenceOf(code); ok && seq > max {
			max = seq
		}
	}
	return max, nil
}

// sequenceOf reads the segment after the last '-' of a code.
func sequenceOf(code string) (int, bool) {
	i := strings.LastIndexByte(code, '-')
	if i < 0 || i == len(code)-1 {
		return 0, false
	}
	seq, err := strconv.Atoi(code[i+1:])
	if err != nil || seq < 0 {
		return 0, false
	}
	return seq, true
}

// FindByCode loads a certificate and its student by verification code.
func (r *Registry) FindByCode(ctx context.Context, code string) (*models.Certificate, error) {
	var cert models.Certificate
	err := r.db.WithContext(ctx).
		Preload("Student").
		Where("verification_code = ?", strings.ToUpper(strings.TrimSpace(code))).
		First(&cert).Error
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

// RecordBatch stores the audit row of a finished batch.
func (r *Registry) RecordBatch(ctx context.Context, entry *models.IssuanceLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// CertificatesOf lists the certificates of one student, newest first.
func (r *Registry) CertificatesOf(ctx context.Context, studentID string) ([]models.Certificate, error) {
	var certs []models.Certificate
	err := r.db.WithContext(ctx).
		Joins("JOIN students ON students.id = certificates.student_ref").
		Where("students.student_id = ?", strings.ToUpper(strings.TrimSpace(studentID))).
		Order("certificates.id DESC").
		Find(&certs).Error
	return certs, err
}

// ListBatches pages through the issuance journal, newest first.
func (r *Registry) ListBatches(ctx context.Context, offset, limit int) ([]models.IssuanceLog, int64, error) {
	db := r.db.WithContext(ctx)

	var total int64
	if err := db.Model(&models.IssuanceLog{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []models.IssuanceLog
	err := db.Omit("report").Order("id DESC").Offset(offset).Limit(limit).Find(&entries).Error
	return entries, total, err
}
