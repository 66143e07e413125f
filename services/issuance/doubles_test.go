package issuance

import (
	"constancias/models"
	"constancias/services/registry"
	"constancias/services/render"
	"constancias/services/storage"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeCounter struct {
	next  int
	err   error
	calls int
}

func (f *fakeCounter) NextCounter(ctx context.Context) (int, error) {
	f.calls++
	return f.next, f.err
}

type fakeRenderer struct {
	err   error
	calls int
	docs  []render.Document
}

func (f *fakeRenderer) RenderBatch(ctx context.Context, docs []render.Document) ([][]byte, error) {
	f.calls++
	f.docs = docs
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]byte, len(docs))
	for i, d := range docs {
		out[i] = []byte("pdf:" + d.FullName)
	}
	return out, nil
}

type fakeStore struct {
	fail      map[string]bool // full names whose upload fails
	calls     int
	artifacts []storage.Artifact
}

func (f *fakeStore) UploadBatch(ctx context.Context, artifacts []storage.Artifact) []storage.UploadOutcome {
	f.calls++
	f.artifacts = artifacts
	out := make([]storage.UploadOutcome, 0, len(artifacts))
	for _, a := range artifacts {
		if f.fail[strings.TrimPrefix(string(a.Data), "pdf:")] {
			out = append(out, storage.UploadOutcome{Filename: a.Name, Error: "network unreachable"})
			continue
		}
		out = append(out, storage.UploadOutcome{Filename: a.Name, Success: true, URL: "https://blob.test/" + a.Name})
	}
	return out
}

// fakeRegistry enforces the same two uniqueness rules as the real registry
// and fails the test if any call starts while another is still running.
type fakeRegistry struct {
	t *testing.T

	mu       sync.Mutex
	inFlight int32
	students map[string]uint
	courses  map[string]bool
	codes    map[string]bool

	studentCreates int
	inserts        int
	order          []string
	failWith       map[string]error // verification code -> error
}

func newFakeRegistry(t *testing.T) *fakeRegistry {
	return &fakeRegistry{
		t:        t,
		students: map[string]uint{},
		courses:  map[string]bool{},
		codes:    map[string]bool{},
		failWith: map[string]error{},
	}
}

func (f *fakeRegistry) enter() func() {
	if n := atomic.AddInt32(&f.inFlight, 1); n > 1 {
		f.t.Errorf("registry entered concurrently (%d calls in flight)", n)
	}
	time.Sleep(time.Millisecond)
	return func() { atomic.AddInt32(&f.inFlight, -1) }
}

func (f *fakeRegistry) CreateOrGetStudent(ctx context.Context, studentID, nationalID, fullName string) (registry.StudentResult, error) {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()

	if id, ok := f.students[studentID]; ok {
		return registry.StudentResult{ID: id, StudentID: studentID}, nil
	}
	f.studentCreates++
	id := uint(len(f.students) + 1)
	f.students[studentID] = id
	return registry.StudentResult{ID: id, StudentID: studentID, Created: true}, nil
}

func (f *fakeRegistry) RegisterCertificate(ctx context.Context, p registry.CertificatePayload) (uint, error) {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()

	f.order = append(f.order, p.VerificationCode)
	if err, ok := f.failWith[p.VerificationCode]; ok {
		return 0, err
	}
	key := fmt.Sprintf("%d|%s", p.StudentRef, strings.ToUpper(p.CourseName))
	if f.courses[key] {
		return 0, &registry.Error{Kind: registry.KindDuplicateCourse, Course: p.CourseName}
	}
	if f.codes[p.VerificationCode] {
		return 0, &registry.Error{Kind: registry.KindDuplicateCode, Code: p.VerificationCode}
	}
	f.courses[key] = true
	f.codes[p.VerificationCode] = true
	f.inserts++
	return uint(f.inserts), nil
}

func (f *fakeRegistry) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.order) + f.studentCreates
}

type fakeJournal struct {
	entries []*models.IssuanceLog
	err     error
}

func (f *fakeJournal) RecordBatch(ctx context.Context, entry *models.IssuanceLog) error {
	f.entries = append(f.entries, entry)
	return f.err
}

type harness struct {
	counter  *fakeCounter
	renderer *fakeRenderer
	store    *fakeStore
	registry *fakeRegistry
	journal  *fakeJournal
	qrSeen   sync.Map
	qrFail   map[string]bool // filenames whose QR fails
	issuer   *Issuer
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		counter:  &fakeCounter{next: 41},
		renderer: &fakeRenderer{},
		store:    &fakeStore{fail: map[string]bool{}},
		registry: newFakeRegistry(t),
		journal:  &fakeJournal{},
		qrFail:   map[string]bool{},
	}
	codes := NewCodeAllocator("ENS")
	codes.now = func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) }

	h.issuer = NewIssuer(Deps{
		Counter:  h.counter,
		Renderer: h.renderer,
		Store:    h.store,
		Registry: h.registry,
		Journal:  h.journal,
		Codes:    codes,
		QR: func(content string) (string, error) {
			h.qrSeen.Store(content, true)
			for name := range h.qrFail {
				if strings.HasSuffix(content, name) {
					return "", errors.New("qr: content too long")
				}
			}
			return "data:image/png;base64,QR", nil
		},
		VerifyBaseURL: "https://verify.test/constancias/",
	})
	return h
}

func record(name, studentID, course string) models.CertificateRecord {
	return models.CertificateRecord{
		FullName:        name,
		CourseName:      course,
		Hours:           20,
		CourseStartDate: "2025-02-01",
		CourseEndDate:   "28/febrero/2025",
		StudentID:       studentID,
		NationalID:      "LOPA000101MDFXXX01",
	}
}
