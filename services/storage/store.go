package storage

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrEmptyPayload       = errors.New("storage: file is empty")
	ErrMissingCredentials = errors.New("storage: missing AZURE_STORAGE_ACCOUNT_NAME, AZURE_STORAGE_ACCOUNT_KEY or AZURE_STORAGE_CONTAINER_NAME")
)

const pdfContentType = "application/pdf"

// Artifact is a rendered document ready to upload.
type Artifact struct {
	Name string
	Data []byte
}

// UploadOutcome is the result of one upload, independent of the others.
type UploadOutcome struct {
	Filename string `json:"filename"`
	Success  bool   `json:"success"`
	URL      string `json:"url,omitempty"`
	Error    string `json:"error,omitempty"`
}

// blobClient is the part of the object store the Store needs.
type blobClient interface {
	Upload(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

// Store uploads certificate PDFs. The backing client is created on the first
// upload, so a process without credentials still starts and reports
// ErrMissingCredentials per item.
type Store struct {
	newClient func() (blobClient, error)
	logger    *zap.Logger

	once      sync.Once
	client    blobClient
	clientErr error
}

func (s *Store) blob() (blobClient, error) {
	s.once.Do(func() {
		s.client, s.clientErr = s.newClient()
	})
	return s.client, s.clientErr
}

// Upload stores data under name and returns its public URL.
func (s *Store) Upload(ctx context.Context, data []byte, name string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyPayload
	}
	client, err := s.blob()
	if err != nil {
		return "", err
	}
	return client.Upload(ctx, name, data, pdfContentType)
}

// UploadBatch uploads artifacts one after another. A failed item is recorded
// in its outcome and the remaining items are still attempted.
func (s *Store) UploadBatch(ctx context.Context, artifacts []Artifact) []UploadOutcome {
	outcomes := make([]UploadOutcome, 0, len(artifacts))
	for _, a := range artifacts {
		url, err := s.Upload(ctx, a.Data, a.Name)
		if err != nil {
			s.logger.Error("Upload failed", zap.String("file", a.Name), zap.Error(err))
			outcomes = append(outcomes, UploadOutcome{Filename: a.Name, Error: err.Error()})
			continue
		}
		outcomes = append(outcomes, UploadOutcome{Filename: a.Name, Success: true, URL: url})
	}
	return outcomes
}
