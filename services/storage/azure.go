package storage

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"go.uber.org/zap"
)

// Credentials of the Azure storage account holding the certificates.
type Credentials struct {
	AccountName   string
	AccountKey    string
	ContainerName string
}

func (c Credentials) complete() bool {
	return c.AccountName != "" && c.AccountKey != "" && c.ContainerName != ""
}

// NewAzureStore returns a Store backed by an Azure block blob container.
func NewAzureStore(creds Credentials, logger *zap.Logger) *Store {
	return &Store{
		newClient: func() (blobClient, error) {
			if !creds.complete() {
				return nil, ErrMissingCredentials
			}
			return newAzureBlob(creds)
		},
		logger: logger.With(zap.String("service", "storage")),
	}
}

type azureBlob struct {
	client    *azblob.Client
	container string
}

func newAzureBlob(creds Credentials) (*azureBlob, error) {
	cred, err := azblob.NewSharedKeyCredential(creds.AccountName, creds.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("azure credential: %w", err)
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", creds.AccountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azure client: %w", err)
	}
	return &azureBlob{client: client, container: creds.ContainerName}, nil
}

func (a *azureBlob) Upload(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	_, err := a.client.UploadBuffer(ctx, a.container, name, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: to.Ptr(contentType)},
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	return a.client.ServiceClient().NewContainerClient(a.container).NewBlockBlobClient(name).URL(), nil
}
