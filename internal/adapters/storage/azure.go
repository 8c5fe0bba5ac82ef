package storage

import (
	"context"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/jobrunner/s2mosaic/internal/domain"
	"github.com/jobrunner/s2mosaic/internal/ports/output"
)

// AzureStorage implements Publisher for Azure Blob Storage.
type AzureStorage struct {
	client    *azblob.Client
	container string
	prefix    string
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string
	AccountName      string
	AccountKey       string
	ConnectionString string
	Prefix           string
}

// NewAzureStorage creates a new Azure Blob Storage adapter.
func NewAzureStorage(cfg AzureConfig) (*AzureStorage, error) {
	var client *azblob.Client

	if cfg.ConnectionString != "" {
		c, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
		if err != nil {
			return nil, err
		}
		client = c
	} else {
		url := "https://" + cfg.AccountName + ".blob.core.windows.net/"
		cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if err != nil {
			return nil, err
		}
		c, err := azblob.NewClientWithSharedKeyCredential(url, cred, nil)
		if err != nil {
			return nil, err
		}
		client = c
	}

	return &AzureStorage{
		client:    client,
		container: cfg.Container,
		prefix:    cfg.Prefix,
	}, nil
}

// Type implements Publisher.
func (s *AzureStorage) Type() output.StorageType {
	return output.StorageTypeAzure
}

// Exists checks if a blob exists in Azure.
func (s *AzureStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.ServiceClient().
		NewContainerClient(s.container).
		NewBlobClient(fullKey(s.prefix, key)).
		GetProperties(ctx, nil)
	if err == nil {
		return true, nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return false, nil
	}
	return false, &domain.StorageError{Operation: "exists", Key: key, Err: err}
}

// Upload streams the file at path into the container.
func (s *AzureStorage) Upload(ctx context.Context, key string, path string) error {
	f, err := os.Open(path) //#nosec G304 -- path is a mosaic written by this process
	if err != nil {
		return &domain.StorageError{Operation: "upload", Key: key, Err: err}
	}
	defer func() { _ = f.Close() }()

	_, err = s.client.UploadFile(ctx, s.container, fullKey(s.prefix, key), f, &azblob.UploadFileOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: to.Ptr(mosaicContentType),
		},
	})
	if err != nil {
		return &domain.StorageError{Operation: "upload", Key: key, Err: err}
	}
	return nil
}
