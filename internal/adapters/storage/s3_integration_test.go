//go:build integration

package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startMinio(t *testing.T, ctx context.Context) string {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     "minioadmin",
			"MINIO_ROOT_PASSWORD": "minioadmin",
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start minio container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate minio container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("get container port: %v", err)
	}
	return fmt.Sprintf("http://%s:%s", host, port.Port())
}

func TestIntegrationS3Publish(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	endpoint := startMinio(t, ctx)

	storage, err := NewS3Storage(ctx, S3Config{
		Bucket:          "mosaics",
		Region:          "us-east-1",
		Prefix:          "s2",
		Endpoint:        endpoint,
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
	})
	if err != nil {
		t.Fatalf("NewS3Storage() error = %v", err)
	}

	if _, err := storage.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String("mosaics")}); err != nil {
		t.Fatalf("create bucket: %v", err)
	}

	exists, err := storage.Exists(ctx, "A_MSIL2A_20200101.tif")
	if err != nil || exists {
		t.Fatalf("Exists() before upload = %v, %v", exists, err)
	}

	path := filepath.Join(t.TempDir(), "A_MSIL2A_20200101.tif")
	if err := os.WriteFile(path, []byte("II*\x00mosaic"), 0o644); err != nil {
		t.Fatalf("write mosaic: %v", err)
	}

	if err := storage.Upload(ctx, "A_MSIL2A_20200101.tif", path); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	exists, err = storage.Exists(ctx, "A_MSIL2A_20200101.tif")
	if err != nil || !exists {
		t.Errorf("Exists() after upload = %v, %v", exists, err)
	}

	head, err := storage.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String("mosaics"),
		Key:    aws.String("s2/A_MSIL2A_20200101.tif"),
	})
	if err != nil {
		t.Fatalf("HeadObject() error = %v", err)
	}
	if aws.ToString(head.ContentType) != mosaicContentType {
		t.Errorf("ContentType = %q", aws.ToString(head.ContentType))
	}
}
