// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package archival puts a completed workflow.State's full JSON trace into
cold blob storage once persistence's normalized rows have it, for
retention windows longer than the durable store is tuned for or for
bulk export. Each Store implementation talks to its cloud SDK directly
(AWS SDK v2 s3, cloud.google.com/go/storage, Azure SDK for Go azblob) —
there is exactly one object written and one object read per trace, not
enough surface to justify a generic MCP-style connector layer.
*/
package archival

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"google.golang.org/api/option"
)

// Store archives and retrieves a full trace blob by trace id.
type Store interface {
	PutTrace(ctx context.Context, traceID string, data []byte) error
	GetTrace(ctx context.Context, traceID string) ([]byte, error)
}

// traceKey names the object every backend writes a trace under.
func traceKey(traceID string) string {
	return fmt.Sprintf("traces/%s.json", traceID)
}

const defaultContentType = "application/json"

// S3Store archives traces to an S3 (or S3-compatible) bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store loads an AWS config for region (falling back to the
// default credential chain when accessKeyID/secretAccessKey are
// empty) and builds an S3 client scoped to bucket.
func NewS3Store(ctx context.Context, bucket, region, accessKeyID, secretAccessKey string) (*S3Store, error) {
	optFns := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if accessKeyID != "" && secretAccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("archival: loading AWS config: %w", err)
	}

	return &S3Store{client: s3.NewFromConfig(awsCfg), bucket: bucket}, nil
}

func (s *S3Store) PutTrace(ctx context.Context, traceID string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(traceKey(traceID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(defaultContentType),
	})
	if err != nil {
		return fmt.Errorf("archival: putting trace %s to S3: %w", traceID, err)
	}
	return nil
}

func (s *S3Store) GetTrace(ctx context.Context, traceID string) ([]byte, error) {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(traceKey(traceID)),
	})
	if err != nil {
		return nil, fmt.Errorf("archival: getting trace %s from S3: %w", traceID, err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("archival: reading trace %s body from S3: %w", traceID, err)
	}
	return data, nil
}

// GCSStore archives traces to a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore builds a GCS client, optionally authenticated from a
// service-account credentials file, scoped to bucket.
func NewGCSStore(ctx context.Context, bucket, credentialsFile string) (*GCSStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archival: creating GCS client: %w", err)
	}

	return &GCSStore{client: client, bucket: bucket}, nil
}

func (s *GCSStore) PutTrace(ctx context.Context, traceID string, data []byte) error {
	obj := s.client.Bucket(s.bucket).Object(traceKey(traceID))
	writer := obj.NewWriter(ctx)
	writer.ContentType = defaultContentType

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("archival: writing trace %s to GCS: %w", traceID, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("archival: closing GCS writer for trace %s: %w", traceID, err)
	}
	return nil
}

func (s *GCSStore) GetTrace(ctx context.Context, traceID string) ([]byte, error) {
	reader, err := s.client.Bucket(s.bucket).Object(traceKey(traceID)).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("archival: reading trace %s from GCS: %w", traceID, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("archival: reading trace %s body from GCS: %w", traceID, err)
	}
	return data, nil
}

// AzureBlobStore archives traces to an Azure Blob Storage container.
type AzureBlobStore struct {
	client    *azblob.Client
	container string
}

// NewAzureBlobStore authenticates with a shared account key when
// accountKey is set, otherwise falls back to DefaultAzureCredential
// (managed identity / environment / CLI login).
func NewAzureBlobStore(container, accountName, accountKey string) (*AzureBlobStore, error) {
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", accountName)

	var client *azblob.Client
	if accountKey != "" {
		cred, err := azblob.NewSharedKeyCredential(accountName, accountKey)
		if err != nil {
			return nil, fmt.Errorf("archival: creating Azure shared key credential: %w", err)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("archival: creating Azure Blob client: %w", err)
		}
	} else {
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("archival: creating Azure default credential: %w", err)
		}
		client, err = azblob.NewClient(serviceURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("archival: creating Azure Blob client: %w", err)
		}
	}

	return &AzureBlobStore{client: client, container: container}, nil
}

func (s *AzureBlobStore) PutTrace(ctx context.Context, traceID string, data []byte) error {
	contentType := defaultContentType
	_, err := s.client.UploadBuffer(ctx, s.container, traceKey(traceID), data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return fmt.Errorf("archival: uploading trace %s to Azure Blob: %w", traceID, err)
	}
	return nil
}

func (s *AzureBlobStore) GetTrace(ctx context.Context, traceID string) ([]byte, error) {
	blobClient := s.client.ServiceClient().NewContainerClient(s.container).NewBlobClient(traceKey(traceID))

	resp, err := blobClient.DownloadStream(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("archival: downloading trace %s from Azure Blob: %w", traceID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("archival: reading trace %s body from Azure Blob: %w", traceID, err)
	}
	return data, nil
}
