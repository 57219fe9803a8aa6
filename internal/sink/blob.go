package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/spboyer/promptloop/internal/models"
)

// uploader is the part of *azblob.Client the sink uses.
type uploader interface {
	UploadBuffer(ctx context.Context, containerName, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
}

// BlobSink uploads documents to an Azure Blob Storage container.
type BlobSink struct {
	client    uploader
	container string
	enc       encoder
}

var _ ResultSink = (*BlobSink)(nil)

// NewBlobSink authenticates with DefaultAzureCredential against accountURL.
func NewBlobSink(accountURL, container string, compress bool) (*BlobSink, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("creating azure credential: %w", err)
	}
	return newBlobSinkWithCredential(accountURL, container, compress, cred)
}

func newBlobSinkWithCredential(accountURL, container string, compress bool, cred azcore.TokenCredential) (*BlobSink, error) {
	client, err := azblob.NewClient(accountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating blob client for %s: %w", accountURL, err)
	}
	return &BlobSink{client: client, container: container, enc: encoder{compress: compress}}, nil
}

func (b *BlobSink) EmitRun(ctx context.Context, run *models.EvaluationRun) error {
	name, data, err := b.enc.run(run)
	if err != nil {
		return err
	}
	return b.upload(ctx, name, data)
}

func (b *BlobSink) EmitOutcome(ctx context.Context, outcome *models.ImprovementOutcome) error {
	name, data, err := b.enc.outcome(outcome)
	if err != nil {
		return err
	}
	return b.upload(ctx, name, data)
}

func (b *BlobSink) upload(ctx context.Context, name string, data []byte) error {
	if _, err := b.client.UploadBuffer(ctx, b.container, name, data, nil); err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) {
			return fmt.Errorf("uploading %s/%s: %s (status %d)", b.container, name, respErr.ErrorCode, respErr.StatusCode)
		}
		return fmt.Errorf("uploading %s/%s: %w", b.container, name, err)
	}
	logEmitted("blob", b.container+"/"+name)
	return nil
}
