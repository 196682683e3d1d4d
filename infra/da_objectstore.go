package infra

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/tnqbao/gau-rollup-orchestrator/config"
)

// ObjectStoreDAClient publishes state diffs as blobs in an S3-compatible object
// store. Deployments without a real DA network (devnets, private rollups) use
// this backend; a blob is "included" as soon as it is durably stored.
type ObjectStoreDAClient struct {
	client *minio.Client
	bucket string
}

type objectStoreBlobKey struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	ETag   string `json:"etag"`
}

func InitObjectStoreDAClient(cfg *config.EnvConfig) *ObjectStoreDAClient {
	if cfg.DA.ObjectStoreEndpoint == "" {
		panic("Object store endpoint is not configured")
	}

	client, err := minio.New(cfg.DA.ObjectStoreEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.DA.ObjectStoreAccessKey, cfg.DA.ObjectStoreSecretKey, ""),
		Secure: cfg.DA.ObjectStoreUseSSL,
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize object store DA client: %v", err))
	}

	return &ObjectStoreDAClient{
		client: client,
		bucket: cfg.DA.ObjectStoreBucket,
	}
}

func (c *ObjectStoreDAClient) Publish(ctx context.Context, data []byte, correlation uuid.UUID) (SubmissionHandle, error) {
	digest := sha256.Sum256(data)
	// Keyed by correlation + content hash, so a retried publish of the same job
	// overwrites the same object instead of creating a duplicate.
	key := fmt.Sprintf("%s/%s", correlation, hex.EncodeToString(digest[:]))

	info, err := c.client.PutObject(ctx, c.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		if isObjectStorePermanent(err) {
			return "", permanentErr("da.publish", err)
		}
		return "", transientErr("da.publish", err)
	}

	encoded, err := json.Marshal(objectStoreBlobKey{Bucket: c.bucket, Key: key, ETag: info.ETag})
	if err != nil {
		return "", permanentErr("da.publish", err)
	}
	return SubmissionHandle(encoded), nil
}

func (c *ObjectStoreDAClient) CheckInclusion(ctx context.Context, handle SubmissionHandle) (InclusionState, error) {
	var key objectStoreBlobKey
	if err := json.Unmarshal([]byte(handle), &key); err != nil {
		return InclusionRejected, permanentErr("da.check_inclusion", fmt.Errorf("malformed submission handle: %w", err))
	}

	_, err := c.client.StatObject(ctx, key.Bucket, key.Key, minio.StatObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NoSuchBucket" {
			// The blob we wrote is gone; the submission cannot become available.
			return InclusionRejected, nil
		}
		return InclusionPending, transientErr("da.check_inclusion", err)
	}
	return InclusionIncluded, nil
}

func isObjectStorePermanent(err error) bool {
	errResp := minio.ToErrorResponse(err)
	switch errResp.Code {
	case "NoSuchBucket", "AccessDenied", "EntityTooLarge", "InvalidArgument":
		return true
	}
	return false
}

var _ DAClient = (*ObjectStoreDAClient)(nil)
