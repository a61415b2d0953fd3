package loaders

import (
	"context"
	"fmt"
	"io"

	"DocSage/backend/go/internal/rag_service/rag/interfaces"

	"github.com/minio/minio-go/v7"
)

// DefaultMaxObjectBytes caps how much of an object is read.
const DefaultMaxObjectBytes = 64 << 20

// ObjectLoader reads extracted text stored as objects in a MinIO bucket.
type ObjectLoader struct {
	client   *minio.Client
	bucket   string
	maxBytes int64
}

// NewObjectLoader creates a new ObjectLoader for bucket.
func NewObjectLoader(client *minio.Client, bucket string) *ObjectLoader {
	return &ObjectLoader{client: client, bucket: bucket, maxBytes: DefaultMaxObjectBytes}
}

// Load fetches the object at key and decodes it with DecodeText.
func (l *ObjectLoader) Load(ctx context.Context, key string) (string, error) {
	obj, err := l.client.GetObject(ctx, l.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("get object %s/%s: %w", l.bucket, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(io.LimitReader(obj, l.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read object %s/%s: %w", l.bucket, key, err)
	}
	if int64(len(data)) > l.maxBytes {
		return "", fmt.Errorf("object %s/%s is larger than %d bytes", l.bucket, key, l.maxBytes)
	}
	return DecodeText(data)
}

// compile-time check to ensure ObjectLoader implements the Loader interface
var _ interfaces.Loader = (*ObjectLoader)(nil)
