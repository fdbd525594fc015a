package inbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/docledger/docledger/internal/logging"
	"github.com/docledger/docledger/internal/model"
)

// maxObjectSize bounds a single downloaded document.
const maxObjectSize = 32 << 20

// ParseGCSURL splits gs://bucket/prefix into its parts.
func ParseGCSURL(raw string) (bucket, prefix string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parsing %q: %w", raw, err)
	}
	if u.Scheme != "gs" || u.Host == "" {
		return "", "", fmt.Errorf("%q is not a gs://bucket/prefix URL", raw)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// GCSSource lists and downloads documents under a Cloud Storage prefix.
type GCSSource struct {
	client *storage.Client
	bucket string
	prefix string
	log    *logging.Logger
}

// NewGCSSource opens a client with application default credentials.
func NewGCSSource(ctx context.Context, rawURL string, log *logging.Logger) (*GCSSource, error) {
	bucket, prefix, err := ParseGCSURL(rawURL)
	if err != nil {
		return nil, err
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	if log == nil {
		log = logging.Discard()
	}
	return &GCSSource{client: client, bucket: bucket, prefix: prefix, log: log}, nil
}

func (s *GCSSource) Close() error {
	return s.client.Close()
}

// Documents downloads every supported object directly under the prefix.
// Objects in deeper "folders" are ignored.
func (s *GCSSource) Documents(ctx context.Context) ([]model.Document, error) {
	query := &storage.Query{Prefix: s.prefix, Delimiter: "/"}
	it := s.client.Bucket(s.bucket).Objects(ctx, query)

	var docs []model.Document
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing gs://%s/%s: %w", s.bucket, s.prefix, err)
		}
		if attrs.Name == "" || !Supported(attrs.Name) {
			continue
		}
		if attrs.Size > maxObjectSize {
			s.log.Warn("skipping oversized object", "object", attrs.Name, "size", attrs.Size)
			continue
		}
		data, err := s.read(ctx, attrs.Name)
		if err != nil {
			return nil, err
		}
		name := attrs.Name[strings.LastIndex(attrs.Name, "/")+1:]
		mediaType := attrs.ContentType
		if mediaType == "" {
			mediaType = MediaType(name)
		}
		docs = append(docs, model.Document{Name: name, MediaType: mediaType, Data: data})
		s.log.Debug("downloaded object", "object", attrs.Name, "bytes", len(data))
	}
	return docs, nil
}

func (s *GCSSource) read(ctx context.Context, object string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening gs://%s/%s: %w", s.bucket, object, err)
	}
	defer r.Close()
	data, err := io.ReadAll(io.LimitReader(r, maxObjectSize))
	if err != nil {
		return nil, fmt.Errorf("reading gs://%s/%s: %w", s.bucket, object, err)
	}
	return data, nil
}
