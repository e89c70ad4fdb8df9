// Package s3 reads GeoTIFF scenes from S3-compatible object storage.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/couchcryptid/nightlight-qc/internal/domain"
	"github.com/couchcryptid/nightlight-qc/internal/raster"
	"github.com/couchcryptid/nightlight-qc/internal/raster/geotiff"
)

// Scheme is the URI scheme this package serves.
const Scheme = "s3"

// NewClient opens an S3 client. A non-empty endpoint targets an
// S3-compatible store (MinIO, localstack) with path-style addressing.
func NewClient(region, endpoint string) (s3iface.S3API, error) {
	cfg := &aws.Config{Region: aws.String(region)}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return s3.New(sess), nil
}

// ParseURI splits s3://bucket/key.
func ParseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, Scheme+"://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 uri: %q", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("s3 uri without bucket: %q", uri)
	}
	return bucket, key, nil
}

// Reader downloads whole objects and decodes them as GeoTIFF scenes.
// It implements raster.SceneReader.
type Reader struct {
	api s3iface.S3API
}

func NewReader(api s3iface.S3API) *Reader {
	return &Reader{api: api}
}

func (r *Reader) ReadScene(ctx context.Context, id string) (*raster.Scene, error) {
	bucket, key, err := ParseURI(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", raster.ErrSceneUnreadable, err)
	}
	out, err := r.api.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s not found", raster.ErrSceneUnreadable, id)
		}
		return nil, fmt.Errorf("%w: get %s: %w", raster.ErrSceneUnreadable, id, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", raster.ErrSceneUnreadable, id, err)
	}
	return geotiff.DecodeBytes(data, id)
}

func isNotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		return aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound"
	}
	return false
}

// Source lists the GeoTIFFs under an s3://bucket/prefix and hands them out
// as scene requests, sorted by key. It implements pipeline.BatchExtractor and
// reports io.EOF once every object has been handed out.
type Source struct {
	api    s3iface.S3API
	bucket string
	prefix string
	logger *slog.Logger

	mu       sync.Mutex
	listed   bool
	failures int
	pending  []string
}

// maxListAttempts bounds consecutive listing failures before the source
// gives up with domain.ErrSourceFailed.
const maxListAttempts = 3

// NewSource creates a Source for uri (s3://bucket/prefix).
func NewSource(api s3iface.S3API, uri string, logger *slog.Logger) (*Source, error) {
	bucket, prefix, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	return &Source{api: api, bucket: bucket, prefix: prefix, logger: logger}, nil
}

func (s *Source) ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.listed {
		if err := s.list(ctx); err != nil {
			s.failures++
			if s.failures >= maxListAttempts {
				return nil, fmt.Errorf("%w: %w", domain.ErrSourceFailed, err)
			}
			return nil, err
		}
		s.listed = true
	}
	if len(s.pending) == 0 {
		return nil, io.EOF
	}
	n := min(batchSize, len(s.pending))
	batch := make([]domain.RawEvent, n)
	for i, key := range s.pending[:n] {
		uri := fmt.Sprintf("%s://%s/%s", Scheme, s.bucket, key)
		batch[i] = domain.RawEvent{Key: []byte(path.Base(key)), Value: []byte(uri)}
	}
	s.pending = s.pending[n:]
	return batch, nil
}

// list pages through ListObjectsV2 until no continuation token is left.
func (s *Source) list(ctx context.Context) error {
	params := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	}
	var keys []string
	for {
		out, err := s.api.ListObjectsV2WithContext(ctx, params)
		if err != nil {
			return fmt.Errorf("list s3://%s/%s: %w", s.bucket, s.prefix, err)
		}
		for _, obj := range out.Contents {
			key := aws.StringValue(obj.Key)
			if isGeoTIFF(key) {
				keys = append(keys, key)
			}
		}
		if !aws.BoolValue(out.IsTruncated) || out.NextContinuationToken == nil {
			break
		}
		params.ContinuationToken = out.NextContinuationToken
	}
	sort.Strings(keys)
	s.pending = keys
	s.logger.Info("s3 scenes listed", "bucket", s.bucket, "prefix", s.prefix, "scenes", len(keys))
	return nil
}

func isGeoTIFF(key string) bool {
	switch strings.ToLower(path.Ext(key)) {
	case ".tif", ".tiff":
		return true
	}
	return false
}
