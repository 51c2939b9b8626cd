// Package s3 implements the chunkstore.Store contract against an
// S3-compatible object store using minio-go, wrapping the vendor SDK behind
// the same narrow three-method interface local storage uses.
package s3

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/arrowstore/ddstore/internal/errors"
)

// Store writes chunk bytes as individual objects under a key prefix in one
// bucket.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// New wraps an already-constructed minio client. Bucket creation and
// credential handling are the caller's responsibility, matching how the
// engine never owns chunk-byte storage (spec.md §3 "Ownership").
func New(client *minio.Client, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: prefix}
}

// URL holds the pieces of an s3://endpoint/bucket/prefix chunk-store
// location, the same three-part shape restic's backend/s3 parses out of its
// repository URL.
type URL struct {
	Endpoint string
	Bucket   string
	Prefix   string
	UseHTTP  bool
}

// ParseURL extracts endpoint, bucket and prefix from an s3://host/bucket/prefix
// or s3:http://host:port/bucket/prefix chunk-store location.
func ParseURL(s string) (URL, error) {
	switch {
	case strings.HasPrefix(s, "s3:http"):
		u, err := url.Parse(s[len("s3:"):])
		if err != nil {
			return URL{}, errors.Wrap(err, errors.KindInvalidArgument, "parse s3 url")
		}
		if u.Path == "" {
			return URL{}, errors.InvalidArgument("s3 url: bucket name not found")
		}
		bucket, prefix, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
		return newURL(u.Host, bucket, prefix, u.Scheme == "http")
	case strings.HasPrefix(s, "s3://"):
		s = s[len("s3://"):]
	default:
		return URL{}, errors.InvalidArgumentf("s3 url %q: expected s3://endpoint/bucket/prefix", s)
	}
	endpoint, rest, _ := strings.Cut(s, "/")
	bucket, prefix, _ := strings.Cut(rest, "/")
	return newURL(endpoint, bucket, prefix, false)
}

func newURL(endpoint, bucket, prefix string, useHTTP bool) (URL, error) {
	if endpoint == "" || bucket == "" {
		return URL{}, errors.InvalidArgument("s3 url: endpoint or bucket name not found")
	}
	if prefix != "" {
		prefix = path.Clean(prefix)
	}
	return URL{Endpoint: endpoint, Bucket: bucket, Prefix: prefix, UseHTTP: useHTTP}, nil
}

// Open builds a minio client for u, chaining AWS/Minio environment variables
// and credential files the way restic's s3 backend does, and returns a Store
// bound to its bucket and prefix. Bucket creation is the operator's
// responsibility.
func Open(u URL) (*Store, error) {
	creds := credentials.NewChainCredentials([]credentials.Provider{
		&credentials.EnvAWS{},
		&credentials.EnvMinio{},
		&credentials.FileAWSCredentials{},
		&credentials.FileMinioClient{},
		&credentials.IAM{},
	})

	client, err := minio.New(u.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: !u.UseHTTP,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStorageError, "open s3 client")
	}
	return New(client, u.Bucket, u.Prefix), nil
}

func (s *Store) objectName(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *Store) WriteChunk(ctx context.Context, key string, data []byte) error {
	name := s.objectName(key)

	// Idempotent re-write: skip if an object of the same size already
	// exists (spec.md §6 idempotence requirement for write_chunk).
	if info, err := s.client.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{}); err == nil {
		if info.Size == int64(len(data)) {
			return nil
		}
	}

	_, err := s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		return errors.Wrapf(err, errors.KindStorageError, "put chunk %s", key)
	}
	return nil
}

func (s *Store) ReadChunk(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.objectName(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindStorageError, "get chunk %s", key)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindStorageError, "read chunk %s", key)
	}
	return data, nil
}

func (s *Store) DeleteChunk(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.objectName(key), minio.RemoveObjectOptions{})
	if err != nil {
		return errors.Wrapf(err, errors.KindStorageError, "delete chunk %s", key)
	}
	return nil
}
