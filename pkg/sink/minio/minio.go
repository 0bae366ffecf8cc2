package minio

import (
	"context"
	"flag"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

type Config struct {
	Endpoint          string `yaml:"endpoint"`
	MinioRootUser     string `yaml:"minio_root_user"`
	MinioRootPassword string `yaml:"minio_root_password"`
	Secure            bool   `yaml:"secure"`
	Bucket            string `yaml:"bucket"`
	Prefix            string `yaml:"prefix"`
}

func (c *Config) RegisterFlags(flagPrefix string, f *flag.FlagSet) {
	f.StringVar(&c.Endpoint, flagPrefix+"endpoint", "", `MinIO endpoint, host:port.`)
	f.StringVar(&c.MinioRootUser, flagPrefix+"user", "", `MinIO access key.`)
	f.StringVar(&c.MinioRootPassword, flagPrefix+"password", "", `MinIO secret key.`)
	f.BoolVar(&c.Secure, flagPrefix+"secure", false, `Use TLS to reach MinIO.`)
	f.StringVar(&c.Bucket, flagPrefix+"bucket", "bulkfetch", `Bucket for downloaded files. Created if missing.`)
	f.StringVar(&c.Prefix, flagPrefix+"prefix", "", `Object name prefix, e.g. an export id.`)
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("minio: endpoint is required")
	}
	if c.Bucket == "" {
		return errors.New("minio: bucket is required")
	}
	return nil
}

type MinioWriter struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewWriter(ctx context.Context, cfg Config) (*MinioWriter, error) {
	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioRootUser, cfg.MinioRootPassword, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, errors.Wrap(err, "initialize minio client for writer")
	}

	found, err := minioClient.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, errors.Wrap(err, "check minio bucket exists")
	}

	if !found {
		if err := minioClient.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, errors.Wrap(err, "make minio bucket")
		}
	}

	return &MinioWriter{
		client: minioClient,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Open streams the object through a pipe; it is committed on Close.
func (c *MinioWriter) Open(ctx context.Context, name string) (io.WriteCloser, error) {
	objName := path.Join(c.prefix, name)
	pr, pw := io.Pipe()
	done := make(chan error, 1)

	go func() {
		_, err := c.client.PutObject(ctx, c.bucket, objName, pr, -1, minio.PutObjectOptions{
			ContentType: contentType(name),
		})
		if err != nil {
			err = errors.Wrap(err, "store minio object")
		}
		pr.CloseWithError(err)
		done <- err
	}()

	return &objectWriter{pw: pw, done: done}, nil
}

type objectWriter struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *objectWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *objectWriter) Close() error {
	_ = w.pw.Close()
	return <-w.done
}

// Abort fails the upload so no object is created.
func (w *objectWriter) Abort(err error) error {
	if err == nil {
		err = errors.New("upload aborted")
	}
	_ = w.pw.CloseWithError(err)
	<-w.done
	return nil
}

func contentType(name string) string {
	switch path.Ext(name) {
	case ".ndjson":
		return "application/fhir+ndjson"
	case ".pdf":
		return "application/pdf"
	case ".jpeg":
		return "image/jpeg"
	case ".txt":
		return "text/plain"
	}
	return "application/octet-stream"
}
