package bucket

import (
	"context"
	"flag"
	"io"
	"path"

	"github.com/pkg/errors"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

type Config struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

func (c *Config) RegisterFlags(flagPrefix string, f *flag.FlagSet) {
	f.StringVar(&c.URL, flagPrefix+"url", "", `Bucket URL, e.g. s3://my-bucket?region=us-east-1, gs://my-bucket or file:///data.`)
	f.StringVar(&c.Prefix, flagPrefix+"prefix", "", `Object key prefix.`)
}

func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("bucket: url is required")
	}
	return nil
}

type BucketWriter struct {
	bucket *blob.Bucket
	prefix string
}

func NewWriter(ctx context.Context, cfg Config) (*BucketWriter, error) {
	bkt, err := blob.OpenBucket(ctx, cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "open bucket")
	}

	return New(bkt, cfg.Prefix), nil
}

func New(bkt *blob.Bucket, prefix string) *BucketWriter {
	return &BucketWriter{bucket: bkt, prefix: prefix}
}

func (b *BucketWriter) Open(ctx context.Context, name string) (io.WriteCloser, error) {
	ctx, cancel := context.WithCancel(ctx)

	w, err := b.bucket.NewWriter(ctx, path.Join(b.prefix, name), nil)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "bucket new writer")
	}

	return &objectWriter{w: w, cancel: cancel}, nil
}

func (b *BucketWriter) Close() error {
	return b.bucket.Close()
}

type objectWriter struct {
	w      *blob.Writer
	cancel context.CancelFunc
}

func (o *objectWriter) Write(p []byte) (int, error) {
	return o.w.Write(p)
}

func (o *objectWriter) Close() error {
	defer o.cancel()
	return errors.Wrap(o.w.Close(), "bucket commit object")
}

// Abort cancels the write; a blob writer whose context is canceled does not
// create the object.
func (o *objectWriter) Abort(error) error {
	o.cancel()
	_ = o.w.Close()
	return nil
}
