package quarantine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path"

	"github.com/go-git/go-billy/v5"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/conveyor-io/conveyor/internal/config"
)

// Mirror configuration errors.
var (
	ErrMirrorBucketEmpty      = errors.New("mirror bucket cannot be empty")
	ErrMirrorCredentialsEmpty = errors.New("mirror access and secret keys cannot be empty")
)

// MirrorConfig holds object-store mirror settings. An empty endpoint disables
// mirroring entirely; the pipeline degrades to local dead-letter files only.
type MirrorConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// LoadMirrorConfig loads mirror configuration from environment variables.
func LoadMirrorConfig() *MirrorConfig {
	return &MirrorConfig{
		Endpoint:  config.GetEnvStr("QUARANTINE_MIRROR_ENDPOINT", ""),
		Bucket:    config.GetEnvStr("QUARANTINE_MIRROR_BUCKET", "conveyor-deadletter"),
		AccessKey: config.GetEnvStr("QUARANTINE_MIRROR_ACCESS_KEY", ""),
		SecretKey: config.GetEnvStr("QUARANTINE_MIRROR_SECRET_KEY", ""),
		UseSSL:    config.GetEnvBool("QUARANTINE_MIRROR_USE_SSL", false),
	}
}

// Enabled reports whether a mirror endpoint is configured.
func (c *MirrorConfig) Enabled() bool {
	return c.Endpoint != ""
}

// Validate checks the mirror configuration. Only meaningful when Enabled.
func (c *MirrorConfig) Validate() error {
	if !c.Enabled() {
		return nil
	}

	if c.Bucket == "" {
		return ErrMirrorBucketEmpty
	}

	if c.AccessKey == "" || c.SecretKey == "" {
		return ErrMirrorCredentialsEmpty
	}

	return nil
}

// Mirror replicates dead-lettered artifacts to an S3-compatible bucket, so
// quarantined inputs survive loss of the local data disk.
type Mirror struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewMirror connects the object-store client. Returns (nil, nil) when the
// configuration disables mirroring.
func NewMirror(cfg *MirrorConfig, logger *slog.Logger) (*Mirror, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect mirror: %w", err)
	}

	return &Mirror{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.With(slog.String("component", "quarantine_mirror")),
	}, nil
}

// EnsureBucket creates the mirror bucket when it does not exist yet.
func (m *Mirror) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check mirror bucket: %w", err)
	}

	if exists {
		return nil
	}

	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create mirror bucket: %w", err)
	}

	return nil
}

// UploadFile streams one file from the data filesystem into the mirror bucket
// under its holding-area path.
func (m *Mirror) UploadFile(ctx context.Context, fs billy.Filesystem, name string) error {
	info, err := fs.Stat(name)
	if err != nil {
		return fmt.Errorf("stat %s: %w", name, err)
	}

	file, err := fs.Open(name)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer func() { _ = file.Close() }()

	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = m.client.PutObject(ctx, m.bucket, name, file, info.Size(),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object %s: %w", name, err)
	}

	m.logger.Debug("artifact mirrored",
		slog.String("bucket", m.bucket),
		slog.String("object", name),
		slog.Int64("size_bytes", info.Size()),
	)

	return nil
}
