package downstream

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"

	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/models"
)

// Bucket key prefixes.
const (
	QuestionsPrefix = "questions/"
	AnswersPrefix   = "answers/"
	MetadataPrefix  = "metadata/"
)

// UploadConfig describes where the local CSV files live.
type UploadConfig struct {
	QuestionsDir string
	AnswersDir   string
	CopyLog      string // local file listing every uploaded key
	Workers      int
}

// UploadStep moves the flushed CSV files into a bucket. A file whose content
// is already in the bucket under its name is not uploaded again. When the name
// is taken by different content the file goes under a name suffixed with the
// cycle id. Local files are removed once the bucket holds their content.
type UploadStep struct {
	bucket *blob.Bucket
	cfg    UploadConfig
	pool   *ants.Pool
	logger *slog.Logger
}

// OpenUploadStep opens the bucket at url (s3://, azblob://, file://, mem://).
func OpenUploadStep(ctx context.Context, url string, cfg UploadConfig, logger *slog.Logger) (*UploadStep, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket: %w", err)
	}
	step, err := NewUploadStep(bucket, cfg, logger)
	if err != nil {
		bucket.Close()
		return nil, err
	}
	return step, nil
}

// NewUploadStep takes ownership of bucket.
func NewUploadStep(bucket *blob.Bucket, cfg UploadConfig, logger *slog.Logger) (*UploadStep, error) {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload pool: %w", err)
	}
	return &UploadStep{bucket: bucket, cfg: cfg, pool: pool, logger: logger}, nil
}

func (u *UploadStep) Name() string { return "upload" }

type uploadJob struct {
	local string
	key   string
}

type uploadResult struct {
	key      string
	uploaded bool
	err      error
}

func (u *UploadStep) Run(ctx context.Context, report models.CycleReport) error {
	jobs, err := u.collect()
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return nil
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make([]uploadResult, 0, len(jobs))
	)
	for _, job := range jobs {
		wg.Add(1)
		err := u.pool.Submit(func() {
			defer wg.Done()
			key, uploaded, err := u.upload(ctx, job, report.CycleID)
			mu.Lock()
			results = append(results, uploadResult{key: key, uploaded: uploaded, err: err})
			mu.Unlock()
		})
		if err != nil {
			wg.Done()
			results = append(results, uploadResult{key: job.key, err: fmt.Errorf("failed to submit upload: %w", err)})
		}
	}
	wg.Wait()

	var (
		errs     []error
		uploaded []string
	)
	for _, r := range results {
		switch {
		case r.err != nil:
			errs = append(errs, fmt.Errorf("%s: %w", r.key, r.err))
		case r.uploaded:
			uploaded = append(uploaded, r.key)
		}
	}
	sort.Strings(uploaded)

	if len(uploaded) > 0 && u.cfg.CopyLog != "" {
		if err := u.recordCopies(ctx, uploaded); err != nil {
			errs = append(errs, err)
		}
	}
	u.logger.Info("upload finished",
		"cycle", report.CycleID, "files", len(jobs), "uploaded", len(uploaded), "failed", len(errs))
	return errors.Join(errs...)
}

func (u *UploadStep) collect() ([]uploadJob, error) {
	var jobs []uploadJob
	for _, src := range []struct{ dir, prefix string }{
		{u.cfg.QuestionsDir, QuestionsPrefix},
		{u.cfg.AnswersDir, AnswersPrefix},
	} {
		entries, err := os.ReadDir(src.dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to list %s: %w", src.dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") {
				continue
			}
			jobs = append(jobs, uploadJob{
				local: filepath.Join(src.dir, e.Name()),
				key:   src.prefix + e.Name(),
			})
		}
	}
	return jobs, nil
}

// upload returns the key holding the file and whether this call uploaded it.
func (u *UploadStep) upload(ctx context.Context, job uploadJob, cycleID string) (string, bool, error) {
	data, err := os.ReadFile(job.local)
	if err != nil {
		return job.key, false, err
	}
	sum := md5.Sum(data)

	for _, key := range candidateKeys(job.key, cycleID) {
		attrs, err := u.bucket.Attributes(ctx, key)
		switch {
		case gcerrors.Code(err) == gcerrors.NotFound:
			return key, true, u.put(ctx, job.local, key, data)
		case err != nil:
			return key, false, fmt.Errorf("failed to check bucket: %w", err)
		}

		same, err := u.sameContent(ctx, key, attrs, data, sum[:])
		if err != nil {
			return key, false, err
		}
		if same {
			u.logger.Debug("already in bucket, skipping", "key", key)
			return key, false, os.Remove(job.local)
		}
		u.logger.Warn("bucket key holds different content", "key", key, "local", job.local)
	}
	return job.key, false, fmt.Errorf("every candidate key holds different content")
}

// candidateKeys lists key, then key suffixed with cycleID before its extension.
func candidateKeys(key, cycleID string) []string {
	if cycleID == "" {
		return []string{key}
	}
	ext := path.Ext(key)
	return []string{key, strings.TrimSuffix(key, ext) + "_" + cycleID + ext}
}

func (u *UploadStep) sameContent(ctx context.Context, key string, attrs *blob.Attributes, data, sum []byte) (bool, error) {
	if attrs.Size != int64(len(data)) {
		return false, nil
	}
	if len(attrs.MD5) > 0 {
		return bytes.Equal(attrs.MD5, sum), nil
	}
	remote, err := u.bucket.ReadAll(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return bytes.Equal(remote, data), nil
}

// put uploads data under key, verifies the stored size and removes local.
func (u *UploadStep) put(ctx context.Context, local, key string, data []byte) error {
	if err := u.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{ContentType: "text/csv"}); err != nil {
		return fmt.Errorf("failed to upload: %w", err)
	}
	attrs, err := u.bucket.Attributes(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to verify upload: %w", err)
	}
	if attrs.Size != int64(len(data)) {
		return fmt.Errorf("size mismatch after upload: local %d, bucket %d", len(data), attrs.Size)
	}
	return os.Remove(local)
}

// recordCopies appends keys to the local copy log and uploads the whole log
// under MetadataPrefix.
func (u *UploadStep) recordCopies(ctx context.Context, keys []string) error {
	f, err := os.OpenFile(u.cfg.CopyLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open copy log: %w", err)
	}
	if _, err := f.WriteString(strings.Join(keys, "\n") + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("failed to write copy log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write copy log: %w", err)
	}

	data, err := os.ReadFile(u.cfg.CopyLog)
	if err != nil {
		return fmt.Errorf("failed to read copy log: %w", err)
	}
	key := path.Join(MetadataPrefix, filepath.Base(u.cfg.CopyLog))
	if err := u.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{ContentType: "text/plain"}); err != nil {
		return fmt.Errorf("failed to upload copy log: %w", err)
	}
	return nil
}

func (u *UploadStep) Close() error {
	u.pool.Release()
	return u.bucket.Close()
}
