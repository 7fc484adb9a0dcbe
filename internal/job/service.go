package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"switchbox/internal/apperrors"
	"switchbox/internal/params"

	"golang.org/x/sync/errgroup"
)

// defaultListConcurrency bounds concurrent status reconciliations in List.
const defaultListConcurrency = 8

// Service is the job API used by the HTTP layer.
//
// The Service is stateless: every call reads the job directories, so any
// number of instances can share the same base directory.
type Service struct {
	runtime         *Runtime
	schema          *params.Set
	version         string
	mounts          []MountRef
	listConcurrency int
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithMounts adds mounts to every job the service starts.
func WithMounts(mounts ...MountRef) ServiceOption {
	return func(s *Service) { s.mounts = append(s.mounts, mounts...) }
}

// WithListConcurrency sets how many jobs List reconciles at once.
func WithListConcurrency(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.listConcurrency = n
		}
	}
}

// NewService creates a job service. schema may be nil, in which case form
// values and uploads are not checked.
func NewService(runtime *Runtime, schema *params.Set, version string, opts ...ServiceOption) *Service {
	s := &Service{
		runtime:         runtime,
		schema:          schema,
		version:         version,
		listConcurrency: defaultListConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create makes a new job from submitted form values and uploads, then starts it.
// Uploads for declared csv parameters are stored as data/<name>.csv; other
// uploads are ignored.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResponse, error) {
	if s.schema != nil {
		if err := s.schema.ValidateValues(req.Config); err != nil {
			return nil, err
		}
	}

	job, err := s.runtime.Open(ctx, "", s.mounts...)
	if err != nil {
		return nil, err
	}
	logger := slog.With("jobId", job.ID)

	config := make(map[string]any, len(req.Config))
	for k, v := range req.Config {
		config[k] = v
	}
	if err := job.Dir.SetConfig(config); err != nil {
		return nil, err
	}

	for _, upload := range req.Uploads {
		if err := s.storeUpload(job, upload, logger); err != nil {
			return nil, err
		}
	}

	status, err := job.Start(ctx)
	if err != nil {
		return nil, err
	}
	return &CreateResponse{JobID: job.ID, Status: status}, nil
}

func (s *Service) storeUpload(job *Job, upload Upload, logger *slog.Logger) error {
	var csvParam *params.CSVParam
	if s.schema != nil {
		p, ok := s.schema.Get(upload.Param)
		if !ok || p.Kind() != params.KindCSV {
			logger.Debug("Ignoring upload for undeclared csv param", "param", upload.Param)
			return nil
		}
		csvParam = p.(*params.CSVParam)
	}

	path, err := job.Dir.DataFile(upload.Param + ".csv")
	if err != nil {
		return err
	}
	if err := writeFile(path, upload.Content); err != nil {
		return apperrors.InvalidState("job", fmt.Sprintf("cannot store upload %s for job %s", upload.Param, job.ID), err)
	}
	logger.Debug("Stored upload", "param", upload.Param, "path", path)

	if csvParam == nil {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return apperrors.InvalidState("job", fmt.Sprintf("cannot reopen upload %s for job %s", upload.Param, job.ID), err)
	}
	defer f.Close()
	return csvParam.ValidateUpload(upload.Param, f)
}

func writeFile(path string, content io.Reader) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, content); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Get returns the detail view of one job, including its log.
func (s *Service) Get(ctx context.Context, id string) (*Detail, error) {
	job, err := s.runtime.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	log, err := job.Dir.Log()
	if err != nil {
		return nil, err
	}
	return &Detail{
		ID:           job.ID,
		Date:         job.Status.StartedAt,
		Status:       job.Status.Status,
		Name:         configString(job.Environment, "cdm_source_name"),
		VocabVersion: VocabVersion,
		SourceDate:   configString(job.Environment, "source_release_date"),
		ETLVersion:   s.version,
		CDMVersion:   CDMVersion,
		Log:          log,
	}, nil
}

// List returns every job under the base directory with a reconciled status.
// Entries that are not directories, or whose state cannot be read, are
// logged and skipped.
func (s *Service) List(ctx context.Context) ([]Item, error) {
	entries, err := os.ReadDir(s.runtime.BaseDir)
	if errors.Is(err, fs.ErrNotExist) {
		return []Item{}, nil
	}
	if err != nil {
		return nil, apperrors.InvalidState("jobs", fmt.Sprintf("cannot list %s", s.runtime.BaseDir), err)
	}

	items := make([]*Item, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.listConcurrency)

	for i, entry := range entries {
		if !entry.IsDir() {
			slog.Warn("Unrecognized entry in job directory", "name", entry.Name())
			continue
		}
		g.Go(func() error {
			job, err := s.runtime.Open(gctx, entry.Name())
			if err != nil {
				slog.Warn("Skipping unreadable job", "jobId", entry.Name(), "error", err)
				return nil
			}
			items[i] = &Item{
				JobID:         job.ID,
				StartDatetime: job.Status.StartedAt,
				Status:        job.Status.Status,
				SourceName:    configString(job.Environment, "cdm_source_name"),
				SourceDate:    configString(job.Environment, "source_release_date"),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := make([]Item, 0, len(items))
	for _, item := range items {
		if item != nil {
			result = append(result, *item)
		}
	}
	return result, nil
}

// Delete is accepted but does nothing; job directories are kept.
func (s *Service) Delete(ctx context.Context, id string) error {
	slog.Debug("Ignoring delete", "jobId", id)
	return nil
}

// Stop is accepted but does nothing; running containers are left alone.
func (s *Service) Stop(ctx context.Context, id string) error {
	slog.Debug("Ignoring stop", "jobId", id)
	return nil
}

// Ready reports whether the job base directory is usable.
func (s *Service) Ready(ctx context.Context) error {
	info, err := os.Stat(s.runtime.BaseDir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.runtime.BaseDir)
	}
	return nil
}
