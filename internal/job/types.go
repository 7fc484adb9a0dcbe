package job

import (
	"fmt"
	"io"
	"strings"
	"switchbox/internal/apperrors"
	"switchbox/internal/jobdir"
)

// Fixed versions reported with every job detail.
const (
	VocabVersion = "v5.0 31-AUG-23"
	CDMVersion   = "5.4"
)

// Mode is the access mode of a mount.
type Mode string

const (
	ModeReadOnly  Mode = "ro"
	ModeReadWrite Mode = "rw"
)

// MountRef is a host path made available inside the job's container.
type MountRef struct {
	HostPath      string `json:"host_path"`
	ContainerPath string `json:"container_path"`
	Mode          Mode   `json:"mode"` // defaults to ro
}

// Volume returns the compose --volume value for the mount.
func (m MountRef) Volume() (string, error) {
	mode := m.Mode
	if mode == "" {
		mode = ModeReadOnly
	}
	if mode != ModeReadOnly && mode != ModeReadWrite {
		return "", apperrors.Validation("mode", fmt.Sprintf("mount mode must be ro or rw, got %q", m.Mode))
	}
	if m.HostPath == "" || m.ContainerPath == "" {
		return "", apperrors.Validation("mount", "host and container paths are required")
	}
	if strings.Contains(m.HostPath, ":") || strings.Contains(m.ContainerPath, ":") {
		return "", apperrors.Validation("mount", "mount paths must not contain ':'")
	}
	return m.HostPath + ":" + m.ContainerPath + ":" + string(mode), nil
}

// Item is one entry of the job list.
type Item struct {
	JobID         string           `json:"job_id"`
	StartDatetime jobdir.Timestamp `json:"start_datetime"`
	Status        jobdir.State     `json:"status"`
	SourceName    string           `json:"source_name"`
	SourceDate    string           `json:"source_date"`
}

// Detail is the full view of one job.
type Detail struct {
	ID           string           `json:"id"`
	Date         jobdir.Timestamp `json:"date"`
	Status       jobdir.State     `json:"status"`
	Name         string           `json:"name"`
	VocabVersion string           `json:"vocabVersion"`
	SourceDate   string           `json:"sourceDate"`
	ETLVersion   string           `json:"etlVersion"`
	CDMVersion   string           `json:"cdmVersion"`
	Log          string           `json:"log"`
}

// Upload is a file submitted with a new job.
type Upload struct {
	Param   string // parameter name; stored as data/<Param>.csv
	Content io.Reader
}

// CreateRequest is the input of Service.Create.
type CreateRequest struct {
	Config  map[string]string
	Uploads []Upload
}

// CreateResponse is returned by Service.Create.
type CreateResponse struct {
	JobID  string        `json:"job_id"`
	Status jobdir.Status `json:"status"`
}

// configString renders a config value the way it appears in list and
// detail views.
func configString(config map[string]any, key string) string {
	v, ok := config[key]
	if !ok || v == nil {
		return ""
	}
	return stringify(v)
}
