package ics

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"agentcal/internal/model"
)

// FileSource serves one <agentID>.ics file per agent from a directory.
type FileSource struct {
	dir string
}

// NewFileSource creates a FileSource rooted at dir.
//
// An empty dir falls back to a relative directory so that development runs
// work without extra setup.
func NewFileSource(dir string) *FileSource {
	if dir == "" {
		dir = "./data/calendars"
	}
	return &FileSource{dir: dir}
}

// Dir returns the calendars directory.
func (s *FileSource) Dir() string {
	return s.dir
}

// Path returns the calendar file path for agentID.
func (s *FileSource) Path(agentID string) (string, error) {
	if err := validateAgentID(agentID); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, agentID+".ics"), nil
}

// Exists reports whether agentID has a calendar file.
func (s *FileSource) Exists(agentID string) (bool, error) {
	p, err := s.Path(agentID)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Read returns the raw calendar bytes. A missing file yields an error
// wrapping fs.ErrNotExist.
func (s *FileSource) Read(ctx context.Context, agentID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.Path(agentID)
	if err != nil {
		return nil, err
	}
	body, err := os.ReadFile(p)
	if err != nil {
		return nil, errors.Wrapf(err, "read calendar for %s", agentID)
	}
	return body, nil
}

func validateAgentID(agentID string) error {
	if agentID == "" {
		return errors.Wrap(model.ErrInvalidInput, "empty agent id")
	}
	if strings.ContainsAny(agentID, `/\`) || agentID == "." || agentID == ".." {
		return errors.Wrapf(model.ErrInvalidInput, "agent id %q is not a valid file name", agentID)
	}
	return nil
}
