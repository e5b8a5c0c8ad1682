package persist

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/UynajGI/yuusim/internal/compress"
)

const (
	fileFormat    = "yuusim-snapshot"
	fileVersion   = 1
	fileExtension = ".ysim"
)

type fileHeader struct {
	Format      string             `json:"format"`
	Version     int                `json:"version"`
	Project     string             `json:"project"`
	RunID       string             `json:"run_id"`
	ConfigHash  string             `json:"config_hash"`
	CreatedAt   time.Time          `json:"created_at"`
	Tasks       int                `json:"tasks"`
	Compression compress.Algorithm `json:"compression"`
	Checksum    string             `json:"checksum"`
}

// FileStore writes each snapshot to <dir>/<project>/<timestamp>_<hash>.ysim:
// a JSON header line followed by the compressed payload. With a subdir the
// files land in <dir>/<project>/<subdir>, which lets a project workspace
// keep its runs in its own data folder.
type FileStore struct {
	dir    string
	subdir string
	alg    compress.Algorithm
}

func NewFileStore(dir string, alg compress.Algorithm) *FileStore {
	if alg == "" {
		alg = compress.Gzip
	}
	return &FileStore{dir: dir, alg: alg}
}

// NewWorkspaceFileStore stores runs under <root>/<project>/<subdir>.
func NewWorkspaceFileStore(root, subdir string, alg compress.Algorithm) *FileStore {
	s := NewFileStore(root, alg)
	s.subdir = subdir
	return s
}

func (s *FileStore) Init() error {
	return os.MkdirAll(s.dir, 0755)
}

// Path is where snap is stored for project.
func (s *FileStore) Path(project string, snap *Snapshot) string {
	return filepath.Join(s.projectDir(project), snap.Name()+fileExtension)
}

func (s *FileStore) projectDir(project string) string {
	return filepath.Join(s.dir, project, s.subdir)
}

func (s *FileStore) Save(ctx context.Context, project string, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := encode(snap, s.alg)
	if err != nil {
		return err
	}
	header := fileHeader{
		Format:      fileFormat,
		Version:     fileVersion,
		Project:     project,
		RunID:       snap.RunID,
		ConfigHash:  snap.ConfigHash,
		CreatedAt:   snap.CreatedAt,
		Tasks:       len(snap.Tasks),
		Compression: s.alg,
		Checksum:    checksum(payload),
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshaling header: %w", err)
	}

	path := s.Path(project, snap)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	// Write to a temp file and rename so readers never see a partial file.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	w.Write(headerBytes)
	w.WriteByte('\n')
	w.Write(payload)
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing snapshot: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func (s *FileStore) Load(ctx context.Context, project string) (*Snapshot, error) {
	metas, err := s.List(ctx, project)
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return nil, fmt.Errorf("%w: project %s", ErrNotFound, project)
	}
	return s.LoadRun(ctx, project, metas[0].RunID)
}

// LoadRun returns a specific run of project.
func (s *FileStore) LoadRun(ctx context.Context, project, runID string) (*Snapshot, error) {
	paths, err := s.files(project)
	if err != nil {
		return nil, err
	}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		header, _, err := readHeader(path)
		if err != nil || header.RunID != runID {
			continue
		}
		return ReadFile(path)
	}
	return nil, fmt.Errorf("%w: run %s", ErrNotFound, runID)
}

// List skips files that cannot be read; a missing project yields no entries.
func (s *FileStore) List(ctx context.Context, project string) ([]Meta, error) {
	paths, err := s.files(project)
	if err != nil {
		return nil, err
	}

	metas := make([]Meta, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		header, size, err := readHeader(path)
		if err != nil {
			continue
		}
		metas = append(metas, Meta{
			Project:     header.Project,
			RunID:       header.RunID,
			ConfigHash:  header.ConfigHash,
			CreatedAt:   header.CreatedAt,
			Tasks:       header.Tasks,
			Compression: header.Compression,
			Size:        size,
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	return metas, nil
}

// Projects lists project directories holding snapshots.
func (s *FileStore) Projects() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) files(project string) ([]string, error) {
	dir := s.projectDir(project)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExtension) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}

func readHeader(path string) (*fileHeader, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}

	line, err := bufio.NewReader(f).ReadBytes('\n')
	if err != nil {
		return nil, 0, fmt.Errorf("reading header line: %w", err)
	}
	var header fileHeader
	if err := json.Unmarshal(bytes.TrimSpace(line), &header); err != nil {
		return nil, 0, fmt.Errorf("parsing header: %w", err)
	}
	if header.Format != fileFormat {
		return nil, 0, fmt.Errorf("not a snapshot file: %s", path)
	}
	return &header, int(info.Size()), nil
}

// ReadFile reads one snapshot file and verifies its checksum.
func ReadFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading header line: %w", err)
	}
	var header fileHeader
	if err := json.Unmarshal(bytes.TrimSpace(line), &header); err != nil {
		return nil, fmt.Errorf("parsing header: %w", err)
	}
	if header.Version != fileVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", header.Version)
	}

	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}
	if got := checksum(payload); got != header.Checksum {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrChecksum, header.Checksum, got)
	}
	return decode(header.Compression, payload)
}
