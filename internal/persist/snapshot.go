package persist

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/UynajGI/yuusim/internal/compress"
	"github.com/UynajGI/yuusim/internal/config"
	"github.com/UynajGI/yuusim/internal/task"
)

// TaskRecord is the persisted form of a terminal task unit.
type TaskRecord struct {
	Index  int               `msgpack:"index" json:"index"`
	Params any               `msgpack:"params" json:"params"`
	Status task.Status       `msgpack:"status" json:"status"`
	Result any               `msgpack:"result" json:"result"`
	Error  *task.ErrorRecord `msgpack:"error,omitempty" json:"error,omitempty"`
	Start  time.Time         `msgpack:"start" json:"start"`
	End    time.Time         `msgpack:"end" json:"end"`
	Worker int               `msgpack:"worker" json:"worker"`
}

// Snapshot is one persisted run.
type Snapshot struct {
	Project    string         `msgpack:"project" json:"project"`
	RunID      string         `msgpack:"run_id" json:"run_id"`
	ConfigHash string         `msgpack:"config_hash" json:"config_hash"`
	CreatedAt  time.Time      `msgpack:"created_at" json:"created_at"`
	Mode       string         `msgpack:"mode" json:"mode"`
	Workers    int            `msgpack:"workers" json:"workers"`
	Config     map[string]any `msgpack:"config" json:"config"`
	Tasks      []TaskRecord   `msgpack:"tasks" json:"tasks"`
}

// Meta summarizes a stored snapshot without its payload.
type Meta struct {
	Project     string             `json:"project"`
	RunID       string             `json:"run_id"`
	ConfigHash  string             `json:"config_hash"`
	CreatedAt   time.Time          `json:"created_at"`
	Tasks       int                `json:"tasks"`
	Compression compress.Algorithm `json:"compression"`
	Size        int                `json:"size"`
}

// Name is the artifact stem of the summarized run, as Snapshot.Name.
func (m Meta) Name() string {
	return config.Timestamp(m.CreatedAt) + "_" + m.ConfigHash
}

// NewSnapshot captures units under a fresh run id.
func NewSnapshot(project, hash string, cfg map[string]any, mode string, workers int, units []task.Unit) *Snapshot {
	s := &Snapshot{
		Project:    project,
		RunID:      uuid.NewString(),
		ConfigHash: hash,
		CreatedAt:  time.Now().UTC(),
		Mode:       mode,
		Workers:    workers,
		Config:     cfg,
		Tasks:      make([]TaskRecord, len(units)),
	}
	for i, u := range units {
		s.Tasks[i] = TaskRecord{
			Index:  u.Index,
			Params: u.Params,
			Status: u.Status,
			Result: u.Result,
			Error:  u.Err,
			Start:  u.Start,
			End:    u.End,
			Worker: u.Worker,
		}
	}
	return s
}

// Units rebuilds the task units, e.g. to recompute a performance report.
func (s *Snapshot) Units() []task.Unit {
	units := make([]task.Unit, len(s.Tasks))
	for i, r := range s.Tasks {
		units[i] = task.Unit{
			Index:  r.Index,
			Params: r.Params,
			Status: r.Status,
			Result: r.Result,
			Err:    r.Error,
			Start:  r.Start,
			End:    r.End,
			Worker: r.Worker,
		}
	}
	return units
}

// Name is the artifact stem used on disk: <timestamp>_<hash>.
func (s *Snapshot) Name() string {
	return config.Timestamp(s.CreatedAt) + "_" + s.ConfigHash
}

func (s *Snapshot) meta(alg compress.Algorithm, size int) Meta {
	return Meta{
		Project:     s.Project,
		RunID:       s.RunID,
		ConfigHash:  s.ConfigHash,
		CreatedAt:   s.CreatedAt,
		Tasks:       len(s.Tasks),
		Compression: alg,
		Size:        size,
	}
}

// encode serializes s with msgpack and compresses the result.
func encode(s *Snapshot, alg compress.Algorithm) ([]byte, error) {
	raw, err := msgpack.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return compress.Compress(alg, raw)
}

func decode(alg compress.Algorithm, payload []byte) (*Snapshot, error) {
	raw, err := compress.Decompress(alg, payload)
	if err != nil {
		return nil, err
	}
	dec := msgpack.NewDecoder(bytes.NewReader(raw))
	dec.UseLooseInterfaceDecoding(true)

	var s Snapshot
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &s, nil
}

func checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return "sha256:" + hex.EncodeToString(sum[:])
}
