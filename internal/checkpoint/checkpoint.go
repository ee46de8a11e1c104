// Package checkpoint implements atomic persistence and resume of the full
// sampler state: magic bytes, a format version, and a CRC32 checksum over
// a JSON snapshot, written to a temp path, fsynced, and renamed so a crash
// never leaves a partial resume file behind.
package checkpoint

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nestedsampling/polychord-go/internal/nserrors"
	"github.com/nestedsampling/polychord-go/internal/point"
	"github.com/nestedsampling/polychord-go/internal/posterior"
)

// MagicBytes identifies a valid .resume file.
const (
	MagicBytes    uint32 = 0x504f4c59 // "POLY"
	FormatVersion uint32 = 1
)

// PointRecord is the JSON-serializable form of a point.Point, with the
// status and daughter index serialized as separate fields.
type PointRecord struct {
	Hypercube     []float64       `json:"hypercube"`
	Physical      []float64       `json:"physical"`
	Derived       []float64       `json:"derived"`
	L0            point.JSONFloat `json:"l0"`
	L1            point.JSONFloat `json:"l1"`
	NLike         int64           `json:"nlike"`
	LastChord     float64         `json:"last_chord"`
	Status        point.Status    `json:"status"`
	DaughterIndex int             `json:"daughter_index"`
}

// PosteriorRecord is the JSON-serializable form of a posterior.Row.
type PosteriorRecord struct {
	LogWeight float64   `json:"log_weight"`
	LogL      float64   `json:"log_l"`
	Physical  []float64 `json:"physical"`
	Derived   []float64 `json:"derived"`
}

// Snapshot is the full serialized sampler state.
type Snapshot struct {
	NDims    int `json:"n_dims"`
	NDerived int `json:"n_derived"`

	Stack []PointRecord `json:"stack"`

	LogZ  point.JSONFloat `json:"log_z"`
	LogX  float64         `json:"log_x"`
	H     float64         `json:"h"`
	NDead int             `json:"n_dead"`

	MeanLikelihoodCalls  float64 `json:"mean_likelihood_calls"`
	TotalLikelihoodCalls int64   `json:"total_likelihood_calls"`

	NPosterior int               `json:"n_posterior"`
	Posterior  []PosteriorRecord `json:"posterior"`
}

// Store writes and reads Snapshots atomically under a base directory,
// naming the file "<file_root>.resume".
type Store struct {
	baseDir  string
	fileRoot string
	logger   *slog.Logger
}

// New returns a Store rooted at baseDir, naming files after fileRoot.
func New(baseDir, fileRoot string) *Store {
	return &Store{
		baseDir:  baseDir,
		fileRoot: fileRoot,
		logger:   slog.Default().With("component", "checkpoint"),
	}
}

// Path returns the resume file's path.
func (s *Store) Path() string {
	return filepath.Join(s.baseDir, s.fileRoot+".resume")
}

// Write atomically persists snap: marshal to JSON, write to a .tmp file,
// fsync, then rename over the final path, so resume never observes a
// partially written file even if the process crashes mid-write.
func (s *Store) Write(snap *Snapshot) error {
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return nserrors.IO("creating checkpoint directory: %v", err)
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return nserrors.IO("marshaling snapshot: %v", err)
	}
	checksum := crc32.ChecksumIEEE(payload)

	finalPath := s.Path()
	tmpPath := finalPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nserrors.IO("creating temp checkpoint file: %v", err)
	}

	header := make([]byte, 12)
	binary.LittleEndian.PutUint32(header[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(header[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(header[8:12], checksum)

	if _, err := f.Write(header); err != nil {
		f.Close()
		return nserrors.IO("writing checkpoint header: %v", err)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		return nserrors.IO("writing checkpoint payload: %v", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nserrors.IO("syncing checkpoint file: %v", err)
	}
	if err := f.Close(); err != nil {
		return nserrors.IO("closing checkpoint file: %v", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nserrors.IO("renaming checkpoint file: %v", err)
	}
	s.logger.Debug("checkpoint written", "path", finalPath, "ndead", snap.NDead)
	return nil
}

// Read loads and validates the resume file, returning ResumeCorruption if
// the header or checksum doesn't match.
func (s *Store) Read() (*Snapshot, error) {
	f, err := os.Open(s.Path())
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header := make([]byte, 12)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, nserrors.ResumeCorruption("reading header: %v", err)
	}
	magic := binary.LittleEndian.Uint32(header[0:4])
	version := binary.LittleEndian.Uint32(header[4:8])
	checksum := binary.LittleEndian.Uint32(header[8:12])
	if magic != MagicBytes {
		return nil, nserrors.ResumeCorruption("bad magic bytes 0x%x", magic)
	}
	if version != FormatVersion {
		return nil, nserrors.ResumeCorruption("unsupported format version %d", version)
	}

	payload, err := io.ReadAll(f)
	if err != nil {
		return nil, nserrors.ResumeCorruption("reading payload: %v", err)
	}
	if crc32.ChecksumIEEE(payload) != checksum {
		return nil, nserrors.ResumeCorruption("checksum mismatch")
	}

	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, nserrors.ResumeCorruption("unmarshaling snapshot: %v", err)
	}

	cancelGestating(&snap)
	return &snap, nil
}

// Exists reports whether a resume file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

// cancelGestating handles in-flight work at resume: any slot marked
// Gestating had a worker in flight when the checkpoint was taken, and that
// work is lost on restart, so the slot is reblanked and its mother's
// status is reset to Waiting.
func cancelGestating(snap *Snapshot) {
	for i := range snap.Stack {
		if snap.Stack[i].Status != point.Gestating {
			continue
		}
		snap.Stack[i] = PointRecord{Status: point.Blank}
		for j := range snap.Stack {
			if snap.Stack[j].Status == point.HasDaughter && snap.Stack[j].DaughterIndex == i {
				snap.Stack[j].Status = point.Waiting
				snap.Stack[j].DaughterIndex = 0
			}
		}
	}
}

// ToRecord converts a point.Point to its serializable form.
func ToRecord(p *point.Point) PointRecord {
	return PointRecord{
		Hypercube:     p.Hypercube,
		Physical:      p.Physical,
		Derived:       p.Derived,
		L0:            point.JSONFloat(p.L0),
		L1:            point.JSONFloat(p.L1),
		NLike:         p.NLike,
		LastChord:     p.LastChord,
		Status:        p.Status,
		DaughterIndex: p.DaughterIndex,
	}
}

// FromRecord converts a serialized PointRecord back into a point.Point.
func FromRecord(r PointRecord) *point.Point {
	return &point.Point{
		Hypercube:     r.Hypercube,
		Physical:      r.Physical,
		Derived:       r.Derived,
		L0:            float64(r.L0),
		L1:            float64(r.L1),
		NLike:         r.NLike,
		LastChord:     r.LastChord,
		Status:        r.Status,
		DaughterIndex: r.DaughterIndex,
	}
}

// ToPosteriorRecord converts a posterior.Row to its serializable form.
func ToPosteriorRecord(r posterior.Row) PosteriorRecord {
	return PosteriorRecord{
		LogWeight: r.LogWeight,
		LogL:      r.LogL,
		Physical:  r.Physical,
		Derived:   r.Derived,
	}
}

// FromPosteriorRecord converts a serialized PosteriorRecord back.
func FromPosteriorRecord(r PosteriorRecord) posterior.Row {
	return posterior.Row{
		LogWeight: r.LogWeight,
		LogL:      r.LogL,
		Physical:  r.Physical,
		Derived:   r.Derived,
	}
}
