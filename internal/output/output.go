// Package output writes the flat-file surface of a run under base_dir:
// the posterior sample file "<file_root>.txt", the current live set
// "<file_root>_phys_live.txt", the death stream "<file_root>_dead.txt",
// the final summary "<file_root>.stats", and the parameter-name file
// "<file_root>.paramnames". Whole-file rewrites go through the same
// write-to-temp-then-rename convention as the checkpoint store so a reader
// polling the directory never observes a half-written file; the death
// stream is append-only.
package output

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/nestedsampling/polychord-go/internal/nserrors"
	"github.com/nestedsampling/polychord-go/internal/point"
	"github.com/nestedsampling/polychord-go/internal/posterior"
)

// Writer owns the run's flat-file outputs.
type Writer struct {
	baseDir  string
	fileRoot string

	dead *os.File
}

// New returns a Writer rooted at baseDir, naming files after fileRoot.
func New(baseDir, fileRoot string) *Writer {
	return &Writer{baseDir: baseDir, fileRoot: fileRoot}
}

func (w *Writer) path(suffix string) string {
	return filepath.Join(w.baseDir, w.fileRoot+suffix)
}

// writeAtomic writes content to path via a temp file and rename.
func (w *Writer) writeAtomic(path, content string) error {
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return nserrors.IO("creating output directory: %v", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return nserrors.IO("writing %s: %v", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nserrors.IO("renaming %s: %v", tmp, err)
	}
	return nil
}

// WritePosterior rewrites "<file_root>.txt": one row per reservoir sample,
// "weight logL physical... derived...", with weights normalized by the
// running logZ so the column sums toward 1 as the run converges.
func (w *Writer) WritePosterior(rows []posterior.Row, logZ float64) error {
	var b strings.Builder
	for _, row := range rows {
		fmt.Fprintf(&b, "%.14e %.14e", math.Exp(row.LogWeight-logZ), row.LogL)
		for _, v := range row.Physical {
			fmt.Fprintf(&b, " %.14e", v)
		}
		for _, v := range row.Derived {
			fmt.Fprintf(&b, " %.14e", v)
		}
		b.WriteByte('\n')
	}
	return w.writeAtomic(w.path(".txt"), b.String())
}

// WritePhysLive rewrites "<file_root>_phys_live.txt": the physical
// coordinates, derived values, and logL of every current live point.
func (w *Writer) WritePhysLive(live []*point.Point) error {
	var b strings.Builder
	for _, p := range live {
		for _, v := range p.Physical {
			fmt.Fprintf(&b, "%.14e ", v)
		}
		for _, v := range p.Derived {
			fmt.Fprintf(&b, "%.14e ", v)
		}
		fmt.Fprintf(&b, "%.14e\n", p.L0)
	}
	return w.writeAtomic(w.path("_phys_live.txt"), b.String())
}

// AppendDead appends one promoted point to "<file_root>_dead.txt":
// "logL physical... derived...". The file handle is held open across calls
// since deaths arrive once per promotion for the whole run.
func (w *Writer) AppendDead(p *point.Point) error {
	if w.dead == nil {
		if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
			return nserrors.IO("creating output directory: %v", err)
		}
		f, err := os.OpenFile(w.path("_dead.txt"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nserrors.IO("opening dead-point file: %v", err)
		}
		w.dead = f
	}
	b := bufio.NewWriter(w.dead)
	fmt.Fprintf(b, "%.14e", p.L0)
	for _, v := range p.Physical {
		fmt.Fprintf(b, " %.14e", v)
	}
	for _, v := range p.Derived {
		fmt.Fprintf(b, " %.14e", v)
	}
	b.WriteByte('\n')
	if err := b.Flush(); err != nil {
		return nserrors.IO("appending dead point: %v", err)
	}
	return nil
}

// WriteStats rewrites "<file_root>.stats" with the final run summary.
func (w *Writer) WriteStats(ndead int, logZ, sigma float64, totalLikelihoodCalls int64, nPosterior int) error {
	var b strings.Builder
	b.WriteString("Evidence estimates:\n")
	fmt.Fprintf(&b, "log(Z)       = %.6f +/- %.6f\n", logZ, sigma)
	b.WriteString("\nRun-time information:\n")
	fmt.Fprintf(&b, "ndead        = %d\n", ndead)
	fmt.Fprintf(&b, "nlike        = %d\n", totalLikelihoodCalls)
	fmt.Fprintf(&b, "nposterior   = %d\n", nPosterior)
	return w.writeAtomic(w.path(".stats"), b.String())
}

// WriteParamNames rewrites "<file_root>.paramnames" with one name per
// physical and derived parameter, the getdist convention.
func (w *Writer) WriteParamNames(physical, derived []string) error {
	var b strings.Builder
	for _, n := range physical {
		fmt.Fprintf(&b, "%s\t%s\n", n, n)
	}
	for _, n := range derived {
		fmt.Fprintf(&b, "%s*\t%s\n", n, n)
	}
	return w.writeAtomic(w.path(".paramnames"), b.String())
}

// Close releases the append-only dead-point file handle if one was opened.
func (w *Writer) Close() error {
	if w.dead == nil {
		return nil
	}
	err := w.dead.Close()
	w.dead = nil
	return err
}
