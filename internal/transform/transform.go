// Package transform defines the tool catalog. Run functions hand real
// filesystem paths to external binaries and read what those processes wrote,
// so they use the os package directly instead of the afero layer injected
// elsewhere in the service.
package transform

import (
	"context"
	"strconv"
	"strings"

	"filetoolsgo/internal/ingest"
	"filetoolsgo/internal/models"
	"filetoolsgo/internal/runner"
)

// Class decides the orchestrator's failure policy for an operation.
type Class int

const (
	// Batch operations consume all inputs in one invocation; any failure
	// aborts the whole request with zero artifacts.
	Batch Class = iota
	// PerFile operations apply independently to each input; a failed file is
	// skipped and the rest continue.
	PerFile
)

// Output is one produced file, written under the invocation's out directory.
type Output struct {
	Name string
	Path string
}

// RunFunc invokes the backend. Batch operations receive the full input set;
// per-file operations are called once per input with a single-element slice.
type RunFunc func(ctx context.Context, r runner.Runner, inputs []ingest.File, opts interface{}, outDir string) ([]Output, map[string]interface{}, error)

// Operation is a fully described tool endpoint: admission rules, a typed
// option parser, and the backend invocation. Option bags are validated here,
// once, at the boundary.
type Operation struct {
	Name   string
	Class  Class
	Ingest ingest.Spec
	Parse  func(form Form) (interface{}, error)
	Run    RunFunc
}

// Form holds the non-file multipart fields of a request.
type Form map[string][]string

// Get returns the first value for key, or "".
func (f Form) Get(key string) string {
	if vs := f[key]; len(vs) > 0 {
		return strings.TrimSpace(vs[0])
	}
	return ""
}

func (f Form) intInRange(key string, min, max int) (int, bool, error) {
	raw := f.Get(key)
	if raw == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, models.Reject(models.InvalidOption, "%s must be a number", key)
	}
	if n < min || n > max {
		return 0, false, models.Reject(models.InvalidOption, "%s must be between %d and %d", key, min, max)
	}
	return n, true, nil
}

// Catalog returns every operation keyed by its route path.
func Catalog() map[string]*Operation {
	ops := []*Operation{
		mergePDFOp(),
		splitPDFOp(),
		compressPDFOp(),
		protectPDFOp(),
		pdfToImagesOp(),
		convertImageOp(),
		resizeImageOp(),
		compressImageOp(),
		imagesToPDFOp(),
		ocrOp(),
		officeConvertOp(),
	}
	catalog := make(map[string]*Operation, len(ops))
	for _, op := range ops {
		catalog[op.Name] = op
	}
	return catalog
}

const (
	maxPDFBytes    = 25 << 20
	maxImageBytes  = 25 << 20
	maxOfficeBytes = 50 << 20
)

var (
	pdfTypes   = []string{"application/pdf"}
	imageTypes = []string{"image/"}
)

func baseName(name string) string {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[:i]
	}
	return name
}
