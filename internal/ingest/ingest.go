package ingest

import (
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"filetoolsgo/internal/models"
)

// Spec describes what an operation admits: which content types, how many
// files, and how large each may be. Allowed entries ending in "/" match by
// prefix (e.g. "image/").
type Spec struct {
	AllowedTypes []string
	MinFiles     int
	MaxFiles     int
	MaxFileSize  int64
}

// File is one admitted upload, materialized in the holding area pending
// orchestration.
type File struct {
	Name     string
	Path     string
	MimeType string
	Size     int64
}

// Gate validates multipart uploads against an operation's Spec. Nothing is
// written to the holding area until every file in the request has passed
// validation.
type Gate struct {
	fs         afero.Fs
	holdingDir string
}

const holdingSubdir = "incoming"

func NewGate(fs afero.Fs, baseDir string) *Gate {
	return &Gate{fs: fs, holdingDir: filepath.Join(baseDir, holdingSubdir)}
}

// HoldingDir exposes the holding area location for the sweeper.
func (g *Gate) HoldingDir() string { return g.holdingDir }

// Admit checks the request's files against spec and, only if all pass,
// materializes each into the holding area. On a late write failure any files
// already materialized are removed before returning.
func (g *Gate) Admit(form *multipart.Form, spec Spec) ([]File, error) {
	headers := form.File["files"]
	if len(headers) == 0 {
		headers = form.File["file"]
	}
	if len(headers) == 0 {
		return nil, models.Reject(models.NoFileProvided, "no file provided")
	}
	if spec.MinFiles > 0 && len(headers) < spec.MinFiles {
		return nil, models.Reject(models.TooFewFiles, "operation requires at least %d files, got %d", spec.MinFiles, len(headers))
	}
	if spec.MaxFiles > 0 && len(headers) > spec.MaxFiles {
		return nil, models.Reject(models.TooManyFiles, "operation accepts at most %d files, got %d", spec.MaxFiles, len(headers))
	}

	detected := make([]string, len(headers))
	for i, fh := range headers {
		if spec.MaxFileSize > 0 && fh.Size > spec.MaxFileSize {
			return nil, models.Reject(models.FileTooLarge, "%s exceeds the %d byte limit", fh.Filename, spec.MaxFileSize)
		}
		mt, err := sniffType(fh)
		if err != nil {
			return nil, fmt.Errorf("sniff %s: %w", fh.Filename, err)
		}
		if !typeAllowed(mt, spec.AllowedTypes) {
			return nil, models.Reject(models.UnsupportedMimeType, "%s has unsupported type %s", fh.Filename, mt)
		}
		detected[i] = mt
	}

	if err := g.fs.MkdirAll(g.holdingDir, 0o755); err != nil {
		return nil, fmt.Errorf("create holding dir: %w", err)
	}
	files := make([]File, 0, len(headers))
	for i, fh := range headers {
		name := filepath.Base(fh.Filename)
		dest := filepath.Join(g.holdingDir, uuid.NewString()+"-"+name)
		if err := g.saveFile(fh, dest); err != nil {
			for _, f := range files {
				_ = g.fs.Remove(f.Path)
			}
			return nil, fmt.Errorf("materialize %s: %w", name, err)
		}
		files = append(files, File{Name: name, Path: dest, MimeType: detected[i], Size: fh.Size})
	}
	return files, nil
}

func (g *Gate) saveFile(fh *multipart.FileHeader, dest string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	out, err := g.fs.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		_ = g.fs.Remove(dest)
		return err
	}
	return out.Close()
}

func sniffType(fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return "", err
	}
	return mt.String(), nil
}

func typeAllowed(detected string, allowed []string) bool {
	for _, a := range allowed {
		if strings.HasSuffix(a, "/") {
			if strings.HasPrefix(detected, a) {
				return true
			}
			continue
		}
		if detected == a {
			return true
		}
	}
	return false
}
