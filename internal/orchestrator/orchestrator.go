package orchestrator

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"

	"filetoolsgo/internal/ingest"
	"filetoolsgo/internal/logging"
	"filetoolsgo/internal/models"
	"filetoolsgo/internal/runner"
	"filetoolsgo/internal/session"
	"filetoolsgo/internal/transform"
	"filetoolsgo/internal/worker"
)

// Orchestrator sequences one admitted request through transform invocation,
// output packaging and session registration. Holding-area uploads are removed
// exactly once on every exit path: after each file's processing attempt, or
// by the deferred sweep when orchestration aborts early.
type Orchestrator struct {
	sessions *session.Manager
	runner   runner.Runner
	pool     *worker.Pool
	fs       afero.Fs
}

func New(sessions *session.Manager, r runner.Runner, pool *worker.Pool, fs afero.Fs) *Orchestrator {
	return &Orchestrator{sessions: sessions, runner: r, pool: pool, fs: fs}
}

// FileFailure reports one skipped input of a per-file operation.
type FileFailure struct {
	Name   string `json:"fileName"`
	Reason string `json:"reason"`
}

// Result describes a completed request: the session, its single registered
// artifact, and reporting metadata.
type Result struct {
	Session   *models.Session
	Artifact  *models.Artifact
	Processed int
	Failed    []FileFailure
	Meta      map[string]interface{}
}

// Process runs op over the admitted files. Batch operations abort entirely on
// any failure; per-file operations skip failed inputs and fail only when
// nothing succeeds.
func (o *Orchestrator) Process(ctx context.Context, op *transform.Operation, files []ingest.File, opts interface{}) (*Result, error) {
	cleaned := make([]bool, len(files))
	removeHolding := func(i int) {
		if cleaned[i] {
			return
		}
		cleaned[i] = true
		if err := o.fs.Remove(files[i].Path); err != nil && !os.IsNotExist(err) {
			logging.Warn("remove holding file failed", "file", files[i].Path, "error", err)
		}
	}
	defer func() {
		for i := range files {
			removeHolding(i)
		}
	}()

	sess, err := o.sessions.Allocate(ctx)
	if err != nil {
		return nil, err
	}
	workDir := filepath.Join(sess.Dir, "work")

	var (
		outputs   []transform.Output
		meta      = map[string]interface{}{}
		failed    []FileFailure
		processed int
		runErr    error
	)
	poolErr := o.pool.Do(ctx, func() {
		switch op.Class {
		case transform.Batch:
			if err := o.fs.MkdirAll(workDir, 0o755); err != nil {
				runErr = fmt.Errorf("create work dir: %w", err)
				return
			}
			outs, m, err := op.Run(ctx, o.runner, files, opts, workDir)
			for i := range files {
				removeHolding(i)
			}
			if err != nil {
				runErr = err
				return
			}
			outputs = outs
			mergeMeta(meta, m)
			processed = len(files)
		case transform.PerFile:
			for i, f := range files {
				dir := filepath.Join(workDir, strconv.Itoa(i))
				if err := o.fs.MkdirAll(dir, 0o755); err != nil {
					runErr = fmt.Errorf("create work dir: %w", err)
					return
				}
				outs, m, err := op.Run(ctx, o.runner, []ingest.File{f}, opts, dir)
				removeHolding(i)
				if err != nil {
					logging.Error("file processing failed", "operation", op.Name, "file", f.Name, "error", err)
					failed = append(failed, FileFailure{Name: f.Name, Reason: failureReason(err)})
					continue
				}
				outputs = append(outputs, outs...)
				mergeMeta(meta, m)
				processed++
			}
		}
	})
	if poolErr != nil {
		_ = o.sessions.Discard(ctx, sess.ID)
		return nil, poolErr
	}
	if runErr != nil {
		_ = o.sessions.Discard(ctx, sess.ID)
		return nil, runErr
	}
	if processed == 0 {
		_ = o.sessions.Discard(ctx, sess.ID)
		return nil, models.ErrAllFilesFailed
	}

	artifact, err := o.packageOutputs(ctx, sess, op, outputs)
	if err != nil {
		_ = o.sessions.Discard(ctx, sess.ID)
		return nil, err
	}
	if err := o.fs.RemoveAll(workDir); err != nil {
		logging.Warn("remove work dir failed", "session", sess.ID, "error", err)
	}

	sizeMeta(meta, files, artifact.Size)
	return &Result{
		Session:   sess,
		Artifact:  artifact,
		Processed: processed,
		Failed:    failed,
		Meta:      meta,
	}, nil
}

// packageOutputs registers exactly one artifact: the raw file when a single
// output was produced, a zip of all outputs (in processing order) otherwise.
func (o *Orchestrator) packageOutputs(ctx context.Context, sess *models.Session, op *transform.Operation, outputs []transform.Output) (*models.Artifact, error) {
	var (
		storedPath string
		name       string
		mime       string
		err        error
	)
	if len(outputs) == 1 {
		out := outputs[0]
		storedPath, name = o.uniquePath(sess.Dir, out.Name)
		if err := o.fs.Rename(out.Path, storedPath); err != nil {
			return nil, fmt.Errorf("finalize output: %w", err)
		}
		mime, err = o.detectMime(storedPath)
		if err != nil {
			logging.Warn("mime detect failed", "file", name, "error", err)
			mime = "application/octet-stream"
		}
	} else {
		archiveName := strings.ReplaceAll(op.Name, "/", "-") + "-results.zip"
		storedPath, name = o.uniquePath(sess.Dir, archiveName)
		if err := o.writeArchive(storedPath, outputs); err != nil {
			return nil, fmt.Errorf("package archive: %w", err)
		}
		mime = "application/zip"
	}
	info, err := o.fs.Stat(storedPath)
	if err != nil {
		return nil, fmt.Errorf("stat artifact: %w", err)
	}
	return o.sessions.Register(ctx, sess.ID, models.Artifact{
		LogicalName: name,
		StoredPath:  storedPath,
		MimeType:    mime,
		Size:        info.Size(),
	})
}

func (o *Orchestrator) writeArchive(dest string, outputs []transform.Output) error {
	f, err := o.fs.Create(dest)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)
	for _, out := range outputs {
		w, err := zw.Create(out.Name)
		if err != nil {
			f.Close()
			return err
		}
		src, err := o.fs.Open(out.Path)
		if err != nil {
			f.Close()
			return err
		}
		_, err = io.Copy(w, src)
		src.Close()
		if err != nil {
			f.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// uniquePath picks a collision-free client-facing name within the session
// directory, mirroring how browsers suffix duplicate downloads.
func (o *Orchestrator) uniquePath(dir, name string) (string, string) {
	path := filepath.Join(dir, name)
	if exists, _ := afero.Exists(o.fs, path); !exists {
		return path, name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for idx := 1; idx <= 1000; idx++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, idx, ext)
		p := filepath.Join(dir, candidate)
		if exists, _ := afero.Exists(o.fs, p); !exists {
			return p, candidate
		}
	}
	fallback := fmt.Sprintf("%s-%d%s", base, time.Now().UnixNano(), ext)
	return filepath.Join(dir, fallback), fallback
}

func (o *Orchestrator) detectMime(path string) (string, error) {
	f, err := o.fs.Open(path)
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

func mergeMeta(dst, src map[string]interface{}) {
	for k, v := range src {
		dst[k] = v
	}
}

// sizeMeta adds before/after accounting. Informational only.
func sizeMeta(meta map[string]interface{}, files []ingest.File, processedSize int64) {
	var original int64
	for _, f := range files {
		original += f.Size
	}
	meta["originalSize"] = original
	meta["processedSize"] = processedSize
	if original > 0 && processedSize < original {
		meta["spaceSaved"] = humanize.Bytes(uint64(original - processedSize))
		meta["compressionRatio"] = fmt.Sprintf("%.1f%%", float64(original-processedSize)/float64(original)*100)
	}
}

func failureReason(err error) string {
	if errors.Is(err, models.ErrTransformTimeout) {
		return "timed out"
	}
	return "processing failed"
}
