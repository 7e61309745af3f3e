package transform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"filetoolsgo/internal/ingest"
	"filetoolsgo/internal/logging"
	"filetoolsgo/internal/models"
	"filetoolsgo/internal/runner"
)

func mergePDFOp() *Operation {
	return &Operation{
		Name:  "pdf/merge",
		Class: Batch,
		Ingest: ingest.Spec{
			AllowedTypes: pdfTypes,
			MinFiles:     2,
			MaxFiles:     20,
			MaxFileSize:  maxPDFBytes,
		},
		Run: runMergePDF,
	}
}

func runMergePDF(ctx context.Context, r runner.Runner, inputs []ingest.File, _ interface{}, outDir string) ([]Output, map[string]interface{}, error) {
	out := filepath.Join(outDir, "merged.pdf")
	args := []string{"--empty", "--pages"}
	for _, in := range inputs {
		args = append(args, in.Path)
	}
	args = append(args, "--", out)
	if _, _, err := r.Run(ctx, "qpdf", args, ""); err != nil {
		return nil, nil, err
	}
	meta := map[string]interface{}{}
	if pages, err := pdfPageCount(ctx, r, out); err == nil {
		meta["pageCount"] = pages
	} else {
		logging.Warn("page count failed", "file", out, "error", err)
	}
	return []Output{{Name: "merged.pdf", Path: out}}, meta, nil
}

func pdfPageCount(ctx context.Context, r runner.Runner, path string) (int, error) {
	stdout, _, err := r.Run(ctx, "qpdf", []string{"--show-npages", path}, "")
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(stdout))
}

func splitPDFOp() *Operation {
	return &Operation{
		Name:  "pdf/split",
		Class: Batch,
		Ingest: ingest.Spec{
			AllowedTypes: pdfTypes,
			MinFiles:     1,
			MaxFiles:     1,
			MaxFileSize:  maxPDFBytes,
		},
		Run: runSplitPDF,
	}
}

func runSplitPDF(ctx context.Context, r runner.Runner, inputs []ingest.File, _ interface{}, outDir string) ([]Output, map[string]interface{}, error) {
	in := inputs[0]
	prefix := baseName(in.Name)
	pattern := filepath.Join(outDir, prefix+"-%d.pdf")
	if _, _, err := r.Run(ctx, "qpdf", []string{"--split-pages", in.Path, pattern}, ""); err != nil {
		return nil, nil, err
	}
	outputs, err := collectOutputs(outDir, prefix+"-")
	if err != nil {
		return nil, nil, err
	}
	if len(outputs) == 0 {
		return nil, nil, fmt.Errorf("split produced no pages for %s", in.Name)
	}
	return outputs, map[string]interface{}{"pageCount": len(outputs)}, nil
}

type compressPDFOptions struct {
	Setting string
}

func compressPDFOp() *Operation {
	return &Operation{
		Name:  "pdf/compress",
		Class: PerFile,
		Ingest: ingest.Spec{
			AllowedTypes: pdfTypes,
			MinFiles:     1,
			MaxFiles:     10,
			MaxFileSize:  maxPDFBytes,
		},
		Parse: parseCompressPDFOptions,
		Run:   runCompressPDF,
	}
}

func parseCompressPDFOptions(form Form) (interface{}, error) {
	setting := "/ebook"
	switch level := form.Get("level"); level {
	case "", "medium":
	case "low":
		setting = "/printer"
	case "high":
		setting = "/screen"
	default:
		return nil, models.Reject(models.InvalidOption, "level must be low, medium or high")
	}
	return compressPDFOptions{Setting: setting}, nil
}

func runCompressPDF(ctx context.Context, r runner.Runner, inputs []ingest.File, opts interface{}, outDir string) ([]Output, map[string]interface{}, error) {
	o := opts.(compressPDFOptions)
	in := inputs[0]
	out := filepath.Join(outDir, in.Name)
	args := []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.4",
		"-dPDFSETTINGS=" + o.Setting,
		"-dNOPAUSE", "-dQUIET", "-dBATCH",
		"-sOutputFile=" + out,
		in.Path,
	}
	if _, _, err := r.Run(ctx, "gs", args, ""); err != nil {
		return nil, nil, err
	}
	return []Output{{Name: in.Name, Path: out}}, nil, nil
}

type protectPDFOptions struct {
	Password string
}

func protectPDFOp() *Operation {
	return &Operation{
		Name:  "pdf/protect",
		Class: PerFile,
		Ingest: ingest.Spec{
			AllowedTypes: pdfTypes,
			MinFiles:     1,
			MaxFiles:     10,
			MaxFileSize:  maxPDFBytes,
		},
		Parse: parseProtectPDFOptions,
		Run:   runProtectPDF,
	}
}

func parseProtectPDFOptions(form Form) (interface{}, error) {
	password := form.Get("password")
	if password == "" {
		return nil, models.Reject(models.MissingOption, "password is required")
	}
	return protectPDFOptions{Password: password}, nil
}

func runProtectPDF(ctx context.Context, r runner.Runner, inputs []ingest.File, opts interface{}, outDir string) ([]Output, map[string]interface{}, error) {
	o := opts.(protectPDFOptions)
	in := inputs[0]
	out := filepath.Join(outDir, in.Name)
	args := []string{"--encrypt", o.Password, o.Password, "256", "--", in.Path, out}
	if _, _, err := r.Run(ctx, "qpdf", args, ""); err != nil {
		return nil, nil, err
	}
	return []Output{{Name: in.Name, Path: out}}, nil, nil
}

type pdfToImagesOptions struct {
	Format string
}

func pdfToImagesOp() *Operation {
	return &Operation{
		Name:  "pdf/to-images",
		Class: Batch,
		Ingest: ingest.Spec{
			AllowedTypes: pdfTypes,
			MinFiles:     1,
			MaxFiles:     1,
			MaxFileSize:  maxPDFBytes,
		},
		Parse: parsePDFToImagesOptions,
		Run:   runPDFToImages,
	}
}

func parsePDFToImagesOptions(form Form) (interface{}, error) {
	format := form.Get("format")
	switch format {
	case "":
		format = "png"
	case "png", "jpeg":
	default:
		return nil, models.Reject(models.InvalidOption, "format must be png or jpeg")
	}
	return pdfToImagesOptions{Format: format}, nil
}

func runPDFToImages(ctx context.Context, r runner.Runner, inputs []ingest.File, opts interface{}, outDir string) ([]Output, map[string]interface{}, error) {
	o := opts.(pdfToImagesOptions)
	in := inputs[0]
	prefix := baseName(in.Name)
	args := []string{"-" + o.Format, "-r", "150", in.Path, filepath.Join(outDir, prefix)}
	if _, _, err := r.Run(ctx, "pdftoppm", args, ""); err != nil {
		return nil, nil, err
	}
	outputs, err := collectOutputs(outDir, prefix+"-")
	if err != nil {
		return nil, nil, err
	}
	if len(outputs) == 0 {
		return nil, nil, fmt.Errorf("no page images produced for %s", in.Name)
	}
	return outputs, map[string]interface{}{"pageCount": len(outputs)}, nil
}

// collectOutputs lists files under dir whose names start with prefix, in
// lexical order. Both qpdf and pdftoppm zero-pad page numbers, so lexical
// order is page order.
func collectOutputs(dir, prefix string) ([]Output, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list outputs: %w", err)
	}
	var outputs []Output
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		outputs = append(outputs, Output{Name: e.Name(), Path: filepath.Join(dir, e.Name())})
	}
	return outputs, nil
}
