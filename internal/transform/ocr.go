package transform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"filetoolsgo/internal/ingest"
	"filetoolsgo/internal/models"
	"filetoolsgo/internal/runner"
)

type ocrOptions struct {
	Lang string
}

var ocrLangPattern = regexp.MustCompile(`^[a-z]{3}(\+[a-z]{3})*$`)

func ocrOp() *Operation {
	return &Operation{
		Name:  "text/ocr",
		Class: PerFile,
		Ingest: ingest.Spec{
			AllowedTypes: append([]string{"application/pdf"}, imageTypes...),
			MinFiles:     1,
			MaxFiles:     10,
			MaxFileSize:  maxImageBytes,
		},
		Parse: parseOCROptions,
		Run:   runOCR,
	}
}

func parseOCROptions(form Form) (interface{}, error) {
	lang := form.Get("lang")
	if lang == "" {
		lang = "eng"
	}
	if !ocrLangPattern.MatchString(lang) {
		return nil, models.Reject(models.InvalidOption, "lang must be a tesseract language code like eng or eng+deu")
	}
	return ocrOptions{Lang: lang}, nil
}

func runOCR(ctx context.Context, r runner.Runner, inputs []ingest.File, opts interface{}, outDir string) ([]Output, map[string]interface{}, error) {
	o := opts.(ocrOptions)
	in := inputs[0]
	prefix := baseName(in.Name)

	pages := []string{in.Path}
	if in.MimeType == "application/pdf" {
		var err error
		pages, err = rasterizePDF(ctx, r, in, outDir)
		if err != nil {
			return nil, nil, err
		}
	}

	var text strings.Builder
	for _, page := range pages {
		outBase := filepath.Join(outDir, "ocr-"+baseName(filepath.Base(page)))
		// tesseract appends .txt to the output base itself
		if _, _, err := r.Run(ctx, "tesseract", []string{page, outBase, "-l", o.Lang}, ""); err != nil {
			return nil, nil, err
		}
		data, err := os.ReadFile(outBase + ".txt")
		if err != nil {
			return nil, nil, fmt.Errorf("read recognized text: %w", err)
		}
		text.Write(data)
	}

	out := filepath.Join(outDir, prefix+".txt")
	if err := os.WriteFile(out, []byte(text.String()), 0o644); err != nil {
		return nil, nil, fmt.Errorf("write recognized text: %w", err)
	}
	return []Output{{Name: prefix + ".txt", Path: out}}, nil, nil
}

// rasterizePDF renders each page to a PNG so tesseract can consume it.
func rasterizePDF(ctx context.Context, r runner.Runner, in ingest.File, outDir string) ([]string, error) {
	prefix := "page"
	if _, _, err := r.Run(ctx, "pdftoppm", []string{"-png", "-r", "300", in.Path, filepath.Join(outDir, prefix)}, ""); err != nil {
		return nil, err
	}
	outputs, err := collectOutputs(outDir, prefix+"-")
	if err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("no pages rendered for %s", in.Name)
	}
	paths := make([]string, len(outputs))
	for i, out := range outputs {
		paths[i] = out.Path
	}
	return paths, nil
}
