package transform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"filetoolsgo/internal/ingest"
	"filetoolsgo/internal/runner"
)

var officeTypes = []string{
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-powerpoint",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.oasis.opendocument.text",
	"application/vnd.oasis.opendocument.presentation",
	"application/vnd.oasis.opendocument.spreadsheet",
	"text/rtf",
	"text/plain",
}

func officeConvertOp() *Operation {
	return &Operation{
		Name:  "office/convert",
		Class: PerFile,
		Ingest: ingest.Spec{
			AllowedTypes: officeTypes,
			MinFiles:     1,
			MaxFiles:     5,
			MaxFileSize:  maxOfficeBytes,
		},
		Run: runOfficeConvert,
	}
}

func runOfficeConvert(ctx context.Context, r runner.Runner, inputs []ingest.File, _ interface{}, outDir string) ([]Output, map[string]interface{}, error) {
	in := inputs[0]
	args := []string{"--headless", "--convert-to", "pdf", "--outdir", outDir, in.Path}
	if _, _, err := r.Run(ctx, "libreoffice", args, ""); err != nil {
		return nil, nil, err
	}
	// libreoffice names the result after the source file, not the holding
	// copy's UUID-qualified name
	name := baseName(filepath.Base(in.Path)) + ".pdf"
	out := filepath.Join(outDir, name)
	if _, err := os.Stat(out); err != nil {
		return nil, nil, fmt.Errorf("libreoffice produced no output for %s", in.Name)
	}
	return []Output{{Name: baseName(in.Name) + ".pdf", Path: out}}, nil, nil
}
