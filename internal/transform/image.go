package transform

import (
	"context"
	"fmt"
	"path/filepath"

	"filetoolsgo/internal/ingest"
	"filetoolsgo/internal/models"
	"filetoolsgo/internal/runner"
)

type convertImageOptions struct {
	Format string
}

var imageFormats = map[string]string{
	"png":  ".png",
	"jpeg": ".jpg",
	"jpg":  ".jpg",
	"webp": ".webp",
	"gif":  ".gif",
	"tiff": ".tif",
	"bmp":  ".bmp",
}

func convertImageOp() *Operation {
	return &Operation{
		Name:  "image/convert",
		Class: PerFile,
		Ingest: ingest.Spec{
			AllowedTypes: imageTypes,
			MinFiles:     1,
			MaxFiles:     10,
			MaxFileSize:  maxImageBytes,
		},
		Parse: parseConvertImageOptions,
		Run:   runConvertImage,
	}
}

func parseConvertImageOptions(form Form) (interface{}, error) {
	format := form.Get("format")
	if format == "" {
		return nil, models.Reject(models.MissingOption, "format is required")
	}
	if _, ok := imageFormats[format]; !ok {
		return nil, models.Reject(models.InvalidOption, "unsupported target format %s", format)
	}
	return convertImageOptions{Format: format}, nil
}

func runConvertImage(ctx context.Context, r runner.Runner, inputs []ingest.File, opts interface{}, outDir string) ([]Output, map[string]interface{}, error) {
	o := opts.(convertImageOptions)
	in := inputs[0]
	name := baseName(in.Name) + imageFormats[o.Format]
	out := filepath.Join(outDir, name)
	if _, _, err := r.Run(ctx, "magick", []string{in.Path, out}, ""); err != nil {
		return nil, nil, err
	}
	return []Output{{Name: name, Path: out}}, map[string]interface{}{"targetFormat": o.Format}, nil
}

type resizeImageOptions struct {
	Width  int
	Height int
}

func resizeImageOp() *Operation {
	return &Operation{
		Name:  "image/resize",
		Class: PerFile,
		Ingest: ingest.Spec{
			AllowedTypes: imageTypes,
			MinFiles:     1,
			MaxFiles:     10,
			MaxFileSize:  maxImageBytes,
		},
		Parse: parseResizeImageOptions,
		Run:   runResizeImage,
	}
}

func parseResizeImageOptions(form Form) (interface{}, error) {
	width, hasWidth, err := form.intInRange("width", 1, 10000)
	if err != nil {
		return nil, err
	}
	height, hasHeight, err := form.intInRange("height", 1, 10000)
	if err != nil {
		return nil, err
	}
	if !hasWidth && !hasHeight {
		return nil, models.Reject(models.MissingOption, "width or height is required")
	}
	return resizeImageOptions{Width: width, Height: height}, nil
}

func (o resizeImageOptions) geometry() string {
	switch {
	case o.Width > 0 && o.Height > 0:
		return fmt.Sprintf("%dx%d", o.Width, o.Height)
	case o.Width > 0:
		return fmt.Sprintf("%dx", o.Width)
	default:
		return fmt.Sprintf("x%d", o.Height)
	}
}

func runResizeImage(ctx context.Context, r runner.Runner, inputs []ingest.File, opts interface{}, outDir string) ([]Output, map[string]interface{}, error) {
	o := opts.(resizeImageOptions)
	in := inputs[0]
	out := filepath.Join(outDir, in.Name)
	if _, _, err := r.Run(ctx, "magick", []string{in.Path, "-resize", o.geometry(), out}, ""); err != nil {
		return nil, nil, err
	}
	meta := map[string]interface{}{}
	if o.Width > 0 {
		meta["width"] = o.Width
	}
	if o.Height > 0 {
		meta["height"] = o.Height
	}
	return []Output{{Name: in.Name, Path: out}}, meta, nil
}

type compressImageOptions struct {
	Quality int
}

func compressImageOp() *Operation {
	return &Operation{
		Name:  "image/compress",
		Class: PerFile,
		Ingest: ingest.Spec{
			AllowedTypes: imageTypes,
			MinFiles:     1,
			MaxFiles:     10,
			MaxFileSize:  maxImageBytes,
		},
		Parse: parseCompressImageOptions,
		Run:   runCompressImage,
	}
}

func parseCompressImageOptions(form Form) (interface{}, error) {
	quality, ok, err := form.intInRange("quality", 1, 100)
	if err != nil {
		return nil, err
	}
	if !ok {
		quality = 75
	}
	return compressImageOptions{Quality: quality}, nil
}

func runCompressImage(ctx context.Context, r runner.Runner, inputs []ingest.File, opts interface{}, outDir string) ([]Output, map[string]interface{}, error) {
	o := opts.(compressImageOptions)
	in := inputs[0]
	out := filepath.Join(outDir, in.Name)
	args := []string{in.Path, "-quality", fmt.Sprintf("%d", o.Quality), out}
	if _, _, err := r.Run(ctx, "magick", args, ""); err != nil {
		return nil, nil, err
	}
	return []Output{{Name: in.Name, Path: out}}, nil, nil
}

func imagesToPDFOp() *Operation {
	return &Operation{
		Name:  "image/to-pdf",
		Class: Batch,
		Ingest: ingest.Spec{
			AllowedTypes: imageTypes,
			MinFiles:     1,
			MaxFiles:     50,
			MaxFileSize:  maxImageBytes,
		},
		Run: runImagesToPDF,
	}
}

func runImagesToPDF(ctx context.Context, r runner.Runner, inputs []ingest.File, _ interface{}, outDir string) ([]Output, map[string]interface{}, error) {
	out := filepath.Join(outDir, "images.pdf")
	args := make([]string, 0, len(inputs)+1)
	for _, in := range inputs {
		args = append(args, in.Path)
	}
	args = append(args, out)
	if _, _, err := r.Run(ctx, "magick", args, ""); err != nil {
		return nil, nil, err
	}
	return []Output{{Name: "images.pdf", Path: out}}, map[string]interface{}{"pageCount": len(inputs)}, nil
}
