package embedding

import (
	"archive/zip"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/bryanwahyu/blackforge/internal/domain/datasets"
)

// extractImages reads a zip archive laid out as class-dir/image files.
// Entries are walked in sorted-name order so sample indices are stable
// across runs; the frozen backbone maps pixels to embeddings.
func (e *Extractor) extractImages(ctx context.Context, path string) (*Result, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", datasets.ErrUnsupportedFormat, err)
	}
	defer zr.Close()

	entries := ArchiveEntries(&zr.Reader)
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: archive has no images under class directories", datasets.ErrUnsupportedFormat)
	}

	if e.Backbone == nil {
		return nil, fmt.Errorf("image extraction requires a backbone")
	}

	res := &Result{SampleCount: len(entries)}
	labelIDs := map[string]int{}
	size := e.ImageSize
	if size <= 0 {
		size = 64
	}

	var rows [][]float64
	for i, entry := range entries {
		if i%e.batchSize() == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		pixels, derr := decodePixels(entry.File, size)
		if derr != nil {
			res.Excluded = append(res.Excluded, i)
			res.Diagnostics = append(res.Diagnostics, excludeDiagnostic(i, fmt.Sprintf("%s: %v", entry.File.Name, derr)))
			continue
		}
		id, seen := labelIDs[entry.Class]
		if !seen {
			id = len(res.ClassNames)
			labelIDs[entry.Class] = id
			res.ClassNames = append(res.ClassNames, entry.Class)
		}
		rows = append(rows, e.Backbone.Embed(pixels))
		res.Labels = append(res.Labels, id)
		res.Index = append(res.Index, i)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no decodable images", datasets.ErrUnsupportedFormat)
	}

	emb := mat.NewDense(len(rows), len(rows[0]), nil)
	for i, row := range rows {
		emb.SetRow(i, row)
	}
	res.Embeddings = emb
	e.logger().Debug("images extracted",
		zap.Int("samples", res.SampleCount),
		zap.Int("eligible", len(rows)),
		zap.Int("classes", len(res.ClassNames)))
	return res, nil
}

// ArchiveEntry is one image file inside a dataset archive, keyed by its
// parent class directory.
type ArchiveEntry struct {
	File  *zip.File
	Class string
}

// ArchiveEntries returns the archive's image files in sorted-name order.
// The position in this slice is the sample index; purification relies on
// the same ordering to remove the right entries.
func ArchiveEntries(zr *zip.Reader) []ArchiveEntry {
	var entries []ArchiveEntry
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := path.Clean(f.Name)
		parts := strings.Split(name, "/")
		if len(parts) < 2 {
			continue
		}
		switch strings.ToLower(path.Ext(name)) {
		case ".png", ".jpg", ".jpeg":
		default:
			continue
		}
		entries = append(entries, ArchiveEntry{File: f, Class: parts[len(parts)-2]})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].File.Name < entries[j].File.Name
	})
	return entries
}

// decodePixels resamples the image to size x size grayscale and returns
// pixel values centered around zero.
func decodePixels(f *zip.File, size int) ([]float64, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	img, _, err := image.Decode(rc)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("empty image")
	}

	pixels := make([]float64, size*size)
	for y := 0; y < size; y++ {
		sy := bounds.Min.Y + y*h/size
		for x := 0; x < size; x++ {
			sx := bounds.Min.X + x*w/size
			r, g, b, _ := img.At(sx, sy).RGBA()
			// luma in [0,1], shifted to be zero-centered
			gray := (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 65535.0
			pixels[y*size+x] = gray - 0.5
		}
	}
	return pixels, nil
}
