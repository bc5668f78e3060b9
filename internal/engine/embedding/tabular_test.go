package embedding

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/bryanwahyu/blackforge/internal/domain/datasets"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

func TestExtractCSVHeaderSkipped(t *testing.T) {
	path := writeCSV(t, "f1,f2,label\n1.0,2.0,cat\n3.0,4.0,dog\n")

	e := &Extractor{}
	res, err := e.Extract(context.Background(), path, datasets.ModalityTabular)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.SampleCount != 2 {
		t.Fatalf("sample count = %d, want 2 (header must not count)", res.SampleCount)
	}
	if got := res.ClassNames; len(got) != 2 || got[0] != "cat" || got[1] != "dog" {
		t.Fatalf("class names = %v, want [cat dog] in first-appearance order", got)
	}
}

func TestExtractCSVNoHeader(t *testing.T) {
	path := writeCSV(t, "1.0,2.0,a\n3.0,4.0,b\n5.0,6.0,a\n")

	e := &Extractor{}
	res, err := e.Extract(context.Background(), path, datasets.ModalityTabular)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.SampleCount != 3 {
		t.Fatalf("sample count = %d, want 3", res.SampleCount)
	}
	if got := res.Labels; got[0] != 0 || got[1] != 1 || got[2] != 0 {
		t.Fatalf("labels = %v, want [0 1 0]", got)
	}
}

func TestExtractCSVExcludesBadRows(t *testing.T) {
	path := writeCSV(t, "1.0,2.0,a\nnot-a-number,2.0,a\n3.0,4.0,b\n5.0,b\n7.0,8.0,b\n")

	e := &Extractor{}
	res, err := e.Extract(context.Background(), path, datasets.ModalityTabular)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.SampleCount != 5 {
		t.Fatalf("sample count = %d, want 5", res.SampleCount)
	}
	if len(res.Excluded) != 2 || res.Excluded[0] != 1 || res.Excluded[1] != 3 {
		t.Fatalf("excluded = %v, want [1 3]", res.Excluded)
	}
	if res.Rows() != 3 {
		t.Fatalf("eligible rows = %d, want 3", res.Rows())
	}
	// Index must map back to the original positions.
	want := []int{0, 2, 4}
	for i, idx := range res.Index {
		if idx != want[i] {
			t.Fatalf("index = %v, want %v", res.Index, want)
		}
	}
	if len(res.Diagnostics) != 2 {
		t.Fatalf("diagnostics = %d, want one per excluded row", len(res.Diagnostics))
	}
}

func TestExtractCSVStandardizesColumns(t *testing.T) {
	path := writeCSV(t, "10.0,100.0,a\n20.0,200.0,a\n30.0,300.0,b\n40.0,400.0,b\n")

	e := &Extractor{}
	res, err := e.Extract(context.Background(), path, datasets.ModalityTabular)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	for j := 0; j < res.Dims(); j++ {
		var sum float64
		for i := 0; i < res.Rows(); i++ {
			sum += res.Embeddings.At(i, j)
		}
		if mean := sum / float64(res.Rows()); math.Abs(mean) > 1e-9 {
			t.Fatalf("column %d mean = %g after standardization, want ~0", j, mean)
		}
	}
}

func TestExtractUnknownModality(t *testing.T) {
	e := &Extractor{}
	_, err := e.Extract(context.Background(), "whatever", datasets.Modality("audio"))
	if err == nil {
		t.Fatal("want error for unknown modality")
	}
}

func TestIsHeader(t *testing.T) {
	if !IsHeader([]string{"f1", "f2", "label"}) {
		t.Fatal("all-text first row should be a header")
	}
	if IsHeader([]string{"1.5", "f2", "label"}) {
		t.Fatal("row with a numeric feature field is data, not header")
	}
}
