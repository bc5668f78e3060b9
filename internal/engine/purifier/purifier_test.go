package purifier

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bryanwahyu/blackforge/internal/domain/datasets"
	"github.com/bryanwahyu/blackforge/internal/engine"
	"github.com/bryanwahyu/blackforge/internal/engine/cluster"
	"github.com/bryanwahyu/blackforge/internal/engine/embedding"
	"github.com/bryanwahyu/blackforge/internal/engine/ensemble"
	"github.com/bryanwahyu/blackforge/internal/engine/influence"
	"github.com/bryanwahyu/blackforge/internal/engine/spectral"
)

func newTestPurifier() *Purifier {
	extractor := &embedding.Extractor{}
	pipeline := engine.NewPipeline(
		extractor,
		ensemble.New(nil),
		nil,
		spectral.New(2, 2.0, 5, nil),
		cluster.New(0.15, 2.0, 5, 42, nil),
		influence.New(0.01, 50, 1e-4, 32, 3.5, 42, nil),
	)
	return New(extractor, pipeline, nil)
}

// gridCSV builds n alternating-class rows over an even grid, with header.
func gridCSV(n int) string {
	var b strings.Builder
	b.WriteString("f1,f2,label\n")
	for i := 0; i < n; i++ {
		label := "alpha"
		if i%2 == 1 {
			label = "beta"
		}
		fmt.Fprintf(&b, "%.1f,%.1f,%s\n", 0.1*float64(i%20), 0.1*float64(i/20), label)
	}
	return b.String()
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestPurifyRemovesFlaggedRows(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "src.csv", gridCSV(60))
	out := filepath.Join(dir, "clean.csv")

	p := newTestPurifier()
	res, err := p.Purify(context.Background(), Input{
		SourcePath: src,
		Modality:   datasets.ModalityTabular,
		Suspicious: []int{3, 10},
		OutPath:    out,
	})
	if err != nil {
		t.Fatalf("purify: %v", err)
	}
	if res.Removed != 2 || res.CleanSampleCount != 58 {
		t.Fatalf("removed=%d kept=%d, want 2/58", res.Removed, res.CleanSampleCount)
	}

	// Rebuilt file must be the source minus exactly the flagged rows, in
	// the original order, header kept.
	srcLines := strings.Split(strings.TrimRight(gridCSV(60), "\n"), "\n")
	var want []string
	want = append(want, srcLines[0]) // header
	for i, line := range srcLines[1:] {
		if i == 3 || i == 10 {
			continue
		}
		want = append(want, line)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(got) != strings.Join(want, "\n")+"\n" {
		t.Fatal("rebuilt file does not match source minus flagged rows")
	}

	if res.CleanHash == "" || res.CleanSize != int64(len(got)) {
		t.Fatalf("hash=%q size=%d, want non-empty hash and size %d", res.CleanHash, res.CleanSize, len(got))
	}
	if res.AccuracyBefore < 0 || res.AccuracyBefore > 100 || res.AccuracyAfter < 0 || res.AccuracyAfter > 100 {
		t.Fatalf("accuracy out of range: before=%g after=%g", res.AccuracyBefore, res.AccuracyAfter)
	}
	if res.IntegrityScore < 80 {
		t.Fatalf("integrity = %g, want >= 80 for a clean artifact", res.IntegrityScore)
	}
}

// An empty suspicious set copies the dataset through unchanged.
func TestPurifyCleanDatasetIsNoop(t *testing.T) {
	dir := t.TempDir()
	content := gridCSV(60)
	src := writeFile(t, dir, "src.csv", content)
	out := filepath.Join(dir, "clean.csv")

	p := newTestPurifier()
	res, err := p.Purify(context.Background(), Input{
		SourcePath: src,
		Modality:   datasets.ModalityTabular,
		OutPath:    out,
	})
	if err != nil {
		t.Fatalf("purify: %v", err)
	}
	if res.Removed != 0 || res.CleanSampleCount != 60 {
		t.Fatalf("removed=%d kept=%d, want 0/60", res.Removed, res.CleanSampleCount)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(got) != content {
		t.Fatal("no-op purification changed file content")
	}
}

// Datasets below the holdout minimum get the analytic accuracy estimate.
func TestPurifyAnalyticAccuracyFallback(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "src.csv", gridCSV(20))
	out := filepath.Join(dir, "clean.csv")

	p := newTestPurifier()
	res, err := p.Purify(context.Background(), Input{
		SourcePath:              src,
		Modality:                datasets.ModalityTabular,
		EstimatedAccuracyImpact: 40,
		OutPath:                 out,
	})
	if err != nil {
		t.Fatalf("purify: %v", err)
	}
	if res.AccuracyBefore != 50 {
		t.Fatalf("accuracy before = %g, want 50", res.AccuracyBefore)
	}
	if res.AccuracyAfter != 82 {
		t.Fatalf("accuracy after = %g, want 82", res.AccuracyAfter)
	}
}

// Unparseable rows were never analyzed, so they survive a rebuild unless
// explicitly flagged.
func TestRebuildCSVKeepsUnparseableRows(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "src.csv", "1.0,2.0,a\nbad-row,2.0,a\n3.0,4.0,b\n")
	out := filepath.Join(dir, "out.csv")

	removed, kept, err := rebuildCSV(src, out, map[int]struct{}{2: {}})
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if removed != 1 || kept != 2 {
		t.Fatalf("removed=%d kept=%d, want 1/2", removed, kept)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(got) != "1.0,2.0,a\nbad-row,2.0,a\n" {
		t.Fatalf("output = %q, want the first two rows intact", got)
	}
}

// outlierCSV builds two even feature chains plus ten injected points on a
// wide ring, indices 490-499, alternating classes.
func outlierCSV() string {
	var b strings.Builder
	for i := 0; i < 245; i++ {
		fmt.Fprintf(&b, "0.0,%.1f,0.0,alpha\n", 0.1*float64(i))
	}
	for i := 0; i < 245; i++ {
		fmt.Fprintf(&b, "100.0,%.1f,0.0,beta\n", 0.1*float64(i))
	}
	for i := 0; i < 10; i++ {
		theta := 2 * math.Pi * float64(i) / 10
		base, label := 0.0, "alpha"
		if i%2 == 1 {
			base, label = 100.0, "beta"
		}
		fmt.Fprintf(&b, "%.1f,%.4f,%.4f,%s\n", base, 30*math.Cos(theta), 30*math.Sin(theta), label)
	}
	return b.String()
}

// The integrity score is the clean fraction of the purified file under a
// fresh analysis. Removing only half the injected points leaves the rest
// flagged on re-analysis, so the score stays below 100 and equals the
// fraction of unflagged samples.
func TestIntegrityScoreCountsCleanFraction(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "src.csv", outlierCSV())
	out := filepath.Join(dir, "half.csv")

	p := newTestPurifier()
	res, err := p.Purify(context.Background(), Input{
		SourcePath: src,
		Modality:   datasets.ModalityTabular,
		Suspicious: []int{490, 491, 492, 493, 494},
		OutPath:    out,
	})
	if err != nil {
		t.Fatalf("purify: %v", err)
	}

	recheck, err := p.Pipeline.Run(context.Background(), out, datasets.ModalityTabular)
	if err != nil {
		t.Fatalf("re-analysis: %v", err)
	}
	if len(recheck.SuspiciousIndices) == 0 {
		t.Fatal("leftover injected points not flagged on re-analysis")
	}
	clean := recheck.SampleCount - len(recheck.SuspiciousIndices)
	want := math.Round(100*float64(clean)/float64(recheck.SampleCount)*100) / 100
	if res.IntegrityScore != want {
		t.Fatalf("integrity = %g, want clean fraction %g", res.IntegrityScore, want)
	}
	if res.IntegrityScore >= 100 {
		t.Fatalf("integrity = %g, want < 100 with flagged samples remaining", res.IntegrityScore)
	}
}

// Purifying an already-purified dataset removes nothing: the re-analysis
// of the clean artifact yields an empty suspicious set.
func TestPurifyIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "src.csv", outlierCSV())
	first := filepath.Join(dir, "clean.csv")

	p := newTestPurifier()
	analysis1, err := p.Pipeline.Run(context.Background(), src, datasets.ModalityTabular)
	if err != nil {
		t.Fatalf("analysis: %v", err)
	}
	if len(analysis1.SuspiciousIndices) == 0 {
		t.Fatal("injected points not flagged")
	}
	out1, err := p.Purify(context.Background(), Input{
		SourcePath: src,
		Modality:   datasets.ModalityTabular,
		Suspicious: analysis1.SuspiciousIndices,
		OutPath:    first,
	})
	if err != nil {
		t.Fatalf("first purify: %v", err)
	}
	if out1.Removed == 0 {
		t.Fatal("first purification removed nothing")
	}

	analysis2, err := p.Pipeline.Run(context.Background(), first, datasets.ModalityTabular)
	if err != nil {
		t.Fatalf("re-analysis: %v", err)
	}
	second := filepath.Join(dir, "clean2.csv")
	out2, err := p.Purify(context.Background(), Input{
		SourcePath: first,
		Modality:   datasets.ModalityTabular,
		Suspicious: analysis2.SuspiciousIndices,
		OutPath:    second,
	})
	if err != nil {
		t.Fatalf("second purify: %v", err)
	}
	if out2.Removed != 0 {
		t.Fatalf("second purification removed %d samples, want 0", out2.Removed)
	}
	if out2.CleanSampleCount != out1.CleanSampleCount {
		t.Fatalf("sample count drifted: %d -> %d", out1.CleanSampleCount, out2.CleanSampleCount)
	}
}

func TestPurifyUnsupportedModality(t *testing.T) {
	p := newTestPurifier()
	_, err := p.Purify(context.Background(), Input{
		SourcePath: "whatever",
		Modality:   datasets.Modality("audio"),
		OutPath:    "out",
	})
	if err == nil {
		t.Fatal("want error for unsupported modality")
	}
}
