package httpserver

import (
	"bytes"
	"context"
	"database/sql"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"go.uber.org/zap"

	"github.com/bryanwahyu/blackforge/internal/application"
	appdatasets "github.com/bryanwahyu/blackforge/internal/application/datasets"
	domdatasets "github.com/bryanwahyu/blackforge/internal/domain/datasets"
)

type memDatasetRepo struct {
	saved []*domdatasets.Dataset
}

func (m *memDatasetRepo) Save(ctx context.Context, d *domdatasets.Dataset) error {
	m.saved = append(m.saved, d)
	return nil
}

func (m *memDatasetRepo) Get(ctx context.Context, tenant string, id domdatasets.DatasetID) (*domdatasets.Dataset, error) {
	for _, d := range m.saved {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memDatasetRepo) Latest(ctx context.Context, tenant string, limit int) ([]*domdatasets.Dataset, error) {
	return m.saved, nil
}

type memBlobStore struct{}

func (memBlobStore) Upload(ctx context.Context, localPath, key string) (string, error) {
	return "", nil
}

// A dataset file must stay immutable once uploaded: a second upload
// reusing the same filename gets its own backing file and never clobbers
// the first dataset's bytes.
func TestUploadSameFilenameKeepsBothFiles(t *testing.T) {
	repo := &memDatasetRepo{}
	uploads := t.TempDir()
	svc := &appdatasets.Service{
		Repo:       repo,
		Blobs:      memBlobStore{},
		UploadsDir: uploads,
		Clock:      application.SystemClock{},
		Log:        zap.NewNop(),
	}
	h := NewRouter(svc, nil, nil, nil, uploads, nil)

	post := func(content string) {
		t.Helper()
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", "train.csv")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatalf("write form: %v", err)
		}
		mw.Close()

		req := httptest.NewRequest(http.MethodPost, "/v1/tenant-a/datasets", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
	}

	first := "1.0,2.0,alpha\n3.0,4.0,beta\n"
	second := "9.0,9.0,alpha\n8.0,8.0,beta\n7.0,7.0,alpha\n"
	post(first)
	post(second)

	if len(repo.saved) != 2 {
		t.Fatalf("registered %d datasets, want 2", len(repo.saved))
	}
	a, b := repo.saved[0], repo.saved[1]
	if a.FilePath == b.FilePath {
		t.Fatalf("both uploads share backing file %s", a.FilePath)
	}
	got, err := os.ReadFile(a.FilePath)
	if err != nil {
		t.Fatalf("read first backing file: %v", err)
	}
	if string(got) != first {
		t.Fatal("first upload's backing file was overwritten by the second upload")
	}
	if a.Name != "train.csv" {
		t.Fatalf("name = %q, want the original filename", a.Name)
	}
	if a.SampleCount != 2 || b.SampleCount != 3 {
		t.Fatalf("sample counts = %d/%d, want 2/3", a.SampleCount, b.SampleCount)
	}
}
