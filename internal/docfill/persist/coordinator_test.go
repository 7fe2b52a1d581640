package persist

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	docerrors "github.com/a3tai/mcp-docfill/internal/docfill/errors"
	"github.com/a3tai/mcp-docfill/internal/docfill/store"
)

var pdf = []byte("%PDF-1.7 test")

func newStore(files any) *store.MemoryStore {
	return store.NewMemoryStore(&store.Fixture{
		Tables: []store.TableFixture{{
			ID: "tbl",
			Fields: []store.Field{
				{ID: "fFiles", Name: "Files", Type: store.FieldTypeAttachment},
			},
			Records: []store.RecordFixture{{ID: "rec1", Cells: map[string]any{"fFiles": files}}},
		}},
	})
}

func request() Request {
	return Request{PDF: pdf, TableID: "tbl", RecordID: "rec1", TargetFieldID: "fFiles"}
}

func fixedNow() time.Time { return time.UnixMilli(1700000000000) }

func TestPersist_VerifiedAppendsToExisting(t *testing.T) {
	existing := []any{
		map[string]any{"token": "old", "name": "old.pdf", "type": "application/pdf", "size": 3, "timeStamp": 1},
		map[string]any{"name": "broken entry without token"},
	}
	s := newStore(existing)
	c := NewCoordinator(s, nil, Options{FilePrefix: "invoice", Now: fixedNow}, zap.NewNop())

	out, err := c.Persist(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, out.Status)
	assert.Equal(t, "invoice_rec1.pdf", out.FileName)
	assert.NotEmpty(t, out.Token)

	value, err := s.CellValue(context.Background(), "tbl", "fFiles", "rec1")
	require.NoError(t, err)
	list := ParseAttachments(value)
	require.Len(t, list, 2, "malformed entry dropped, new one appended")
	assert.Equal(t, "old", list[0].Token)
	assert.Equal(t, store.Attachment{
		Token:     out.Token,
		Name:      "invoice_rec1.pdf",
		Type:      store.PDFMimeType,
		Size:      int64(len(pdf)),
		TimeStamp: 1700000000000,
	}, list[1])

	blob, ok := s.Blob(out.Token)
	require.True(t, ok)
	assert.Equal(t, pdf, blob.Data)
}

func TestPersist_TwiceAppendsTwoReferences(t *testing.T) {
	s := newStore(nil)
	c := NewCoordinator(s, nil, Options{}, nil)

	first, err := c.Persist(context.Background(), request())
	require.NoError(t, err)
	second, err := c.Persist(context.Background(), request())
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)

	value, _ := s.CellValue(context.Background(), "tbl", "fFiles", "rec1")
	list := ParseAttachments(value)
	require.Len(t, list, 2)
	assert.Equal(t, first.Token, list[0].Token)
	assert.Equal(t, second.Token, list[1].Token)
	assert.Equal(t, list[0].Name, list[1].Name)
}

func TestPersist_NonListValueTreatedAsEmpty(t *testing.T) {
	s := newStore("not a list")
	out, err := NewCoordinator(s, nil, Options{}, nil).Persist(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, out.Status)

	value, _ := s.CellValue(context.Background(), "tbl", "fFiles", "rec1")
	assert.Len(t, ParseAttachments(value), 1)
}

func TestPersist_UnverifiedFallsBack(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	fs := afero.NewMemMapFs()
	s := newStore(nil)
	s.DropWrites(true)
	c := NewCoordinator(s, NewDirFallback(fs, "/out"), Options{VerifyDelay: time.Millisecond}, zap.New(core))

	out, err := c.Persist(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, StatusUnverified, out.Status)
	assert.ErrorIs(t, out.Warning, docerrors.ErrVerificationMismatch)
	assert.Equal(t, "/out/document_rec1.pdf", out.FallbackPath)

	saved, err := afero.ReadFile(fs, out.FallbackPath)
	require.NoError(t, err)
	assert.Equal(t, pdf, saved)
	assert.Equal(t, 1, logs.FilterMessage("attachment verification failed, saving locally").Len())
}

func TestPersist_NoTarget(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := newStore(nil)
	c := NewCoordinator(s, NewDirFallback(fs, "out"), Options{}, nil)

	req := request()
	req.TargetFieldID = ""
	out, err := c.Persist(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusNoTarget, out.Status)
	assert.Empty(t, out.Token)

	exists, err := afero.Exists(fs, out.FallbackPath)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPersist_DisableVerify(t *testing.T) {
	s := newStore(nil)
	s.DropWrites(true)
	out, err := NewCoordinator(s, nil, Options{DisableVerify: true}, nil).Persist(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, StatusUploaded, out.Status)
}

func TestPersist_Failures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*store.MemoryStore)
		req     func() Request
		wantErr *docerrors.DocError
	}{
		{
			name:    "upload error",
			setup:   func(s *store.MemoryStore) { s.FailUploads(errors.New("quota")) },
			req:     request,
			wantErr: docerrors.ErrUploadFailure,
		},
		{
			name:    "no token",
			setup:   func(s *store.MemoryStore) { s.WithholdTokens(true) },
			req:     request,
			wantErr: docerrors.ErrUploadFailure,
		},
		{
			name:  "unknown field",
			setup: func(*store.MemoryStore) {},
			req: func() Request {
				r := request()
				r.TargetFieldID = "missing"
				return r
			},
			wantErr: docerrors.ErrStoreFailure,
		},
		{
			name:  "empty pdf",
			setup: func(*store.MemoryStore) {},
			req: func() Request {
				r := request()
				r.PDF = nil
				return r
			},
			wantErr: docerrors.ErrInvalidRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(nil)
			tt.setup(s)
			_, err := NewCoordinator(s, nil, Options{}, nil).Persist(context.Background(), tt.req())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPersist_CancelledDuringSettle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newStore(nil)
	c := NewCoordinator(s, nil, Options{VerifyDelay: time.Hour}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.Persist(ctx, request())
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("persist did not return after cancel")
	}
}

func TestParseAttachments(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  []string
	}{
		{"nil", nil, nil},
		{"scalar", "x", nil},
		{"typed", []store.Attachment{{Token: "a"}, {}}, []string{"a"}},
		{"maps", []map[string]any{{"token": "a"}, {"token": ""}}, []string{"a"}},
		{"mixed", []any{store.Attachment{Token: "a"}, map[string]any{"token": "b", "size": json.Number("10")}, 3, "s"}, []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tokens []string
			for _, a := range ParseAttachments(tt.value) {
				tokens = append(tokens, a.Token)
			}
			assert.Equal(t, tt.want, tokens)
		})
	}
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "report_rec1.pdf", FileName("report", "rec1"))
	assert.Equal(t, "report_a_b.pdf", FileName("report", "a/b"))
	assert.Equal(t, "report_record.pdf", FileName("report", ""))
}
