// Package persist writes generated PDFs back into a record's attachment field,
// verifies the write and falls back to a local save when it cannot.
package persist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	docerrors "github.com/a3tai/mcp-docfill/internal/docfill/errors"
	"github.com/a3tai/mcp-docfill/internal/docfill/store"
)

// Status is the result of a persist call
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusVerified   Status = "verified"
	StatusUnverified Status = "unverified"
	StatusNoTarget   Status = "no_target"
)

const (
	DefaultFilePrefix  = "document"
	DefaultVerifyDelay = 500 * time.Millisecond
)

// Request describes one PDF to persist
type Request struct {
	PDF           []byte
	TableID       string
	RecordID      string
	TargetFieldID string
}

// Outcome reports what happened to the PDF
type Outcome struct {
	Status       Status `json:"status"`
	Token        string `json:"token,omitempty"`
	FileName     string `json:"fileName"`
	FallbackPath string `json:"fallbackPath,omitempty"`
	// Warning is set for non-fatal conditions such as a verification mismatch
	Warning error `json:"-"`
}

// Options configures a Coordinator
type Options struct {
	FilePrefix  string
	VerifyDelay time.Duration
	// DisableVerify skips the read-back; successful writes report Uploaded
	DisableVerify bool
	Now           func() time.Time
}

// Coordinator uploads PDFs, appends them to attachment fields and verifies
// the result
type Coordinator struct {
	store    store.Store
	fallback Fallback
	opts     Options
	logger   *zap.Logger
}

// NewCoordinator creates a coordinator. fallback may be nil, in which case
// PDFs that cannot be attached are only reported.
func NewCoordinator(s store.Store, fallback Fallback, opts Options, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.FilePrefix == "" {
		opts.FilePrefix = DefaultFilePrefix
	}
	if opts.VerifyDelay < 0 {
		opts.VerifyDelay = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{store: s, fallback: fallback, opts: opts, logger: logger}
}

// FileName returns the attachment name for a record
func (c *Coordinator) FileName(recordID string) string {
	return FileName(c.opts.FilePrefix, recordID)
}

// FileName builds "<prefix>_<recordID>.pdf" with path separators removed
func FileName(prefix, recordID string) string {
	clean := strings.NewReplacer("/", "_", "\\", "_").Replace(recordID)
	if clean == "" {
		clean = "record"
	}
	return fmt.Sprintf("%s_%s.pdf", prefix, clean)
}

// Persist uploads req.PDF and appends a reference to it to the target field.
// Existing references are kept in order; persisting the same PDF twice adds
// two references.
func (c *Coordinator) Persist(ctx context.Context, req Request) (*Outcome, error) {
	if len(req.PDF) == 0 {
		return nil, docerrors.New(docerrors.ErrorTypeInvalidRequest, "no PDF to persist")
	}
	out := &Outcome{FileName: c.FileName(req.RecordID)}
	log := c.logger.With(
		zap.String("table_id", req.TableID),
		zap.String("record_id", req.RecordID),
		zap.String("file_name", out.FileName))

	if req.TargetFieldID == "" {
		out.Status = StatusNoTarget
		log.Info("no attachment field configured, saving locally")
		if err := c.saveFallback(ctx, out, req.PDF); err != nil {
			return nil, err
		}
		return out, nil
	}

	tokens, err := c.store.UploadBlob(ctx, []store.Blob{{
		Name: out.FileName,
		Type: store.PDFMimeType,
		Data: req.PDF,
	}})
	if err != nil {
		return nil, docerrors.Wrap(docerrors.ErrorTypeUploadFailure, err).WithStage("upload")
	}
	if len(tokens) == 0 || tokens[0] == "" {
		return nil, docerrors.New(docerrors.ErrorTypeUploadFailure, "upload returned no token").WithStage("upload")
	}
	out.Token = tokens[0]

	ref := store.Attachment{
		Token:     out.Token,
		Name:      out.FileName,
		Type:      store.PDFMimeType,
		Size:      int64(len(req.PDF)),
		TimeStamp: c.opts.Now().UnixMilli(),
	}

	current, err := c.store.CellValue(ctx, req.TableID, req.TargetFieldID, req.RecordID)
	if err != nil {
		return nil, docerrors.Wrap(docerrors.ErrorTypeStoreFailure, err).WithStage("read")
	}
	list := append(ParseAttachments(current), ref)
	if err := c.store.SetCellValue(ctx, req.TableID, req.TargetFieldID, req.RecordID, list); err != nil {
		return nil, docerrors.Wrap(docerrors.ErrorTypeStoreFailure, err).WithStage("write")
	}
	log.Debug("attachment reference written",
		zap.String("token", out.Token),
		zap.Int("attachments", len(list)))

	if c.opts.DisableVerify {
		out.Status = StatusUploaded
		return out, nil
	}

	if err := sleep(ctx, c.opts.VerifyDelay); err != nil {
		return nil, err
	}

	readBack, err := c.store.CellValue(ctx, req.TableID, req.TargetFieldID, req.RecordID)
	if err == nil && containsToken(ParseAttachments(readBack), out.Token) {
		out.Status = StatusVerified
		log.Info("attachment verified", zap.String("token", out.Token))
		return out, nil
	}

	mismatch := docerrors.New(docerrors.ErrorTypeVerificationMismatch, "uploaded attachment not found on re-read").
		WithContext(out.Token)
	if err != nil {
		mismatch = docerrors.Wrap(docerrors.ErrorTypeVerificationMismatch, err).WithContext(out.Token)
	}
	out.Status = StatusUnverified
	out.Warning = mismatch
	log.Warn("attachment verification failed, saving locally",
		zap.String("token", out.Token),
		zap.String("error_type", mismatch.Type.String()),
		zap.Error(mismatch))
	if err := c.saveFallback(ctx, out, req.PDF); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Coordinator) saveFallback(ctx context.Context, out *Outcome, pdf []byte) error {
	if c.fallback == nil {
		return nil
	}
	path, err := c.fallback.Save(ctx, out.FileName, pdf)
	if err != nil {
		return docerrors.Wrap(docerrors.ErrorTypeStoreFailure, err).WithStage("fallback")
	}
	out.FallbackPath = path
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
