// Package docfill runs generation: it reads a record from the host store,
// fills a .docx template with it, renders the result to PDF and attaches the
// PDF back to the record.
package docfill

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/a3tai/mcp-docfill/internal/docfill/docx"
	docerrors "github.com/a3tai/mcp-docfill/internal/docfill/errors"
	"github.com/a3tai/mcp-docfill/internal/docfill/persist"
	"github.com/a3tai/mcp-docfill/internal/docfill/placeholder"
	"github.com/a3tai/mcp-docfill/internal/docfill/render"
	"github.com/a3tai/mcp-docfill/internal/docfill/store"
	"github.com/a3tai/mcp-docfill/internal/docfill/value"
	"github.com/a3tai/mcp-docfill/internal/metrics"
)

const (
	stageRead    = "read"
	stagePatch   = "patch"
	stageRender  = "render"
	stagePersist = "persist"
)

// GenerateRequest describes one generation run. Empty TableID or RecordID
// are taken from the host selection; an empty TargetFieldID skips the
// upload and saves the PDF locally.
type GenerateRequest struct {
	Template      []byte
	TableID       string
	RecordID      string
	TargetFieldID string
	Reporter      Reporter
}

// GenerateResult is the outcome of a successful run
type GenerateResult struct {
	RunID      string                 `json:"runId"`
	TableID    string                 `json:"tableId"`
	RecordID   string                 `json:"recordId"`
	Record     *placeholder.RecordMap `json:"record"`
	Replaced   int                    `json:"replaced"`
	Unresolved []string               `json:"unresolved,omitempty"`
	Pages      int                    `json:"pages"`
	FileName   string                 `json:"fileName"`
	Persist    *persist.Outcome       `json:"persist"`
	Duration   time.Duration          `json:"duration"`
	// PDF is kept for the manual download path
	PDF []byte `json:"-"`
}

// Service runs generations against one store
type Service struct {
	store       store.Store
	normalizer  *value.Normalizer
	patcher     *docx.Patcher
	pipeline    *render.Pipeline
	coordinator *persist.Coordinator
	metrics     *metrics.Metrics
	logger      *zap.Logger

	flight singleflight.Group
}

// NewService wires a service. normalizer and m may be nil.
func NewService(
	s store.Store,
	pipeline *render.Pipeline,
	coordinator *persist.Coordinator,
	normalizer *value.Normalizer,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if normalizer == nil {
		normalizer = value.NewNormalizer()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Service{
		store:       s,
		normalizer:  normalizer,
		patcher:     docx.NewPatcher(logger),
		pipeline:    pipeline,
		coordinator: coordinator,
		metrics:     m,
		logger:      logger,
	}
}

// Generate fills the template with the record, renders it and persists the
// PDF. Stages run strictly in sequence and the first fatal error ends the
// run. Identical concurrent requests share one run; only the first caller's
// reporter receives its signals.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	rep := req.Reporter
	if rep == nil {
		rep = nopReporter{}
	}
	if len(req.Template) == 0 {
		err := docerrors.New(docerrors.ErrorTypeInvalidRequest, "no template provided")
		rep.Notify(LevelError, err.Error())
		return nil, err
	}

	tableID, recordID, err := s.target(ctx, req.TableID, req.RecordID)
	if err != nil {
		rep.Notify(LevelError, err.Error())
		return nil, err
	}

	sum := sha256.Sum256(req.Template)
	key := strings.Join([]string{tableID, recordID, req.TargetFieldID, hex.EncodeToString(sum[:8])}, "/")
	v, err, shared := s.flight.Do(key, func() (any, error) {
		return s.run(ctx, req, tableID, recordID, rep)
	})
	if shared {
		s.logger.Debug("generation request joined a run in progress", zap.String("record_id", recordID))
	}
	if err != nil {
		return nil, err
	}
	return v.(*GenerateResult), nil
}

func (s *Service) run(ctx context.Context, req GenerateRequest, tableID, recordID string, rep Reporter) (result *GenerateResult, err error) {
	start := time.Now()
	runID := uuid.NewString()
	log := s.logger.With(
		zap.String("run_id", runID),
		zap.String("table_id", tableID),
		zap.String("record_id", recordID))

	s.metrics.ActiveRuns.Inc()
	defer func() {
		s.metrics.ActiveRuns.Dec()
		if err != nil {
			s.metrics.Runs.WithLabelValues("failure").Inc()
			log.Error("generation failed",
				zap.String("error_type", docerrors.TypeOf(err).String()),
				zap.Error(err))
			rep.Notify(LevelError, err.Error())
			return
		}
		s.metrics.Runs.WithLabelValues("success").Inc()
	}()

	rep.Status("reading record")
	stageStart := time.Now()
	if err := s.checkTarget(ctx, tableID, req.TargetFieldID); err != nil {
		return nil, err
	}
	record, err := s.buildRecord(ctx, tableID, recordID)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveStage(stageRead, time.Since(stageStart))
	rep.RecordMap(record.Dump())
	log.Debug("record map built", zap.Int("fields", record.Len()))

	rep.Status("filling template")
	stageStart = time.Now()
	patched, err := s.patcher.Patch(ctx, req.Template, record)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveStage(stagePatch, time.Since(stageStart))
	if n := len(patched.Unresolved); n > 0 {
		s.metrics.Unresolved.Add(float64(n))
		rep.Notify(LevelWarning, fmt.Sprintf("%d placeholder(s) not resolved: %s", n, strings.Join(patched.Unresolved, ", ")))
	}

	rep.Status("rendering PDF")
	stageStart = time.Now()
	rendered, err := s.pipeline.Render(ctx, patched.Document)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveStage(stageRender, time.Since(stageStart))

	rep.Status("saving PDF")
	stageStart = time.Now()
	outcome, err := s.coordinator.Persist(ctx, persist.Request{
		PDF:           rendered.PDF,
		TableID:       tableID,
		RecordID:      recordID,
		TargetFieldID: req.TargetFieldID,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveStage(stagePersist, time.Since(stageStart))
	s.metrics.Persists.WithLabelValues(string(outcome.Status)).Inc()
	s.notifyOutcome(rep, outcome)

	result = &GenerateResult{
		RunID:      runID,
		TableID:    tableID,
		RecordID:   recordID,
		Record:     record,
		Replaced:   patched.Replaced,
		Unresolved: patched.Unresolved,
		Pages:      rendered.Pages,
		FileName:   outcome.FileName,
		Persist:    outcome,
		Duration:   time.Since(start),
		PDF:        rendered.PDF,
	}
	log.Info("generation finished",
		zap.String("status", string(outcome.Status)),
		zap.Int("pages", result.Pages),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func (s *Service) notifyOutcome(rep Reporter, out *persist.Outcome) {
	switch out.Status {
	case persist.StatusVerified, persist.StatusUploaded:
		rep.Notify(LevelSuccess, fmt.Sprintf("%s attached to the record", out.FileName))
	case persist.StatusUnverified:
		msg := fmt.Sprintf("%s could not be verified on the record", out.FileName)
		if out.Warning != nil {
			msg += ": " + out.Warning.Error()
		}
		if out.FallbackPath != "" {
			msg += "; saved to " + out.FallbackPath
		}
		rep.Notify(LevelWarning, msg)
	case persist.StatusNoTarget:
		msg := "no attachment field selected"
		if out.FallbackPath != "" {
			msg += "; saved to " + out.FallbackPath
		}
		rep.Notify(LevelInfo, msg)
	}
}

// target resolves the table and record, falling back to the host selection
func (s *Service) target(ctx context.Context, tableID, recordID string) (string, string, error) {
	if tableID != "" && recordID != "" {
		return tableID, recordID, nil
	}
	sel, err := s.store.Selection(ctx)
	if err != nil {
		return "", "", docerrors.Wrap(docerrors.ErrorTypeStoreFailure, err).WithStage(stageRead)
	}
	if tableID == "" {
		tableID = sel.TableID
	}
	if recordID == "" && tableID == sel.TableID {
		recordID = sel.RecordID
	}
	if tableID == "" || recordID == "" {
		return "", "", docerrors.New(docerrors.ErrorTypeInvalidRequest, "no table and record selected")
	}
	return tableID, recordID, nil
}

// checkTarget rejects a target field that is not an attachment field of the
// table, since persisting replaces any non-list value
func (s *Service) checkTarget(ctx context.Context, tableID, fieldID string) error {
	if fieldID == "" {
		return nil
	}
	attachments, err := s.store.FieldsByType(ctx, tableID, store.FieldTypeAttachment)
	if err != nil {
		return storeError(err)
	}
	for _, f := range attachments {
		if f.ID == fieldID {
			return nil
		}
	}
	return docerrors.New(docerrors.ErrorTypeInvalidRequest, "target field is not an attachment field").
		WithContext(fieldID).WithStage(stageRead)
}

// buildRecord reads every field of the record one at a time and normalizes
// the values into a record map keyed by field name
func (s *Service) buildRecord(ctx context.Context, tableID, recordID string) (*placeholder.RecordMap, error) {
	fields, err := s.store.Fields(ctx, tableID)
	if err != nil {
		return nil, storeError(err)
	}
	record := placeholder.NewRecordMap()
	for _, f := range fields {
		raw, err := s.store.CellValue(ctx, tableID, f.ID, recordID)
		if err != nil {
			return nil, storeError(err).WithContext(f.Name)
		}
		record.Set(f.Name, s.normalizer.NormalizeRaw(raw))
	}
	return record, nil
}

func storeError(err error) *docerrors.DocError {
	if errors.Is(err, store.ErrNotFound) {
		return docerrors.Wrap(docerrors.ErrorTypeInvalidRequest, err).WithStage(stageRead)
	}
	return docerrors.Wrap(docerrors.ErrorTypeStoreFailure, err).WithStage(stageRead)
}

// Preview builds the record map of a record without rendering anything
func (s *Service) Preview(ctx context.Context, tableID, recordID string) (*placeholder.RecordMap, error) {
	tableID, recordID, err := s.target(ctx, tableID, recordID)
	if err != nil {
		return nil, err
	}
	return s.buildRecord(ctx, tableID, recordID)
}

// FieldList is the field set of a table
type FieldList struct {
	TableID     string        `json:"tableId"`
	Fields      []store.Field `json:"fields"`
	Attachments []store.Field `json:"attachments"`
}

// Fields lists the fields of a table, the selected one when tableID is empty
func (s *Service) Fields(ctx context.Context, tableID string) (*FieldList, error) {
	if tableID == "" {
		sel, err := s.store.Selection(ctx)
		if err != nil {
			return nil, storeError(err)
		}
		tableID = sel.TableID
	}
	if tableID == "" {
		return nil, docerrors.New(docerrors.ErrorTypeInvalidRequest, "no table selected")
	}
	fields, err := s.store.Fields(ctx, tableID)
	if err != nil {
		return nil, storeError(err)
	}
	attachments, err := s.store.FieldsByType(ctx, tableID, store.FieldTypeAttachment)
	if err != nil {
		return nil, storeError(err)
	}
	return &FieldList{TableID: tableID, Fields: fields, Attachments: attachments}, nil
}

// KeyReport describes one placeholder key found in a template
type KeyReport struct {
	Key         string `json:"key"`
	Occurrences int    `json:"occurrences"`
	Resolved    *bool  `json:"resolved,omitempty"`
	Value       string `json:"value,omitempty"`
}

// InspectResult lists a template's placeholder keys in first-seen order
type InspectResult struct {
	Keys       []KeyReport `json:"keys"`
	Total      int         `json:"total"`
	Unresolved int         `json:"unresolved,omitempty"`
}

// Inspect lists the placeholder keys of a template. When record is non-nil
// each key is also resolved against it.
func (s *Service) Inspect(template []byte, record *placeholder.RecordMap) (*InspectResult, error) {
	keys, err := docx.Inspect(template)
	if err != nil {
		return nil, err
	}
	result := &InspectResult{Total: len(keys)}
	index := make(map[string]int)
	for _, k := range keys {
		if i, ok := index[k]; ok {
			result.Keys[i].Occurrences++
			continue
		}
		index[k] = len(result.Keys)
		report := KeyReport{Key: k, Occurrences: 1}
		if record != nil {
			v, ok := placeholder.Resolve(k, record)
			report.Resolved = &ok
			report.Value = v
		}
		result.Keys = append(result.Keys, report)
	}
	for _, k := range result.Keys {
		if k.Resolved != nil && !*k.Resolved {
			result.Unresolved += k.Occurrences
		}
	}
	return result, nil
}

// Close releases the rendering resources
func (s *Service) Close() error {
	return s.pipeline.Close()
}
