package docx

import (
	"context"

	"go.uber.org/zap"

	docerrors "github.com/a3tai/mcp-docfill/internal/docfill/errors"
	"github.com/a3tai/mcp-docfill/internal/docfill/placeholder"
)

// PatchResult is the outcome of patching a template
type PatchResult struct {
	Document   []byte   `json:"-"`
	Replaced   int      `json:"replaced"`
	Unresolved []string `json:"unresolved,omitempty"`
}

// Patcher fills placeholder tokens in the main part of a .docx template.
// Substitution is local to each text node: a token split across runs is
// not recognized and stays as it is.
type Patcher struct {
	logger *zap.Logger
}

// NewPatcher creates a patcher
func NewPatcher(logger *zap.Logger) *Patcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Patcher{logger: logger}
}

// Patch substitutes the template's tokens with values from record. When no
// token is substituted the template bytes are returned as they are.
func (p *Patcher) Patch(ctx context.Context, template []byte, record *placeholder.RecordMap) (*PatchResult, error) {
	pkg, err := OpenPackage(template)
	if err != nil {
		return nil, err
	}
	mainXML, err := pkg.MainPart()
	if err != nil {
		return nil, docerrors.Wrap(docerrors.ErrorTypeInvalidTemplate, err).WithContext(MainPartName)
	}
	tree, err := ParseTree(mainXML)
	if err != nil {
		return nil, docerrors.Wrap(docerrors.ErrorTypeInvalidTemplate, err).WithContext(MainPartName)
	}

	result := &PatchResult{}
	for _, idx := range tree.TextNodes() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text := tree.Nodes[idx].Data
		out, replaced, unresolved := placeholder.Replace(text, record)
		if replaced > 0 {
			tree.SetText(idx, out)
			result.Replaced += replaced
		}
		for _, key := range unresolved {
			p.logger.Warn("placeholder not resolved",
				zap.String("key", key),
				zap.String("error_type", docerrors.ErrorTypeUnresolvedPlaceholder.String()))
		}
		result.Unresolved = append(result.Unresolved, unresolved...)
	}

	if result.Replaced == 0 {
		result.Document = template
		return result, nil
	}

	patched, err := pkg.Rewrite(tree.Serialize())
	if err != nil {
		return nil, docerrors.Wrap(docerrors.ErrorTypeInvalidTemplate, err)
	}
	result.Document = patched

	p.logger.Debug("template patched",
		zap.Int("replaced", result.Replaced),
		zap.Int("unresolved", len(result.Unresolved)))
	return result, nil
}

// Inspect lists the placeholder keys found in the template, in document
// order and including duplicates
func Inspect(template []byte) ([]string, error) {
	pkg, err := OpenPackage(template)
	if err != nil {
		return nil, err
	}
	mainXML, err := pkg.MainPart()
	if err != nil {
		return nil, docerrors.Wrap(docerrors.ErrorTypeInvalidTemplate, err).WithContext(MainPartName)
	}
	tree, err := ParseTree(mainXML)
	if err != nil {
		return nil, docerrors.Wrap(docerrors.ErrorTypeInvalidTemplate, err).WithContext(MainPartName)
	}

	var keys []string
	for _, idx := range tree.TextNodes() {
		keys = append(keys, placeholder.Keys(tree.Nodes[idx].Data)...)
	}
	return keys, nil
}
