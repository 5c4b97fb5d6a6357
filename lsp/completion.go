package lsp

import (
	"fmt"

	"github.com/gophersatwork/dkit"
	"github.com/sourcegraph/go-lsp"
)

var completionKinds = map[string]lsp.CompletionItemKind{
	"c": lsp.CIKClass,
	"i": lsp.CIKInterface,
	"s": lsp.CIKStruct,
	"u": lsp.CIKStruct,
	"v": lsp.CIKVariable,
	"m": lsp.CIKField,
	"k": lsp.CIKKeyword,
	"f": lsp.CIKFunction,
	"g": lsp.CIKEnum,
	"e": lsp.CIKEnumMember,
	"P": lsp.CIKModule,
	"M": lsp.CIKModule,
	"a": lsp.CIKVariable,
	"A": lsp.CIKVariable,
	"l": lsp.CIKReference,
	"t": lsp.CIKTypeParameter,
	"T": lsp.CIKTypeParameter,
}

// completionItems converts a decoded completion response into LSP items,
// keeping server order through SortText.
func completionItems(result dkit.CompletionResult) []lsp.CompletionItem {
	items := make([]lsp.CompletionItem, 0, len(result.Items))
	for i, c := range result.Items {
		item := lsp.CompletionItem{
			InsertText: c.Insert,
			SortText:   sortKey(i),
		}

		switch result.Kind {
		case dkit.ResultIdentifiers:
			item.Label = c.Name
			item.Detail = c.KindLabel
			item.Kind = completionKinds[c.KindCode]
			if item.Kind == 0 {
				item.Kind = lsp.CIKText
			}
		case dkit.ResultCallTips:
			item.Label = c.Label
			item.Detail = "call tip"
			item.Kind = lsp.CIKFunction
			item.FilterText = c.Insert
		}

		items = append(items, item)
	}
	return items
}

// sortKey returns a fixed-width key so lexical order equals index order.
func sortKey(i int) string {
	return fmt.Sprintf("%06d", i)
}
