package loader

import (
	"sort"

	"github.com/bryan-buckman/listfeed/internal/model"
)

// Normalize turns a raw document into a ContentRecord.
// The compact preview list wins over the full item list; a full list is
// sorted by rank and cut to previewSize (0 keeps every item). For tiered
// lists the tier is recovered from the compound rank.
func Normalize(id string, doc *model.RawDocument, previewSize int) model.ContentRecord {
	typ := model.DisplayType(doc.Type)
	if typ != model.DisplayTiered {
		typ = model.DisplayDefault
	}

	raw := doc.Preview
	full := len(raw) == 0
	if full {
		raw = doc.Items
	}

	items := make([]model.PreviewItem, 0, len(raw))
	for _, it := range raw {
		p := model.PreviewItem{
			Rank:  it.Rank,
			Name:  it.Name,
			Image: it.Image,
			Media: it.Media,
		}
		if typ == model.DisplayTiered {
			p.Tier = it.Rank / model.TierScale
		}
		items = append(items, p)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Rank < items[j].Rank })
	if full && previewSize > 0 && len(items) > previewSize {
		items = items[:previewSize]
	}

	return model.ContentRecord{
		ID:          id,
		Name:        doc.Name,
		Description: doc.Description,
		Type:        typ,
		Visibility:  model.Visibility(doc.Visibility),
		Owner:       doc.Owner,
		Category:    doc.Category,
		Items:       items,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
}
