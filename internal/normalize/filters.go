package normalize

import (
	"strings"

	"github.com/samber/lo"

	"github.com/bryan-buckman/feedsync/internal/model"
)

// Filter is a user keyword filter. An empty Contexts list applies the filter
// to every feed kind.
type Filter struct {
	Title    string             `json:"title"`
	Action   model.FilterAction `json:"action"`
	Keywords []string           `json:"keywords"`
	Contexts []model.FeedKind   `json:"contexts,omitempty"`
}

// evaluateFilters matches keywords case-insensitively against the text and
// content warning. A hide match wins over any warn match.
func evaluateFilters(filters []Filter, kind model.FeedKind, text, cw string) model.FilterResult {
	res := model.FilterResult{Action: model.FilterNone}
	if len(filters) == 0 {
		return res
	}
	haystack := strings.ToLower(text + "\n" + cw)
	for _, f := range filters {
		if f.Action != model.FilterWarn && f.Action != model.FilterHide {
			continue
		}
		if len(f.Contexts) > 0 && !lo.Contains(f.Contexts, kind) {
			continue
		}
		matched := lo.ContainsBy(f.Keywords, func(k string) bool {
			k = strings.ToLower(strings.TrimSpace(k))
			return k != "" && strings.Contains(haystack, k)
		})
		if !matched {
			continue
		}
		if f.Action == model.FilterHide {
			return model.FilterResult{Action: model.FilterHide, Title: f.Title}
		}
		if res.Action == model.FilterNone {
			res = model.FilterResult{Action: model.FilterWarn, Title: f.Title}
		}
	}
	return res
}

func mediaDisplay(media []model.Attachment) model.MediaDisplay {
	switch len(media) {
	case 0:
		return model.MediaNone
	case 1:
		switch media[0].Type {
		case "video", "gifv", "audio":
			return model.MediaSingleVideo
		}
		return model.MediaSingleImage
	}
	return model.MediaCarousel
}
