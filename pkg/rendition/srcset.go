package rendition

import (
	"sort"
	"strconv"
	"strings"
)

// PictureSource is one <source> entry of a <picture> element.
type PictureSource struct {
	Srcset string `json:"srcset"`
	Type   string `json:"type"`
}

type srcsetEntry struct {
	name  string
	url   string
	width int
}

// Srcset builds a width-descriptor srcset ("url 156w, url 750w") sorted by
// ascending width. With derived set it lists the derived renditions only;
// otherwise it lists the breakpoints followed by the asset itself.
func Srcset(asset *Asset, derived bool) string {
	if asset == nil || len(asset.Formats) == 0 {
		return ""
	}

	var entries []srcsetEntry
	for _, name := range sortedKeys(asset.Formats) {
		r := asset.Formats[name]
		if IsDerivedRendition(name, r) != derived || r.URL == "" {
			continue
		}
		entries = append(entries, srcsetEntry{name: name, url: r.URL, width: r.Width})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].width < entries[j].width })

	if !derived && asset.URL != "" {
		entries = append(entries, srcsetEntry{name: OriginalFormat, url: asset.URL, width: asset.Width})
	}

	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, e.url+" "+strconv.Itoa(e.width)+"w")
	}
	return strings.Join(parts, ", ")
}

// PictureSources returns the WebP source, when any derived rendition exists,
// followed by a fallback source typed with the asset's own MIME type.
func PictureSources(asset *Asset) []PictureSource {
	sources := []PictureSource{}
	if asset == nil || len(asset.Formats) == 0 {
		return sources
	}

	if webp := Srcset(asset, true); webp != "" {
		sources = append(sources, PictureSource{Srcset: webp, Type: TargetMime})
	}
	if fallback := Srcset(asset, false); fallback != "" {
		mime := asset.Mime
		if mime == "" {
			mime = "image/jpeg"
		}
		sources = append(sources, PictureSource{Srcset: fallback, Type: mime})
	}
	return sources
}
