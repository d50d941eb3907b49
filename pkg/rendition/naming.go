package rendition

import "strings"

// derivedSuffix is appended to breakpoint names to form derived names.
const derivedSuffix = "_webp"

// derivedOriginal is the derived name of the "original" format.
const derivedOriginal = "webp"

// DerivedFormatName maps a source format name to its derived name:
// "original" becomes "webp", any other breakpoint X becomes "X_webp".
func DerivedFormatName(source string) string {
	if source == OriginalFormat {
		return derivedOriginal
	}
	return source + derivedSuffix
}

// SourceFormatName inverts DerivedFormatName. ok is false when name is not a
// derived name.
func SourceFormatName(name string) (source string, ok bool) {
	if name == derivedOriginal {
		return OriginalFormat, true
	}
	if strings.HasSuffix(name, derivedSuffix) && len(name) > len(derivedSuffix) {
		return strings.TrimSuffix(name, derivedSuffix), true
	}
	return "", false
}

// IsDerivedFormatName reports whether name follows the derived naming rule.
func IsDerivedFormatName(name string) bool {
	_, ok := SourceFormatName(name)
	return ok
}

// IsDerivedRendition reports whether a format entry is a derived rendition:
// it carries the target extension, or it follows the derived naming rule and
// records no other extension. A CMS breakpoint that only happens to be named
// "webp" or "X_webp" keeps its own extension and is not derived.
func IsDerivedRendition(name string, r Rendition) bool {
	if HasTargetExt(r.Ext) {
		return true
	}
	return IsDerivedFormatName(name) && r.Ext == ""
}
