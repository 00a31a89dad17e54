package spider

import (
	"path"
	"sort"
	"strings"
)

// ignoredExtensions lists file types that are never worth following from an
// anchor: archives, media, office documents and executables.
var ignoredExtensions = []string{
	// archives
	"7z", "7zip", "bz2", "rar", "tar", "tar.gz", "xz", "zip",
	// images
	"mng", "pct", "bmp", "gif", "jpg", "jpeg", "png", "pst", "psp", "tif", "tiff",
	"ai", "drw", "dxf", "eps", "ps", "svg", "cdr", "ico", "webp",
	// audio
	"mp3", "wma", "ogg", "wav", "ra", "aac", "mid", "au", "aiff",
	// video
	"3gp", "asf", "asx", "avi", "mov", "mp4", "mpg", "qt", "rm", "swf", "wmv",
	"m4a", "m4v", "flv", "webm",
	// office
	"xls", "xlsx", "ppt", "pptx", "pps", "doc", "docx", "odt", "ods", "odg", "odp",
	// other
	"css", "pdf", "exe", "bin", "rss", "dmg", "iso", "apk", "jar", "sh", "rb", "js",
	"hta", "bat", "cpl", "msi", "msp", "py",
}

// DeniedExtensions returns the anchor extension deny-list: the built-in ignore
// list plus extra, minus keep. keep is removed whether or not it was present.
func DeniedExtensions(keep string, extra []string) []string {
	keep = strings.ToLower(strings.TrimPrefix(keep, "."))
	set := make(map[string]struct{}, len(ignoredExtensions)+len(extra))
	for _, ext := range ignoredExtensions {
		set[ext] = struct{}{}
	}
	for _, ext := range extra {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			set[ext] = struct{}{}
		}
	}
	delete(set, keep)

	out := make([]string, 0, len(set))
	for ext := range set {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// ExtensionFilter matches URL paths against a set of denied extensions.
type ExtensionFilter struct {
	denied map[string]struct{}
}

// NewExtensionFilter builds a filter from a deny-list without leading dots.
func NewExtensionFilter(denied []string) *ExtensionFilter {
	set := make(map[string]struct{}, len(denied))
	for _, ext := range denied {
		set["."+strings.ToLower(ext)] = struct{}{}
	}
	return &ExtensionFilter{denied: set}
}

// Denied reports whether the last extension of urlPath is on the deny-list.
func (f *ExtensionFilter) Denied(urlPath string) bool {
	if f == nil {
		return false
	}
	ext := strings.ToLower(path.Ext(urlPath))
	if ext == "" {
		return false
	}
	_, ok := f.denied[ext]
	return ok
}
