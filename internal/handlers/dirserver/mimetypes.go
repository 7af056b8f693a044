package dirserver

import (
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"example.com/dirserve/internal/config"
)

const defaultOctetStreamMimeType = "application/octet-stream"

// builtinOverrides always win over other sources unless
// allow_override_builtin is set.
var builtinOverrides = map[string]string{
	".json": "application/json",
	".vbs":  "text/plain",
	".csv":  "text/plain",
	".djvu": "application/djvu",
	".js":   "text/plain",
}

// defaultMimeTypes covers common types so results do not depend on the
// host's mime.types. Values carry no parameters.
var defaultMimeTypes = map[string]string{
	".3g2":    "video/3gpp2",
	".3gp":    "video/3gpp",
	".7z":     "application/x-7z-compressed",
	".aac":    "audio/aac",
	".abw":    "application/x-abiword",
	".apng":   "image/apng",
	".arc":    "application/x-freearc",
	".avi":    "video/x-msvideo",
	".avif":   "image/avif",
	".azw":    "application/vnd.amazon.ebook",
	".bin":    "application/octet-stream",
	".bmp":    "image/bmp",
	".bz":     "application/x-bzip",
	".bz2":    "application/x-bzip2",
	".cda":    "application/x-cdf",
	".csh":    "application/x-csh",
	".css":    "text/css",
	".csv":    "text/csv",
	".doc":    "application/msword",
	".docx":   "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".eot":    "application/vnd.ms-fontobject",
	".epub":   "application/epub+zip",
	".gif":    "image/gif",
	".gz":     "application/gzip",
	".htm":    "text/html",
	".html":   "text/html",
	".ico":    "image/vnd.microsoft.icon",
	".ics":    "text/calendar",
	".jar":    "application/java-archive",
	".jpeg":   "image/jpeg",
	".jpg":    "image/jpeg",
	".js":     "text/javascript",
	".json":   "application/json",
	".jsonld": "application/ld+json",
	".mid":    "audio/midi",
	".midi":   "audio/midi",
	".mjs":    "text/javascript",
	".mp3":    "audio/mpeg",
	".mp4":    "video/mp4",
	".mpeg":   "video/mpeg",
	".mpkg":   "application/vnd.apple.installer+xml",
	".odp":    "application/vnd.oasis.opendocument.presentation",
	".ods":    "application/vnd.oasis.opendocument.spreadsheet",
	".odt":    "application/vnd.oasis.opendocument.text",
	".oga":    "audio/ogg",
	".ogv":    "video/ogg",
	".ogx":    "application/ogg",
	".opus":   "audio/opus",
	".otf":    "font/otf",
	".pdf":    "application/pdf",
	".php":    "application/x-httpd-php",
	".png":    "image/png",
	".ppt":    "application/vnd.ms-powerpoint",
	".pptx":   "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".rar":    "application/vnd.rar",
	".rtf":    "application/rtf",
	".sh":     "application/x-sh",
	".svg":    "image/svg+xml",
	".tar":    "application/x-tar",
	".tif":    "image/tiff",
	".tiff":   "image/tiff",
	".ts":     "video/mp2t",
	".ttf":    "font/ttf",
	".txt":    "text/plain",
	".vsd":    "application/vnd.visio",
	".wav":    "audio/wav",
	".weba":   "audio/webm",
	".webm":   "video/webm",
	".webp":   "image/webp",
	".woff":   "font/woff",
	".woff2":  "font/woff2",
	".xhtml":  "application/xhtml+xml",
	".xls":    "application/vnd.ms-excel",
	".xlsx":   "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xml":    "application/xml",
	".xul":    "application/vnd.mozilla.xul+xml",
	".zip":    "application/zip",
}

// MimeRegistry maps file names to bare media types. It is read-only after
// construction and safe for concurrent use.
type MimeRegistry struct {
	custom               map[string]string
	allowOverrideBuiltin bool
}

// NewMimeRegistry builds a registry from the dir_server config. Inline
// mime_types are loaded first, then mime_types_path, whose entries win.
func NewMimeRegistry(cfg *config.DirServerConfig) (*MimeRegistry, error) {
	r := &MimeRegistry{custom: make(map[string]string)}
	if cfg == nil {
		return r, nil
	}
	r.allowOverrideBuiltin = cfg.AllowOverrideBuiltin

	for ext, mimeType := range cfg.MimeTypes {
		r.custom[strings.ToLower(ext)] = stripParams(mimeType)
	}

	if cfg.MimeTypesPath != nil && *cfg.MimeTypesPath != "" {
		fileTypes, err := LoadCustomMimeTypesFromFile(*cfg.MimeTypesPath)
		if err != nil {
			return nil, &config.ConfigError{
				FilePath: *cfg.MimeTypesPath,
				Message:  "failed to load custom MIME types",
				Err:      err,
			}
		}
		for ext, mimeType := range fileTypes {
			r.custom[ext] = stripParams(mimeType)
		}
	}
	return r, nil
}

// TypeOf returns the media type for filename. Lookup is case-insensitive on
// the extension and never fails; unknown types are application/octet-stream.
func (r *MimeRegistry) TypeOf(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return defaultOctetStreamMimeType
	}

	if r.allowOverrideBuiltin {
		if mimeType, ok := r.custom[ext]; ok {
			return mimeType
		}
	}
	if mimeType, ok := builtinOverrides[ext]; ok {
		return mimeType
	}
	if mimeType, ok := r.custom[ext]; ok {
		return mimeType
	}
	if mimeType, ok := defaultMimeTypes[ext]; ok {
		return mimeType
	}
	if mimeType := mime.TypeByExtension(ext); mimeType != "" {
		return stripParams(mimeType)
	}
	return defaultOctetStreamMimeType
}

// LoadCustomMimeTypesFromFile reads a JSON object mapping extensions to MIME
// types. Extensions must start with '.', types must be non-empty. Returned
// keys are lowercased.
func LoadCustomMimeTypesFromFile(filePath string) (map[string]string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read MIME types file %q: %w", filePath, err)
	}

	var parsed map[string]string
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse JSON from MIME types file %q: %w", filePath, err)
	}

	out := make(map[string]string, len(parsed))
	for ext, mimeType := range parsed {
		if !strings.HasPrefix(ext, ".") {
			return nil, fmt.Errorf("invalid extension %q in MIME types file %q: must start with '.'", ext, filePath)
		}
		if strings.TrimSpace(mimeType) == "" {
			return nil, fmt.Errorf("empty MIME type for extension %q in MIME types file %q", ext, filePath)
		}
		out[strings.ToLower(ext)] = mimeType
	}
	return out, nil
}

func stripParams(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.TrimSpace(mimeType)
}
