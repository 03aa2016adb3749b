package evhttp

import (
	"path/filepath"
	"strconv"
	"strings"

	"dqx0.com/go/reactor/evhttp/internal/http1"
)

// Code is an HTTP status code.
type Code int

const (
	StatusOK                  Code = 200
	StatusCreated             Code = 201
	StatusNoContent           Code = 204
	StatusBadRequest          Code = 400
	StatusForbidden           Code = 403
	StatusNotFound            Code = 404
	StatusMethodNotAllowed    Code = 405
	StatusContentTooLarge     Code = 413
	StatusInternalServerError Code = 500
	StatusServiceUnavailable  Code = 503
)

// String returns the status line form, e.g. "404 Not Found".
func (c Code) String() string {
	s := strconv.Itoa(int(c))
	if reason := http1.StatusText(int(c)); reason != "" {
		s += " " + reason
	}
	return s
}

// MediaType is a Content-Type value known to the server.
type MediaType uint8

const (
	TextHTML MediaType = iota
	TextPlain
	TextCSS
	ApplicationJavaScript
	ApplicationJSON
	ApplicationOctetStream
	ImageJPEG
	ImagePNG
	ImageGIF
	ImageSVG
)

func (t MediaType) String() string {
	switch t {
	case TextHTML:
		return "text/html; charset=utf-8"
	case TextPlain:
		return "text/plain; charset=utf-8"
	case TextCSS:
		return "text/css; charset=utf-8"
	case ApplicationJavaScript:
		return "application/javascript"
	case ApplicationJSON:
		return "application/json"
	case ImageJPEG:
		return "image/jpeg"
	case ImagePNG:
		return "image/png"
	case ImageGIF:
		return "image/gif"
	case ImageSVG:
		return "image/svg+xml"
	default:
		return "application/octet-stream"
	}
}

// MediaTypeFromPath picks a media type from a file extension. Paths
// without an extension are served as HTML.
func MediaTypeFromPath(path string) MediaType {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case "":
		return TextHTML
	case ".html", ".htm":
		return TextHTML
	case ".txt":
		return TextPlain
	case ".css":
		return TextCSS
	case ".js", ".mjs":
		return ApplicationJavaScript
	case ".json":
		return ApplicationJSON
	case ".jpg", ".jpeg":
		return ImageJPEG
	case ".png":
		return ImagePNG
	case ".gif":
		return ImageGIF
	case ".svg":
		return ImageSVG
	default:
		return ApplicationOctetStream
	}
}
