package server

import (
	"bytes"
	"errors"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"copycat/internal/logging"
)

type previewKind int

const (
	previewDownload previewKind = iota
	previewText
	previewImage
	previewPDF
	previewOffice
)

const (
	officeViewerURL = "https://view.officeapps.live.com/op/embed.aspx?src="

	// previewTextLimit caps how much of a text file /view renders.
	previewTextLimit = 1 << 20
)

var previewKinds = map[string]previewKind{
	"txt": previewText, "py": previewText, "log": previewText, "csv": previewText,
	"json": previewText, "js": previewText, "html": previewText, "css": previewText,
	"cpp": previewText, "c": previewText, "java": previewText, "rb": previewText,
	"php": previewText, "sh": previewText, "go": previewText, "rs": previewText,
	"md": previewText,

	"png": previewImage, "jpg": previewImage, "jpeg": previewImage, "gif": previewImage,
	"bmp": previewImage, "svg": previewImage, "webp": previewImage,

	"pdf": previewPDF,

	"doc": previewOffice, "docx": previewOffice, "rtf": previewOffice,
	"ppt": previewOffice, "pptx": previewOffice, "xls": previewOffice, "xlsx": previewOffice,
}

// classifyPreview picks the preview for name by its lowercased extension.
func classifyPreview(name string) previewKind {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return previewDownload
	}
	return previewKinds[strings.ToLower(name[i+1:])]
}

var previewTemplates = template.Must(template.New("text").Parse(
	`{{if .Truncated}}<p style="color:#eee;font-family:sans-serif;">Showing the first 1 MiB. ` +
		`<a href="{{.DownloadURL}}" style="color:#0ea5e9;" download>Download the full file</a></p>{{end}}` +
		`<pre style="color:#e0e0e0;background:#0b0c0d;padding:20px;white-space:pre-wrap;word-wrap:break-word;">{{.Content}}</pre>`,
))

func init() {
	template.Must(previewTemplates.New("image").Parse(
		`<body style="background:#000;margin:0;display:flex;align-items:center;justify-content:center;height:100vh;">` +
			`<img src="{{.InlineURL}}" alt="{{.Name}}" style="max-width:100%;max-height:100%;"></body>`,
	))
	template.Must(previewTemplates.New("pdf").Parse(
		`<body style="margin:0;height:100vh;"><iframe src="{{.InlineURL}}" width="100%" height="100%" style="border:none;"></iframe></body>`,
	))
	template.Must(previewTemplates.New("office").Parse(
		`<body style="margin:0;height:100vh;"><iframe src="{{.ViewerURL}}" width="100%" height="100%" frameborder="0">` +
			`This browser does not support inline frames.</iframe></body>`,
	))
	template.Must(previewTemplates.New("download").Parse(
		`<body style="background-color:#000;color:#eee;font-family:sans-serif;text-align:center;padding-top:50px;">` +
			`<h2>Preview not available</h2>` +
			`<p><a href="{{.DownloadURL}}" style="color:#0ea5e9;" download>Download File: {{.Name}}</a></p></body>`,
	))
}

type previewData struct {
	Name        string
	Content     string
	Truncated   bool
	InlineURL   string
	DownloadURL string
	ViewerURL   template.URL
}

// viewHandler handles GET /view/{name}.
func (s *Server) viewHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		log := logging.WithContext(r.Context())

		f, _, err := s.openStored(name)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				log.Error("open_stored_failed", zap.String("file", name), zap.Error(err))
			}
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		defer func() { _ = f.Close() }()

		escaped := url.PathEscape(name)
		data := previewData{
			Name:        name,
			InlineURL:   "/inline/" + escaped,
			DownloadURL: "/uploads/" + escaped,
		}

		var tmpl string
		switch classifyPreview(name) {
		case previewText:
			raw, err := io.ReadAll(io.LimitReader(f, previewTextLimit+1))
			if err != nil {
				log.Error("preview_read_failed", zap.String("file", name), zap.Error(err))
				http.Error(w, "Could not read this text file.", http.StatusInternalServerError)
				return
			}
			if len(raw) > previewTextLimit {
				raw = raw[:previewTextLimit]
				data.Truncated = true
			}
			data.Content = validUTF8(raw)
			tmpl = "text"
		case previewImage:
			tmpl = "image"
		case previewPDF:
			tmpl = "pdf"
		case previewOffice:
			inline := s.externalBase(r) + "inline/" + escaped
			data.ViewerURL = template.URL(officeViewerURL + url.QueryEscape(inline))
			tmpl = "office"
		default:
			tmpl = "download"
		}

		var buf bytes.Buffer
		if err := previewTemplates.ExecuteTemplate(&buf, tmpl, data); err != nil {
			log.Error("preview_render_failed", zap.String("file", name), zap.Error(err))
			http.Error(w, "An unexpected error occurred.", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	})
}

// externalBase returns the absolute URL root ending in "/": the configured
// public URL, else the scheme and host the request arrived on.
func (s *Server) externalBase(r *http.Request) string {
	if s.cfg.PublicURL != "" {
		return strings.TrimSuffix(s.cfg.PublicURL, "/") + "/"
	}
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host + "/"
}

// validUTF8 drops invalid byte sequences.
func validUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "")
}
