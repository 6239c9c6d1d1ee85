// Package web embeds the linking pages served by the control surface.
package web

import (
	"embed"
	"log/slog"
	"net/http"
)

//go:embed static
var staticFS embed.FS

// ServeQRPage writes the QR polling page.
func ServeQRPage(w http.ResponseWriter) {
	servePage(w, "static/qr.html")
}

// ServePairingPage writes the pairing-code request form.
func ServePairingPage(w http.ResponseWriter) {
	servePage(w, "static/pairing.html")
}

func servePage(w http.ResponseWriter, path string) {
	data, err := staticFS.ReadFile(path)
	if err != nil {
		slog.Error("Embedded page missing", "path", path, "error", err)
		http.Error(w, "page unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Debug("Failed to write embedded page", "path", path, "error", err)
	}
}
