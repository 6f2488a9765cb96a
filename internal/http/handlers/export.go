package handlers

import (
	"fmt"
	"net/http"
	"path"
	"strings"

	"promptcraft/internal/session"
	"promptcraft/pkg/zip"
)

// Export downloads the session's locally stored images plus a prompt.txt
// with the prompt and the last critique.
func (a *App) Export(w http.ResponseWriter, r *http.Request) {
	o, ok := a.session(w, r)
	if !ok {
		return
	}
	snap := o.Snapshot()
	assets := a.sessionAssets(r, snap)

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=session-%s.zip", snap.ID))
	w.WriteHeader(http.StatusOK)
	if err := zip.Write(w, assets); err != nil {
		a.Logger.Warn().Err(err).Str("session", snap.ID).Msg("http: export failed")
	}
}

func (a *App) sessionAssets(r *http.Request, snap session.Snapshot) []zip.Asset {
	var assets []zip.Asset
	for i, img := range snap.History {
		if !img.IsLocal() {
			continue
		}
		key, ok := a.Store.KeyFor(img.LocalPath)
		if !ok {
			continue
		}
		data, err := a.Store.Read(r.Context(), key)
		if err != nil {
			a.Logger.Warn().Err(err).Str("key", key).Msg("http: export skipped image")
			continue
		}
		assets = append(assets, zip.Asset{
			Filename: fmt.Sprintf("%02d-%s", i, path.Base(key)),
			MIME:     "image/png",
			Data:     data,
			Modified: img.CreatedAt,
		})
	}

	var notes strings.Builder
	fmt.Fprintf(&notes, "prompt: %s\n", snap.Prompt)
	if snap.Seed != "" {
		fmt.Fprintf(&notes, "seed: %s\nstyle: %s\n", snap.Seed, snap.Style)
	}
	if snap.Critique != "" {
		fmt.Fprintf(&notes, "\ncritique:\n%s\n", snap.Critique)
	}
	for i, img := range snap.History {
		fmt.Fprintf(&notes, "\n[%02d] %s %s", i, img.Source, img.URL)
	}
	assets = append(assets, zip.Asset{Filename: "prompt.txt", MIME: "text/plain", Data: []byte(notes.String())})
	return assets
}
