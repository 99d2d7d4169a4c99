// Package banner prints the startup banner of the nexus command.
package banner

import (
	"embed"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/go-lynx/nexus/config"
)

//go:embed banner.txt
var bannerFS embed.FS

const (
	// KeyDisabled turns the banner off.
	KeyDisabled = "nexus.banner.disabled"
	// KeyPath points at a banner file replacing the embedded one.
	KeyPath = "nexus.banner.path"
)

// Print writes the banner to w unless disabled in store. A banner file named
// by KeyPath wins over the embedded banner; when it cannot be read the
// embedded one is used.
func Print(w io.Writer, store config.Store) error {
	if config.Get(store, KeyDisabled, false) {
		return nil
	}
	data, err := load(config.Get(store, KeyPath, ""))
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, string(data)); err != nil {
		return fmt.Errorf("failed to display banner: %w", err)
	}
	return nil
}

func load(path string) ([]byte, error) {
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			return data, nil
		}
	}
	data, err := fs.ReadFile(bannerFS, "banner.txt")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded banner: %w", err)
	}
	return data, nil
}
