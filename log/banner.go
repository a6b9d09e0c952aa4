package log

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
)

// initBanner prints the startup banner, preferring a local override file
// over the one embedded in the binary. Callers gate this on their own
// banner-display setting; initBanner itself always shows it when called.
func initBanner() error {
	const (
		localBannerPath    = "configs/banner.txt"
		embeddedBannerPath = "banner.txt"
	)

	bannerData, err := loadBannerData(localBannerPath)
	if err != nil {
		Debugf("could not read local banner: %v, falling back to embedded banner", err)
		bannerData, err = fs.ReadFile(bannerFS, embeddedBannerPath)
		if err != nil {
			return fmt.Errorf("failed to read embedded banner: %v", err)
		}
	}

	return displayBanner(bannerData)
}

// Embedded banner file for application startup.
//
//go:embed banner.txt
var bannerFS embed.FS

// loadBannerData attempts to read banner data from the specified file.
// It returns the banner content as bytes or an error if the read fails.
func loadBannerData(path string) ([]byte, error) {
	// Check if file exists
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	// Read file contents
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read banner file: %v", err)
	}

	return data, nil
}

// displayBanner writes the banner data to standard output.
// It returns an error if the write operation fails.
func displayBanner(data []byte) error {
	_, err := fmt.Fprintln(os.Stdout, string(data))
	return err
}
