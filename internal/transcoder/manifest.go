package transcoder

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/unki2aut/go-mpd"

	"github.com/BanarasDigital/marketingbackend/pkg/models"
)

// CreateVariantDirs creates the v<i> output directory for each rendition.
func CreateVariantDirs(hlsDir string, ladder Ladder) error {
	for i := range ladder {
		dirPath := filepath.Join(hlsDir, VariantDir(i))
		if err := os.MkdirAll(dirPath, 0755); err != nil {
			return fmt.Errorf("failed to create HLS subdir %s: %w", VariantDir(i), err)
		}
	}
	return nil
}

// VerifyHLS checks that the master playlist lists one variant per rendition
// and that every variant playlist was written.
func VerifyHLS(hlsDir string, ladder Ladder) error {
	f, err := os.Open(filepath.Join(hlsDir, HLSMasterName))
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrManifestInvalid, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	variants := 0
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if first {
			if line != "#EXTM3U" {
				return fmt.Errorf("%w: master playlist missing #EXTM3U header", models.ErrManifestInvalid)
			}
			first = false
			continue
		}
		if strings.HasPrefix(line, "#EXT-X-STREAM-INF") {
			variants++
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: read master playlist: %v", models.ErrManifestInvalid, err)
	}

	if variants != len(ladder) {
		return fmt.Errorf("%w: master playlist has %d variants, want %d",
			models.ErrManifestInvalid, variants, len(ladder))
	}

	for i := range ladder {
		variant := filepath.Join(hlsDir, VariantDir(i), HLSVariantName)
		if _, err := os.Stat(variant); err != nil {
			return fmt.Errorf("%w: variant %s: %v", models.ErrManifestInvalid, VariantDir(i), err)
		}
	}

	return nil
}

// VerifyDASH decodes the MPD and checks that it carries at least one
// representation per rendition, each with its init segment on disk.
func VerifyDASH(dashDir string, ladder Ladder) error {
	data, err := os.ReadFile(filepath.Join(dashDir, DASHManifestName))
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrManifestInvalid, err)
	}

	manifest := new(mpd.MPD)
	if err := manifest.Decode(data); err != nil {
		return fmt.Errorf("%w: decode mpd: %v", models.ErrManifestInvalid, err)
	}

	if manifest.Type != nil && *manifest.Type != "static" {
		return fmt.Errorf("%w: mpd type %q, want static", models.ErrManifestInvalid, *manifest.Type)
	}

	representations := 0
	for _, period := range manifest.Period {
		for _, set := range period.AdaptationSets {
			for _, rep := range set.Representations {
				representations++
				if rep.ID == nil {
					continue
				}
				initSeg := filepath.Join(dashDir, "init_"+*rep.ID+".m4s")
				if _, err := os.Stat(initSeg); err != nil {
					return fmt.Errorf("%w: representation %s: %v", models.ErrManifestInvalid, *rep.ID, err)
				}
			}
		}
	}

	if representations < len(ladder) {
		return fmt.Errorf("%w: mpd has %d representations, want at least %d",
			models.ErrManifestInvalid, representations, len(ladder))
	}

	return nil
}
