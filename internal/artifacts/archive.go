package artifacts

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"scan2game-backend/pkg/api"
)

// WriteManifest records the provenance of an artifact set: identities, source
// filename, and the exact parameters the engine ran with.
func WriteManifest(dir string, jobId, outputId uuid.UUID, filename string, params api.Params) error {
	var b strings.Builder
	fmt.Fprintf(&b, "job_id: %s\n", jobId)
	fmt.Fprintf(&b, "output_id: %s\n", outputId)
	fmt.Fprintf(&b, "source_file: %s\n", filename)
	fmt.Fprintf(&b, "generated_at: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "target_tris: %d\n", params.TargetTris)
	fmt.Fprintf(&b, "tex_size: %d\n", params.TexSize)
	fmt.Fprintf(&b, "ray_distance: %g\n", params.RayDistance)
	fmt.Fprintf(&b, "island_margin: %g\n", params.IslandMargin)
	fmt.Fprintf(&b, "bake_margin: %d\n", params.BakeMargin)
	fmt.Fprintf(&b, "cage_extrusion: %g\n", params.CageExtrusion)
	fmt.Fprintf(&b, "shrinkwrap_offset: %g\n", params.ShrinkwrapOffset)
	fmt.Fprintf(&b, "remesh_voxel_size: %g\n", params.RemeshVoxelSize)
	fmt.Fprintf(&b, "auto_smooth_angle: %g\n", params.AutoSmoothAngle)

	if err := os.WriteFile(filepath.Join(dir, ManifestFile), []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// BuildArchive zips every file under dir into output.zip inside dir, skipping
// the archive itself. Entries are sorted for stable archive contents.
func BuildArchive(dir string) error {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || info.Name() == ArchiveFile {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk output directory %s: %w", dir, err)
	}
	sort.Strings(files)

	archive, err := os.Create(filepath.Join(dir, ArchiveFile))
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer archive.Close()

	zw := zip.NewWriter(archive)
	defer zw.Close()

	for _, path := range files {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return fmt.Errorf("failed to relativize %s: %w", path, err)
		}

		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", rel, err)
		}

		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}

		if _, err := io.Copy(w, file); err != nil {
			file.Close()
			return fmt.Errorf("failed to write %s to archive: %w", rel, err)
		}
		file.Close()
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}

	return nil
}
