// Package artifacts defines the storage layout for job inputs and the
// per-output artifact sets, and builds the archive and manifest that make a
// finished output self describing.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	UploadsBucket = "uploads"
	OutputsBucket = "outputs"

	ModelFile         = "model_low.glb"
	BasecolorFile     = "textures/atlas_basecolor.png"
	NormalFile        = "textures/atlas_normal.png"
	PreviewBeforeFile = "preview_before.png"
	PreviewAfterFile  = "preview_after.png"
	ArchiveFile       = "output.zip"
	ManifestFile      = "manifest.txt"
	ProcessLogFile    = "process.log"
)

// Expected lists the artifacts the processing engine must produce for a job
// to be considered finished. The archive and manifest are built afterwards by
// the worker and are not part of the engine contract.
var Expected = []string{
	ModelFile,
	BasecolorFile,
	NormalFile,
	PreviewBeforeFile,
	PreviewAfterFile,
}

var allowedExtensions = map[string]struct{}{
	".glb":  {},
	".gltf": {},
	".fbx":  {},
	".obj":  {},
	".zip":  {},
}

// AllowedUpload reports whether the filename carries an accepted 3D asset
// extension. The format tag travels with the filename; the processing engine
// contract is uniform across formats.
func AllowedUpload(filename string) bool {
	_, ok := allowedExtensions[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// InputKey addresses a persisted upload by the job that owns it.
func InputKey(jobId uuid.UUID, filename string) string {
	return jobId.String() + "/" + filepath.Base(filename)
}

// OutputKey addresses a file within a job's artifact set. Outputs are always
// addressed by output id, never by job id.
func OutputKey(outputId uuid.UUID, name string) string {
	return outputId.String() + "/" + name
}

// Verify checks that every expected artifact exists non-empty in dir.
func Verify(dir string) error {
	var missing []string
	for _, name := range Expected {
		info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(name)))
		if err != nil || info.Size() == 0 {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing or empty output artifacts: %s", strings.Join(missing, ", "))
	}
	return nil
}
