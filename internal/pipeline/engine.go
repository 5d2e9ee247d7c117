package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"scan2game-backend/internal/artifacts"
	"scan2game-backend/pkg/api"
)

// Engine is the boundary to the external mesh processing tool. Process must
// populate outputDir with the expected artifacts and append diagnostics to the
// process log; a non-nil error maps the job to failed.
type Engine interface {
	Process(ctx context.Context, inputPath, outputDir string, params api.Params) error
}

const DefaultJobTimeout = 30 * time.Minute

// BlenderEngine runs Blender headless with the bundled processing script. The
// script decimates to the target triangle count, unwraps, bakes the texture
// atlases, and renders the before/after previews.
type BlenderEngine struct {
	BlenderBin string
	ScriptPath string
	Timeout    time.Duration
}

var _ Engine = (*BlenderEngine)(nil)

func NewBlenderEngine(blenderBin, scriptPath string) *BlenderEngine {
	return &BlenderEngine{
		BlenderBin: blenderBin,
		ScriptPath: scriptPath,
		Timeout:    DefaultJobTimeout,
	}
}

func (e *BlenderEngine) args(inputPath, outputDir string, params api.Params) []string {
	return []string{
		"-b",
		"-P", e.ScriptPath,
		"--",
		"--input", inputPath,
		"--output_dir", outputDir,
		"--target_tris", strconv.Itoa(params.TargetTris),
		"--tex_size", strconv.Itoa(params.TexSize),
		"--ray_distance", strconv.FormatFloat(params.RayDistance, 'g', -1, 64),
		"--island_margin", strconv.FormatFloat(params.IslandMargin, 'g', -1, 64),
		"--bake_margin", strconv.Itoa(params.BakeMargin),
		"--cage_extrusion", strconv.FormatFloat(params.CageExtrusion, 'g', -1, 64),
		"--shrinkwrap_offset", strconv.FormatFloat(params.ShrinkwrapOffset, 'g', -1, 64),
		"--remesh_voxel_size", strconv.FormatFloat(params.RemeshVoxelSize, 'g', -1, 64),
		"--auto_smooth_angle", strconv.FormatFloat(params.AutoSmoothAngle, 'g', -1, 64),
	}
}

func (e *BlenderEngine) Process(ctx context.Context, inputPath, outputDir string, params api.Params) error {
	if err := os.MkdirAll(outputDir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.BlenderBin, e.args(inputPath, outputDir, params)...)
	cmd.Dir = outputDir

	slog.Info("running processing engine", "bin", e.BlenderBin, "input", inputPath, "output_dir", outputDir)

	output, runErr := cmd.CombinedOutput()

	// The log is written even on failure so the run can be inspected later.
	logPath := filepath.Join(outputDir, artifacts.ProcessLogFile)
	if err := os.WriteFile(logPath, output, 0644); err != nil {
		slog.Error("failed to write process log", "path", logPath, "error", err)
	}

	if runErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("engine timed out after %v, see %s", timeout, artifacts.ProcessLogFile)
		}
		return fmt.Errorf("engine failed: %w, see %s", runErr, artifacts.ProcessLogFile)
	}

	return nil
}
