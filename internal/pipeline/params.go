package pipeline

import (
	"strconv"

	"scan2game-backend/pkg/api"
)

// Parameter defaults and bounds mirror what the processing engine accepts.
// Malformed fields fall back to their default rather than failing admission;
// out of range values are clamped.
const (
	DefaultTargetTris       = 5000
	DefaultTexSize          = 4096
	DefaultRayDistance      = 0.02
	DefaultIslandMargin     = 0.06
	DefaultBakeMargin       = 12
	DefaultCageExtrusion    = 0.06
	DefaultShrinkwrapOffset = 0.0
	DefaultRemeshVoxelSize  = 0.0
	DefaultAutoSmoothAngle  = 0.0
)

func parseInt(raw string, def, min, max int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func parseFloat(raw string, def, min, max float64) float64 {
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// NormalizeParams converts the raw form fields of a submission into the
// validated parameter set that is persisted with the job.
func NormalizeParams(form api.SubmitJobForm) api.Params {
	return api.Params{
		TargetTris:       parseInt(form.TargetTris, DefaultTargetTris, 100, 2_000_000),
		TexSize:          parseInt(form.TexSize, DefaultTexSize, 64, 8192),
		RayDistance:      parseFloat(form.RayDistance, DefaultRayDistance, 0, 10),
		IslandMargin:     parseFloat(form.IslandMargin, DefaultIslandMargin, 0, 1),
		BakeMargin:       parseInt(form.BakeMargin, DefaultBakeMargin, 0, 64),
		CageExtrusion:    parseFloat(form.CageExtrusion, DefaultCageExtrusion, 0, 10),
		ShrinkwrapOffset: parseFloat(form.ShrinkwrapOffset, DefaultShrinkwrapOffset, 0, 10),
		RemeshVoxelSize:  parseFloat(form.RemeshVoxelSize, DefaultRemeshVoxelSize, 0, 10),
		AutoSmoothAngle:  parseFloat(form.AutoSmoothAngle, DefaultAutoSmoothAngle, 0, 180),
	}
}
