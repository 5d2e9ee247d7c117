package api

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobQueued   = "queued"
	JobStarted  = "started"
	JobFinished = "finished"
	JobFailed   = "failed"
)

// IsTerminal reports whether a job status admits no further transitions.
func IsTerminal(status string) bool {
	return status == JobFinished || status == JobFailed
}

// SubmitJobForm holds the raw parameter fields of a job submission. Values are
// kept as strings so that malformed numbers fall back to defaults during
// normalization instead of failing the upload.
type SubmitJobForm struct {
	TargetTris       string `schema:"target_tris"`
	TexSize          string `schema:"tex_size"`
	RayDistance      string `schema:"ray_distance"`
	IslandMargin     string `schema:"island_margin"`
	BakeMargin       string `schema:"bake_margin"`
	CageExtrusion    string `schema:"cage_extrusion"`
	ShrinkwrapOffset string `schema:"shrinkwrap_offset"`
	RemeshVoxelSize  string `schema:"remesh_voxel_size"`
	AutoSmoothAngle  string `schema:"auto_smooth_angle"`
}

type Params struct {
	TargetTris       int     `json:"target_tris"`
	TexSize          int     `json:"tex_size"`
	RayDistance      float64 `json:"ray_distance"`
	IslandMargin     float64 `json:"island_margin"`
	BakeMargin       int     `json:"bake_margin"`
	CageExtrusion    float64 `json:"cage_extrusion"`
	ShrinkwrapOffset float64 `json:"shrinkwrap_offset"`
	RemeshVoxelSize  float64 `json:"remesh_voxel_size"`
	AutoSmoothAngle  float64 `json:"auto_smooth_angle"`
}

type SubmitJobResponse struct {
	JobId    uuid.UUID `json:"job_id"`
	OutputId uuid.UUID `json:"output_id"`
	Status   string    `json:"status"`
	Params   Params    `json:"params"`
}

type Job struct {
	JobId     uuid.UUID  `json:"job_id"`
	OutputId  uuid.UUID  `json:"output_id"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

type RootResponse struct {
	Ok        bool     `json:"ok"`
	Message   string   `json:"message"`
	Endpoints []string `json:"endpoints"`
}
