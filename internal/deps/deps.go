package deps

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"tsmill/internal/config"
)

// Requirement defines an external dependency tsmill relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements lists the binaries the configuration needs.
func Requirements(cfg *config.Config) []Requirement {
	binary := "ffmpeg"
	if cfg != nil && strings.TrimSpace(cfg.Encoder.Binary) != "" {
		binary = cfg.Encoder.Binary
	}
	return []Requirement{
		{Name: "FFmpeg", Command: binary, Description: "Transcodes staged copies"},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		resolved, err := exec.LookPath(cmd)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Command = resolved
		status.Available = true
		results = append(results, status)
	}
	return results
}

// Check resolves the configured binaries and, when ffmpeg is present, probes it
// for the configured video codec.
func Check(ctx context.Context, cfg *config.Config) []Status {
	results := CheckBinaries(Requirements(cfg))
	if cfg == nil || len(results) == 0 || !results[0].Available {
		return results
	}
	return append(results, CheckEncoder(ctx, results[0].Command, cfg.Encoder.VideoCodec))
}
