package deps

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const encoderProbeTimeout = 15 * time.Second

// CheckEncoder asks ffmpeg for its encoder list and reports whether codec is
// one of them. Hardware encoders such as h264_nvenc can be compiled in and
// still fail at runtime without a device; this only checks the build.
func CheckEncoder(ctx context.Context, binary, codec string) Status {
	codec = strings.TrimSpace(codec)
	result := Status{
		Name:        "Encoder " + codec,
		Command:     strings.TrimSpace(binary),
		Description: "Video codec compiled into ffmpeg",
	}
	if result.Command == "" || codec == "" {
		result.Detail = "encoder binary or codec not configured"
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, encoderProbeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, result.Command, "-hide_banner", "-encoders").Output() //nolint:gosec
	if err != nil {
		result.Detail = fmt.Sprintf("list encoders: %v", err)
		return result
	}
	if hasEncoder(out, codec) {
		result.Available = true
		return result
	}
	result.Detail = fmt.Sprintf("codec %q not listed by %s -encoders", codec, result.Command)
	return result
}

// hasEncoder scans `ffmpeg -encoders` output, where each encoder line is
// " V....D name   description".
func hasEncoder(listing []byte, codec string) bool {
	scanner := bufio.NewScanner(bytes.NewReader(listing))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[1] == codec {
			return true
		}
	}
	return false
}
