package encoding

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"tsmill/internal/config"
)

// Params is the transcoding parameter set passed to ffmpeg.
type Params struct {
	VideoCodec   string
	Preset       string
	RateControl  string
	Quality      int
	VideoFilter  string
	AudioCodec   string
	AudioBitrate string
	ExtraArgs    []string
}

// ParamsFromConfig builds the parameter set from the encoder section.
func ParamsFromConfig(enc config.Encoder) (Params, error) {
	extra, err := shlex.Split(enc.ExtraArgs)
	if err != nil {
		return Params{}, fmt.Errorf("parse encoder.extra_args: %w", err)
	}
	return Params{
		VideoCodec:   strings.TrimSpace(enc.VideoCodec),
		Preset:       strings.TrimSpace(enc.Preset),
		RateControl:  strings.TrimSpace(enc.RateControl),
		Quality:      enc.Quality,
		VideoFilter:  strings.TrimSpace(enc.VideoFilter),
		AudioCodec:   strings.TrimSpace(enc.AudioCodec),
		AudioBitrate: strings.TrimSpace(enc.AudioBitrate),
		ExtraArgs:    extra,
	}, nil
}

// Args returns the full ffmpeg argument list for one conversion. Empty
// optional parameters are omitted.
func (p Params) Args(input, output string) []string {
	args := []string{"-hide_banner", "-y", "-i", input}
	if p.VideoCodec != "" {
		args = append(args, "-c:v", p.VideoCodec)
	}
	if p.Preset != "" {
		args = append(args, "-preset", p.Preset)
	}
	if p.RateControl != "" {
		args = append(args, "-rc", p.RateControl)
	}
	if p.Quality > 0 {
		args = append(args, "-crf", strconv.Itoa(p.Quality))
	}
	if p.VideoFilter != "" {
		args = append(args, "-vf", p.VideoFilter)
	}
	if p.AudioCodec != "" {
		args = append(args, "-c:a", p.AudioCodec)
	}
	if p.AudioBitrate != "" {
		args = append(args, "-b:a", p.AudioBitrate)
	}
	args = append(args, p.ExtraArgs...)
	return append(args, output)
}

// OutputPath returns <outputDir>/<source basename without extension>.<ext>.
func OutputPath(outputDir, source, ext string) string {
	base := filepath.Base(source)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	return filepath.Join(outputDir, stem+"."+ext)
}
