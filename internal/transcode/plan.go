package transcode

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"reelhouse/internal/media"
)

// buildArgs assembles the single ffmpeg invocation that consumes the stored
// original and emits the full DASH ladder into outputDir. All video
// representations map the same source stream (one decode, multiple encodes);
// the audio map uses ffmpeg's optional syntax so a silent source does not
// fail the job.
func buildArgs(inputPath, outputDir string, ladder Ladder) []string {
	args := []string{"-y", "-i", inputPath}

	for i, rep := range ladder.Video {
		idx := strconv.Itoa(i)
		args = append(args,
			"-map", "0:v:0",
			"-c:v:"+idx, rep.Codec,
			"-b:v:"+idx, fmt.Sprintf("%dk", rep.VideoBitrateKbps),
			"-s:v:"+idx, fmt.Sprintf("%dx%d", rep.Width, rep.Height),
			"-preset:v:"+idx, rep.Preset,
			"-profile:v:"+idx, rep.Profile,
			"-level:v:"+idx, rep.Level,
		)
	}

	adaptationSets := "id=0,streams=v"
	if audio := ladder.Audio; audio != nil {
		args = append(args,
			"-map", "0:a:0?",
			"-c:a:0", audio.Codec,
			"-b:a:0", fmt.Sprintf("%dk", audio.BitrateKbps),
			"-ac:a:0", strconv.Itoa(audio.Channels),
		)
		adaptationSets += " id=1,streams=a"
	}

	args = append(args,
		"-f", "dash",
		"-seg_duration", strconv.Itoa(ladder.SegmentSeconds),
		"-use_template", "1",
		"-use_timeline", "1",
		"-init_seg_name", media.InitSegmentTemplate,
		"-media_seg_name", media.SegmentTemplate,
		"-adaptation_sets", adaptationSets,
		filepath.Join(outputDir, media.ManifestName),
	)
	return args
}

// sanitizeForLog trims an argument list into one loggable command line.
func sanitizeForLog(name string, args []string) string {
	return name + " " + strings.Join(args, " ")
}
