package transcode

import (
	"path/filepath"
	"strings"
	"testing"
)

func argsString(args []string) string {
	return strings.Join(args, " ")
}

func TestBuildArgsSharedVideoSource(t *testing.T) {
	ladder := DefaultLadder()
	args := buildArgs("/in/video.mp4", "/out/dash", ladder)
	joined := argsString(args)

	if got := strings.Count(joined, "-map 0:v:0"); got != len(ladder.Video) {
		t.Fatalf("expected %d video maps of the same source stream, got %d:\n%s", len(ladder.Video), got, joined)
	}
	if !strings.Contains(joined, "-c:v:0 libx264") || !strings.Contains(joined, "-c:v:1 libx264") {
		t.Fatalf("per-representation codecs missing:\n%s", joined)
	}
	if !strings.Contains(joined, "-s:v:0 640x360") || !strings.Contains(joined, "-s:v:1 426x240") {
		t.Fatalf("per-representation sizes missing:\n%s", joined)
	}
	if !strings.Contains(joined, "-b:v:0 500k") || !strings.Contains(joined, "-b:v:1 300k") {
		t.Fatalf("per-representation bitrates missing:\n%s", joined)
	}
}

func TestBuildArgsOptionalAudioMapping(t *testing.T) {
	args := buildArgs("/in/video.mp4", "/out/dash", DefaultLadder())
	joined := argsString(args)

	if !strings.Contains(joined, "-map 0:a:0?") {
		t.Fatalf("audio map must use the optional syntax:\n%s", joined)
	}
	if !strings.Contains(joined, "-adaptation_sets id=0,streams=v id=1,streams=a") {
		t.Fatalf("adaptation sets missing audio set:\n%s", joined)
	}
}

func TestBuildArgsWithoutAudio(t *testing.T) {
	ladder := DefaultLadder()
	ladder.Audio = nil
	args := buildArgs("/in/video.mp4", "/out/dash", ladder)
	joined := argsString(args)

	if strings.Contains(joined, "0:a:0") {
		t.Fatalf("audio mapping should be absent:\n%s", joined)
	}
	if !strings.Contains(joined, "-adaptation_sets id=0,streams=v") || strings.Contains(joined, "streams=a") {
		t.Fatalf("adaptation sets should be video-only:\n%s", joined)
	}
}

func TestBuildArgsSegmentTemplates(t *testing.T) {
	args := buildArgs("/in/video.mp4", "/out/dash", DefaultLadder())
	joined := argsString(args)

	for _, fragment := range []string{
		"-f dash",
		"-seg_duration 5",
		"-use_template 1",
		"-use_timeline 1",
		"-init_seg_name init-stream$RepresentationID$.m4s",
		"-media_seg_name chunk-stream$RepresentationID$-$Number%05d$.m4s",
	} {
		if !strings.Contains(joined, fragment) {
			t.Errorf("missing %q:\n%s", fragment, joined)
		}
	}
	if args[len(args)-1] != filepath.Join("/out/dash", "manifest.mpd") {
		t.Fatalf("manifest must be the final output argument, got %q", args[len(args)-1])
	}
}

func TestLadderValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Ladder)
		wantErr bool
	}{
		{"default ok", func(l *Ladder) {}, false},
		{"no video", func(l *Ladder) { l.Video = nil }, true},
		{"zero segment duration", func(l *Ladder) { l.SegmentSeconds = 0 }, true},
		{"duplicate video id", func(l *Ladder) { l.Video[1].ID = l.Video[0].ID }, true},
		{"audio reuses video id", func(l *Ladder) { l.Audio.ID = l.Video[0].ID }, true},
		{"no audio ok", func(l *Ladder) { l.Audio = nil }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ladder := DefaultLadder()
			tc.mutate(&ladder)
			err := ladder.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
