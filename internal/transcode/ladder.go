package transcode

// Representation describes one video rendition in the encoding ladder. The ID
// is the stable output stream index ffmpeg uses in segment names; IDs must
// never be reused across a ladder revision within the same manifest.
type Representation struct {
	ID               int    `json:"id"`
	Name             string `json:"name"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	VideoBitrateKbps int    `json:"videoBitrateKbps"`
	Codec            string `json:"codec"`
	Profile          string `json:"profile"`
	Level            string `json:"level"`
	Preset           string `json:"preset"`
}

// AudioRepresentation describes the single optional audio rendition. Sources
// without an audio stream are still packaged; the audio mapping is requested
// with ffmpeg's optional-map syntax so its absence never fails a job.
type AudioRepresentation struct {
	ID          int    `json:"id"`
	Codec       string `json:"codec"`
	BitrateKbps int    `json:"bitrateKbps"`
	Channels    int    `json:"channels"`
}

// Ladder is the fixed, ordered set of representations every asset is packaged
// into. It is configuration: the orchestrator never inspects the source to
// pick renditions.
type Ladder struct {
	Video          []Representation     `json:"video"`
	Audio          *AudioRepresentation `json:"audio,omitempty"`
	SegmentSeconds int                  `json:"segmentSeconds"`
}

// DefaultLadder returns the standard two-rendition ladder plus the optional
// stereo audio track.
func DefaultLadder() Ladder {
	return Ladder{
		Video: []Representation{
			{
				ID:               0,
				Name:             "360p",
				Width:            640,
				Height:           360,
				VideoBitrateKbps: 500,
				Codec:            "libx264",
				Profile:          "main",
				Level:            "3.1",
				Preset:           "medium",
			},
			{
				ID:               1,
				Name:             "240p",
				Width:            426,
				Height:           240,
				VideoBitrateKbps: 300,
				Codec:            "libx264",
				Profile:          "main",
				Level:            "3.0",
				Preset:           "medium",
			},
		},
		Audio: &AudioRepresentation{
			ID:          2,
			Codec:       "aac",
			BitrateKbps: 64,
			Channels:    2,
		},
		SegmentSeconds: 5,
	}
}

// Validate reports whether the ladder is usable: at least one video
// representation, unique IDs, positive segment duration.
func (l Ladder) Validate() error {
	if len(l.Video) == 0 {
		return errLadderEmpty
	}
	if l.SegmentSeconds <= 0 {
		return errLadderSegmentDuration
	}
	seen := make(map[int]struct{}, len(l.Video)+1)
	for _, rep := range l.Video {
		if _, dup := seen[rep.ID]; dup {
			return errLadderDuplicateID
		}
		seen[rep.ID] = struct{}{}
	}
	if l.Audio != nil {
		if _, dup := seen[l.Audio.ID]; dup {
			return errLadderDuplicateID
		}
	}
	return nil
}
