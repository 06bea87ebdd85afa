package transcoder

import (
	"errors"
	"fmt"
)

// Rendition defines encoding parameters for one quality level.
type Rendition struct {
	Label         string
	Width         int
	Height        int
	VideoBitrateK int
	AudioBitrateK int
}

// VideoBitrate returns the ffmpeg bitrate value, e.g. "800k".
func (r Rendition) VideoBitrate() string {
	return fmt.Sprintf("%dk", r.VideoBitrateK)
}

// AudioBitrate returns the ffmpeg audio bitrate value, e.g. "96k".
func (r Rendition) AudioBitrate() string {
	return fmt.Sprintf("%dk", r.AudioBitrateK)
}

// BufSize is twice the target video bitrate.
func (r Rendition) BufSize() string {
	return fmt.Sprintf("%dk", r.VideoBitrateK*2)
}

// Size returns WxH for the -s option.
func (r Rendition) Size() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Profile returns the H.264 profile for the rendition at index i.
// The two lowest tiers use main for device compatibility.
func Profile(i int) string {
	if i <= 1 {
		return "main"
	}
	return "high"
}

// Ladder is an ordered list of renditions, lowest quality first. The index of
// each entry is its stream index in ffmpeg arguments.
type Ladder []Rendition

// DefaultLadder is the rendition set used for every transcode.
var DefaultLadder = Ladder{
	{Label: "240p", Width: 426, Height: 240, VideoBitrateK: 400, AudioBitrateK: 64},
	{Label: "480p", Width: 854, Height: 480, VideoBitrateK: 800, AudioBitrateK: 96},
	{Label: "720p", Width: 1280, Height: 720, VideoBitrateK: 2200, AudioBitrateK: 128},
}

var ErrEmptyLadder = errors.New("rendition ladder is empty")

// Validate checks dimensions, bitrates and ascending order.
func (l Ladder) Validate() error {
	if len(l) == 0 {
		return ErrEmptyLadder
	}

	for i, r := range l {
		if r.Label == "" {
			return fmt.Errorf("rendition %d: label is required", i)
		}
		if r.Width <= 0 || r.Height <= 0 {
			return fmt.Errorf("rendition %s: invalid size %dx%d", r.Label, r.Width, r.Height)
		}
		if r.VideoBitrateK <= 0 || r.AudioBitrateK <= 0 {
			return fmt.Errorf("rendition %s: bitrates must be positive", r.Label)
		}
		if i > 0 && r.Height <= l[i-1].Height {
			return fmt.Errorf("rendition %s: ladder must be ascending by height", r.Label)
		}
	}

	return nil
}

// ByHeight returns the rendition matching the given height, or nil if not found.
func (l Ladder) ByHeight(height int) *Rendition {
	for i := range l {
		if l[i].Height == height {
			return &l[i]
		}
	}
	return nil
}

// ByLabel returns the rendition matching the given label, or nil if not found.
func (l Ladder) ByLabel(label string) *Rendition {
	for i := range l {
		if l[i].Label == label {
			return &l[i]
		}
	}
	return nil
}
