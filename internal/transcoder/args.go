package transcoder

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// SegmentDuration is the target segment length in seconds for both formats.
	SegmentDuration = 6

	// GOPSize keeps every segment boundary on a keyframe at 24/48 fps sources.
	GOPSize = 48

	HLSMasterName    = "master.m3u8"
	HLSVariantName   = "index.m3u8"
	DASHManifestName = "manifest.mpd"

	dashAudioBitrate = "128k"
	audioSampleRate  = "48000"
	audioChannels    = "2"
)

// VariantDir is the per-rendition HLS subdirectory, e.g. "v0".
func VariantDir(i int) string {
	return "v" + strconv.Itoa(i)
}

// VarStreamMap pairs video and audio stream i for each rendition.
func VarStreamMap(ladder Ladder) string {
	maps := make([]string, len(ladder))
	for i := range ladder {
		maps[i] = fmt.Sprintf("v:%d,a:%d", i, i)
	}
	return strings.Join(maps, " ")
}

// BuildHLSArgs builds the ffmpeg arguments for fMP4 HLS output with a master playlist.
func BuildHLSArgs(src, outDir string, ladder Ladder) []string {
	args := []string{
		"-y", "-i", src, "-hide_banner",
		"-preset", "veryfast",
		"-sc_threshold", "0",
		"-g", strconv.Itoa(GOPSize),
		"-keyint_min", strconv.Itoa(GOPSize),
	}

	for i, r := range ladder {
		args = append(args,
			"-map", "0:v:0",
			"-map", "0:a:0?",
		)
		args = append(args, videoArgs(i, r)...)
		args = append(args,
			fmt.Sprintf("-c:a:%d", i), "aac",
			fmt.Sprintf("-b:a:%d", i), r.AudioBitrate(),
			fmt.Sprintf("-ar:%d", i), audioSampleRate,
			fmt.Sprintf("-ac:%d", i), audioChannels,
		)
	}

	args = append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(SegmentDuration),
		"-hls_playlist_type", "vod",
		"-hls_segment_type", "fmp4",
		"-hls_flags", "independent_segments+split_by_time",
		"-master_pl_name", HLSMasterName,
		"-strftime_mkdir", "1",
		"-var_stream_map", VarStreamMap(ladder),
		"-hls_segment_filename", filepath.Join(outDir, "v%v", "seg_%06d.m4s"),
		filepath.Join(outDir, "v%v", HLSVariantName),
	)

	return args
}

// BuildDASHArgs builds the ffmpeg arguments for CMAF DASH output. All
// representations share one audio track.
func BuildDASHArgs(src, outDir string, ladder Ladder) []string {
	args := []string{
		"-y", "-i", src, "-hide_banner",
		"-preset", "veryfast",
		"-sc_threshold", "0",
	}

	for i, r := range ladder {
		args = append(args, "-map", "0:v:0")
		args = append(args, videoArgs(i, r)...)
	}

	args = append(args,
		"-map", "0:a:0?",
		"-c:a", "aac",
		"-b:a", dashAudioBitrate,
		"-ar", audioSampleRate,
		"-ac", audioChannels,
		"-f", "dash",
		"-seg_duration", strconv.Itoa(SegmentDuration),
		"-use_template", "1",
		"-use_timeline", "1",
		"-init_seg_name", "init_$RepresentationID$.m4s",
		"-media_seg_name", "chunk_$RepresentationID$_$Number%05d$.m4s",
		filepath.Join(outDir, DASHManifestName),
	)

	return args
}

func videoArgs(i int, r Rendition) []string {
	return []string{
		fmt.Sprintf("-c:v:%d", i), "libx264",
		fmt.Sprintf("-b:v:%d", i), r.VideoBitrate(),
		fmt.Sprintf("-maxrate:v:%d", i), r.VideoBitrate(),
		fmt.Sprintf("-bufsize:v:%d", i), r.BufSize(),
		fmt.Sprintf("-s:v:%d", i), r.Size(),
		fmt.Sprintf("-profile:v:%d", i), Profile(i),
	}
}
