package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/maauso/ffanime/internal/optional"
)

// Render loops a still image into a clip animated with one enabled effect.
func (p *FFmpegProcessor) Render(ctx context.Context, image, output string, secs int) (Clip, error) {
	if secs <= 0 {
		secs = FallbackClipSeconds
	}
	image, output = absPath(image), absPath(output)

	frames := secs * p.cfg.FPS
	id := p.cfg.Effects.Pick(p.src)
	filter := id.Apply(frames, p.cfg.Size, p.cfg.FPS) + ",format=yuv420p"

	args := []string{
		"-loop", "1", // Loop the input image
		"-i", image,
		"-vf", filter,
		"-c:v", p.cfg.VideoCodec,
		"-preset", p.cfg.VideoPreset,
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(p.cfg.FPS),
		"-t", strconv.Itoa(secs),
		output,
	}

	if err := p.runFFmpeg(ctx, opRender, filepath.Dir(output), output, args); err != nil {
		return Clip{}, err
	}

	p.logger.DebugContext(ctx, "clip rendered",
		slog.String("image", filepath.Base(image)),
		slog.String("effect", string(id)),
		slog.Int("seconds", secs),
	)
	return Clip{Path: output, Duration: float64(secs)}, nil
}

// AttachAudio binds an audio track onto clip according to mode.
func (p *FFmpegProcessor) AttachAudio(ctx context.Context, clip Clip, audio optional.Value[string], output string, mode PadMode) (Clip, error) {
	track, ok := audio.Get()
	if !ok {
		return passThrough(clip, output)
	}
	video, track, output := absPath(clip.Path), absPath(track), absPath(output)

	var args []string
	switch mode {
	case SilencePad:
		args = []string{
			"-i", video,
			"-i", track,
			"-map", "0:v:0",
			"-map", "1:a:0",
			"-c:v", "copy",
			"-af", "apad", // Pad with silence, cut by -shortest
			"-c:a", p.cfg.AudioCodec,
			"-shortest",
			output,
		}
	case RepeatPad:
		graph, err := p.backgroundGraph(ctx, video)
		if err != nil {
			return Clip{}, err
		}
		args = []string{
			"-i", video,
			"-stream_loop", "-1", // Loop the background indefinitely
			"-i", track,
			"-filter_complex", graph,
			"-map", "0:v:0",
			"-map", "[a]",
			"-c:v", "copy",
			"-c:a", p.cfg.AudioCodec,
			"-shortest",
			output,
		}
	default:
		return Clip{}, fmt.Errorf("%w: %d", ErrUnknownPadMode, int(mode))
	}

	if err := p.runFFmpeg(ctx, opAttachAudio, filepath.Dir(output), output, args); err != nil {
		return Clip{}, err
	}
	return Clip{Path: output, Duration: clip.Duration}, nil
}

// AttachSilence gives clip a silent stereo track of its own length so it can
// be stream-copied alongside clips that carry audio.
func (p *FFmpegProcessor) AttachSilence(ctx context.Context, clip Clip, output string) (Clip, error) {
	video, output := absPath(clip.Path), absPath(output)

	args := []string{
		"-i", video,
		"-f", "lavfi",
		"-i", fmt.Sprintf("anullsrc=channel_layout=stereo:sample_rate=%d", p.cfg.AudioSampleRate),
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", p.cfg.AudioCodec,
		"-shortest",
		output,
	}

	if err := p.runFFmpeg(ctx, opAttachAudio, filepath.Dir(output), output, args); err != nil {
		return Clip{}, err
	}
	return Clip{Path: output, Duration: clip.Duration}, nil
}

// backgroundGraph builds the audio graph for a looped background track. The
// existing track is kept under the background only in MixBlend mode and only
// when the clip has one.
func (p *FFmpegProcessor) backgroundGraph(ctx context.Context, video string) (string, error) {
	if p.cfg.BackgroundMix == MixReplace {
		return "[1:a]apad[a]", nil
	}
	info, err := p.Probe(ctx, video)
	if err != nil {
		return "", err
	}
	if !info.HasAudio {
		return "[1:a]apad[a]", nil
	}
	return "[0:a][1:a]amix=inputs=2:duration=first:dropout_transition=0,apad[a]", nil
}

// AttachSubtitle burns a subtitle file into the video stream.
func (p *FFmpegProcessor) AttachSubtitle(ctx context.Context, clip Clip, subtitle optional.Value[string], output string) (Clip, error) {
	sub, ok := subtitle.Get()
	if !ok {
		return passThrough(clip, output)
	}
	video, output := absPath(clip.Path), absPath(output)
	dir := filepath.Dir(output)

	args := []string{
		"-i", video,
		"-vf", "subtitles=" + filterPath(dir, absPath(sub)),
		"-c:v", p.cfg.VideoCodec,
		"-preset", p.cfg.VideoPreset,
		"-pix_fmt", "yuv420p",
		"-c:a", "copy",
		output,
	}

	if err := p.runFFmpeg(ctx, opAttachSubtitle, dir, output, args); err != nil {
		return Clip{}, err
	}
	return Clip{Path: output, Duration: clip.Duration}, nil
}

// filterPath returns path as a filter option value, relative to dir when it
// lives there.
func filterPath(dir, path string) string {
	if filepath.Dir(path) == dir {
		path = filepath.Base(path)
	}
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`).Replace(path)
}

// Concat joins clips in order with the concat demuxer and a stream copy.
// The manifest is written next to output and removed before returning.
func (p *FFmpegProcessor) Concat(ctx context.Context, clips []Clip, output string) (Clip, error) {
	if len(clips) == 0 {
		return Clip{}, ErrNoClips
	}

	var total float64
	for _, c := range clips {
		total += c.Duration
	}

	if len(clips) == 1 {
		// Single clip: just copy the file
		return passThrough(clips[0], output)
	}

	output = absPath(output)
	dir := filepath.Dir(output)

	paths := make([]string, len(clips))
	for i, c := range clips {
		paths[i] = absPath(c.Path)
	}

	listFile, err := createConcatList(dir, paths)
	if err != nil {
		return Clip{}, err
	}
	defer func() { _ = os.Remove(listFile) }()

	args := []string{
		"-f", "concat", // Use concat demuxer
		"-safe", "0", // Allow absolute paths
		"-i", filepath.Base(listFile),
		"-c", "copy", // Copy streams without re-encoding
		output,
	}

	if err := p.runFFmpeg(ctx, opConcat, dir, output, args); err != nil {
		return Clip{}, err
	}
	return Clip{Path: output, Duration: total}, nil
}

// Splice crossfades leading into trailing. Both inputs are normalized to the
// configured frame size, rate and pixel format, and to stereo audio; an input
// without audio contributes silence of its own length. The leading clip is
// held on its last frame long enough for the blend window to be full.
func (p *FFmpegProcessor) Splice(ctx context.Context, leading, trailing Clip, output string) (Clip, error) {
	lead, trail, output := absPath(leading.Path), absPath(trailing.Path), absPath(output)

	leadInfo, err := p.Probe(ctx, lead)
	if err != nil {
		return Clip{}, err
	}
	trailInfo, err := p.Probe(ctx, trail)
	if err != nil {
		return Clip{}, err
	}

	t := p.cfg.Transition
	offset := SpliceOffset(leadInfo.Duration, t)
	hold := offset + t - leadInfo.Duration

	norm := p.normalizeVideo()
	graph := strings.Join([]string{
		fmt.Sprintf("[0:v]%s,tpad=stop_mode=clone:stop_duration=%s[v0]", norm, seconds(hold)),
		fmt.Sprintf("[1:v]%s[v1]", norm),
		fmt.Sprintf("[v0][v1]xfade=transition=fade:duration=%s:offset=%s,format=yuv420p[v]", seconds(t), seconds(offset)),
		fmt.Sprintf("%s,apad=pad_dur=%s[a0]", p.audioSource(0, leadInfo), seconds(hold)),
		fmt.Sprintf("%s[a1]", p.audioSource(1, trailInfo)),
		fmt.Sprintf("[a0][a1]acrossfade=d=%s[a]", seconds(t)),
	}, ";")

	args := []string{
		"-i", lead,
		"-i", trail,
		"-filter_complex", graph,
		"-map", "[v]",
		"-map", "[a]",
		"-c:v", p.cfg.VideoCodec,
		"-preset", p.cfg.VideoPreset,
		"-pix_fmt", "yuv420p",
		"-c:a", p.cfg.AudioCodec,
		"-movflags", "+faststart",
		output,
	}

	if err := p.runFFmpeg(ctx, opSplice, filepath.Dir(output), output, args); err != nil {
		return Clip{}, err
	}
	return Clip{Path: output, Duration: offset + trailInfo.Duration}, nil
}

// normalizeVideo scales to fit the frame, pads with black and fixes the rate.
func (p *FFmpegProcessor) normalizeVideo() string {
	w, h := p.cfg.Size.Width, p.cfg.Size.Height
	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:black,setsar=1,fps=%d,format=yuv420p",
		w, h, w, h, p.cfg.FPS)
}

// audioSource returns the filter chain head for input i's audio, generating
// silence when the input has none.
func (p *FFmpegProcessor) audioSource(i int, info Info) string {
	if info.HasAudio {
		return fmt.Sprintf("[%d:a]aformat=sample_fmts=fltp:sample_rates=%d:channel_layouts=stereo", i, p.cfg.AudioSampleRate)
	}
	return fmt.Sprintf("aevalsrc=0:channel_layout=stereo:sample_rate=%d:duration=%s", p.cfg.AudioSampleRate, seconds(info.Duration))
}

// AttachCover embeds image as an attached picture ahead of the clip streams.
func (p *FFmpegProcessor) AttachCover(ctx context.Context, clip Clip, image, output string) (Clip, error) {
	video, image, output := absPath(clip.Path), absPath(image), absPath(output)

	args := []string{
		"-i", video,
		"-i", image,
		"-map", "1",
		"-map", "0",
		"-c", "copy",
		"-disposition:0", "attached_pic",
		output,
	}

	if err := p.runFFmpeg(ctx, opCover, filepath.Dir(output), output, args); err != nil {
		return Clip{}, err
	}
	return Clip{Path: output, Duration: clip.Duration}, nil
}

// passThrough copies clip to output unchanged.
func passThrough(clip Clip, output string) (Clip, error) {
	if err := copyFile(clip.Path, output); err != nil {
		return Clip{}, err
	}
	return Clip{Path: output, Duration: clip.Duration}, nil
}
