package assembly

import (
	"fmt"
	"strings"

	"github.com/bobarin/explainer/internal/services"
)

const (
	videoOut     = "vout"
	narrationOut = "narr"
	audioOut     = "aout"
)

// graphOptions shapes the filter graph for one encode attempt.
type graphOptions struct {
	Width, Height, FrameRate int
	Normalize                bool               // rescale and resample every input first
	Music                    *services.MusicMix // nil when no music bed is mixed
	MusicInput               int
}

// buildFilterGraph chains xfade across every clip boundary, or concatenates
// the video for a hard-cut plan. Narration is trimmed so it lines up with the
// video timeline. The result exposes [vout] and either [aout] (with music)
// or [narr].
func buildFilterGraph(plan Plan, opts graphOptions) string {
	n := len(plan.Durations)
	var parts []string

	video := make([]string, n)
	audio := make([]string, n)
	for i := 0; i < n; i++ {
		video[i] = fmt.Sprintf("%d:v", i)
		audio[i] = fmt.Sprintf("%d:a", i)
		if opts.Normalize {
			parts = append(parts,
				fmt.Sprintf("[%d:v]%s,settb=AVTB[nv%d]", i, services.NormalizeVideoChain(opts.Width, opts.Height, opts.FrameRate), i),
				fmt.Sprintf("[%d:a]aresample=48000,aformat=sample_fmts=fltp:channel_layouts=stereo[na%d]", i, i),
			)
			video[i] = fmt.Sprintf("nv%d", i)
			audio[i] = fmt.Sprintf("na%d", i)
		}
	}

	if plan.TransitionSeconds == 0 {
		var in strings.Builder
		for _, v := range video {
			fmt.Fprintf(&in, "[%s]", v)
		}
		parts = append(parts, fmt.Sprintf("%sconcat=n=%d:v=1:a=0[%s]", in.String(), n, videoOut))
	} else {
		prev := video[0]
		for i, t := range plan.Transitions {
			out := fmt.Sprintf("v%d", i+1)
			if i == len(plan.Transitions)-1 {
				out = videoOut
			}
			parts = append(parts, fmt.Sprintf("[%s][%s]xfade=transition=%s:duration=%s:offset=%s[%s]",
				prev, video[i+1], t.Type, seconds(plan.TransitionSeconds), seconds(t.OffsetSeconds), out))
			prev = out
		}
	}

	var concatIn strings.Builder
	for i := 0; i < n; i++ {
		label := fmt.Sprintf("a%d", i)
		parts = append(parts, fmt.Sprintf("[%s]atrim=0:%s,asetpts=PTS-STARTPTS[%s]", audio[i], seconds(plan.NarrationTrim(i)), label))
		fmt.Fprintf(&concatIn, "[%s]", label)
	}
	parts = append(parts, fmt.Sprintf("%sconcat=n=%d:v=0:a=1[%s]", concatIn.String(), n, narrationOut))

	if opts.Music != nil {
		parts = append(parts, services.MusicFilter(narrationOut, fmt.Sprintf("%d:a", opts.MusicInput), audioOut, *opts.Music))
	}

	return strings.Join(parts, ";")
}

// encodeArgs is the full ffmpeg invocation for one assembly attempt.
func encodeArgs(clips []string, plan Plan, opts graphOptions, preset, output string) []string {
	var args []string
	for _, clip := range clips {
		args = append(args, "-i", clip)
	}
	if opts.Music != nil {
		args = append(args, "-stream_loop", "-1", "-i", opts.Music.Path)
	}

	audioLabel := narrationOut
	if opts.Music != nil {
		audioLabel = audioOut
	}

	args = append(args,
		"-filter_complex", buildFilterGraph(plan, opts),
		"-map", "["+videoOut+"]",
		"-map", "["+audioLabel+"]",
	)
	args = append(args, withPreset(services.ClipProfileArgs(), preset)...)
	args = append(args, "-t", seconds(plan.TotalSeconds), output)
	return args
}

// withPreset swaps the x264 preset of a profile argument list.
func withPreset(args []string, preset string) []string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "-preset" {
			args[i+1] = preset
		}
	}
	return args
}

func seconds(v float64) string {
	return fmt.Sprintf("%.3f", v)
}
