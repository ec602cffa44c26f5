package services

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/bobarin/explainer/internal/models"
)

// palettes cycle per segment so consecutive fallback clips differ.
var palettes = []struct{ Background, Primary, Accent string }{
	{"#0b1026", "#4f9dff", "#ffd166"},
	{"#14081f", "#c77dff", "#72efdd"},
	{"#051a16", "#2ec4b6", "#ff9f1c"},
	{"#1a0b0b", "#ff6b6b", "#f7fff7"},
	{"#0d1b2a", "#90e0ef", "#f4a261"},
}

var fallbackTemplate = template.Must(template.New("fallback").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
  html, body { margin: 0; width: 1920px; height: 1080px; overflow: hidden; background: {{.Background}}; font-family: sans-serif; }
  canvas { position: absolute; inset: 0; }
  svg { position: absolute; inset: 0; }
  .caption { position: absolute; left: 160px; right: 160px; top: 50%; transform: translateY(-50%); text-align: center; color: #fff; }
  .caption h1 { font-size: 84px; margin: 0 0 32px; text-shadow: 0 10px 30px rgba(0,0,0,.5); }
  .caption p { font-size: 40px; margin: 0; opacity: .85; line-height: 1.4; }
</style>
</head>
<body>
<canvas id="field" width="1920" height="1080"></canvas>
<svg viewBox="0 0 1920 1080">
  <circle cx="960" cy="540" r="470" fill="none" stroke="{{.Primary}}" stroke-opacity=".15" stroke-width="6"/>
  <circle id="ring" cx="960" cy="540" r="470" fill="none" stroke="{{.Accent}}" stroke-width="6"
          stroke-dasharray="2953" stroke-dashoffset="2953" transform="rotate(-90 960 540)"/>
</svg>
<div class="caption">
  <h1>{{.Title}}</h1>
  <p>{{.Body}}</p>
</div>
<script>
(function () {
  var durationMs = {{.DurationMs}};
  var primary = {{.Primary}};
  var canvas = document.getElementById('field');
  var ctx = canvas.getContext('2d');
  var ring = document.getElementById('ring');
  var dots = [];
  for (var i = 0; i < 140; i++) {
    dots.push({ a: Math.random() * Math.PI * 2, r: 120 + Math.random() * 760, s: 0.0002 + Math.random() * 0.0006, z: 2 + Math.random() * 5 });
  }
  var start = null;
  function frame(now) {
    if (start === null) start = now;
    var t = now - start;
    ctx.clearRect(0, 0, 1920, 1080);
    ctx.fillStyle = primary;
    for (var i = 0; i < dots.length; i++) {
      var d = dots[i];
      var a = d.a + t * d.s;
      ctx.globalAlpha = 0.35 + 0.35 * Math.sin(a * 3);
      ctx.beginPath();
      ctx.arc(960 + Math.cos(a) * d.r, 540 + Math.sin(a) * d.r * 0.6, d.z, 0, Math.PI * 2);
      ctx.fill();
    }
    var p = Math.min(t / durationMs, 1);
    ring.setAttribute('stroke-dashoffset', String(2953 * (1 - p)));
    requestAnimationFrame(frame);
  }
  requestAnimationFrame(frame);
  window.animationReady = true;
})();
</script>
</body>
</html>
`))

type fallbackData struct {
	Background string
	Primary    string
	Accent     string
	Title      string
	Body       string
	DurationMs int
}

// FallbackAnimation builds the deterministic local document used when the
// generator fails or AI animations are disabled. It needs no network access.
func FallbackAnimation(segment models.Segment, durationSeconds float64) models.AnimationDocument {
	palette := palettes[0]
	if segment.Index > 0 {
		palette = palettes[segment.Index%len(palettes)]
	}

	data := fallbackData{
		Background: palette.Background,
		Primary:    palette.Primary,
		Accent:     palette.Accent,
		Title:      captionTitle(segment),
		Body:       truncateWords(segment.NarrationText, 24),
		DurationMs: int(durationSeconds * 1000),
	}

	var buf bytes.Buffer
	if err := fallbackTemplate.Execute(&buf, data); err != nil {
		// The template is static; a failure here is a programming error.
		panic(fmt.Sprintf("fallback animation template: %v", err))
	}

	return models.AnimationDocument{
		HTML:               buf.String(),
		MinDurationSeconds: durationSeconds,
		Source:             models.AnimationSourceFallback,
	}
}

func captionTitle(segment models.Segment) string {
	if hint := strings.TrimSpace(segment.VisualHint); hint != "" && hint != defaultVisualHint {
		return truncateWords(hint, 8)
	}
	return fmt.Sprintf("Part %d", segment.Index+1)
}

func truncateWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ") + "..."
}
