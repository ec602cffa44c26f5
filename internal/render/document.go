package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bobarin/explainer/internal/models"
)

// scaffoldMarker identifies documents that already carry the injected hooks.
const scaffoldMarker = "data-render-scaffold"

// scaffoldScript defines the recording hooks when the document does not. The
// promise resolves after exactly durationMs and flips recordingComplete.
const scaffoldScript = `<script data-render-scaffold>
(function () {
  window.recordingComplete = false;
  if (typeof window.startRecording !== 'function') {
    window.startRecording = function (durationMs) {
      window.recordingComplete = false;
      return new Promise(function (resolve) {
        setTimeout(function () {
          window.recordingComplete = true;
          resolve();
        }, durationMs);
      });
    };
  }
})();
</script>
`

// PrepareDocument returns the document HTML with recording scaffolding
// injected. The scaffold only defines window.startRecording when the
// document's own scripts have not. It is added as a separate script before
// </body>, else before </html>, else appended.
func PrepareDocument(doc models.AnimationDocument) string {
	html := doc.HTML
	if strings.Contains(html, scaffoldMarker) {
		return html
	}

	lower := strings.ToLower(html)
	if len(lower) != len(html) {
		return html + scaffoldScript
	}
	for _, tag := range []string{"</body>", "</html>"} {
		if i := strings.LastIndex(lower, tag); i >= 0 {
			return html[:i] + scaffoldScript + html[i:]
		}
	}
	return html + scaffoldScript
}

// ReadinessExpression is the JavaScript predicate polled before capture: the
// page is loaded, every required global is defined and the document has not
// declared itself unready.
func ReadinessExpression(globals []string) string {
	var b strings.Builder
	b.WriteString("(() => document.readyState === 'complete'")
	for _, g := range globals {
		name, _ := json.Marshal(g)
		fmt.Fprintf(&b, " && typeof window[%s] !== 'undefined'", name)
	}
	b.WriteString(" && window.animationReady !== false)()")
	return b.String()
}

// StartRecordingExpression kicks off the document's recording hook without
// awaiting it. A renderer-side timer also raises recordingComplete after
// durationMs, so a hook that never signals cannot stall capture.
func StartRecordingExpression(durationMs int64) string {
	return fmt.Sprintf(
		"(() => { window.recordingComplete = false; try { window.startRecording(%d); } catch (e) { console.error(e); } setTimeout(() => { window.recordingComplete = true; }, %d); return true; })()",
		durationMs, durationMs,
	)
}

// recordingCompleteExpression reports whether the recording timer fired.
const recordingCompleteExpression = "window.recordingComplete === true"
