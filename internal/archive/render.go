package archive

import (
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/scribe/internal/recording"
)

// Render formats a recording as a markdown document.
func Render(rec recording.Recording) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", rec.Title)
	fmt.Fprintf(&b, "- Recorded: %s\n", rec.CreatedAt.UTC().Format(time.RFC3339))
	if rec.Duration != nil {
		fmt.Fprintf(&b, "- Duration: %s\n", (time.Duration(*rec.Duration) * time.Second).String())
	}
	b.WriteString("\n## Summary\n\n")
	b.WriteString(strings.TrimSpace(deref(rec.Summary)))
	b.WriteString("\n\n## Transcript\n\n")
	b.WriteString(strings.TrimSpace(deref(rec.Transcript)))
	b.WriteString("\n")
	return b.String()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
