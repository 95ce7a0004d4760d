package llm

import (
	"fmt"
	"path/filepath"
	"unicode/utf8"

	"github.com/satriahrh/kanal/server/domain/repositories"
)

// maxInlineText caps how much of a non-image attachment is inlined into a prompt.
const maxInlineText = 32 << 10

// attachmentText renders a non-image attachment as a prompt fragment. Text files
// are inlined; anything else is referenced by name only.
func attachmentText(a repositories.Attachment) string {
	name := filepath.Base(a.Path)
	if !utf8.Valid(a.Data) {
		return fmt.Sprintf("[attached file %s (%s, %d bytes)]", name, a.MimeType, len(a.Data))
	}
	data := a.Data
	truncated := ""
	if len(data) > maxInlineText {
		data = data[:maxInlineText]
		truncated = "\n[truncated]"
	}
	return fmt.Sprintf("[attached file %s]\n%s%s", name, data, truncated)
}
