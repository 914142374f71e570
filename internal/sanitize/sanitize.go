// Package sanitize strips embedded markup from message content before
// it is folded into a model-caller prompt, the same job
// microcosm-cc/bluemonday does for leapmux's plan titles
// (internal/hub/service/plantitle.go), just pointed at chat message
// bodies instead of plan text.
package sanitize

import "github.com/microcosm-cc/bluemonday"

var policy = bluemonday.StrictPolicy()

// PlainText strips all markup from s, leaving plain text safe to splice
// into an upstream chat-completions prompt.
func PlainText(s string) string {
	return policy.Sanitize(s)
}
