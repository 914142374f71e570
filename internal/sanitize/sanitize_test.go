package sanitize

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlainTextStripsMarkup(t *testing.T) {
	out := PlainText("<b>hello</b> <script>alert(1)</script> world")
	require.NotContains(t, out, "<")
	require.Contains(t, out, "hello")
	require.Contains(t, out, "world")
}

func TestPlainTextLeavesPlainContentAlone(t *testing.T) {
	require.Equal(t, "just text", PlainText("just text"))
}
