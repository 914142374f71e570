package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestID(t *testing.T) {
	require.NoError(t, ID("conversation_id", "abc"))
	assert.Error(t, ID("conversation_id", ""))
	assert.Error(t, ID("conversation_id", strings.Repeat("a", MaxID+1)))
}

func TestName(t *testing.T) {
	require.NoError(t, Name("name", "mention-bot"))
	assert.Error(t, Name("name", ""))
	assert.Error(t, Name("name", strings.Repeat("a", MaxName+1)))
}

func TestDescription(t *testing.T) {
	require.NoError(t, Description("description", ""))
	assert.Error(t, Description("description", strings.Repeat("a", MaxDescription+1)))
}

func TestTags(t *testing.T) {
	require.NoError(t, Tags("tags", []string{"a", "b"}))
	assert.Error(t, Tags("tags", make([]string, MaxTagCount+1)))
	assert.Error(t, Tags("tags", []string{strings.Repeat("a", MaxTag+1)}))
}

func TestCapabilities(t *testing.T) {
	require.NoError(t, Capabilities("capabilities", []string{"code-review"}))
	assert.Error(t, Capabilities("capabilities", make([]string, MaxCapabilities+1)))
}

func TestMessageContent(t *testing.T) {
	require.NoError(t, MessageContent("hello"))
	assert.Error(t, MessageContent(""))
	assert.Error(t, MessageContent(strings.Repeat("a", MaxMessageBytes+1)))
}

func TestMemoryContent(t *testing.T) {
	require.NoError(t, MemoryContent(""))
	assert.Error(t, MemoryContent(strings.Repeat("a", MaxMemoryBytes+1)))
}
