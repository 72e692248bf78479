package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateUserID(t *testing.T) {
	assert.NoError(t, ValidateUserID("alice_99"))
	assert.NoError(t, ValidateUserID("user-name"))
	assert.Error(t, ValidateUserID(""))
	assert.Error(t, ValidateUserID("has space"))
	assert.Error(t, ValidateUserID("emoji😀"))
	assert.Error(t, ValidateUserID(strings.Repeat("a", 101)))
}

func TestValidateTokens(t *testing.T) {
	assert.NoError(t, ValidateTokens(0))
	assert.NoError(t, ValidateTokens(100))
	assert.Error(t, ValidateTokens(-1))
	assert.Error(t, ValidateTokens(2_000_000))
}

func TestValidateMessage(t *testing.T) {
	assert.NoError(t, ValidateMessage(""))
	assert.NoError(t, ValidateMessage("play something nice"))
	assert.Error(t, ValidateMessage(string([]byte{0xff, 0xfe})))
	assert.Error(t, ValidateMessage(strings.Repeat("x", MaxMessageLength+1)))
}

func TestValidateAudioFile(t *testing.T) {
	assert.NoError(t, ValidateAudioFile("clip.mp3"))
	assert.NoError(t, ValidateAudioFile("Sound.WAV"))
	assert.Error(t, ValidateAudioFile(""))
	assert.Error(t, ValidateAudioFile("../escape.mp3"))
	assert.Error(t, ValidateAudioFile("dir/clip.mp3"))
	assert.Error(t, ValidateAudioFile("clip.exe"))
}

func TestValidateSceneName(t *testing.T) {
	assert.NoError(t, ValidateSceneName("main"))
	assert.Error(t, ValidateSceneName("  "))
	assert.Error(t, ValidateSceneName(strings.Repeat("s", 101)))
}
