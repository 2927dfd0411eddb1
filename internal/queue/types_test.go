package queue

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStatusErrorTruncatesBody(t *testing.T) {
	body := strings.Repeat("x", 500)
	err := NewStatusError("claim", 503, []byte(body))

	assert.Equal(t, 503, err.Status)
	assert.Len(t, err.Body, maxBodyBytes)
	assert.Contains(t, err.Error(), "queue claim: status 503")
}

func TestTruncateBodyKeepsRunesWhole(t *testing.T) {
	// 199 ASCII bytes then a 3-byte rune straddling the 200-byte cap.
	body := strings.Repeat("a", 199) + "€" + "tail"
	got := TruncateBody([]byte(body))

	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", 199), got)
	assert.Equal(t, "short", TruncateBody([]byte("short")))
}

func TestNewDecodeErrorKeepsCause(t *testing.T) {
	cause := errors.New("unexpected end of JSON input")
	err := NewDecodeError("claim", 200, []byte(strings.Repeat("{", 1000)), cause)

	assert.ErrorIs(t, err, cause)
	assert.Len(t, err.Body, maxBodyBytes)
	assert.Contains(t, err.Error(), "queue claim: status 200: unexpected end of JSON input")
}

func TestQueueErrorUnwrap(t *testing.T) {
	var qe *QueueError
	err := error(&QueueError{Op: "acknowledge", Err: ErrJobNotFound})

	require.True(t, errors.As(err, &qe))
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.Equal(t, "queue acknowledge: job not found", err.Error())
}

func TestOutcomeValid(t *testing.T) {
	assert.True(t, OutcomeDone.Valid())
	assert.True(t, OutcomeFailed.Valid())
	assert.False(t, Outcome("running").Valid())
}
