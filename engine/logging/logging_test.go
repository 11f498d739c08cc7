package logging

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter(t *testing.T) {
	tests := map[string]struct {
		givenWrites   []string
		expectedLines []string
	}{
		"GivenSingleLine_ExpectOneLine": {
			givenWrites:   []string{"hello\n"},
			expectedLines: []string{"hello"},
		},
		"GivenLineSplitAcrossWrites_ExpectJoinedLine": {
			givenWrites:   []string{`{"message_type":`, `"status"}` + "\n"},
			expectedLines: []string{`{"message_type":"status"}`},
		},
		"GivenMultipleLinesInOneWrite_ExpectSeparateLines": {
			givenWrites:   []string{"one\ntwo\r\n\nthree\n"},
			expectedLines: []string{"one", "two", "three"},
		},
		"GivenUnterminatedLine_ExpectFlushOnClose": {
			givenWrites:   []string{"one\ntail"},
			expectedLines: []string{"one", "tail"},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			var lines []string
			w := New(func(s string) { lines = append(lines, s) })
			for _, s := range tt.givenWrites {
				n, err := w.Write([]byte(s))
				require.NoError(t, err)
				assert.Equal(t, len(s), n)
			}
			require.NoError(t, w.Close())
			assert.Equal(t, tt.expectedLines, lines)
		})
	}
}

func TestStream_Lines(t *testing.T) {
	s := NewStream(strings.NewReader("first\n\n  second  \nthird"))

	var lines []string
	for s.Next() {
		lines = append(lines, s.Line())
	}
	require.NoError(t, s.Err())
	assert.Equal(t, []string{"first", "second", "third"}, lines)
}

func TestStream_TruncatesOverlongLines(t *testing.T) {
	long := strings.Repeat("x", MaxLineSize+500)
	s := NewStream(strings.NewReader(long + "\nnext\n"))

	require.True(t, s.Next())
	assert.Len(t, s.Line(), MaxLineSize)
	require.True(t, s.Next())
	assert.Equal(t, "next", s.Line())
	assert.False(t, s.Next())
}

func TestStream_Event(t *testing.T) {
	tests := map[string]struct {
		givenLine       string
		expectedType    string
		expectedMessage string
		expectedItem    string
		expectedID      string
	}{
		"GivenSummary_ExpectSnapshotID": {
			givenLine:    `{"message_type":"summary","files_new":2,"data_added":1024,"snapshot_id":"abc123"}`,
			expectedType: MessageSummary,
			expectedID:   "abc123",
		},
		"GivenErrorWithMessage_ExpectMessage": {
			givenLine:       `{"message_type":"error","error":{"message":"permission denied"},"during":"archival","item":"/home/u/secret"}`,
			expectedType:    MessageError,
			expectedMessage: "permission denied",
			expectedItem:    "/home/u/secret",
		},
		"GivenLegacyError_ExpectOpAndPath": {
			givenLine:       `{"message_type":"error","error":{"Op":"open","Path":"/home/u/gone"},"during":"scan","item":"/home/u/gone"}`,
			expectedType:    MessageError,
			expectedMessage: "open /home/u/gone",
			expectedItem:    "/home/u/gone",
		},
		"GivenExitError_ExpectTopLevelMessage": {
			givenLine:       `{"message_type":"exit_error","code":1,"message":"Fatal: repository does not exist"}`,
			expectedType:    MessageExitError,
			expectedMessage: "Fatal: repository does not exist",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			s := NewStream(strings.NewReader(tt.givenLine + "\n"))
			require.True(t, s.Next())

			ev, err := s.Event()
			require.NoError(t, err)
			assert.Equal(t, tt.expectedType, ev.MessageType)
			assert.Equal(t, tt.expectedItem, ev.Item)
			assert.Equal(t, tt.expectedID, ev.SnapshotID)
			if tt.expectedMessage != "" {
				assert.Equal(t, tt.expectedMessage, ev.ErrorMessage())
			}
		})
	}
}

func TestStream_InvalidJSON(t *testing.T) {
	s := NewStream(strings.NewReader("Fatal: not json\n"))
	require.True(t, s.Next())

	_, err := s.Event()
	assert.Error(t, err)
	assert.Equal(t, "Fatal: not json", s.Line())
}

func TestStream_Drain(t *testing.T) {
	pr, pw := io.Pipe()
	go func() {
		_, _ = pw.Write([]byte("one\n"))
		_, _ = pw.Write([]byte("two\n"))
		_ = pw.Close()
	}()

	s := NewStream(pr)
	require.True(t, s.Next())
	s.Drain()
	assert.False(t, s.Next())
}
