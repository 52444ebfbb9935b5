package ollama

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkReader returns one chunk per Read call, mimicking network reads.
type chunkReader struct {
	chunks []string
	reads  int
	err    error
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if c.reads >= len(c.chunks) {
		if c.err != nil {
			return 0, c.err
		}
		return 0, io.EOF
	}
	chunk := c.chunks[c.reads]
	c.reads++
	n := copy(p, chunk)
	if n < len(chunk) {
		panic("chunk larger than read buffer")
	}
	return n, nil
}

func collect(t *testing.T, d *Decoder) ([]string, error) {
	t.Helper()
	var ret []string
	for {
		delta, err := d.Next()
		if err != nil {
			if err == io.EOF {
				return ret, nil
			}
			return ret, err
		}
		ret = append(ret, delta.Text)
	}
}

type countingObserver struct {
	lines []string
}

func (c *countingObserver) OnSkippedRecord(line []byte, err error) {
	c.lines = append(c.lines, string(line))
}

func TestDecoderRecordSplitAcrossChunks(t *testing.T) {
	r := &chunkReader{chunks: []string{
		`{"message":{"role":"assistant","content":"Hel`,
		`lo"}}` + "\n" + `{"message":{"content":", wor`,
		`ld"}}` + "\n",
		`{"done":true}` + "\n",
	}}
	d := NewDecoder(context.Background(), r)

	deltas, err := collect(t, d)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello", ", world"}, deltas)
	assert.Equal(t, "Hello, world", strings.Join(deltas, ""))
	assert.Equal(t, 3, d.Stats().Records)
	require.NotNil(t, d.Final())
	assert.True(t, d.Final().Done)
}

func TestDecoderEverySplitPoint(t *testing.T) {
	stream := `{"message":{"content":"Hi"}}` + "\n" +
		`{"message":{"content":" thére"}}` + "\n" +
		`{"message":{"content":"!"}}` + "\n" +
		`{"done":true}` + "\n"

	for i := 1; i < len(stream); i++ {
		r := &chunkReader{chunks: []string{stream[:i], stream[i:]}}
		deltas, err := collect(t, NewDecoder(context.Background(), r))
		require.NoError(t, err, "split at %d", i)
		assert.Equal(t, "Hi thére!", strings.Join(deltas, ""), "split at %d", i)
	}
}

func TestDecoderSmallReadBuffer(t *testing.T) {
	stream := `{"message":{"content":"Hi"}}` + "\n" + `{"message":{"content":"!"}}` + "\n"
	d := NewDecoder(context.Background(), strings.NewReader(stream), WithChunkSize(3))

	deltas, err := collect(t, d)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hi", "!"}, deltas)
	assert.Greater(t, d.Stats().Chunks, 10)
}

func TestDecoderSkipsMalformedRecord(t *testing.T) {
	observer := &countingObserver{}
	r := &chunkReader{chunks: []string{
		"{not json\n",
		`{"message":{"content":"a"}}` + "\n",
		`{"message":{"content":"b"}}` + "\n" + `{"message":{"content":"c"}}` + "\n",
	}}
	d := NewDecoder(context.Background(), r, WithSkipObserver(observer))

	deltas, err := collect(t, d)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, deltas)
	assert.Equal(t, []string{"{not json"}, observer.lines)
	assert.Equal(t, 1, d.Stats().Skipped)
	assert.Nil(t, d.Final())
}

func TestDecoderKeepsContentOfMistypedRecord(t *testing.T) {
	observer := &countingObserver{}
	stream := `{"created_at":"","message":{"content":"Hi"}}` + "\n" +
		`{"created_at":"yesterday","eval_count":"many","message":{"content":" there"}}` + "\n" +
		`{"done":true,"eval_count":12.0,"done_reason":"stop"}` + "\n"
	d := NewDecoder(context.Background(), strings.NewReader(stream), WithSkipObserver(observer))

	deltas, err := collect(t, d)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hi", " there"}, deltas)
	assert.Empty(t, observer.lines)
	assert.Equal(t, 0, d.Stats().Skipped)
	assert.Equal(t, 3, d.Stats().Records)

	require.NotNil(t, d.Final())
	assert.Equal(t, "stop", d.Final().DoneReason)
	assert.Equal(t, 0, d.Final().EvalCount)
}

func TestDecoderSkipsNonObjectRecord(t *testing.T) {
	observer := &countingObserver{}
	stream := `["a"]` + "\n" + `42` + "\n" + `{"message":{"content":"ok"}}` + "\n"
	d := NewDecoder(context.Background(), strings.NewReader(stream), WithSkipObserver(observer))

	deltas, err := collect(t, d)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, deltas)
	assert.Equal(t, []string{`["a"]`, "42"}, observer.lines)
}

func TestDecoderSkipObserverFunc(t *testing.T) {
	skipped := 0
	observer := SkipObserverFunc(func(line []byte, err error) {
		assert.Error(t, err)
		skipped++
	})
	d := NewDecoder(context.Background(), strings.NewReader("]\n[\n"), WithSkipObserver(observer))

	deltas, err := collect(t, d)
	require.NoError(t, err)
	assert.Empty(t, deltas)
	assert.Equal(t, 2, skipped)
}

func TestDecoderStopsReadingAtDone(t *testing.T) {
	r := &chunkReader{chunks: []string{
		`{"message":{"content":"x"}}` + "\n" + `{"done":true}` + "\n" + `{"message":{"content":"ignored"}}` + "\n",
		`{"message":{"content":"never read"}}` + "\n",
	}}
	d := NewDecoder(context.Background(), r)

	deltas, err := collect(t, d)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, deltas)
	assert.Equal(t, 1, r.reads)

	// the sequence is not restartable
	_, err = d.Next()
	assert.Equal(t, io.EOF, err)
}

func TestDecoderEndOfStreamWithoutDone(t *testing.T) {
	r := &chunkReader{chunks: []string{
		`{"message":{"content":"a"}}` + "\n",
		"\n\n",
		// no trailing newline on the last record
		`{"message":{"content":"b"}}`,
	}}
	deltas, err := collect(t, NewDecoder(context.Background(), r))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, deltas)
}

func TestDecoderDoneRecordWithContent(t *testing.T) {
	stream := `{"model":"hermes3:8b","message":{"role":"assistant","content":"whole reply"},"done":true,"eval_count":12}`
	d := NewDecoder(context.Background(), strings.NewReader(stream))

	deltas, err := collect(t, d)
	require.NoError(t, err)
	assert.Equal(t, []string{"whole reply"}, deltas)
	require.NotNil(t, d.Final())
	assert.Equal(t, "hermes3:8b", d.Final().Model)
	assert.Equal(t, 12, d.Final().EvalCount)
}

func TestDecoderErrorRecord(t *testing.T) {
	stream := `{"message":{"content":"a"}}` + "\n" + `{"error":"model not found"}` + "\n"
	deltas, err := collect(t, NewDecoder(context.Background(), strings.NewReader(stream)))

	assert.Equal(t, []string{"a"}, deltas)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBackend))
	assert.Contains(t, err.Error(), "model not found")
}

func TestDecoderReadError(t *testing.T) {
	r := &chunkReader{
		chunks: []string{`{"message":{"content":"a"}}` + "\n"},
		err:    errors.New("connection reset by peer"),
	}
	deltas, err := collect(t, NewDecoder(context.Background(), r))

	assert.Equal(t, []string{"a"}, deltas)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))
}

func TestDecoderCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &chunkReader{chunks: []string{
		`{"message":{"content":"a"}}` + "\n" + `{"message":{"content":"b"}}` + "\n",
		`{"message":{"content":"c"}}` + "\n",
	}}
	d := NewDecoder(ctx, r)

	delta, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", delta.Text)

	cancel()

	_, err = d.Next()
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, r.reads)

	// stays terminated
	_, err = d.Next()
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, d.Stats().Deltas)
}

func TestDecoderCancelledBeforeFirstRead(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &chunkReader{chunks: []string{`{"message":{"content":"a"}}` + "\n"}}

	deltas, err := collect(t, NewDecoder(ctx, r))
	assert.Empty(t, deltas)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, r.reads)
}
