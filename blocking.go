package nonblock

import (
	"errors"
	"io"

	pkgerrors "github.com/pkg/errors"
)

// maxConsecutiveEmpty bounds how many times the blocking helpers retry a
// transport that made no progress, like bufio does.
const maxConsecutiveEmpty = 100

// ReadMessage reads one complete message from a blocking reader.
func ReadMessage(r io.Reader, opt ...Option) (*Message, error) {
	fr := NewFrameReader(opt...)
	r = blockingReader{r}
	for empty := 0; empty < maxConsecutiveEmpty; empty++ {
		before := fr.Pending()
		state := fr.State()
		msg, err := fr.Advance(r)
		if err == nil {
			return msg, nil
		}
		if !IsWouldBlock(err) {
			return nil, err
		}
		if fr.State() != state || fr.Pending() != before {
			empty = -1
		}
	}
	return nil, pkgerrors.Wrap(io.ErrNoProgress, "read message")
}

// WriteMessage writes msg to a blocking writer.
func WriteMessage(w io.Writer, msg *Message) error {
	fw := NewFrameWriter(msg)
	w = blockingWriter{w}
	for empty := 0; empty < maxConsecutiveEmpty; empty++ {
		before := fw.Written()
		done, err := fw.Advance(w)
		if done {
			return nil
		}
		if err != nil && !IsWouldBlock(err) {
			return err
		}
		if fw.Written() != before {
			empty = -1
		}
	}
	return pkgerrors.Wrap(io.ErrNoProgress, "write message")
}

// timeoutError reports an expired deadline on a blocking transport. It does
// not unwrap, so the framer treats it as fatal rather than as not-ready.
type timeoutError struct {
	err error
}

func (e *timeoutError) Error() string { return e.err.Error() }
func (e *timeoutError) Timeout() bool { return true }

// strict turns not-ready conditions other than ErrWouldBlock into timeouts.
func strict(err error) error {
	if err != nil && !errors.Is(err, ErrWouldBlock) && IsWouldBlock(err) {
		return &timeoutError{err: err}
	}
	return err
}

type blockingReader struct{ r io.Reader }

func (b blockingReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	return n, strict(err)
}

type blockingWriter struct{ w io.Writer }

func (b blockingWriter) Write(p []byte) (int, error) {
	n, err := b.w.Write(p)
	return n, strict(err)
}
