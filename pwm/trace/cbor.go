package trace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"pwmcore-go/pwm"
	"pwmcore-go/types"
)

// encMode is deterministic with nanosecond timestamps; decMode tolerates
// streams written by older builds.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("trace: cbor encoder mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("trace: cbor decoder mode: %v", err))
	}
}

// Encode returns the CBOR encoding of one record.
func Encode(rec types.TraceRecord) ([]byte, error) { return encMode.Marshal(rec) }

// Decode parses one CBOR-encoded record.
func Decode(b []byte) (types.TraceRecord, error) {
	var rec types.TraceRecord
	if err := decMode.Unmarshal(b, &rec); err != nil {
		return types.TraceRecord{}, err
	}
	return rec, nil
}

// Recorder writes records as a stream of concatenated CBOR items. All
// records carry the recorder's session id. The first write error is kept
// and later records are dropped.
type Recorder struct {
	mu      sync.Mutex
	enc     *cbor.Encoder
	c       io.Closer
	session string
	n       int
	err     error
}

var _ pwm.Tracer = (*Recorder)(nil)

func NewRecorder(w io.Writer) *Recorder {
	r := &Recorder{enc: encMode.NewEncoder(w), session: uuid.NewString()}
	if c, ok := w.(io.Closer); ok {
		r.c = c
	}
	return r
}

// Create truncates path and records into it.
func Create(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return NewRecorder(f), nil
}

func (r *Recorder) Trace(rec types.TraceRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	rec.Session = r.session
	if r.err = r.enc.Encode(rec); r.err == nil {
		r.n++
	}
}

func (r *Recorder) Session() string { return r.session }

func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close closes the underlying writer when it is an io.Closer. Records
// traced after Close are dropped.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = os.ErrClosed
	}
	if r.c == nil {
		return nil
	}
	c := r.c
	r.c = nil
	return c.Close()
}

// Reader decodes a stream written by Recorder.
type Reader struct {
	dec *cbor.Decoder
}

func NewReader(r io.Reader) *Reader { return &Reader{dec: decMode.NewDecoder(r)} }

// Next returns io.EOF after the last complete record.
func (r *Reader) Next() (types.TraceRecord, error) {
	var rec types.TraceRecord
	if err := r.dec.Decode(&rec); err != nil {
		return types.TraceRecord{}, err
	}
	return rec, nil
}

// ReadAll decodes every record in r.
func ReadAll(r io.Reader) ([]types.TraceRecord, error) {
	rd := NewReader(r)
	var out []types.TraceRecord
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
