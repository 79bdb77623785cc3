package backup

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
	"unicode/utf8"

	"github.com/jacentio/tablelock/store"
)

// Stream layout, all integers big-endian sign-magnitude (top bit of the first
// byte is the sign):
//
//	name        int32 length + UTF-8 bytes
//	columnCount int32
//	columns     columnCount x { type int32, name int32 length + bytes }
//	rowCount    int32
//	rows        rowCount x cells in column order
//
// Cells:
//
//	bool                 1 byte: 0 NULL, 1 false, 2 true
//	int32                1 presence byte (0 NULL, 1 value) + 4 bytes
//	int64, decimal, date 1 presence byte + 8 bytes
//	text, bytes          int32 length + bytes, length -1 for NULL
//
// Decimals are scaled by 10^DecimalScale. Dates are days since 1970-01-01.

// maxLength bounds length prefixes so corrupt input cannot force huge allocations.
const maxLength = 1 << 30

// Header describes the table a backup stream holds.
type Header struct {
	Table   string
	Columns []store.Column
	Rows    int
}

// HeaderFor returns the header for a schema: the key column followed by the
// non-key columns.
func HeaderFor(s *store.Schema, rows int) Header {
	return Header{Table: s.Table, Columns: s.AllColumns(), Rows: rows}
}

// Writer encodes a backup stream.
type Writer struct {
	w       *bufio.Writer
	header  Header
	written int
	started bool
}

// NewWriter returns a Writer on w. Call Flush when done.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// WriteHeader writes the stream header. It must be called exactly once,
// before any row.
func (w *Writer) WriteHeader(h Header) error {
	if w.started {
		return errors.New("backup: header already written")
	}
	if h.Rows < 0 || h.Rows > math.MaxInt32 {
		return fmt.Errorf("backup: row count %d out of range", h.Rows)
	}
	w.started = true
	w.header = h

	if err := w.writeString(h.Table); err != nil {
		return err
	}
	if err := w.writeInt32(int32(len(h.Columns))); err != nil {
		return err
	}
	for _, c := range h.Columns {
		if err := w.writeInt32(int32(c.Type)); err != nil {
			return err
		}
		if err := w.writeString(c.Name); err != nil {
			return err
		}
	}
	return w.writeInt32(int32(h.Rows))
}

// WriteRow writes one row. cells must hold one value per header column, using
// nil for NULL and the Go types listed on normalize.
func (w *Writer) WriteRow(cells []any) error {
	if !w.started {
		return errors.New("backup: header not written")
	}
	if w.written >= w.header.Rows {
		return fmt.Errorf("backup: more rows than the %d announced", w.header.Rows)
	}
	if len(cells) != len(w.header.Columns) {
		return fmt.Errorf("backup: row has %d cells, want %d", len(cells), len(w.header.Columns))
	}
	for i, c := range w.header.Columns {
		if err := w.writeCell(c.Type, cells[i]); err != nil {
			return fmt.Errorf("backup: column %s: %w", c.Name, err)
		}
	}
	w.written++
	return nil
}

// Flush writes buffered data and checks that every announced row was written.
func (w *Writer) Flush() error {
	if err := w.w.Flush(); err != nil {
		return err
	}
	if w.written != w.header.Rows {
		return fmt.Errorf("%w: wrote %d rows, announced %d", ErrRowCountChanged, w.written, w.header.Rows)
	}
	return nil
}

func (w *Writer) writeCell(t store.ColumnType, v any) error {
	v, err := normalize(t, v)
	if err != nil {
		return err
	}
	switch t {
	case store.ColumnBool:
		switch {
		case v == nil:
			return w.w.WriteByte(0)
		case v.(bool):
			return w.w.WriteByte(2)
		default:
			return w.w.WriteByte(1)
		}
	case store.ColumnInt32:
		if v == nil {
			return w.w.WriteByte(0)
		}
		if err := w.w.WriteByte(1); err != nil {
			return err
		}
		return w.writeInt32(v.(int32))
	case store.ColumnInt64, store.ColumnDecimal, store.ColumnDate:
		if v == nil {
			return w.w.WriteByte(0)
		}
		if err := w.w.WriteByte(1); err != nil {
			return err
		}
		var n int64
		switch x := v.(type) {
		case int64:
			n = x
		case Decimal:
			n = int64(x)
		case time.Time:
			n = Days(x)
		}
		return w.writeInt64(n)
	case store.ColumnText:
		if v == nil {
			return w.writeInt32(-1)
		}
		return w.writeString(v.(string))
	case store.ColumnBytes:
		if v == nil {
			return w.writeInt32(-1)
		}
		return w.writeBytes(v.([]byte))
	}
	return fmt.Errorf("unsupported column type %s", t)
}

func (w *Writer) writeString(s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("invalid UTF-8 in %q", s)
	}
	return w.writeBytes([]byte(s))
}

func (w *Writer) writeBytes(b []byte) error {
	if len(b) > maxLength {
		return fmt.Errorf("field of %d bytes too large", len(b))
	}
	if err := w.writeInt32(int32(len(b))); err != nil {
		return err
	}
	_, err := w.w.Write(b)
	return err
}

func (w *Writer) writeInt32(n int32) error {
	b, err := putInt32(n)
	if err != nil {
		return err
	}
	_, err = w.w.Write(b[:])
	return err
}

func (w *Writer) writeInt64(n int64) error {
	b, err := putInt64(n)
	if err != nil {
		return err
	}
	_, err = w.w.Write(b[:])
	return err
}

// Reader decodes a backup stream.
type Reader struct {
	r      *bufio.Reader
	header Header
	read   int
	ready  bool
}

// NewReader returns a Reader on r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadHeader reads the stream header. It must be called before ReadRow.
func (r *Reader) ReadHeader() (Header, error) {
	if r.ready {
		return r.header, nil
	}
	table, err := r.readString()
	if err != nil {
		return Header{}, err
	}
	count, err := r.readInt32()
	if err != nil {
		return Header{}, err
	}
	if count < 0 {
		return Header{}, fmt.Errorf("%w: negative column count", ErrBadFormat)
	}
	h := Header{Table: table}
	for i := int32(0); i < count; i++ {
		t, err := r.readInt32()
		if err != nil {
			return Header{}, err
		}
		if !store.ColumnType(t).Valid() {
			return Header{}, fmt.Errorf("%w: unknown column type %d", ErrBadFormat, t)
		}
		name, err := r.readString()
		if err != nil {
			return Header{}, err
		}
		h.Columns = append(h.Columns, store.Column{Name: name, Type: store.ColumnType(t)})
	}
	rows, err := r.readInt32()
	if err != nil {
		return Header{}, err
	}
	if rows < 0 {
		return Header{}, fmt.Errorf("%w: negative row count", ErrBadFormat)
	}
	h.Rows = int(rows)
	r.header, r.ready = h, true
	return h, nil
}

// ReadRow returns the next row's cells, or io.EOF after the last row.
func (r *Reader) ReadRow() ([]any, error) {
	if !r.ready {
		return nil, errors.New("backup: header not read")
	}
	if r.read >= r.header.Rows {
		return nil, io.EOF
	}
	cells := make([]any, len(r.header.Columns))
	for i, c := range r.header.Columns {
		v, err := r.readCell(c.Type)
		if err != nil {
			return nil, fmt.Errorf("row %d column %s: %w", r.read, c.Name, err)
		}
		cells[i] = v
	}
	r.read++
	return cells, nil
}

func (r *Reader) readCell(t store.ColumnType) (any, error) {
	switch t {
	case store.ColumnBool:
		b, err := r.readByte()
		if err != nil {
			return nil, err
		}
		switch b {
		case 0:
			return nil, nil
		case 1:
			return false, nil
		case 2:
			return true, nil
		}
		return nil, fmt.Errorf("%w: boolean marker %d", ErrBadFormat, b)
	case store.ColumnInt32:
		present, err := r.readPresence()
		if err != nil || !present {
			return nil, err
		}
		return r.readInt32()
	case store.ColumnInt64, store.ColumnDecimal, store.ColumnDate:
		present, err := r.readPresence()
		if err != nil || !present {
			return nil, err
		}
		n, err := r.readInt64()
		if err != nil {
			return nil, err
		}
		switch t {
		case store.ColumnDecimal:
			return Decimal(n), nil
		case store.ColumnDate:
			return DateOf(n), nil
		}
		return n, nil
	case store.ColumnText:
		b, err := r.readBytes()
		if err != nil || b == nil {
			return nil, err
		}
		if !utf8.Valid(b) {
			return nil, fmt.Errorf("%w: invalid UTF-8 text", ErrBadFormat)
		}
		return string(b), nil
	case store.ColumnBytes:
		b, err := r.readBytes()
		if err != nil || b == nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: unsupported column type %s", ErrBadFormat, t)
}

func (r *Reader) readPresence() (bool, error) {
	b, err := r.readByte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("%w: presence marker %d", ErrBadFormat, b)
}

func (r *Reader) readByte() (byte, error) {
	b, err := r.r.ReadByte()
	if err != nil {
		return 0, truncated(err)
	}
	return b, nil
}

func (r *Reader) readString() (string, error) {
	b, err := r.readBytes()
	if err != nil {
		return "", err
	}
	if b == nil {
		return "", fmt.Errorf("%w: null name", ErrBadFormat)
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: invalid UTF-8 name", ErrBadFormat)
	}
	return string(b), nil
}

// readBytes returns nil for a NULL field and a non-nil slice otherwise.
func (r *Reader) readBytes() ([]byte, error) {
	n, err := r.readInt32()
	if err != nil {
		return nil, err
	}
	if n == -1 {
		return nil, nil
	}
	if n < 0 || n > maxLength {
		return nil, fmt.Errorf("%w: field length %d", ErrBadFormat, n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		return nil, truncated(err)
	}
	return b, nil
}

func (r *Reader) readInt32() (int32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return 0, truncated(err)
	}
	return getInt32(b), nil
}

func (r *Reader) readInt64() (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return 0, truncated(err)
	}
	return getInt64(b), nil
}

// truncated reports an unexpected end of stream as ErrBadFormat.
func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: unexpected end of stream", ErrBadFormat)
	}
	return err
}
