package format

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// JSONEachRowReader streams values as newline separated JSON objects.
// Values are marshaled one at a time as the reader is drained.
type JSONEachRowReader[T any] struct {
	values []T
	next   int
	buffer bytes.Buffer
}

// NewJSONEachRowReader creates a new JSONEachRowReader from a slice of values
func NewJSONEachRowReader[T any](values []T) *JSONEachRowReader[T] {
	return &JSONEachRowReader[T]{
		values: values,
	}
}

func (r *JSONEachRowReader[T]) Len() int {
	return len(r.values)
}

// Add appends a value. Values added after reading started are still emitted.
func (r *JSONEachRowReader[T]) Add(value T) {
	r.values = append(r.values, value)
}

func (r *JSONEachRowReader[T]) fill() error {
	for r.buffer.Len() == 0 && r.next < len(r.values) {
		if r.next > 0 {
			r.buffer.WriteByte('\n')
		}

		jsonBytes, err := json.Marshal(r.values[r.next])
		if err != nil {
			return fmt.Errorf("row %d: %w", r.next+1, err)
		}

		r.buffer.Write(jsonBytes)
		r.next++
	}
	return nil
}

func (r *JSONEachRowReader[T]) Read(p []byte) (n int, err error) {
	if err := r.fill(); err != nil {
		return 0, err
	}

	if r.buffer.Len() == 0 {
		return 0, io.EOF
	}

	return r.buffer.Read(p)
}

// ReadEachRow decodes newline separated JSON objects from r and calls fn for
// each one. Blank lines are skipped.
func ReadEachRow[T any](r io.Reader, fn func(T) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := fn(v); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}

	return scanner.Err()
}
