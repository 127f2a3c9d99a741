package model

import (
	"bytes"
	"fmt"
	"io"

	"github.com/bytedance/sonic"
)

// EncodeMetadata writes the metadata line of an intake request.
func EncodeMetadata(w io.Writer, m Metadata) error {
	return writeLine(w, "metadata", m)
}

// EncodeLine writes one event as {"<kind>":{...}} followed by a newline.
func EncodeLine(w io.Writer, ev Event) error {
	switch e := ev.(type) {
	case *Transaction:
		return writeLine(w, string(KindTransaction), e)
	case *Span:
		return writeLine(w, string(KindSpan), e)
	case *Error:
		return writeLine(w, string(KindError), e)
	case *MetricSet:
		return writeLine(w, string(KindMetricSet), e)
	default:
		return fmt.Errorf("unsupported event type %T", ev)
	}
}

// EncodeBatch renders a complete NDJSON intake body. Events that fail to
// encode are skipped and reported through the returned count.
func EncodeBatch(m Metadata, events []Event) (body []byte, skipped int, err error) {
	var buf bytes.Buffer
	if err := EncodeMetadata(&buf, m); err != nil {
		return nil, 0, fmt.Errorf("failed to encode metadata: %w", err)
	}
	for _, ev := range events {
		mark := buf.Len()
		if err := EncodeLine(&buf, ev); err != nil {
			buf.Truncate(mark)
			skipped++
		}
	}
	return buf.Bytes(), skipped, nil
}

func writeLine(w io.Writer, key string, v any) error {
	payload, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	line := make([]byte, 0, len(key)+len(payload)+6)
	line = append(line, `{"`...)
	line = append(line, key...)
	line = append(line, `":`...)
	line = append(line, payload...)
	line = append(line, '}', '\n')
	_, err = w.Write(line)
	return err
}
