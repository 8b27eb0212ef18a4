package handler

import (
	"encoding/json"
	"fmt"
	"io"
)

// writeSSE writes one Server-Sent Events frame with a JSON data line.
func writeSSE(w io.Writer, event string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
	return err
}
