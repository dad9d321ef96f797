package httpapi

import (
	"encoding/json"
	"errors"
	"io"
)

const maxResponseBytes = 4 << 20

// decodeJSONAllowEmpty reports true when the body held no JSON value at all.
func decodeJSONAllowEmpty(r io.Reader, dst any) (bool, error) {
	dec := json.NewDecoder(io.LimitReader(r, maxResponseBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}
