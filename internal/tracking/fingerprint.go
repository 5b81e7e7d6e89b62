package tracking

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

func fingerprint(v any) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("fingerprint snapshot: %w", err)
	}
	return strconv.FormatUint(xxhash.Sum64(body), 16), nil
}
