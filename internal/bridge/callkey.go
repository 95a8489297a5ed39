package bridge

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"

	"github.com/spaolacci/murmur3"
)

const argSeparator = 0x1f

// CallKey derives the dedup key for a call: the completion name alone, or
// suffixed with an order-sensitive murmur3 hash of the JSON-encoded args.
func CallKey(completion string, args ...any) (string, error) {
	if len(args) == 0 {
		return completion, nil
	}
	h := murmur3.New64()
	for i, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return "", fmt.Errorf("bridge: hash arg %d for %q: %w", i, completion, err)
		}
		if i > 0 {
			_, _ = h.Write([]byte{argSeparator})
		}
		_, _ = h.Write(raw)
	}
	return completion + "-" + strconv.FormatUint(h.Sum64(), 10), nil
}

func typeTag[T any]() string {
	return reflect.TypeFor[T]().String()
}
