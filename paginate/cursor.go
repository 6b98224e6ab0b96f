package paginate

import (
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/xraph/entitle/types"
)

// Cursor errors. Each means the caller should restart from the first page.
var (
	ErrMalformedCursor = errors.New("paginate: malformed cursor")
	ErrStaleCursor     = errors.New("paginate: stale cursor")
	ErrCursorScope     = errors.New("paginate: cursor issued for another scope")
)

const cursorVersion = 2

// Position is the last row consumed from one source.
type Position struct {
	Source string
	Key    types.Keyset
}

type cursorPayload struct {
	Version   int              `cbor:"v"`
	Scope     string           `cbor:"f"`
	Positions []cursorPosition `cbor:"p"`
}

type cursorPosition struct {
	Source string `cbor:"s"`
	At     int64  `cbor:"t"` // Unix nanoseconds
	ID     string `cbor:"id"`
}

var (
	cursorEncMode cbor.EncMode
	cursorDecMode cbor.DecMode
)

func init() {
	var err error
	cursorEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("paginate: CBOR encoder initialization failed: " + err.Error())
	}
	cursorDecMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("paginate: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodeCursor encodes positions as an opaque token bound to scope. Positions
// are sorted by source, so equal position sets encode identically.
func EncodeCursor(scope string, positions []Position) (string, error) {
	payload := cursorPayload{Version: cursorVersion, Scope: scope, Positions: make([]cursorPosition, 0, len(positions))}
	for _, p := range positions {
		payload.Positions = append(payload.Positions, cursorPosition{
			Source: p.Source,
			At:     p.Key.CreatedAt.UnixNano(),
			ID:     p.Key.ID,
		})
	}
	slices.SortFunc(payload.Positions, func(a, b cursorPosition) int { return strings.Compare(a.Source, b.Source) })

	data, err := cursorEncMode.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("paginate: encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeCursor decodes a token from EncodeCursor, returning its scope. Any
// defect yields an error wrapping ErrMalformedCursor.
func DecodeCursor(token string) (scope string, positions []Position, err error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrMalformedCursor, err)
	}
	var payload cursorPayload
	if err := cursorDecMode.Unmarshal(data, &payload); err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrMalformedCursor, err)
	}
	if payload.Version != cursorVersion {
		return "", nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedCursor, payload.Version)
	}

	seen := make(map[string]bool, len(payload.Positions))
	out := make([]Position, 0, len(payload.Positions))
	for _, p := range payload.Positions {
		if p.Source == "" || p.ID == "" {
			return "", nil, fmt.Errorf("%w: incomplete position", ErrMalformedCursor)
		}
		if seen[p.Source] {
			return "", nil, fmt.Errorf("%w: duplicate source %q", ErrMalformedCursor, p.Source)
		}
		seen[p.Source] = true
		out = append(out, Position{
			Source: p.Source,
			Key:    types.Keyset{CreatedAt: time.Unix(0, p.At).UTC(), ID: p.ID},
		})
	}
	return payload.Scope, out, nil
}
