package artifacts

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// ReadLines reads an artifact and splits it into lines. The bytes are
// decoded as UTF-8 first; when that fails the read is retried as
// Windows-1252, which covers legacy single-byte Western output.
// Returns ErrDecoding (wrapped) when both attempts fail and passes
// ErrNotFound through from the reader.
func ReadLines(
	ctx context.Context, r Reader, name string,
) ([]string, error) {
	data, err := r.GetArtifact(ctx, name)
	if err != nil {
		return nil, err
	}

	text, err := decodeText(data)
	if err != nil {
		return nil, fmt.Errorf("decoding artifact %s: %w", name, err)
	}

	return splitLines(text), nil
}

// decodeText applies the two-attempt decoding rule. Bytes with no
// Windows-1252 mapping (0x81, 0x8D, 0x8F, 0x90, 0x9D) fail the
// fallback outright; the charmap decoder would silently substitute
// U+FFFD for them, hiding on-disk corruption.
func decodeText(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}

	for _, b := range data {
		if charmap.Windows1252.DecodeByte(b) == utf8.RuneError {
			return "", fmt.Errorf(
				"%w: byte 0x%02X has no windows-1252 mapping", ErrDecoding, b,
			)
		}
	}

	decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecoding, err)
	}

	return string(decoded), nil
}

// splitLines splits text on newlines without keeping terminators. A
// trailing newline does not produce a final empty line.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}

	text = strings.TrimSuffix(text, "\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}

	return lines
}
