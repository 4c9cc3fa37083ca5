package device

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Bytes is a uint8[] service field. rosbridge sends it as base64 text, a
// data URL, or a plain number array depending on the server build.
type Bytes []byte

// UnmarshalJSON accepts a base64 string, a data URL or a number array.
func (b *Bytes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*b = nil
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw, err := decodeBase64(s)
		if err != nil {
			return err
		}
		*b = raw
		return nil
	case data[0] == '[':
		var nums []uint16
		if err := json.Unmarshal(data, &nums); err != nil {
			return err
		}
		return b.fromNumbers(nums)
	}
	return fmt.Errorf("unsupported byte encoding %q", truncate(data, 16))
}

// UnmarshalCBOR accepts a byte string, a text string or a number array.
func (b *Bytes) UnmarshalCBOR(data []byte) error {
	var v interface{}
	if err := cbor.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case nil:
		*b = nil
	case []byte:
		*b = append((*b)[:0], t...)
	case string:
		raw, err := decodeBase64(t)
		if err != nil {
			return err
		}
		*b = raw
	case []interface{}:
		nums := make([]uint16, len(t))
		for i, e := range t {
			n, ok := e.(uint64)
			if !ok || n > 0xff {
				return fmt.Errorf("byte %d out of range: %v", i, e)
			}
			nums[i] = uint16(n)
		}
		return b.fromNumbers(nums)
	default:
		return fmt.Errorf("unsupported byte encoding %T", v)
	}
	return nil
}

func (b *Bytes) fromNumbers(nums []uint16) error {
	out := make([]byte, len(nums))
	for i, n := range nums {
		if n > 0xff {
			return fmt.Errorf("byte %d out of range: %d", i, n)
		}
		out[i] = byte(n)
	}
	*b = out
	return nil
}

func decodeBase64(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.IndexByte(s, ','); i >= 0 {
			s = s[i+1:]
		}
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return raw, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

// DetectPointCloudFormat returns the file extension for a point cloud by
// looking for a format marker in its first 20 bytes. Unknown data is
// assumed to be PCD.
func DetectPointCloudFormat(data []byte) string {
	header := string(truncate(data, 20))
	switch {
	case strings.Contains(header, "ply"):
		return ".ply"
	case strings.Contains(header, "PCD"):
		return ".pcd"
	case strings.Contains(header, "LASF"):
		return ".las"
	case strings.Contains(header, "# .PTS"):
		return ".pts"
	case strings.Contains(header, "OFF"):
		return ".off"
	default:
		return ".pcd"
	}
}
