package host

import (
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/vmhost/host/pickle"
)

// BootLoader resolves a program URL into the instance's boot value.
// ok is false when the image cannot be opened; err reports a decode failure.
type BootLoader func(url string) (value pickle.Value, ok bool, err error)

// DefaultBootLoader percent-decodes url, strips an optional "file:" scheme,
// reads the file, and unpacks it.
func DefaultBootLoader(rawURL string) (pickle.Value, bool, error) {
	path := URLToFilename(rawURL)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logrus.Warnf("boot loader: %v", err)
		}
		return nil, false, nil
	}
	v, err := pickle.Unpack(data)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// URLToFilename turns a boot URL into a local path. Each %XX escape is
// decoded on its own; a malformed one is copied through unchanged without
// affecting the escapes around it.
func URLToFilename(rawURL string) string {
	return strings.TrimPrefix(percentDecode(rawURL), "file:")
}

func percentDecode(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			if b, err := hex.DecodeString(s[i+1 : i+3]); err == nil {
				sb.WriteByte(b[0])
				i += 2
				continue
			}
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}
