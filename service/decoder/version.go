package decoder

import (
	"fmt"
	"strconv"
	"strings"
)

// ParserVersion identifies the decoding and enrichment semantics. It changes whenever the
// events produced for the same input would change, so stored results can be selected for
// reprocessing with VersionBelow.
const ParserVersion = "2.3.0"

// CompareVersions compares two dotted numeric versions. Missing segments count as zero, so
// "2.3" equals "2.3.0".
func CompareVersions(a, b string) (int, error) {
	as, err := segments(a)
	if err != nil {
		return 0, err
	}
	bs, err := segments(b)
	if err != nil {
		return 0, err
	}
	for i := 0; i < max(len(as), len(bs)); i++ {
		var x, y int
		if i < len(as) {
			x = as[i]
		}
		if i < len(bs) {
			y = bs[i]
		}
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		}
	}
	return 0, nil
}

// VersionBelow reports whether v is strictly older than threshold. An unparseable v (for
// example an empty version on a row that was never decoded) counts as below.
func VersionBelow(v, threshold string) bool {
	c, err := CompareVersions(v, threshold)
	return err != nil || c < 0
}

func segments(v string) ([]int, error) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if v == "" {
		return nil, fmt.Errorf("invalid version %q: empty", v)
	}
	parts := strings.Split(v, ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid version %q: segment %q", v, p)
		}
		out[i] = n
	}
	return out, nil
}
