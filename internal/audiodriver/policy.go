// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package audiodriver

import (
	"bufio"
	"bytes"
	"strings"
)

// PatchPolicyConfig comments out every stanza inside an "outputs" block
// whose name is not "primary", so the platform routes all playback through
// the primary module that the shim replaces.
func PatchPolicyConfig(src []byte) []byte {
	var out bytes.Buffer
	sc := bufio.NewScanner(bytes.NewReader(src))
	sc.Buffer(make([]byte, 0, 4096), 1<<20)

	depth := 0
	outputsDepth := -1 // depth of the lines directly inside "outputs {"
	skipDepth := -1    // commenting out until depth drops back to this

	for sc.Scan() {
		line := sc.Text()
		code := line
		if i := strings.IndexByte(code, '#'); i >= 0 {
			code = code[:i]
		}
		opens := strings.Count(code, "{")
		delta := opens - strings.Count(code, "}")
		fields := strings.Fields(code)

		switch {
		case skipDepth >= 0:
			out.WriteString("#" + line + "\n")
			depth += delta
			if depth <= skipDepth {
				skipDepth = -1
			}
			continue

		case outputsDepth >= 0 && depth == outputsDepth && opens > 0 && len(fields) > 0 && fields[0] != "primary":
			out.WriteString("#" + line + "\n")
			skipDepth = depth
			depth += delta
			if depth <= skipDepth {
				skipDepth = -1
			}
			continue
		}

		if len(fields) > 0 && fields[0] == "outputs" && delta > 0 {
			outputsDepth = depth + 1
		}
		out.WriteString(line + "\n")
		depth += delta
		if outputsDepth >= 0 && depth < outputsDepth {
			outputsDepth = -1
		}
	}
	return out.Bytes()
}
