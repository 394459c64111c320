// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package shell

// Su builds argv for running command through su. An empty su path defaults
// to "su".
func Su(su string, mountMaster bool, command string) []string {
	if su == "" {
		su = "su"
	}
	if mountMaster {
		return []string{su, "--mount-master", "-c", command}
	}
	return []string{su, "-c", command}
}
