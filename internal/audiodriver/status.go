// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package audiodriver

// Status is the installation state of the audio shim.
type Status int

const (
	StatusNew Status = iota
	StatusChecking
	StatusNotInstalled
	StatusInstalling
	StatusInstalled
	StatusUninstalling
	StatusInstallationFailure
	StatusUnstable
	StatusUnspecified
	StatusOutdated
)

var statusNames = [...]string{
	StatusNew:                 "new",
	StatusChecking:            "checking",
	StatusNotInstalled:        "not_installed",
	StatusInstalling:          "installing",
	StatusInstalled:           "installed",
	StatusUninstalling:        "uninstalling",
	StatusInstallationFailure: "installation_failure",
	StatusUnstable:            "unstable",
	StatusUnspecified:         "unspecified",
	StatusOutdated:            "outdated",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// StatusNames lists every status name, for metrics.
func StatusNames() []string {
	return append([]string(nil), statusNames[:]...)
}

// Busy reports whether an operation is in flight in this status.
func (s Status) Busy() bool {
	return s == StatusChecking || s == StatusInstalling || s == StatusUninstalling
}

// Operation is a unit of work the Driver runs against the Installer.
type Operation int

const (
	OpNone Operation = iota
	OpCheck
	OpInstall
	OpUninstall
)

func (o Operation) String() string {
	switch o {
	case OpCheck:
		return "check"
	case OpInstall:
		return "install"
	case OpUninstall:
		return "uninstall"
	default:
		return "none"
	}
}

// busyStatus is the status shown while op runs.
func (o Operation) busyStatus() Status {
	switch o {
	case OpCheck:
		return StatusChecking
	case OpInstall:
		return StatusInstalling
	default:
		return StatusUninstalling
	}
}

// allowedFrom reports whether op may start from the idle status s.
func (o Operation) allowedFrom(s Status) bool {
	switch o {
	case OpCheck:
		return !s.Busy()
	case OpInstall:
		switch s {
		case StatusNotInstalled, StatusInstallationFailure, StatusUnstable, StatusUnspecified, StatusOutdated:
			return true
		}
	case OpUninstall:
		switch s {
		case StatusInstalled, StatusInstallationFailure, StatusUnstable, StatusUnspecified, StatusOutdated:
			return true
		}
	}
	return false
}

// StatusChange is published whenever the status moves.
type StatusChange struct {
	Old Status
	New Status
}
