// aggregator.go: Deterministic summary of plugin status reports
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

// Status is the severity of a StatusReport.
type Status string

const (
	StatusInfo    Status = "info"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// MultipleStatusMessage replaces the message of a summary built from more
// than one report.
const MultipleStatusMessage = "Multiple status reported."

// priority orders statuses; unknown statuses do not qualify.
func (s Status) priority() int {
	switch s {
	case StatusError:
		return 3
	case StatusWarning:
		return 2
	case StatusInfo:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.priority() > 0
}

// StatusReport is a transient status value produced by a status provider.
type StatusReport struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// Summarize combines reports into one.
//
//   - no reports: ok is false
//   - one report: returned unchanged
//   - several: the first report of the highest priority wins (error, then
//     warning, then info). Its message is kept when it is the only report
//     with a known status and replaced by MultipleStatusMessage otherwise.
//
// Reports with an unknown status never win. Summarize is pure.
func Summarize(reports []StatusReport) (StatusReport, bool) {
	switch len(reports) {
	case 0:
		return StatusReport{}, false
	case 1:
		return reports[0], true
	}

	winner := -1
	qualifying := 0
	for i, r := range reports {
		p := r.Status.priority()
		if p == 0 {
			continue
		}
		qualifying++
		if winner < 0 || p > reports[winner].Status.priority() {
			winner = i
		}
	}

	if winner < 0 {
		return StatusReport{}, false
	}
	if qualifying == 1 {
		return reports[winner], true
	}
	return StatusReport{Status: reports[winner].Status, Message: MultipleStatusMessage}, true
}
