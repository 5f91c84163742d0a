package types

// CheckStatus is the display summary of a tool's detection
type CheckStatus string

const (
	CheckStatusOK       CheckStatus = "OK"
	CheckStatusOutdated CheckStatus = "OUTDATED"
	CheckStatusMissing  CheckStatus = "MISSING"
	CheckStatusError    CheckStatus = "ERROR"
	CheckStatusUnknown  CheckStatus = "UNKNOWN"
)

// CheckSummary counts statuses across a detection run
type CheckSummary struct {
	Total    int `json:"total"`
	OK       int `json:"ok"`
	Outdated int `json:"outdated"`
	Missing  int `json:"missing"`
	Errors   int `json:"errors"`
	Unknown  int `json:"unknown"`
}

// AddResult adds a tool status to the summary
func (s *CheckSummary) AddResult(status ToolStatus) {
	s.Total++
	switch status.Status() {
	case CheckStatusOK:
		s.OK++
	case CheckStatusOutdated:
		s.Outdated++
	case CheckStatusMissing:
		s.Missing++
	case CheckStatusError:
		s.Errors++
	case CheckStatusUnknown:
		s.Unknown++
	}
}
