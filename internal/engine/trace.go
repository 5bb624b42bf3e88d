package engine

import "time"

type Trace struct {
	Started                      time.Time   `json:"started"`
	DurationMicros               int64       `json:"duration_micros"`
	Activated                    []string    `json:"activated"`
	Tiers                        []TierTrace `json:"tiers"`
	ModifiedConfigFiles          []string    `json:"modified_config_files,omitempty"`
	ModifiedCloudMakeConfigFiles []string    `json:"modified_cloudmake_config_files,omitempty"`
}

type TierTrace struct {
	Tier     int           `json:"tier"`
	Policies []PolicyTrace `json:"policies"`
}

type PolicyTrace struct {
	Policy         int      `json:"policy"`
	Action         string   `json:"action"`
	Command        string   `json:"command"`
	ExitCode       int      `json:"exit_code"`
	Succeeded      bool     `json:"succeeded"`
	DurationMicros int64    `json:"duration_micros"`
	Changed        []string `json:"changed,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// Executed returns the number of policies that ran.
func (t *Trace) Executed() int {
	n := 0
	for _, tier := range t.Tiers {
		n += len(tier.Policies)
	}
	return n
}
