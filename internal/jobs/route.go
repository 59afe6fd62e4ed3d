package jobs

import "strings"

// ParseRoute extracts the job ID and optional action from a path like
// /api/pv/jobs/{id} or /api/pv/jobs/{id}/{action}.
func ParseRoute(path, apiPrefix string) (jobID, action string, ok bool) {
	rest := strings.Trim(strings.TrimPrefix(path, apiPrefix), "/")
	if rest == "" || !strings.HasPrefix(path, apiPrefix) {
		return "", "", false
	}
	parts := strings.SplitN(rest, "/", 2)
	jobID = NormalizeID(parts[0])
	if len(parts) == 2 {
		action = parts[1]
	}
	return jobID, action, true
}
