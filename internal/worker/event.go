package worker

// Event types carried by WorkerEvent.
const (
	EventRun           = "pv-run"
	EventAdminDecision = "admin-decision"
)

// WorkerEvent is one unit of background work. The API side builds it and a
// Dispatcher delivers it to Service.Process, in-process or through the
// worker Lambda.
type WorkerEvent struct {
	Type        string `json:"type"`
	JobID       string `json:"jobId,omitempty"`
	StudentID   string `json:"studentId"`
	VolunteerID string `json:"volunteerId,omitempty"`

	Comment        string   `json:"comment,omitempty"`
	IsTanglish     bool     `json:"isTanglish,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
	District       string   `json:"district,omitempty"`
	AudioKey       string   `json:"audioKey,omitempty"`
	AudioPath      string   `json:"audioPath,omitempty"` // local dispatch only
	ImagePaths     []string `json:"imagePaths,omitempty"`

	Decision *AdminDecision `json:"decision,omitempty"`
}

// AdminDecision is the administrator's final status for a student.
type AdminDecision struct {
	StudentID string `json:"studentId"`
	Status    string `json:"status"`
	Remarks   string `json:"remarks,omitempty"`
}

// SubmitRequest is a volunteer's physical-verification submission.
type SubmitRequest struct {
	StudentID      string `json:"studentId"`
	VolunteerID    string `json:"volunteerId"`
	PropertyType   string `json:"propertyType"`
	WhatYouSaw     string `json:"whatYouSaw"`
	Comment        string `json:"comments"`
	IsTanglish     bool   `json:"isTanglish"`
	Recommendation string `json:"recommendation"`
	// VoiceAudio is a base64 data URL from the browser recorder.
	VoiceAudio string `json:"voiceAudio,omitempty"`
	District   string `json:"district,omitempty"`
	// ImagePaths are local photo files. When empty the photos on record
	// are fetched from S3.
	ImagePaths []string `json:"-"`
}
