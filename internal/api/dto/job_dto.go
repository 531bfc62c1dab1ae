package dto

type UserVideosRequest struct {
	Username string `form:"username"`
}

type BatchVideosRequest struct {
	Usernames []string `json:"usernames"`
}

type BatchVideosResponse struct {
	BatchSize int      `json:"batch_size"`
	JobIDs    []string `json:"job_ids"`
	Status    string   `json:"status"`
}

type TimeoutResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

type FailedJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

type RotateResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	OldSessionID string `json:"old_session_id"`
	NewSessionID string `json:"new_session_id"`
	Error        string `json:"error,omitempty"`
}

type HealthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Checks  map[string]string `json:"checks,omitempty"`
}
