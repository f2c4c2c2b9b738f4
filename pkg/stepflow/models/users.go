package models

type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	ApiKey   string `json:"apiKey,omitempty"`
	Admin    bool   `json:"admin"`
}

type CreateUserResponse struct {
	ID int64 `json:"id"`
}

// HandlersResponse lists what steps a definition may use on this server.
type HandlersResponse struct {
	StepTypes []string `json:"stepTypes"`
	Functions []string `json:"functions"`
}
