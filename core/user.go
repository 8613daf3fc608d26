package core

type (
	// User is the verified identity behind a session, as reported by
	// the configured auth provider. Subject is the stable id boards
	// are owned by.
	User struct {
		Subject   string `json:"subject"`
		Login     string `json:"login"`
		Email     string `json:"email,omitempty"`
		AvatarURL string `json:"avatarUrl"`
		Name      string `json:"name"`
	}
)
