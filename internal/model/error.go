package model

// AppError describes a failed request. Code/Stage/URL/Snippet/Hint feed logs
// and metrics; only Message reaches the client.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage"`

	URL     string `json:"url,omitempty"`
	Snippet string `json:"snippet,omitempty"` // <= 200 chars
	Hint    string `json:"hint,omitempty"`
}

// ErrorResponse is the JSON body of every failure response.
type ErrorResponse struct {
	Error string `json:"error"`
}
