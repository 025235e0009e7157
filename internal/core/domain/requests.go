package domain

// LoginRequest is the body of POST /api/v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Credentials converts the request to upstream credentials.
func (r LoginRequest) Credentials() Credentials {
	return Credentials{Email: r.Email, Password: r.Password}
}

// ListFilter holds the optional list predicates. Filters that do not apply
// to a kind are ignored.
type ListFilter struct {
	NameStartsWith string `form:"nameStartsWith"`
	EnvelopeID     string `form:"envelopeId"`
	AccountID      string `form:"accountId"`
	CategoryID     string `form:"categoryId"`
	DateFrom       string `form:"dateFrom"`
	DateTo         string `form:"dateTo"`
}
