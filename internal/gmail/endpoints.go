package gmail

import "golang.org/x/oauth2"

// Endpoints are the provider URLs. Tests point them at httptest servers.
type Endpoints struct {
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	GmailBaseURL string
}

// DefaultEndpoints returns Google's production endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		AuthURL:      "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:     "https://oauth2.googleapis.com/token",
		UserInfoURL:  "https://www.googleapis.com/oauth2/v3/userinfo",
		GmailBaseURL: "https://gmail.googleapis.com/gmail/v1",
	}
}

func (e Endpoints) oauth2() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:   e.AuthURL,
		TokenURL:  e.TokenURL,
		AuthStyle: oauth2.AuthStyleInParams,
	}
}
