package model

import "time"

// Record is the serialized form of an Account.
type Record struct {
	Type         string    `toml:"type" json:"type"`
	Email        string    `toml:"email" json:"email"`
	DisplayName  string    `toml:"display_name" json:"display_name"`
	AccessToken  string    `toml:"access_token" json:"access_token"`
	RefreshToken string    `toml:"refresh_token" json:"refresh_token"`
	ExpiresAt    time.Time `toml:"expires_at" json:"expires_at"`
	IsActive     *bool     `toml:"is_active,omitempty" json:"is_active,omitempty"`
	AvatarURL    string    `toml:"avatar_url,omitempty" json:"avatar_url,omitempty"`
}

// Record returns the serialized form of the account.
func (a *Account) Record() Record {
	a.mu.RLock()
	defer a.mu.RUnlock()

	active := a.active

	return Record{
		Type:         ProviderGmail,
		Email:        a.email,
		DisplayName:  a.displayName,
		AccessToken:  a.accessToken,
		RefreshToken: a.refreshToken,
		ExpiresAt:    a.expiresAt.UTC(),
		IsActive:     &active,
		AvatarURL:    a.avatarURL,
	}
}

// FromRecord rebuilds an Account. Both token fields must carry the encrypted
// prefix; a missing is_active defaults to true.
func FromRecord(r Record) (*Account, error) {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}

	a := &Account{
		email:        r.Email,
		displayName:  r.DisplayName,
		avatarURL:    r.AvatarURL,
		accessToken:  r.AccessToken,
		refreshToken: r.RefreshToken,
		expiresAt:    r.ExpiresAt.UTC(),
		active:       active,
	}

	if err := a.Validate(); err != nil {
		return nil, err
	}

	return a, nil
}
