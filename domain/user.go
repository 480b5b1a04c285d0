package domain

import "net/url"

// User is the authenticated principal supplied by the session provider.
type User struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// AvatarURL returns the avatar, falling back to a generated image seeded by email.
func (u User) AvatarURL() string {
	if u.Avatar != "" {
		return u.Avatar
	}
	return "https://api.dicebear.com/7.x/avatars/svg?seed=" + url.QueryEscape(u.Email)
}
