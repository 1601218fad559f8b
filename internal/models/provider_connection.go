package models

import (
	"time"
)

// ProviderConnection holds the OAuth credential for the external signature
// provider. The most recent record is authoritative; the refresh path
// updates access_token, refresh_token and expires_at in a single write so a
// concurrent reader sees either the old triple or the new one.
type ProviderConnection struct {
	ID           string    `bson:"_id" json:"id"`
	AccessToken  string    `bson:"access_token" json:"-"`
	RefreshToken string    `bson:"refresh_token" json:"-"`
	ExpiresAt    time.Time `bson:"expires_at" json:"expires_at"`
	BaseURI      string    `bson:"base_uri" json:"base_uri"`
	AccountID    string    `bson:"account_id" json:"account_id"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
}

// ExpiresWithin reports whether the access token expires before now+margin.
func (c *ProviderConnection) ExpiresWithin(now time.Time, margin time.Duration) bool {
	return !c.ExpiresAt.After(now.Add(margin))
}
