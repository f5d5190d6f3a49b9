package domain

import "time"

// AccountUser owns accounts. Users are managed elsewhere; this service only reads them.
type AccountUser struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}
