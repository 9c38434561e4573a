package model

import "time"

// Category represents a spending category an expense can be assigned to.
type Category struct {
	CreatedAt time.Time
	Name      string
	ID        int64
}
