package models

import "time"

// User is the identity every task and preference is partitioned by.
type User struct {
	UID         string    `json:"uid" yaml:"uid"`
	DisplayName string    `json:"displayName" yaml:"displayName"`
	Email       string    `json:"email" yaml:"email"`
	PhotoURL    string    `json:"photoURL,omitempty" yaml:"photoURL,omitempty"`
	CreatedAt   time.Time `json:"createdAt" yaml:"createdAt"`
}
