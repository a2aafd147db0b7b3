package person

import "time"

// Person is a participant. CompanyID is set once the person is a user of a company.
type Person struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
	Name      string    `gorm:"column:name" json:"name"`
	Email     string    `gorm:"column:email;uniqueIndex" json:"email"`
	CompanyID *string   `gorm:"column:company_id;index" json:"company_id,omitempty"`
}

// Draft identifies a person by email, creating them on first use.
type Draft struct {
	Name  string `json:"name"`
	Email string `json:"email" binding:"required,email"`
}
