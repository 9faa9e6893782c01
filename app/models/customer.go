package models

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	CUSTOMER_STATUS_ACTIVE   = "active"
	CUSTOMER_STATUS_INACTIVE = "inactive"
)

// Customer is the loyalty identity of a person ordering coffee. Customers are
// never deleted, only deactivated.
type Customer struct {
	ID                   string     `gorm:"type:varchar(64);primaryKey" json:"id" validate:"required,max=64"`
	Timezone             string     `gorm:"type:varchar(64);not null;default:'UTC'" json:"timezone" validate:"required,timezone"`
	BirthMonth           int        `gorm:"default:0" json:"birth_month,omitempty" validate:"min=0,max=12"`
	BirthDay             int        `gorm:"default:0" json:"birth_day,omitempty" validate:"min=0,max=31"`
	Status               string     `gorm:"type:varchar(20);not null;default:'active';index" json:"status" validate:"oneof=active inactive"`
	Tier                 string     `gorm:"type:varchar(20);not null;default:'regular'" json:"tier" validate:"oneof=regular club premium"`
	TierEvaluatedAt      *time.Time `gorm:"default:null" json:"tier_evaluated_at,omitempty"`
	BirthdayNotifiedYear int        `gorm:"default:0" json:"-"`
	DeactivatedAt        *time.Time `gorm:"default:null" json:"deactivated_at,omitempty"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Customer) TableName() string {
	return "loyalty_customers"
}

func (c *Customer) Validate() error {
	v := validator.New()

	return v.Struct(c)
}

// IsActive reports whether the customer may still earn and redeem rewards.
func (c *Customer) IsActive() bool {
	return c.Status == CUSTOMER_STATUS_ACTIVE
}

// HasBirthday reports whether a birthday was captured on signup.
func (c *Customer) HasBirthday() bool {
	return c.BirthMonth > 0 && c.BirthDay > 0
}

// Location resolves the customer's timezone, falling back to fallback when the
// stored name is empty or unknown.
func (c *Customer) Location(fallback *time.Location) *time.Location {
	name := strings.TrimSpace(c.Timezone)
	if name == "" {
		return fallback
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fallback
	}
	return loc
}

// NewCustomer builds an active regular-tier customer.
func NewCustomer(id, timezone string) *Customer {
	return &Customer{
		ID:       strings.TrimSpace(id),
		Timezone: timezone,
		Status:   CUSTOMER_STATUS_ACTIVE,
		Tier:     "regular",
	}
}
