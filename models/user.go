package models

type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// Customer is the payer identity handed to payment and notification gateways.
type Customer struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

func (u *User) Customer() Customer {
	return Customer{Email: u.Email, Name: u.Name, Phone: u.Phone}
}

func (g *GuestInfo) Customer() Customer {
	return Customer{Email: g.Email, Name: g.Name, Phone: g.Phone}
}
