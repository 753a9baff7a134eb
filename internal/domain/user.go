// Package domain contains core domain types for the crmchat application.
package domain

// ActiveUser is the identity cached for one browsing context.
type ActiveUser struct {
	ID          string  `json:"id"`
	Name        *string `json:"name"`
	Email       *string `json:"email"`
	Company     *string `json:"company"`
	Role        *string `json:"role"`
	Phone       *string `json:"phone"`
	IsAnonymous bool    `json:"is_anonymous"`
}

// Profile is the canonical shape of a CRM user profile. Empty strings mean
// the field was not present in any of the accepted aliases.
type Profile struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company"`
	Role    string `json:"role"`
	Phone   string `json:"phone"`
}

// IsEmpty reports whether no profile field carries a value.
func (p Profile) IsEmpty() bool {
	return p.Name == "" && p.Email == "" && p.Company == "" && p.Role == "" && p.Phone == ""
}

// Apply copies every non-empty profile field onto the user and returns it.
func (u ActiveUser) Apply(p Profile) ActiveUser {
	set := func(dst **string, v string) {
		if v != "" {
			s := v
			*dst = &s
		}
	}
	set(&u.Name, p.Name)
	set(&u.Email, p.Email)
	set(&u.Company, p.Company)
	set(&u.Role, p.Role)
	set(&u.Phone, p.Phone)
	return u
}

// DisplayName returns the name, falling back to the email and then the id.
func (u ActiveUser) DisplayName() string {
	if u.Name != nil && *u.Name != "" {
		return *u.Name
	}
	if u.Email != nil && *u.Email != "" {
		return *u.Email
	}
	return u.ID
}
