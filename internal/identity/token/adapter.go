package token

// Validator adapts Service to the middleware's flat validation interface.
type Validator struct {
	service *Service
}

func NewValidator(service *Service) *Validator {
	return &Validator{service: service}
}

// Validate verifies a token and returns the identity it carries.
func (v *Validator) Validate(tokenString string) (userID, username string, err error) {
	claims, err := v.service.Validate(tokenString)
	if err != nil {
		return "", "", err
	}
	return claims.UserID, claims.Username, nil
}
