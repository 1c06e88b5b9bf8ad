package validator

// Validator is the shared request validator handed to services and handlers.
type Validator = BusinessValidator

// New builds the validator with all custom rules registered.
func New() *Validator {
	return NewBusinessValidator()
}
