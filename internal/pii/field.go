package pii

import "strings"

// Field is a hashed personal identifier.
type Field int

const (
	Email Field = iota
	Phone
	FirstName
	LastName
	Gender
	DateOfBirth
	City
	State
	Zip
	Country
	ExternalID

	numFields
)

var fieldKeys = [numFields]string{
	Email:       "em",
	Phone:       "ph",
	FirstName:   "fn",
	LastName:    "ln",
	Gender:      "ge",
	DateOfBirth: "db",
	City:        "ct",
	State:       "st",
	Zip:         "zp",
	Country:     "country",
	ExternalID:  "external_id",
}

var fieldAliases = map[string]Field{
	"email":         Email,
	"e-mail":        Email,
	"mail":          Email,
	"phone":         Phone,
	"tel":           Phone,
	"telephone":     Phone,
	"mobile":        Phone,
	"first_name":    FirstName,
	"firstname":     FirstName,
	"given_name":    FirstName,
	"last_name":     LastName,
	"lastname":      LastName,
	"surname":       LastName,
	"family_name":   LastName,
	"gender":        Gender,
	"sex":           Gender,
	"dob":           DateOfBirth,
	"birthday":      DateOfBirth,
	"birthdate":     DateOfBirth,
	"date_of_birth": DateOfBirth,
	"city":          City,
	"state":         State,
	"region":        State,
	"province":      State,
	"zip":           Zip,
	"zipcode":       Zip,
	"postal":        Zip,
	"postal_code":   Zip,
	"postcode":      Zip,
	"country_code":  Country,
	"uid":           ExternalID,
	"user_id":       ExternalID,
	"externalid":    ExternalID,
}

// Key is the short wire name of the field ("em", "ph", ...).
func (f Field) Key() string {
	if f < 0 || f >= numFields {
		return ""
	}
	return fieldKeys[f]
}

func (f Field) String() string { return f.Key() }

// Fields lists every Field in declaration order.
func Fields() []Field {
	out := make([]Field, numFields)
	for i := range out {
		out[i] = Field(i)
	}
	return out
}

// ParseField resolves a wire key or a common alias, case-insensitively.
func ParseField(key string) (Field, bool) {
	k := strings.ToLower(strings.TrimSpace(key))
	for i, fk := range fieldKeys {
		if fk == k {
			return Field(i), true
		}
	}
	f, ok := fieldAliases[k]
	return f, ok
}
