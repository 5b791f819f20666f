package source

import "strings"

// Record is one raw fixture row keyed by lower-cased column name.
type Record map[string]string

// Strategy extracts one field from a record. ok is false when the strategy does not apply.
type Strategy func(rec Record) (value string, ok bool)

// Field reads the named column, succeeding only on a non-blank value.
func Field(name string) Strategy {
	name = strings.ToLower(strings.TrimSpace(name))
	return func(rec Record) (string, bool) {
		v := strings.TrimSpace(rec[name])
		return v, v != ""
	}
}

// Const always succeeds with v.
func Const(v string) Strategy {
	return func(Record) (string, bool) { return v, true }
}

// FirstOf tries strategies in order; the first success wins.
func FirstOf(strategies ...Strategy) Strategy {
	return func(rec Record) (string, bool) {
		for _, s := range strategies {
			if v, ok := s(rec); ok {
				return v, true
			}
		}
		return "", false
	}
}

// Fields lists the resolution strategy for every listing field.
type Fields struct {
	Name    Strategy
	Address Strategy
	Phone   Strategy
	Website Strategy
	Key     Strategy
}

// NotAvailable is the placeholder for a missing name, address or phone.
const NotAvailable = "N/A"

// DefaultFields resolves the column aliases seen in common listing exports.
func DefaultFields() Fields {
	return Fields{
		Name:    FirstOf(Field("name"), Field("title"), Const(NotAvailable)),
		Address: FirstOf(Field("address"), Field("formatted_address"), Field("location"), Const(NotAvailable)),
		Phone:   FirstOf(Field("phone"), Field("phone_number"), Field("tel"), Const(NotAvailable)),
		Website: FirstOf(Field("website"), Field("url"), Field("site")),
		Key:     FirstOf(Field("key"), Field("maps_url"), Field("place_id")),
	}
}

func (f Fields) resolve(rec Record) listingFields {
	get := func(s Strategy) string {
		if s == nil {
			return ""
		}
		v, _ := s(rec)
		return v
	}
	return listingFields{
		name:    get(f.Name),
		address: get(f.Address),
		phone:   get(f.Phone),
		website: get(f.Website),
		key:     get(f.Key),
	}
}

type listingFields struct {
	name, address, phone, website, key string
}
