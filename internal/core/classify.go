package core

// classify.go maps raw, user-typed header names to column kinds. The
// alias table accepts the localized headers operators actually paste in
// (Finnish, Swedish, English) plus the canonical vocabulary itself.

import "strings"

// headerAliases maps lowercased raw header strings to a canonical column
// kind. Every canonical kind appears as an identity entry mapping to
// itself; Classify uses that to confirm a looked-up kind is recognized,
// so removing an identity entry silently unclassifies its aliases.
var headerAliases = map[string]ColumnKind{
	// Canonical identity entries.
	"first":    ColumnFirstName,
	"last":     ColumnLastName,
	"uid":      ColumnUsername,
	"role":     ColumnRole,
	"phone":    ColumnPhone,
	"email":    ColumnEmail,
	"eid":      ColumnExternalID,
	"password": ColumnPassword,
	"group":    ColumnGroup,
	"rawgroup": ColumnRawGroup,

	// First name.
	"first name": ColumnFirstName,
	"firstname":  ColumnFirstName,
	"given name": ColumnFirstName,
	"givenname":  ColumnFirstName,
	"etunimi":    ColumnFirstName,
	"förnamn":    ColumnFirstName,

	// Last name.
	"last name": ColumnLastName,
	"lastname":  ColumnLastName,
	"surname":   ColumnLastName,
	"sn":        ColumnLastName,
	"sukunimi":  ColumnLastName,
	"efternamn": ColumnLastName,

	// Username.
	"username":        ColumnUsername,
	"user name":       ColumnUsername,
	"login":           ColumnUsername,
	"käyttäjätunnus":  ColumnUsername,
	"tunnus":          ColumnUsername,
	"användarnamn":    ColumnUsername,

	// Role.
	"rooli": ColumnRole,
	"roll":  ColumnRole,

	// Phone.
	"phone number":  ColumnPhone,
	"telephone":     ColumnPhone,
	"puhelin":       ColumnPhone,
	"puhelinnumero": ColumnPhone,
	"telefon":       ColumnPhone,

	// Email.
	"e-mail":     ColumnEmail,
	"mail":       ColumnEmail,
	"sähköposti": ColumnEmail,
	"e-post":     ColumnEmail,

	// External id.
	"external id":  ColumnExternalID,
	"externalid":   ColumnExternalID,
	"oppijanumero": ColumnExternalID,
	"student id":   ColumnExternalID,

	// Password.
	"passwd":   ColumnPassword,
	"salasana": ColumnPassword,
	"lösenord": ColumnPassword,

	// Group.
	"ryhmä": ColumnGroup,
	"grupp": ColumnGroup,

	// Raw group.
	"raw group":      ColumnRawGroup,
	"luokka":         ColumnRawGroup,
	"luokka/ryhmä":   ColumnRawGroup,
}

// Classify resolves a raw header string to a column kind. It is pure and
// total: unknown headers, and aliases whose canonical kind has no
// identity entry, resolve to ColumnUnassigned.
func Classify(rawHeader string) ColumnKind {
	key := strings.ToLower(strings.TrimSpace(rawHeader))
	kind, ok := headerAliases[key]
	if !ok {
		return ColumnUnassigned
	}
	// An alias only counts when its target is itself a recognized kind.
	if _, ok := headerAliases[string(kind)]; !ok {
		return ColumnUnassigned
	}
	return kind
}

// KnownKinds returns the canonical kinds in display order.
func KnownKinds() []ColumnKind {
	return []ColumnKind{
		ColumnFirstName, ColumnLastName, ColumnUsername, ColumnRole,
		ColumnPhone, ColumnEmail, ColumnExternalID, ColumnPassword,
		ColumnGroup, ColumnRawGroup,
	}
}

// IsKnownKind reports whether kind is a recognized, non-empty column kind.
func IsKnownKind(kind ColumnKind) bool {
	if kind == ColumnUnassigned {
		return false
	}
	k, ok := headerAliases[string(kind)]
	return ok && k == kind
}
