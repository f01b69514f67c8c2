package core

// builtinCommonPasswords are always rejected for the password column.
// Deployments extend the list through a denylist file; see the Import
// configuration section.
var builtinCommonPasswords = []string{
	"password",
	"password1",
	"password123",
	"passwort",
	"salasana",
	"salasana1",
	"qwerty",
	"qwerty123",
	"12345678",
	"123456789",
	"1234567890",
	"11111111",
	"abc12345",
	"iloveyou",
	"letmein",
	"welcome1",
	"sunshine",
	"football",
	"dragon123",
	"monkey123",
}

// BuiltinCommonPasswords returns a fresh lowercase denylist set seeded
// with the built-in entries. Callers may add their own entries to the
// returned map.
func BuiltinCommonPasswords() map[string]struct{} {
	set := make(map[string]struct{}, len(builtinCommonPasswords))
	for _, p := range builtinCommonPasswords {
		set[p] = struct{}{}
	}
	return set
}
