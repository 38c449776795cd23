package stubs

// User is a demo account created by the seed command.
type User struct {
	Name     string
	Email    string
	Password string
}

// Line is a demo message. From indexes Users.
type Line struct {
	From int
	Text string
}

var Users = []User{
	{Name: "Alice", Email: "alice@example.com", Password: "alice-password"},
	{Name: "Bob", Email: "bob@example.com", Password: "bob-password"},
	{Name: "Charlie", Email: "charlie@example.com", Password: "charlie-password"},
}

// GroupName is the demo group every seeded user belongs to. Users[0] is its admin.
const GroupName = "Townhall"

var GroupLines = []Line{
	{From: 0, Text: "Welcome to the **Townhall**!"},
	{From: 1, Text: "Hi everyone :wave:"},
	{From: 2, Text: "Glad to be here."},
}

// DirectLines are exchanged between Users[0] and Users[1].
var DirectLines = []Line{
	{From: 0, Text: "Hey Bob, got a minute?"},
	{From: 1, Text: "Sure, what's up?"},
}
