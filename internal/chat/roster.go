package chat

import "sort"

// DefaultPlaceholderName is returned by Roster.Remove for identities that
// were never registered.
const DefaultPlaceholderName = "某位用户"

// Roster maps live connection identities to display names. It is not safe
// for concurrent use; the Manager serializes access to it.
type Roster struct {
	names       map[string]string
	placeholder string
}

// NewRoster returns an empty roster. An empty placeholder falls back to
// DefaultPlaceholderName.
func NewRoster(placeholder string) *Roster {
	if placeholder == "" {
		placeholder = DefaultPlaceholderName
	}
	return &Roster{
		names:       make(map[string]string),
		placeholder: placeholder,
	}
}

// Add inserts or overwrites the name for id.
func (r *Roster) Add(id, name string) {
	r.names[id] = name
}

// Remove deletes id and returns the name it had, or the placeholder if id
// was not present.
func (r *Roster) Remove(id string) string {
	name, ok := r.names[id]
	if !ok {
		return r.placeholder
	}
	delete(r.names, id)
	return name
}

// Lookup returns the name registered for id.
func (r *Roster) Lookup(id string) (string, bool) {
	name, ok := r.names[id]
	return name, ok
}

// Names returns every display name, duplicates included, in sorted order.
func (r *Roster) Names() []string {
	names := make([]string, 0, len(r.names))
	for _, name := range r.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of entries.
func (r *Roster) Len() int {
	return len(r.names)
}
