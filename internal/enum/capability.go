package enum

// Capability is a static feature of a backend implementation. Callers use the set to
// adapt behaviour; it is never negotiated with the server at runtime.
type Capability uint16

const (
	SupportsFlags Capability = 1 << iota
	SupportsExpunge
	SupportsMove
	SupportsCopy
	SupportsUpload
	SupportsTrashFolder
	SupportsSearchByDate
	SupportsFolderSubscriptions
	PushCapable
)

var capabilityNames = []struct {
	c    Capability
	name string
}{
	{SupportsFlags, "supportsFlags"},
	{SupportsExpunge, "supportsExpunge"},
	{SupportsMove, "supportsMove"},
	{SupportsCopy, "supportsCopy"},
	{SupportsUpload, "supportsUpload"},
	{SupportsTrashFolder, "supportsTrashFolder"},
	{SupportsSearchByDate, "supportsSearchByDate"},
	{SupportsFolderSubscriptions, "supportsFolderSubscriptions"},
	{PushCapable, "isPushCapable"},
}

// Capabilities is the bitset of Capability values
type Capabilities uint16

func NewCapabilities(caps ...Capability) Capabilities {
	var set Capabilities
	for _, c := range caps {
		set |= Capabilities(c)
	}
	return set
}

func (s Capabilities) Has(c Capability) bool {
	return s&Capabilities(c) != 0
}

// Map renders the set with the flag names callers know from the account settings screens
func (s Capabilities) Map() map[string]bool {
	result := make(map[string]bool, len(capabilityNames))
	for _, n := range capabilityNames {
		result[n.name] = s.Has(n.c)
	}
	return result
}
