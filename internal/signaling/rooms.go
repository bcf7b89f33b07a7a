package signaling

// Rooms builds the logical broadcast group names. An optional prefix
// namespaces every room, letting several deployments share one transport
// layer without crosstalk.
type Rooms struct {
	prefix string
}

func NewRooms(prefix string) Rooms {
	if prefix != "" {
		prefix += ":"
	}
	return Rooms{prefix: prefix}
}

func (r Rooms) Staff(staffID string) string { return r.prefix + "staff:" + staffID }
func (r Rooms) Dept(code string) string     { return r.prefix + "dept:" + code }
func (r Rooms) Client(userID string) string { return r.prefix + "client:" + userID }
func (r Rooms) Call(callID string) string   { return r.prefix + "call:" + callID }
func (r Rooms) Org(orgID string) string     { return r.prefix + "org:" + orgID }
