package pointstream

// libraryVersion is reported by Version.
const libraryVersion = "0.1.0"

// Version returns the client library version.
func Version() string {
	return libraryVersion
}
