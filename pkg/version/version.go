package version

// Version is the current version of the PSS API server
const Version = "0.4.2"

// UserAgent returns the User-Agent string for outbound API requests
func UserAgent() string {
	return "pss-server/" + Version
}

// ServerHeader returns the Server header value for HTTP responses
func ServerHeader() string {
	return "pss-server/" + Version
}
