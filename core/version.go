package core

// Version is the current SDK version, reported in the User-Agent of
// every request to the collection endpoint.
const Version = "0.3.0"
