package version

// Version is the semantic version recorded in the metadata row whenever the
// durable store is opened. Opening a store last written by a newer major
// version refuses to start.
const Version = "1.2.0"
